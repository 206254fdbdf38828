package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/shopvox/pkg/audio"
)

const (
	// DefaultMinDuration is the shortest recording that is finalised.
	DefaultMinDuration = time.Second

	defaultTick = time.Second
)

// Option is a functional option for configuring a Controller.
type Option func(*Controller)

// WithConsumer registers the consumer of completed recordings.
func WithConsumer(c Consumer) Option {
	return func(ctl *Controller) {
		ctl.consumer = c
	}
}

// WithCodecs replaces the codec preference list. Defaults to
// [DefaultCodecs].
func WithCodecs(codecs ...Codec) Option {
	return func(ctl *Controller) {
		if len(codecs) > 0 {
			ctl.codecs = codecs
		}
	}
}

// WithFormat sets the capture format. Defaults to [audio.DefaultFormat].
func WithFormat(f audio.Format) Option {
	return func(ctl *Controller) {
		if f.SampleRate > 0 && f.Channels > 0 {
			ctl.format = f
		}
	}
}

// WithMinDuration sets the minimum recording length. Zero disables the
// check. Defaults to [DefaultMinDuration].
func WithMinDuration(d time.Duration) Option {
	return func(ctl *Controller) {
		if d >= 0 {
			ctl.minDuration = d
		}
	}
}

// WithTickInterval sets how often ElapsedSeconds advances. Defaults to 1s.
// Tests shorten it.
func WithTickInterval(d time.Duration) Option {
	return func(ctl *Controller) {
		if d > 0 {
			ctl.tick = d
		}
	}
}

// WithObserver registers an observer of state snapshots.
func WithObserver(o Observer) Option {
	return func(ctl *Controller) {
		if o != nil {
			ctl.observers = append(ctl.observers, o)
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(ctl *Controller) {
		if now != nil {
			ctl.now = now
		}
	}
}

// Controller is the recording state machine. All methods are safe for
// concurrent use.
type Controller struct {
	mic         Microphone
	consumer    Consumer
	codecs      []Codec
	format      audio.Format
	minDuration time.Duration
	tick        time.Duration
	now         func() time.Time
	observers   []Observer

	mu   sync.Mutex
	sess *session
}

// session is one capture attempt. Fields other than buf are guarded by
// Controller.mu; buf is owned by the collector goroutine until done closes.
type session struct {
	id         string
	state      State
	permission Permission
	startedAt  time.Time
	elapsed    int
	mimeType   string
	err        error

	cancel    context.CancelFunc
	stream    Stream
	buf       []int16
	done      chan struct{}
	stopTick  chan struct{}
	tickOnce  sync.Once
	closeOnce sync.Once
	delivered sync.Once
}

// New creates a Controller over mic.
func New(mic Microphone, opts ...Option) *Controller {
	c := &Controller{
		mic:         mic,
		codecs:      DefaultCodecs(),
		format:      audio.DefaultFormat,
		minDuration: DefaultMinDuration,
		tick:        defaultTick,
		now:         time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SetConsumer replaces the consumer of completed recordings. Sessions that
// are already recording use the new consumer when they finish.
func (c *Controller) SetConsumer(consumer Consumer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consumer = consumer
}

// State returns the current snapshot. An absent session reads as idle.
func (c *Controller) State() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// RequestStart begins a new session. It blocks until the microphone is
// recording, permission is refused, or the session is cancelled.
//
// Calling it while a session is active is a logged no-op that returns
// [ErrSessionActive]. Calling it after an error starts a fresh session.
func (c *Controller) RequestStart(ctx context.Context) error {
	c.mu.Lock()
	if c.sess != nil && c.sess.state.Active() {
		id, st := c.sess.id, c.sess.state
		c.mu.Unlock()
		slog.Info("capture: start ignored, session active", "session_id", id, "state", st)
		return ErrSessionActive
	}
	// The stream outlives the caller's context; only the session's own
	// cancel stops it.
	sessCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &session{
		id:         uuid.NewString(),
		state:      StateRequestingPermission,
		permission: PermissionUnknown,
		cancel:     cancel,
		stopTick:   make(chan struct{}),
		done:       make(chan struct{}),
	}
	c.sess = s
	c.emitLocked()
	c.mu.Unlock()

	permCtx, stopPerm := context.WithCancel(ctx)
	stopAfter := context.AfterFunc(sessCtx, stopPerm)
	perm, err := c.mic.RequestPermission(permCtx)
	stopAfter()
	stopPerm()

	c.mu.Lock()
	if c.sess != s || s.state != StateRequestingPermission {
		c.mu.Unlock()
		return ErrCancelled
	}
	if err != nil {
		err = fmt.Errorf("capture: request permission: %w", err)
		c.failLocked(s, err)
		c.mu.Unlock()
		return err
	}
	if perm != PermissionGranted {
		s.permission = PermissionDenied
		c.failLocked(s, ErrPermissionDenied)
		c.mu.Unlock()
		return ErrPermissionDenied
	}
	s.permission = PermissionGranted
	c.emitLocked()
	c.mu.Unlock()

	stream, err := c.mic.Open(sessCtx, c.format)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != s || s.state != StateRequestingPermission {
		if stream != nil {
			_ = stream.Close()
		}
		return ErrCancelled
	}
	if err != nil {
		err = fmt.Errorf("capture: open microphone: %w", err)
		c.failLocked(s, err)
		return err
	}

	s.stream = stream
	s.state = StateRecording
	s.startedAt = c.now()
	go c.collect(s)
	go c.ticker(s)
	c.emitLocked()
	slog.Debug("capture: recording started", "session_id", s.id, "format", c.format.String())
	return nil
}

// RequestStop finalises the recording. It is valid only while recording.
//
// The buffer is materialised with the negotiated codec and, on success,
// delivered once to the consumer on a new goroutine before the controller
// returns to idle. An empty buffer ends the session in error with
// [ErrNoAudioCaptured]; it never completes.
func (c *Controller) RequestStop(ctx context.Context) (Payload, error) {
	c.mu.Lock()
	s := c.sess
	if s == nil || s.state != StateRecording {
		c.mu.Unlock()
		return Payload{}, fmt.Errorf("%w: stop from %s", ErrInvalidTransition, c.stateLocked())
	}
	s.state = StateStopping
	s.stopTicker()
	c.emitLocked()
	c.mu.Unlock()

	s.closeStream()
	<-s.done

	c.mu.Lock()
	if c.sess != s || s.state != StateStopping {
		// The device failed while stopping.
		err := s.err
		c.mu.Unlock()
		if err == nil {
			err = ErrDeviceLost
		}
		return Payload{}, err
	}
	codec := Negotiate(c.codecs, c.consumer)
	consumer := c.consumer
	s.state = StateProcessing
	s.mimeType = codec.MIMEType()
	c.emitLocked()
	c.mu.Unlock()

	samples := s.buf
	dur := c.format.Duration(len(samples))
	p, err := c.materialise(s.id, samples, codec)
	if err == nil && c.minDuration > 0 && dur < c.minDuration {
		err = fmt.Errorf("%w: %s < %s", ErrRecordingTooShort, dur.Round(time.Millisecond), c.minDuration)
	}

	c.mu.Lock()
	if err != nil {
		c.failLocked(s, err)
		c.mu.Unlock()
		return Payload{}, err
	}
	s.state = StateCompleted
	c.emitLocked()
	if consumer != nil {
		s.delivered.Do(func() {
			go consumer.Consume(context.WithoutCancel(ctx), p)
		})
	}
	c.sess = nil
	c.emitIdleLocked(s.id)
	c.mu.Unlock()

	slog.Debug("capture: recording completed", "session_id", s.id, "mime_type", p.MIMEType,
		"bytes", len(p.Data), "duration", p.Duration)
	return p, nil
}

// RequestCancel discards the current recording without invoking the
// consumer and returns the controller to idle. It is valid from recording
// and requesting_permission.
func (c *Controller) RequestCancel() error {
	c.mu.Lock()
	s := c.sess
	if s == nil || (s.state != StateRecording && s.state != StateRequestingPermission) {
		st := c.stateLocked()
		c.mu.Unlock()
		return fmt.Errorf("%w: cancel from %s", ErrInvalidTransition, st)
	}
	s.state = StateCancelled
	s.cancel()
	s.stopTicker()
	c.emitLocked()
	c.sess = nil
	c.emitIdleLocked(s.id)
	c.mu.Unlock()

	s.closeStream()
	slog.Debug("capture: recording cancelled", "session_id", s.id)
	return nil
}

// Close cancels any active recording. Sessions in stopping or processing
// are left to finish.
func (c *Controller) Close() error {
	err := c.RequestCancel()
	if errors.Is(err, ErrInvalidTransition) {
		return nil
	}
	return err
}

func (c *Controller) materialise(id string, samples []int16, codec Codec) (Payload, error) {
	if len(samples) == 0 {
		return Payload{}, ErrNoAudioCaptured
	}
	data, err := codec.Encode(samples, c.format)
	if err != nil {
		return Payload{}, fmt.Errorf("capture: encode %s: %w", codec.MIMEType(), err)
	}
	if len(data) == 0 {
		return Payload{}, ErrNoAudioCaptured
	}
	return Payload{
		SessionID: id,
		Data:      data,
		MIMEType:  codec.MIMEType(),
		Format:    c.format,
		Duration:  c.format.Duration(len(samples)),
	}, nil
}

// collect drains the stream into the session buffer until the stream
// closes. If that happens while still recording, the device was lost.
func (c *Controller) collect(s *session) {
	for frame := range s.stream.Frames() {
		s.buf = append(s.buf, frame...)
	}
	close(s.done)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == s && s.state == StateRecording {
		err := ErrDeviceLost
		if serr := s.stream.Err(); serr != nil {
			err = fmt.Errorf("%w: %v", ErrDeviceLost, serr)
		}
		slog.Warn("capture: microphone lost", "session_id", s.id, "err", err)
		c.failLocked(s, err)
	}
}

func (c *Controller) ticker(s *session) {
	t := time.NewTicker(c.tick)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			c.mu.Lock()
			if c.sess != s || s.state != StateRecording {
				c.mu.Unlock()
				return
			}
			s.elapsed++
			c.emitLocked()
			c.mu.Unlock()
		case <-s.stopTick:
			return
		}
	}
}

// failLocked moves s to the error state and releases its resources.
func (c *Controller) failLocked(s *session, err error) {
	s.state = StateError
	s.err = err
	s.stopTicker()
	if s.cancel != nil {
		s.cancel()
	}
	if s.stream != nil {
		go s.closeStream()
	}
	c.emitLocked()
	slog.Debug("capture: session failed", "session_id", s.id, "err", err)
}

func (s *session) stopTicker() {
	s.tickOnce.Do(func() { close(s.stopTick) })
}

func (s *session) closeStream() {
	if s.stream == nil {
		return
	}
	s.closeOnce.Do(func() {
		if err := s.stream.Close(); err != nil {
			slog.Warn("capture: close microphone stream", "session_id", s.id, "err", err)
		}
	})
}

func (c *Controller) stateLocked() State {
	if c.sess == nil {
		return StateIdle
	}
	return c.sess.state
}

func (c *Controller) snapshotLocked() Snapshot {
	s := c.sess
	if s == nil {
		return Snapshot{State: StateIdle, Permission: PermissionUnknown}
	}
	return Snapshot{
		SessionID:      s.id,
		State:          s.state,
		Permission:     s.permission,
		StartedAt:      s.startedAt,
		ElapsedSeconds: s.elapsed,
		MIMEType:       s.mimeType,
		Err:            s.err,
	}
}

func (c *Controller) emitLocked() {
	if len(c.observers) == 0 {
		return
	}
	snap := c.snapshotLocked()
	for _, o := range c.observers {
		o(snap)
	}
}

func (c *Controller) emitIdleLocked(id string) {
	snap := Snapshot{SessionID: id, State: StateIdle, Permission: PermissionUnknown}
	for _, o := range c.observers {
		o(snap)
	}
}
