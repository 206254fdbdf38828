// Package capture drives microphone recording as an explicit state machine.
//
// A [Controller] owns the microphone for at most one non-terminal recording
// session at a time. Sessions move through
//
//	idle → requesting_permission → recording → stopping → processing → completed
//
// with recording (or requesting_permission) → cancelled → idle on user
// cancellation, and any state → error on permission denial, device loss or an
// empty capture. A completed session's payload is handed to the registered
// [Consumer] at most once, after which the controller is idle again.
//
// Platform microphones (PortAudio on desktop, a browser bridge, a test mock)
// implement [Microphone] and [Stream]; the controller never touches a device
// API directly.
package capture

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/shopvox/pkg/audio"
)

// Sentinel errors. Permission denial and an empty capture end their session;
// callers must issue a fresh RequestStart.
var (
	// ErrSessionActive is returned by RequestStart while a session is still
	// in a non-terminal state.
	ErrSessionActive = errors.New("capture: recording session already active")

	// ErrInvalidTransition is returned when an operation is not valid from
	// the current state, e.g. RequestStop while idle.
	ErrInvalidTransition = errors.New("capture: invalid state transition")

	// ErrPermissionDenied means the platform refused microphone access.
	ErrPermissionDenied = errors.New("capture: microphone permission denied")

	// ErrNoAudioCaptured means the stop request found an empty buffer.
	ErrNoAudioCaptured = errors.New("capture: no audio captured")

	// ErrRecordingTooShort means the recording ended before the configured
	// minimum duration.
	ErrRecordingTooShort = errors.New("capture: recording shorter than minimum duration")

	// ErrDeviceLost means the microphone stream ended while recording.
	ErrDeviceLost = errors.New("capture: microphone stream ended unexpectedly")

	// ErrCancelled is returned by a RequestStart whose session was cancelled
	// before recording began.
	ErrCancelled = errors.New("capture: recording cancelled")
)

// State is a recording session state.
type State string

const (
	StateIdle                 State = "idle"
	StateRequestingPermission State = "requesting_permission"
	StateRecording            State = "recording"
	StateStopping             State = "stopping"
	StateProcessing           State = "processing"
	StateCompleted            State = "completed"
	StateCancelled            State = "cancelled"
	StateError                State = "error"
)

// Active reports whether s belongs to a session that still holds the
// microphone or its buffer.
func (s State) Active() bool {
	switch s {
	case StateRequestingPermission, StateRecording, StateStopping, StateProcessing:
		return true
	}
	return false
}

// Permission is the platform's answer to a microphone access request.
type Permission string

const (
	PermissionUnknown Permission = "unknown"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// Microphone is a platform microphone.
type Microphone interface {
	// RequestPermission asks the platform for microphone access. It may block
	// on user interaction; ctx is cancelled if the session is cancelled first.
	RequestPermission(ctx context.Context) (Permission, error)

	// Open acquires the device exclusively and starts streaming PCM in f.
	Open(ctx context.Context, f audio.Format) (Stream, error)
}

// Stream is an open microphone.
type Stream interface {
	// Frames delivers captured samples. The channel is closed once the
	// stream is closed or the device fails; frames already buffered remain
	// receivable after Close.
	Frames() <-chan []int16

	// Err returns the device error that ended the stream, if any.
	Err() error

	// Close releases the device. It must be safe to call more than once.
	Close() error
}

// Payload is a finalised recording.
type Payload struct {
	SessionID string
	Data      []byte
	MIMEType  string
	Format    audio.Format
	Duration  time.Duration
}

// Consumer receives completed recordings.
type Consumer interface {
	// Supports reports whether the consumer accepts payloads of mimeType.
	// It drives codec negotiation.
	Supports(mimeType string) bool

	// Consume handles a completed payload. It runs on its own goroutine.
	Consume(ctx context.Context, p Payload)
}

// ConsumerFunc adapts a function into a Consumer that accepts every codec.
type ConsumerFunc func(ctx context.Context, p Payload)

// Supports implements Consumer.
func (ConsumerFunc) Supports(string) bool { return true }

// Consume implements Consumer.
func (f ConsumerFunc) Consume(ctx context.Context, p Payload) { f(ctx, p) }

// Snapshot is the externally visible state of the controller.
type Snapshot struct {
	SessionID      string
	State          State
	Permission     Permission
	StartedAt      time.Time
	ElapsedSeconds int
	MIMEType       string
	Err            error
}

// Observer is called on every state change and elapsed-time tick. Observers
// run while the controller's lock is held: they must return quickly and must
// not call back into the Controller.
type Observer func(Snapshot)
