// Package portaudio implements capture.Microphone on top of the PortAudio
// default input device.
//
// PortAudio has no permission prompt of its own; RequestPermission reports
// granted when a default input device with at least one channel exists and
// denied otherwise. Operating-system level denial surfaces as an Open error.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/shopvox/pkg/audio"
	"github.com/MrWong99/shopvox/pkg/capture"
)

const (
	defaultFramesPerBuffer = 1024
	defaultQueue           = 64
)

// Compile-time assertions.
var (
	_ capture.Microphone = (*Microphone)(nil)
	_ capture.Stream     = (*stream)(nil)
)

// Option is a functional option for configuring a Microphone.
type Option func(*Microphone)

// WithFramesPerBuffer sets the PortAudio buffer size in frames.
func WithFramesPerBuffer(n int) Option {
	return func(m *Microphone) {
		if n > 0 {
			m.framesPerBuffer = n
		}
	}
}

// WithQueueSize sets how many buffers may queue before frames are dropped.
func WithQueueSize(n int) Option {
	return func(m *Microphone) {
		if n > 0 {
			m.queue = n
		}
	}
}

// Microphone is the PortAudio default input device.
type Microphone struct {
	framesPerBuffer int
	queue           int
}

// New initialises PortAudio. Call Close when done.
func New(opts ...Option) (*Microphone, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	m := &Microphone{framesPerBuffer: defaultFramesPerBuffer, queue: defaultQueue}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

// Close terminates PortAudio.
func (m *Microphone) Close() error {
	return pa.Terminate()
}

// RequestPermission implements capture.Microphone.
func (m *Microphone) RequestPermission(ctx context.Context) (capture.Permission, error) {
	if err := ctx.Err(); err != nil {
		return capture.PermissionUnknown, err
	}
	dev, err := pa.DefaultInputDevice()
	if err != nil || dev == nil || dev.MaxInputChannels < 1 {
		slog.Warn("portaudio: no usable input device", "err", err)
		return capture.PermissionDenied, nil
	}
	return capture.PermissionGranted, nil
}

// Open implements capture.Microphone. Samples are captured as float32 and
// converted to int16 before delivery.
func (m *Microphone) Open(ctx context.Context, f audio.Format) (capture.Stream, error) {
	dev, err := pa.DefaultInputDevice()
	if err != nil {
		return nil, fmt.Errorf("portaudio: default input device: %w", err)
	}

	params := pa.StreamParameters{
		Input: pa.StreamDeviceParameters{
			Device:   dev,
			Channels: f.Channels,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(f.SampleRate),
		FramesPerBuffer: m.framesPerBuffer,
	}
	buf := make([]float32, m.framesPerBuffer*f.Channels)
	st, err := pa.OpenStream(params, buf)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open stream: %w", err)
	}
	if err := st.Start(); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("portaudio: start stream: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &stream{
		pa:     st,
		frames: make(chan []int16, m.queue),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.read(ctx, buf, dev.Name)
	return s, nil
}

type stream struct {
	pa     *pa.Stream
	frames chan []int16
	cancel context.CancelFunc
	done   chan struct{}

	mu   sync.Mutex
	err  error
	once sync.Once
}

func (s *stream) read(ctx context.Context, buf []float32, device string) {
	defer close(s.done)
	defer close(s.frames)
	for {
		if ctx.Err() != nil {
			return
		}
		if err := s.pa.Read(); err != nil {
			if ctx.Err() == nil && !errors.Is(err, pa.InputOverflowed) {
				s.mu.Lock()
				s.err = err
				s.mu.Unlock()
				slog.Debug("portaudio: read failed", "device", device, "err", err)
				return
			}
			if ctx.Err() != nil {
				return
			}
			continue
		}
		select {
		case s.frames <- audio.Float32ToInt16(buf):
		default:
			slog.Debug("portaudio: queue full, dropping buffer", "device", device)
		}
	}
}

func (s *stream) Frames() <-chan []int16 { return s.frames }

func (s *stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops the device and waits for the reader to exit so the frames
// channel is closed when Close returns.
func (s *stream) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		err = s.pa.Stop()
		<-s.done
		if cerr := s.pa.Close(); err == nil {
			err = cerr
		}
	})
	return err
}
