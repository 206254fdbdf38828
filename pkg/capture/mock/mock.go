// Package mock provides a scriptable in-memory microphone for tests.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/shopvox/pkg/audio"
	"github.com/MrWong99/shopvox/pkg/capture"
)

// Compile-time assertions.
var (
	_ capture.Microphone = (*Microphone)(nil)
	_ capture.Stream     = (*Stream)(nil)
)

// Microphone is a capture.Microphone whose answers are set by the test.
type Microphone struct {
	mu sync.Mutex

	// Deny makes RequestPermission answer PermissionDenied.
	Deny bool

	// PermissionErr is returned by RequestPermission when non-nil.
	PermissionErr error

	// PermissionGate, when non-nil, makes RequestPermission block until the
	// channel is closed or ctx is done.
	PermissionGate chan struct{}

	// OpenErr is returned by Open when non-nil.
	OpenErr error

	// Frames are queued on every new stream before Open returns.
	Frames [][]int16

	permissionCalls int
	openFormats     []audio.Format
	streams         []*Stream
}

// RequestPermission implements capture.Microphone.
func (m *Microphone) RequestPermission(ctx context.Context) (capture.Permission, error) {
	m.mu.Lock()
	m.permissionCalls++
	gate := m.PermissionGate
	m.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return capture.PermissionUnknown, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PermissionErr != nil {
		return capture.PermissionUnknown, m.PermissionErr
	}
	if m.Deny {
		return capture.PermissionDenied, nil
	}
	return capture.PermissionGranted, nil
}

// Open implements capture.Microphone.
func (m *Microphone) Open(_ context.Context, f audio.Format) (capture.Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openFormats = append(m.openFormats, f)
	if m.OpenErr != nil {
		return nil, m.OpenErr
	}
	s := NewStream(len(m.Frames) + 64)
	for _, fr := range m.Frames {
		s.frames <- fr
	}
	m.streams = append(m.streams, s)
	return s, nil
}

// PermissionCalls returns how many times RequestPermission was called.
func (m *Microphone) PermissionCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.permissionCalls
}

// OpenCalls returns the formats passed to Open, in call order.
func (m *Microphone) OpenCalls() []audio.Format {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]audio.Format(nil), m.openFormats...)
}

// LastStream returns the most recently opened stream, or nil.
func (m *Microphone) LastStream() *Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.streams) == 0 {
		return nil
	}
	return m.streams[len(m.streams)-1]
}

// Stream is a capture.Stream fed by Push.
type Stream struct {
	mu     sync.Mutex
	frames chan []int16
	closed bool
	err    error
}

// NewStream returns an open stream with room for buffer queued frames.
func NewStream(buffer int) *Stream {
	return &Stream{frames: make(chan []int16, buffer)}
}

// Frames implements capture.Stream.
func (s *Stream) Frames() <-chan []int16 { return s.frames }

// Err implements capture.Stream.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close implements capture.Stream.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.frames)
	}
	return nil
}

// Push queues a frame. It reports false once the stream is closed.
func (s *Stream) Push(frame []int16) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.frames <- frame
	return true
}

// Fail simulates the device disappearing mid-recording.
func (s *Stream) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.err = err
	s.closed = true
	close(s.frames)
}

// Closed reports whether Close or Fail has been called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
