// Package mock provides a test double for the transcribe package.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/shopvox/pkg/provider/transcribe"
)

// Ensure Provider implements transcribe.Provider at compile time.
var _ transcribe.Provider = (*Provider)(nil)

// Provider is a mock implementation of transcribe.Provider.
type Provider struct {
	mu sync.Mutex

	// Transcript is returned when Err is nil.
	Transcript transcribe.Transcript

	// Err, if non-nil, is returned instead of Transcript.
	Err error

	// TranscribeFunc, if set, overrides Transcript and Err.
	TranscribeFunc func(ctx context.Context, a transcribe.Audio) (transcribe.Transcript, error)

	// Calls records every Audio passed to Transcribe.
	Calls []transcribe.Audio
}

// Transcribe records the call and returns the configured answer.
func (p *Provider) Transcribe(ctx context.Context, a transcribe.Audio) (transcribe.Transcript, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, a)
	fn := p.TranscribeFunc
	tr, err := p.Transcript, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, a)
	}
	if err != nil {
		return transcribe.Transcript{}, err
	}
	return tr, nil
}

// CallCount returns the number of recorded calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}
