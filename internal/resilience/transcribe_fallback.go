package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/shopvox/pkg/provider/transcribe"
)

// TranscribeFallback implements [transcribe.Provider] with failover across
// several transcription backends, each behind its own circuit breaker.
//
// An empty transcript is an answer, not a fault: it neither counts against
// a breaker nor moves on to the next backend.
type TranscribeFallback struct {
	group *FallbackGroup[transcribe.Provider]
}

// Compile-time interface assertion.
var _ transcribe.Provider = (*TranscribeFallback)(nil)

// NewTranscribeFallback creates a TranscribeFallback with primary as the
// preferred backend.
func NewTranscribeFallback(primary transcribe.Provider, primaryName string, cfg FallbackConfig) *TranscribeFallback {
	cfg.CircuitBreaker.IsFailure = transcribeFault
	cfg.IsFinal = transcribeFinal
	return &TranscribeFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional backend.
func (f *TranscribeFallback) AddFallback(name string, p transcribe.Provider) {
	f.group.AddFallback(name, p)
}

// Names returns the backends in try order.
func (f *TranscribeFallback) Names() []string { return f.group.Names() }

// Transcribe sends audio to the first healthy backend. When every backend
// fails the error matches both [ErrAllFailed] and
// [transcribe.ErrTranscriptionFailed].
func (f *TranscribeFallback) Transcribe(ctx context.Context, a transcribe.Audio) (transcribe.Transcript, error) {
	tr, err := ExecuteWithResult(f.group, func(p transcribe.Provider) (transcribe.Transcript, error) {
		return p.Transcribe(ctx, a)
	})
	if err != nil && errors.Is(err, ErrAllFailed) && !errors.Is(err, transcribe.ErrTranscriptionFailed) {
		err = errors.Join(err, transcribe.ErrTranscriptionFailed)
	}
	return tr, err
}

func transcribeFault(err error) bool {
	return err != nil && !transcribeFinal(err)
}

func transcribeFinal(err error) bool {
	return errors.Is(err, transcribe.ErrEmptyTranscript) ||
		errors.Is(err, transcribe.ErrUnsupportedMediaType) ||
		errors.Is(err, context.Canceled)
}
