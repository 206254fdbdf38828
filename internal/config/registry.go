package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/shopvox/pkg/capture"
	"github.com/MrWong99/shopvox/pkg/provider/transcribe"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	transcriber map[TranscriberName]func(TranscriberEntry) (transcribe.Provider, error)
	microphone  map[MicrophoneName]func(CaptureConfig) (capture.Microphone, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		transcriber: make(map[TranscriberName]func(TranscriberEntry) (transcribe.Provider, error)),
		microphone:  make(map[MicrophoneName]func(CaptureConfig) (capture.Microphone, error)),
	}
}

// RegisterTranscriber registers a transcription provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterTranscriber(name TranscriberName, factory func(TranscriberEntry) (transcribe.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcriber[name] = factory
}

// RegisterMicrophone registers a capture device factory under name.
func (r *Registry) RegisterMicrophone(name MicrophoneName, factory func(CaptureConfig) (capture.Microphone, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.microphone[name] = factory
}

// CreateTranscriber instantiates a transcription provider using the factory
// registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateTranscriber(entry TranscriberEntry) (transcribe.Provider, error) {
	r.mu.RLock()
	factory, ok := r.transcriber[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: transcriber/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateMicrophone instantiates the capture device selected by cfg.Microphone.
func (r *Registry) CreateMicrophone(cfg CaptureConfig) (capture.Microphone, error) {
	r.mu.RLock()
	factory, ok := r.microphone[cfg.Microphone]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: microphone/%q", ErrProviderNotRegistered, cfg.Microphone)
	}
	return factory(cfg)
}

// Transcribers returns the registered transcriber names, sorted.
func (r *Registry) Transcribers() []TranscriberName {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]TranscriberName, 0, len(r.transcriber))
	for name := range r.transcriber {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
