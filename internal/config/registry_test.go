package config_test

import (
	"errors"
	"slices"
	"testing"

	"github.com/MrWong99/shopvox/internal/config"
	"github.com/MrWong99/shopvox/pkg/capture"
	capturemock "github.com/MrWong99/shopvox/pkg/capture/mock"
	"github.com/MrWong99/shopvox/pkg/provider/transcribe"
	transcribemock "github.com/MrWong99/shopvox/pkg/provider/transcribe/mock"
)

func TestRegistry_Transcriber(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()

	var gotEntry config.TranscriberEntry
	want := &transcribemock.Provider{}
	r.RegisterTranscriber(config.TranscriberMock, func(e config.TranscriberEntry) (transcribe.Provider, error) {
		gotEntry = e
		return want, nil
	})

	p, err := r.CreateTranscriber(config.TranscriberEntry{Name: config.TranscriberMock, Model: "m"})
	if err != nil {
		t.Fatalf("CreateTranscriber: %v", err)
	}
	if p != want {
		t.Error("factory result not returned")
	}
	if gotEntry.Model != "m" {
		t.Errorf("factory entry = %+v", gotEntry)
	}

	_, err = r.CreateTranscriber(config.TranscriberEntry{Name: config.TranscriberOpenAI})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("unregistered: err = %v, want ErrProviderNotRegistered", err)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	boom := errors.New("boom")
	r.RegisterTranscriber(config.TranscriberWhisper, func(config.TranscriberEntry) (transcribe.Provider, error) {
		return nil, boom
	})
	if _, err := r.CreateTranscriber(config.TranscriberEntry{Name: config.TranscriberWhisper}); !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
}

func TestRegistry_Microphone(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	r.RegisterMicrophone(config.MicrophonePortAudio, func(config.CaptureConfig) (capture.Microphone, error) {
		return &capturemock.Microphone{}, nil
	})

	if _, err := r.CreateMicrophone(config.CaptureConfig{Microphone: config.MicrophonePortAudio}); err != nil {
		t.Fatalf("CreateMicrophone: %v", err)
	}
	if _, err := r.CreateMicrophone(config.CaptureConfig{Microphone: config.MicrophoneNone}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("err = %v, want ErrProviderNotRegistered", err)
	}
}

func TestRegistry_Transcribers(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	factory := func(config.TranscriberEntry) (transcribe.Provider, error) { return &transcribemock.Provider{}, nil }
	r.RegisterTranscriber(config.TranscriberWhisper, factory)
	r.RegisterTranscriber(config.TranscriberMock, factory)
	r.RegisterTranscriber(config.TranscriberMock, factory)

	want := []config.TranscriberName{config.TranscriberMock, config.TranscriberWhisper}
	if got := r.Transcribers(); !slices.Equal(got, want) {
		t.Errorf("Transcribers() = %v, want %v", got, want)
	}
}
