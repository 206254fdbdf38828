// Package whisper provides an in-process transcription provider backed by
// the whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH.
//
// Recordings arrive as WAV (decoded with go-audio) or as raw 16 kHz mono PCM;
// both are downmixed, resampled to 16 kHz and fed to a fresh whisper context.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/shopvox/pkg/audio"
	"github.com/MrWong99/shopvox/pkg/provider/transcribe"
)

// sampleRate is the only rate whisper.cpp accepts.
const sampleRate = 16000

// Compile-time assertion that Provider satisfies transcribe.Provider.
var _ transcribe.Provider = (*Provider)(nil)

// Provider runs whisper.cpp inference per recording. The model is loaded
// once and shared; each call gets its own context so calls may run
// concurrently.
type Provider struct {
	model    whisperlib.Model
	language string
}

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithLanguage sets the fallback language used when a request carries no
// locale. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		if lang != "" {
			p.language = lang
		}
	}
}

// New loads the model at modelPath. Call Close when done.
func New(modelPath string, opts ...Option) (*Provider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	p := &Provider{model: model, language: "en"}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the model.
func (p *Provider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// Transcribe implements transcribe.Provider.
func (p *Provider) Transcribe(ctx context.Context, a transcribe.Audio) (transcribe.Transcript, error) {
	if err := ctx.Err(); err != nil {
		return transcribe.Transcript{}, fmt.Errorf("whisper: %w: %v", transcribe.ErrTranscriptionFailed, err)
	}
	samples, f, err := prepareSamples(a)
	if err != nil {
		return transcribe.Transcript{}, fmt.Errorf("whisper: %w: %v", transcribe.ErrTranscriptionFailed, err)
	}
	if len(samples) == 0 {
		return transcribe.Transcript{}, fmt.Errorf("whisper: %w", transcribe.ErrEmptyTranscript)
	}

	lang := p.language
	if a.Locale != "" {
		lang, _, _ = strings.Cut(strings.ToLower(a.Locale), "-")
	}

	wctx, err := p.model.NewContext()
	if err != nil {
		return transcribe.Transcript{}, fmt.Errorf("whisper: %w: create context: %v", transcribe.ErrTranscriptionFailed, err)
	}
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", lang, "err", err)
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return transcribe.Transcript{}, fmt.Errorf("whisper: %w: process audio: %v", transcribe.ErrTranscriptionFailed, err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return transcribe.Transcript{}, fmt.Errorf("whisper: %w: read segment: %v", transcribe.ErrTranscriptionFailed, err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}

	text := strings.Join(parts, " ")
	if text == "" {
		return transcribe.Transcript{}, fmt.Errorf("whisper: %w", transcribe.ErrEmptyTranscript)
	}
	return transcribe.Transcript{
		Text:     text,
		Language: lang,
		Duration: f.Duration(len(samples)),
	}, nil
}

// prepareSamples turns an upload into 16 kHz mono float32 samples. The
// returned format describes those samples.
func prepareSamples(a transcribe.Audio) ([]float32, audio.Format, error) {
	var (
		pcm []int16
		f   audio.Format
	)
	base, _, _ := strings.Cut(strings.ToLower(a.MIMEType), ";")
	switch strings.TrimSpace(base) {
	case "audio/wav", "audio/x-wav", "audio/wave":
		dec, err := audio.DecodeWAV(a.Data)
		if err != nil {
			return nil, audio.Format{}, err
		}
		pcm, f = dec.Samples, dec.Format
	case "application/octet-stream", "audio/pcm", "audio/l16", "":
		rate := a.SampleRate
		if rate <= 0 {
			rate = sampleRate
		}
		pcm, f = audio.BytesToInt16(a.Data), audio.Format{SampleRate: rate, Channels: 1}
	default:
		return nil, audio.Format{}, fmt.Errorf("unsupported media type %q for in-process decoding", a.MIMEType)
	}

	mono := audio.DownmixToMono(pcm, f.Channels)
	mono = audio.Resample(mono, f.SampleRate, sampleRate)
	return audio.Int16ToFloat32(mono), audio.Format{SampleRate: sampleRate, Channels: 1}, nil
}
