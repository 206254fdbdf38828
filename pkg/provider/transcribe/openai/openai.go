// Package openai provides a transcription provider backed by the OpenAI
// audio transcription API (Whisper).
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/shopvox/pkg/audio"
	"github.com/MrWong99/shopvox/pkg/provider/transcribe"
)

// DefaultModel is the default OpenAI transcription model.
const DefaultModel = oai.AudioModelWhisper1

// Ensure Provider implements the transcribe.Provider interface.
var _ transcribe.Provider = (*Provider)(nil)

// Provider implements transcribe.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
}

type config struct {
	baseURL    string
	timeout    time.Duration
	maxRetries int
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL, e.g. for a local
// OpenAI-compatible Whisper server.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithMaxRetries sets how often the client retries a failed request.
// Negative values keep the client default.
func WithMaxRetries(n int) Option {
	return func(c *config) {
		c.maxRetries = n
	}
}

// New constructs a Provider. If model is empty, DefaultModel is used.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai transcribe: apiKey must not be empty")
	}
	if model == "" {
		model = string(DefaultModel)
	}

	cfg := &config{maxRetries: -1}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}
	if cfg.maxRetries >= 0 {
		reqOpts = append(reqOpts, option.WithMaxRetries(cfg.maxRetries))
	}

	return &Provider{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Model returns the configured model name.
func (p *Provider) Model() string { return p.model }

// Transcribe implements transcribe.Provider.
func (p *Provider) Transcribe(ctx context.Context, a transcribe.Audio) (transcribe.Transcript, error) {
	lang := language(a.Locale)
	mimeType := a.MIMEType
	if mimeType == "" {
		mimeType = "audio/wav"
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, oai.AudioTranscriptionNewParams{
		File:     oai.File(bytes.NewReader(a.Data), fileName(mimeType), mimeType),
		Model:    oai.AudioModel(p.model),
		Language: oai.String(lang),
	})
	if err != nil {
		return transcribe.Transcript{}, fmt.Errorf("openai transcribe: %w: %v", transcribe.ErrTranscriptionFailed, err)
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return transcribe.Transcript{}, fmt.Errorf("openai transcribe: %w", transcribe.ErrEmptyTranscript)
	}

	t := transcribe.Transcript{Text: text, Language: lang}
	if strings.HasPrefix(mimeType, "audio/wav") {
		if dec, err := audio.DecodeWAV(a.Data); err == nil {
			t.Duration = dec.Duration
		}
	}
	return t, nil
}

// language reduces a BCP-47 locale ("en-US") to the ISO-639-1 code the API
// expects ("en").
func language(locale string) string {
	if locale == "" {
		locale = transcribe.DefaultLocale
	}
	lang, _, _ := strings.Cut(locale, "-")
	lang, _, _ = strings.Cut(lang, "_")
	return strings.ToLower(lang)
}

func fileName(mimeType string) string {
	base, _, _ := strings.Cut(strings.ToLower(mimeType), ";")
	switch strings.TrimSpace(base) {
	case "audio/webm":
		return "recording.webm"
	case "audio/ogg":
		return "recording.ogg"
	case "audio/mpeg", "audio/mp3":
		return "recording.mp3"
	case "audio/mp4", "audio/m4a", "audio/x-m4a":
		return "recording.m4a"
	default:
		return "recording.wav"
	}
}
