// Package service provides a transcription provider backed by the
// speech-to-text HTTP service.
//
// Each call uploads the recording as multipart/form-data with two fields,
// "audio" (the file) and "locale", and decodes a JSON body of the shape:
//
//	{"transcript": {"text": "...", "language": "en", "duration": 2.4}}
//
// duration is in seconds. A missing or blank text is reported as
// [transcribe.ErrEmptyTranscript]; everything else that goes wrong wraps
// [transcribe.ErrTranscriptionFailed].
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/MrWong99/shopvox/pkg/provider/transcribe"
)

const (
	defaultPath    = "/v1/stt:transcribe"
	defaultTimeout = 30 * time.Second
)

// Compile-time assertion that Provider implements transcribe.Provider.
var _ transcribe.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithTimeout sets the per-request HTTP timeout. Defaults to 30s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.httpClient.Timeout = d
		}
	}
}

// WithPath overrides the endpoint path. Defaults to "/v1/stt:transcribe".
func WithPath(path string) Option {
	return func(p *Provider) {
		if path != "" {
			p.path = "/" + strings.TrimPrefix(path, "/")
		}
	}
}

// WithAPIKey sends key as a bearer token on every request.
func WithAPIKey(key string) Option {
	return func(p *Provider) {
		p.apiKey = key
	}
}

// Provider implements transcribe.Provider over HTTP.
type Provider struct {
	baseURL    string
	path       string
	apiKey     string
	httpClient *http.Client
}

// New creates a Provider for the service at baseURL. baseURL must be
// non-empty.
func New(baseURL string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("transcribe service: baseURL must not be empty")
	}
	p := &Provider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		path:       defaultPath,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// response mirrors the service's JSON body.
type response struct {
	Transcript struct {
		Text     string  `json:"text"`
		Language string  `json:"language"`
		Duration float64 `json:"duration"`
	} `json:"transcript"`
}

// Transcribe implements transcribe.Provider.
func (p *Provider) Transcribe(ctx context.Context, audio transcribe.Audio) (transcribe.Transcript, error) {
	locale := audio.Locale
	if locale == "" {
		locale = transcribe.DefaultLocale
	}
	mimeType := audio.MIMEType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="audio"; filename=%q`, fileName(mimeType)))
	h.Set("Content-Type", mimeType)
	fw, err := mw.CreatePart(h)
	if err != nil {
		return transcribe.Transcript{}, fmt.Errorf("transcribe service: create form file: %w", err)
	}
	if _, err := fw.Write(audio.Data); err != nil {
		return transcribe.Transcript{}, fmt.Errorf("transcribe service: write audio: %w", err)
	}
	if err := mw.WriteField("locale", locale); err != nil {
		return transcribe.Transcript{}, fmt.Errorf("transcribe service: write locale field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return transcribe.Transcript{}, fmt.Errorf("transcribe service: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+p.path, &body)
	if err != nil {
		return transcribe.Transcript{}, fmt.Errorf("transcribe service: build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return transcribe.Transcript{}, fmt.Errorf("transcribe service: %w: %v", transcribe.ErrTranscriptionFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return transcribe.Transcript{}, fmt.Errorf("transcribe service: %w: status %d: %s",
			transcribe.ErrTranscriptionFailed, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return transcribe.Transcript{}, fmt.Errorf("transcribe service: %w: decode response: %v", transcribe.ErrTranscriptionFailed, err)
	}

	text := strings.TrimSpace(out.Transcript.Text)
	if text == "" {
		return transcribe.Transcript{}, fmt.Errorf("transcribe service: %w", transcribe.ErrEmptyTranscript)
	}
	return transcribe.Transcript{
		Text:     text,
		Language: out.Transcript.Language,
		Duration: time.Duration(out.Transcript.Duration * float64(time.Second)),
	}, nil
}

// fileName picks an upload file name whose extension matches mimeType.
// Some upstream decoders sniff the extension before the content type.
func fileName(mimeType string) string {
	base, _, _ := strings.Cut(strings.ToLower(mimeType), ";")
	switch base {
	case "audio/wav", "audio/x-wav":
		return "recording.wav"
	case "audio/webm":
		return "recording.webm"
	case "audio/ogg":
		return "recording.ogg"
	case "audio/mpeg", "audio/mp3":
		return "recording.mp3"
	case "audio/mp4", "audio/m4a", "audio/x-m4a", "audio/aac":
		return "recording.m4a"
	default:
		return "recording.pcm"
	}
}
