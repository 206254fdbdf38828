// Package transcribe defines the Provider interface for batch speech-to-text
// backends.
//
// Unlike a streaming recogniser, a transcribe provider receives one finished
// recording (a WAV file or raw PCM blob with a MIME type and a locale) and
// returns a single [Transcript]. Providers must report an empty recognition
// result as [ErrEmptyTranscript] so that callers can distinguish "nothing
// was said" from a transport failure.
//
// Implementations must be safe for concurrent use.
package transcribe

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"
)

var (
	// ErrTranscriptionFailed is wrapped by every error caused by the backend
	// itself: transport failures, non-2xx responses, undecodable bodies.
	ErrTranscriptionFailed = errors.New("transcription failed")

	// ErrEmptyTranscript is returned when the backend answered successfully
	// but recognised no text.
	ErrEmptyTranscript = errors.New("transcription is empty")

	// ErrUnsupportedMediaType is returned when the audio MIME type is not in
	// [AllowedMIMETypes].
	ErrUnsupportedMediaType = errors.New("unsupported media type")

	// ErrTooLarge is returned when the audio payload exceeds the configured
	// upload limit.
	ErrTooLarge = errors.New("audio payload too large")
)

// DefaultLocale is used when [Audio.Locale] is empty.
const DefaultLocale = "en-US"

// Audio is one finished recording.
type Audio struct {
	// Data is the encoded audio payload.
	Data []byte

	// MIMEType describes Data (e.g., "audio/wav").
	MIMEType string

	// Locale is a BCP-47 tag such as "en-US". Empty means [DefaultLocale].
	Locale string

	// SampleRate is the PCM sample rate in Hz. Only meaningful for raw PCM
	// payloads; container formats carry their own.
	SampleRate int
}

// Transcript is the recognition result for one [Audio].
type Transcript struct {
	// Text is the recognised speech.
	Text string `json:"text"`

	// Language is the detected or requested language code.
	Language string `json:"language,omitempty"`

	// Duration is the length of the recognised audio.
	Duration time.Duration `json:"duration"`
}

// Provider is the abstraction over any batch speech-to-text backend.
type Provider interface {
	// Transcribe recognises speech in audio. It returns [ErrEmptyTranscript]
	// when the backend recognised nothing.
	Transcribe(ctx context.Context, audio Audio) (Transcript, error)
}

// AllowedMIMETypes lists the audio formats accepted by the transcription
// upload path.
var AllowedMIMETypes = []string{
	"audio/wav",
	"audio/x-wav",
	"audio/mpeg",
	"audio/mp3",
	"audio/mp4",
	"audio/aac",
	"audio/x-m4a",
	"audio/m4a",
	"audio/ogg",
	"audio/webm",
	"audio/webm;codecs=opus",
	"application/octet-stream",
}

// IsAllowedMIME reports whether mime is an accepted audio type. Matching is
// case-insensitive, ignores whitespace around parameters, and is lenient for
// any "audio/webm" variant.
func IsAllowedMIME(mime string) bool {
	m := strings.ToLower(strings.ReplaceAll(mime, " ", ""))
	if m == "" {
		return false
	}
	if strings.HasPrefix(m, "audio/webm") {
		return true
	}
	if slices.Contains(AllowedMIMETypes, m) {
		return true
	}
	// Accept parameters on otherwise allowed base types ("audio/wav;rate=16000").
	base, _, _ := strings.Cut(m, ";")
	return slices.Contains(AllowedMIMETypes, base)
}

// ValidateUpload checks the MIME type and size of an uploaded recording.
// maxBytes <= 0 disables the size check.
func ValidateUpload(mime string, size int64, maxBytes int64) error {
	if !IsAllowedMIME(mime) {
		return ErrUnsupportedMediaType
	}
	if maxBytes > 0 && size > maxBytes {
		return ErrTooLarge
	}
	return nil
}
