package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/MrWong99/shopvox/internal/search"
	"github.com/MrWong99/shopvox/internal/voice"
	"github.com/MrWong99/shopvox/pkg/capture"
	"github.com/MrWong99/shopvox/pkg/criteria"
	"github.com/MrWong99/shopvox/pkg/provider/transcribe"
)

// uploadField is the multipart field holding the recording.
const uploadField = "file"

var (
	errNoCapture = errors.New("recording is not available")
	errNoVoice   = errors.New("transcription is not available")
)

type payloadView struct {
	SessionID  string `json:"session_id"`
	MIMEType   string `json:"mime_type"`
	Bytes      int    `json:"bytes"`
	DurationMS int64  `json:"duration_ms"`
}

type transcribeResponse struct {
	Transcript transcribe.Transcript `json:"transcript"`
	Query      string                `json:"query"`
	MinPrice   *float64              `json:"min_price,omitempty"`
	MaxPrice   *float64              `json:"max_price,omitempty"`
	Criteria   criteria.Snapshot     `json:"criteria"`
	Token      uint64                `json:"token,omitempty"`
}

func captureStatus(err error) int {
	switch {
	case errors.Is(err, capture.ErrSessionActive), errors.Is(err, capture.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, capture.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, capture.ErrNoAudioCaptured), errors.Is(err, capture.ErrRecordingTooShort):
		return http.StatusUnprocessableEntity
	case errors.Is(err, capture.ErrCancelled):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleRecordingState(w http.ResponseWriter, _ *http.Request) {
	if s.capture == nil {
		writeError(w, http.StatusServiceUnavailable, errNoCapture)
		return
	}
	writeJSON(w, http.StatusOK, newRecordingView(s.capture.State()))
}

// handleRecordingStart blocks until the microphone is recording or the
// request fails.
func (s *Server) handleRecordingStart(w http.ResponseWriter, r *http.Request) {
	if s.capture == nil {
		writeError(w, http.StatusServiceUnavailable, errNoCapture)
		return
	}
	if err := s.capture.RequestStart(r.Context()); err != nil {
		writeError(w, captureStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, newRecordingView(s.capture.State()))
}

// handleRecordingStop finalises the recording. The payload itself goes to
// the voice pipeline; the response only describes it.
func (s *Server) handleRecordingStop(w http.ResponseWriter, r *http.Request) {
	if s.capture == nil {
		writeError(w, http.StatusServiceUnavailable, errNoCapture)
		return
	}
	p, err := s.capture.RequestStop(r.Context())
	if err != nil {
		writeError(w, captureStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, payloadView{
		SessionID:  p.SessionID,
		MIMEType:   p.MIMEType,
		Bytes:      len(p.Data),
		DurationMS: p.Duration.Milliseconds(),
	})
}

func (s *Server) handleRecordingCancel(w http.ResponseWriter, _ *http.Request) {
	if s.capture == nil {
		writeError(w, http.StatusServiceUnavailable, errNoCapture)
		return
	}
	if err := s.capture.RequestCancel(); err != nil {
		writeError(w, captureStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, newRecordingView(s.capture.State()))
}

// handleTranscribe accepts a multipart upload ("file", optional "locale")
// and runs it through the voice pipeline.
func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if s.voice == nil {
		writeError(w, http.StatusServiceUnavailable, errNoVoice)
		return
	}
	if s.maxUpload > 0 {
		// Leave room for the multipart envelope; the file itself is checked
		// against the exact limit below.
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload+64<<10)
	}

	file, hdr, err := r.FormFile(uploadField)
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, transcribe.ErrTooLarge)
			return
		}
		writeError(w, http.StatusBadRequest, fmt.Errorf("read %q field: %w", uploadField, err))
		return
	}
	defer file.Close()

	mime := strings.TrimSpace(hdr.Header.Get("Content-Type"))
	if err := transcribe.ValidateUpload(mime, hdr.Size, s.maxUpload); err != nil {
		status := http.StatusUnsupportedMediaType
		if errors.Is(err, transcribe.ErrTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		writeError(w, status, fmt.Errorf("%w: %s", err, mime))
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("read upload: %w", err))
		return
	}

	res, err := s.voice.Handle(r.Context(), transcribe.Audio{
		Data:     data,
		MIMEType: mime,
		Locale:   r.FormValue("locale"),
	})
	if err != nil {
		writeError(w, voiceStatus(err), err)
		return
	}

	body := transcribeResponse{
		Transcript: res.Transcript,
		Query:      res.Intent.Query,
		MinPrice:   res.Intent.MinPrice,
		MaxPrice:   res.Intent.MaxPrice,
		Criteria:   res.Criteria.Snapshot(),
	}
	if res.Request != nil {
		body.Token = res.Request.Token
	}
	writeJSON(w, http.StatusOK, body)
}

func voiceStatus(err error) int {
	switch {
	case errors.Is(err, voice.ErrNoQuery),
		errors.Is(err, transcribe.ErrEmptyTranscript),
		errors.Is(err, search.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, transcribe.ErrUnsupportedMediaType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, transcribe.ErrTranscriptionFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
