// Package api exposes the engine over HTTP: REST routes for criteria,
// searches, recordings, uploads and history, plus a WebSocket event stream
// at /ws.
//
// Handlers return JSON. Errors use the body {"error": "...", "reasons": [...]}
// with reasons only present for validation failures.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/MrWong99/shopvox/internal/health"
	"github.com/MrWong99/shopvox/internal/history"
	"github.com/MrWong99/shopvox/internal/observe"
	"github.com/MrWong99/shopvox/internal/search"
	"github.com/MrWong99/shopvox/internal/voice"
	"github.com/MrWong99/shopvox/pkg/capture"
	"github.com/MrWong99/shopvox/pkg/criteria"
	"github.com/MrWong99/shopvox/pkg/provider/transcribe"
)

// ActorHeader carries the signed-in actor for history routes. The
// actor_id query parameter is accepted as well.
const ActorHeader = observe.ActorHeader

// DefaultMaxUploadBytes caps POST /api/transcribe bodies.
const DefaultMaxUploadBytes = 10 << 20

// Capture is the part of [capture.Controller] the API drives.
type Capture interface {
	RequestStart(ctx context.Context) error
	RequestStop(ctx context.Context) (capture.Payload, error)
	RequestCancel() error
	State() capture.Snapshot
}

// Voice handles uploaded recordings. *voice.Pipeline satisfies it.
type Voice interface {
	Handle(ctx context.Context, a transcribe.Audio) (voice.Result, error)
	Subscribe(fn func(voice.Event)) (unsubscribe func())
}

var (
	_ Capture = (*capture.Controller)(nil)
	_ Voice   = (*voice.Pipeline)(nil)
)

// Option configures a [Server].
type Option func(*Server)

// WithCapture enables the recording routes.
func WithCapture(c Capture) Option {
	return func(s *Server) { s.capture = c }
}

// WithVoice enables POST /api/transcribe and transcript events.
func WithVoice(v Voice) Option {
	return func(s *Server) { s.voice = v }
}

// WithHistory enables the history routes.
func WithHistory(svc *history.Service) Option {
	return func(s *Server) { s.history = svc }
}

// WithHub sets the event hub. By default the server creates its own.
func WithHub(h *Hub) Option {
	return func(s *Server) { s.hub = h }
}

// WithHealth mounts /healthz and /readyz.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMCP mounts a Model Context Protocol handler at /mcp.
func WithMCP(h http.Handler) Option {
	return func(s *Server) { s.mcp = h }
}

// WithMaxUploadBytes caps upload size. Zero or negative disables the cap.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) { s.maxUpload = n }
}

// WithDefaultActor sets the actor used by history routes when the request
// names none.
func WithDefaultActor(id string) Option {
	return func(s *Server) { s.defaultActor = id }
}

// WithServerMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithServerMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithMetricsEndpoint mounts the Prometheus scrape handler at /metrics.
func WithMetricsEndpoint(on bool) Option {
	return func(s *Server) { s.metricsEndpoint = on }
}

// Server holds the engine components behind the HTTP routes.
type Server struct {
	store   *criteria.Store
	orch    *search.Orchestrator
	capture Capture
	voice   Voice
	history *history.Service
	hub     *Hub
	health  *health.Handler
	mcp     http.Handler
	metrics *observe.Metrics

	maxUpload       int64
	defaultActor    string
	metricsEndpoint bool

	unsubscribe []func()
}

// New creates a Server and starts forwarding criteria, search and
// transcript events to the hub.
func New(store *criteria.Store, orch *search.Orchestrator, opts ...Option) *Server {
	s := &Server{
		store:     store,
		orch:      orch,
		maxUpload: DefaultMaxUploadBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.hub == nil {
		s.hub = NewHub(WithHubMetrics(s.metrics))
	}
	s.hub.SetGreeting(s.greeting)

	s.unsubscribe = append(s.unsubscribe,
		store.Subscribe(func(_, c criteria.Criteria) {
			s.hub.Broadcast(Message{Type: TypeCriteria, Data: c.Snapshot()})
		}),
		orch.Subscribe(func(st search.State) {
			s.hub.Broadcast(Message{Type: TypeSearchState, Data: st})
		}),
	)
	if s.voice != nil {
		s.unsubscribe = append(s.unsubscribe, s.voice.Subscribe(func(ev voice.Event) {
			s.hub.Broadcast(Message{Type: TypeTranscript, Data: ev})
		}))
	}
	return s
}

// Hub returns the server's event hub.
func (s *Server) Hub() *Hub { return s.hub }

// Handler returns the routed, instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/criteria", s.handleGetCriteria)
	mux.HandleFunc("POST /api/criteria/actions", s.handleCriteriaActions)
	mux.HandleFunc("GET /api/search", s.handleGetSearch)
	mux.HandleFunc("POST /api/search", s.handleSearch)
	mux.HandleFunc("GET /api/actor", s.handleGetActor)
	mux.HandleFunc("PUT /api/actor", s.handlePutActor)

	mux.HandleFunc("GET /api/recording", s.handleRecordingState)
	mux.HandleFunc("POST /api/recording/start", s.handleRecordingStart)
	mux.HandleFunc("POST /api/recording/stop", s.handleRecordingStop)
	mux.HandleFunc("POST /api/recording/cancel", s.handleRecordingCancel)
	mux.HandleFunc("POST /api/transcribe", s.handleTranscribe)

	mux.HandleFunc("GET /api/history", s.handleListHistory)
	mux.HandleFunc("DELETE /api/history", s.handleClearHistory)
	mux.HandleFunc("DELETE /api/history/{id}", s.handleDeleteHistory)
	mux.HandleFunc("GET /api/history/analytics", s.handleAnalytics)
	mux.HandleFunc("GET /api/history/suggestions", s.handleSuggestions)

	mux.Handle("GET /ws", s.hub)

	if s.mcp != nil {
		mux.Handle("/mcp", s.mcp)
	}
	if s.health != nil {
		s.health.Register(mux)
	}
	if s.metricsEndpoint {
		mux.Handle("GET /metrics", observe.MetricsHandler())
	}
	return observe.Middleware(s.metrics)(mux)
}

// Close stops event forwarding and disconnects WebSocket clients.
func (s *Server) Close() {
	for _, fn := range s.unsubscribe {
		fn()
	}
	s.unsubscribe = nil
	s.hub.Close()
}

func (s *Server) greeting() []Message {
	msgs := []Message{
		{Type: TypeCriteria, Data: s.store.Current().Snapshot()},
		{Type: TypeSearchState, Data: s.orch.State()},
	}
	if s.capture != nil {
		msgs = append(msgs, Message{Type: TypeRecordingState, Data: newRecordingView(s.capture.State())})
	}
	return msgs
}

// actor resolves the acting user for r, or "" when there is none.
func (s *Server) actor(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(ActorHeader)); id != "" {
		return id
	}
	if id := strings.TrimSpace(r.URL.Query().Get("actor_id")); id != "" {
		return id
	}
	return s.defaultActor
}

type errorBody struct {
	Error   string   `json:"error"`
	Reasons []string `json:"reasons,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	body := errorBody{Error: err.Error()}
	var ve *search.ValidationError
	if errors.As(err, &ve) {
		body.Reasons = ve.Reasons
	}
	writeJSON(w, status, body)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New(key + " must be a non-negative integer")
	}
	return n, nil
}
