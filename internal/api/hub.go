package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/shopvox/internal/observe"
	"github.com/MrWong99/shopvox/pkg/capture"
)

// Event types sent on the WebSocket stream.
const (
	TypeSearchState    = "search_state"
	TypeRecordingState = "recording_state"
	TypeCriteria       = "criteria"
	TypeTranscript     = "transcript"
)

const (
	defaultClientBuffer = 32
	defaultWriteTimeout = 5 * time.Second
)

// Message is one frame of the event stream.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// HubOption configures a [Hub].
type HubOption func(*Hub)

// WithClientBuffer sets how many messages may queue per client before the
// client is dropped as too slow.
func WithClientBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithOriginPatterns sets the accepted Origin host patterns. Empty accepts
// only same-origin upgrades.
func WithOriginPatterns(patterns ...string) HubOption {
	return func(h *Hub) { h.origins = patterns }
}

// WithHubMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithHubMetrics(m *observe.Metrics) HubOption {
	return func(h *Hub) { h.metrics = m }
}

// WithGreeting sets a function whose messages are sent to every client right
// after it connects, so it starts from the current state.
func WithGreeting(fn func() []Message) HubOption {
	return func(h *Hub) { h.greeting = fn }
}

// Hub fans events out to connected WebSocket clients. Broadcast never
// blocks: every client has its own bounded queue and writer goroutine.
type Hub struct {
	buffer   int
	origins  []string
	metrics  *observe.Metrics
	greeting func() []Message

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	send   chan Message
	cancel context.CancelFunc

	mu     sync.Mutex
	code   websocket.StatusCode
	reason string
}

// drop ends the client's stream. The first reason wins.
func (c *client) drop(code websocket.StatusCode, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reason == "" {
		c.code, c.reason = code, reason
	}
	c.cancel()
}

func (c *client) closeReason() (websocket.StatusCode, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.code, c.reason
}

// NewHub creates a Hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		buffer:  defaultClientBuffer,
		clients: make(map[*client]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.metrics == nil {
		h.metrics = observe.DefaultMetrics()
	}
	return h
}

// SetGreeting replaces the greeting function.
func (h *Hub) SetGreeting(fn func() []Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.greeting = fn
}

// Broadcast queues m for every connected client. Clients whose queue is
// full are disconnected.
func (h *Hub) Broadcast(m Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- m:
		default:
			slog.Warn("api: dropping slow websocket client", "type", m.Type)
			delete(h.clients, c)
			c.drop(websocket.StatusPolicyViolation, "client too slow")
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// RecordingObserver returns a [capture.Observer] broadcasting every
// recording snapshot. It never blocks, so it is safe to run under the
// controller's lock.
func (h *Hub) RecordingObserver() capture.Observer {
	return func(s capture.Snapshot) {
		h.Broadcast(Message{Type: TypeRecordingState, Data: newRecordingView(s)})
	}
}

// ServeHTTP upgrades the request and streams events until the client goes
// away or the hub is closed. Inbound frames are ignored.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		observe.Logger(r.Context()).Warn("api: websocket accept failed", "err", err)
		return
	}
	defer func() { _ = conn.CloseNow() }()

	ctx, cancel := context.WithCancel(conn.CloseRead(context.WithoutCancel(r.Context())))
	defer cancel()

	c := &client{send: make(chan Message, h.buffer), cancel: cancel}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	h.clients[c] = struct{}{}
	greeting := h.greeting
	h.mu.Unlock()

	h.metrics.WebSocketClients.Add(ctx, 1)
	defer h.metrics.WebSocketClients.Add(context.Background(), -1)
	defer h.remove(c)

	log := observe.Logger(r.Context())
	log.Debug("api: websocket connected", "remote", r.RemoteAddr)

	// The greeting is taken after registration: anything that changes in
	// between is also queued, so the last message per type is current.
	if greeting != nil {
		for _, m := range greeting() {
			if err := h.write(ctx, conn, m); err != nil {
				log.Debug("api: websocket write failed", "remote", r.RemoteAddr, "err", err)
				return
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			if code, reason := c.closeReason(); reason != "" {
				_ = conn.Close(code, reason)
			}
			log.Debug("api: websocket disconnected", "remote", r.RemoteAddr)
			return
		case m := <-c.send:
			if err := h.write(ctx, conn, m); err != nil {
				log.Debug("api: websocket write failed", "remote", r.RemoteAddr, "err", err)
				return
			}
		}
	}
}

func (h *Hub) write(ctx context.Context, conn *websocket.Conn, m Message) error {
	ctx, cancel := context.WithTimeout(ctx, defaultWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, m)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		c.drop(websocket.StatusGoingAway, "server shutting down")
	}
}

// recordingView is the wire form of a [capture.Snapshot].
type recordingView struct {
	SessionID      string             `json:"session_id,omitempty"`
	State          capture.State      `json:"state"`
	Permission     capture.Permission `json:"permission"`
	StartedAt      *time.Time         `json:"started_at,omitempty"`
	ElapsedSeconds int                `json:"elapsed_seconds"`
	MIMEType       string             `json:"mime_type,omitempty"`
	Error          string             `json:"error,omitempty"`
}

func newRecordingView(s capture.Snapshot) recordingView {
	v := recordingView{
		SessionID:      s.SessionID,
		State:          s.State,
		Permission:     s.Permission,
		ElapsedSeconds: s.ElapsedSeconds,
		MIMEType:       s.MIMEType,
	}
	if !s.StartedAt.IsZero() {
		t := s.StartedAt
		v.StartedAt = &t
	}
	if s.Err != nil {
		v.Error = s.Err.Error()
	}
	return v
}
