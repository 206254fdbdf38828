package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/shopvox/internal/observe"
	"github.com/MrWong99/shopvox/internal/search"
	"github.com/MrWong99/shopvox/pkg/capture"
	"github.com/MrWong99/shopvox/pkg/criteria"
	"github.com/MrWong99/shopvox/pkg/provider/transcribe"
	"github.com/MrWong99/shopvox/pkg/types"
)

// ErrNoQuery is returned when a transcript carries neither a product query
// nor a price bound.
var ErrNoQuery = errors.New("voice: transcript contains no query")

// Submitter dispatches criteria to a search. *search.Orchestrator
// satisfies it.
type Submitter interface {
	Submit(ctx context.Context, c criteria.Criteria) (*search.Request, error)
}

var _ Submitter = (*search.Orchestrator)(nil)

// EventKind discriminates [Event] values.
type EventKind string

const (
	EventTranscript      EventKind = "transcript"
	EventTranscribeError EventKind = "transcribe_error"
)

// Event reports the outcome of one processed recording.
type Event struct {
	Kind      EventKind          `json:"kind"`
	SessionID string             `json:"session_id,omitempty"`
	Text      string             `json:"text,omitempty"`
	Language  string             `json:"language,omitempty"`
	Query     string             `json:"query,omitempty"`
	Token     uint64             `json:"token,omitempty"`
	Criteria  *criteria.Snapshot `json:"criteria,omitempty"`
	Error     string             `json:"error,omitempty"`
}

// Result is the outcome of [Pipeline.Handle].
type Result struct {
	Transcript transcribe.Transcript
	Intent     Intent
	Criteria   criteria.Criteria
	Request    *search.Request
}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithLocale sets the locale passed to the transcriber.
func WithLocale(locale string) Option {
	return func(p *Pipeline) { p.locale = locale }
}

// WithCategoryInference enables fuzzy category detection from transcripts.
func WithCategoryInference(on bool) Option {
	return func(p *Pipeline) { p.inferCategory = on }
}

// WithDefaultSources sets the sources enabled when a spoken search arrives
// while none are selected. Nil leaves the selection alone.
func WithDefaultSources(sources ...types.Source) Option {
	return func(p *Pipeline) { p.defaultSources = types.SortSources(sources) }
}

// WithTranscriberName labels transcription metrics.
func WithTranscriberName(name string) Option {
	return func(p *Pipeline) { p.transcriberName = name }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// Pipeline consumes finished recordings. It implements [capture.Consumer].
type Pipeline struct {
	transcriber     transcribe.Provider
	store           *criteria.Store
	submitter       Submitter
	locale          string
	inferCategory   bool
	defaultSources  []types.Source
	transcriberName string
	metrics         *observe.Metrics

	mu      sync.Mutex
	subs    map[int]func(Event)
	nextSub int
}

var _ capture.Consumer = (*Pipeline)(nil)

// New creates a Pipeline.
func New(t transcribe.Provider, store *criteria.Store, s Submitter, opts ...Option) *Pipeline {
	p := &Pipeline{
		transcriber:     t,
		store:           store,
		submitter:       s,
		locale:          transcribe.DefaultLocale,
		transcriberName: "default",
		subs:            make(map[int]func(Event)),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p
}

// Supports implements capture.Consumer.
func (p *Pipeline) Supports(mimeType string) bool {
	return transcribe.IsAllowedMIME(mimeType)
}

// Consume implements capture.Consumer. Failures are logged and reported as
// events.
func (p *Pipeline) Consume(ctx context.Context, payload capture.Payload) {
	_, err := p.handle(ctx, payload.SessionID, transcribe.Audio{
		Data:       payload.Data,
		MIMEType:   payload.MIMEType,
		SampleRate: payload.Format.SampleRate,
	})
	if err != nil {
		observe.Logger(ctx).Warn("voice: recording not searched", "session_id", payload.SessionID, "err", err)
	}
}

// Handle transcribes a, applies the parsed intent to the criteria store and
// submits the result.
func (p *Pipeline) Handle(ctx context.Context, a transcribe.Audio) (Result, error) {
	return p.handle(ctx, "", a)
}

func (p *Pipeline) handle(ctx context.Context, sessionID string, a transcribe.Audio) (Result, error) {
	ctx, span := observe.StartSpan(ctx, "voice.handle", observe.AudioAttributes(a.MIMEType, len(a.Data)))
	defer span.End()

	if a.Locale == "" {
		a.Locale = p.locale
	}

	start := time.Now()
	tr, err := p.transcriber.Transcribe(ctx, a)
	status := "ok"
	switch {
	case errors.Is(err, transcribe.ErrEmptyTranscript):
		status = "empty"
	case err != nil:
		status = "error"
	}
	p.metrics.RecordTranscription(ctx, p.transcriberName, status, time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if status == "error" {
			p.metrics.RecordProviderError(ctx, p.transcriberName, "transcribe")
		}
		p.emit(Event{Kind: EventTranscribeError, SessionID: sessionID, Error: err.Error()})
		return Result{}, err
	}

	res := Result{Transcript: tr, Intent: ParseTranscript(tr.Text)}
	if res.Intent.Query == "" && res.Intent.MinPrice == nil && res.Intent.MaxPrice == nil {
		p.emit(Event{Kind: EventTranscript, SessionID: sessionID, Text: tr.Text, Language: tr.Language, Error: ErrNoQuery.Error()})
		return res, ErrNoQuery
	}

	actions := []criteria.Action{}
	current := p.store.Current()
	if len(current.Sources()) == 0 {
		for _, src := range p.defaultSources {
			actions = append(actions, criteria.ToggleSource{Source: src})
		}
	}
	if p.inferCategory {
		sources := current.Sources()
		if len(sources) == 0 {
			sources = p.defaultSources
		}
		res.Intent.Category = criteria.InferCategory(tr.Text, criteria.CategoriesFor(sources))
		if res.Intent.Category == "" {
			// Nothing inferred: drop a category left by an earlier utterance.
			actions = append(actions, criteria.SetCategory{})
		}
	}
	actions = append(actions, res.Intent.Actions()...)
	res.Criteria = p.store.Dispatch(actions...)

	snap := res.Criteria.Snapshot()
	ev := Event{
		Kind:      EventTranscript,
		SessionID: sessionID,
		Text:      tr.Text,
		Language:  tr.Language,
		Query:     res.Criteria.TrimmedQuery(),
		Criteria:  &snap,
	}

	req, err := p.submitter.Submit(ctx, res.Criteria)
	if err != nil {
		ev.Error = err.Error()
		p.emit(ev)
		return res, fmt.Errorf("voice: submit: %w", err)
	}
	res.Request = req
	ev.Token = req.Token
	p.emit(ev)

	slog.Info("voice: spoken search submitted", "query", ev.Query, "token", req.Token)
	return res, nil
}

// Subscribe registers fn for every [Event] and returns a function that
// removes it. fn runs on the processing goroutine.
func (p *Pipeline) Subscribe(fn func(Event)) (unsubscribe func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.subs, id)
	}
}

func (p *Pipeline) emit(ev Event) {
	p.mu.Lock()
	subs := make([]func(Event), 0, len(p.subs))
	for id := 0; id < p.nextSub; id++ {
		if fn, ok := p.subs[id]; ok {
			subs = append(subs, fn)
		}
	}
	p.mu.Unlock()
	for _, fn := range subs {
		fn(ev)
	}
}

// CaptureMetrics returns a [capture.Observer] recording session outcomes,
// chained to next (which may be nil).
func CaptureMetrics(m *observe.Metrics, next capture.Observer) capture.Observer {
	return func(s capture.Snapshot) {
		switch s.State {
		case capture.StateCompleted:
			m.RecordCapture(context.Background(), "completed", float64(s.ElapsedSeconds))
		case capture.StateCancelled:
			m.RecordCapture(context.Background(), "cancelled", 0)
		case capture.StateError:
			m.RecordCapture(context.Background(), "error", 0)
		}
		if next != nil {
			next(s)
		}
	}
}
