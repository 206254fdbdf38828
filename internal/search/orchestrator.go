// Package search coalesces search-criteria changes into authoritative product
// searches.
//
// The [Orchestrator] owns a monotonically increasing request token. Every
// dispatched search takes the next token; when a response arrives for any
// token other than the latest it is discarded without touching published
// state. Passive criteria changes ([Orchestrator.Notify]) are debounced into a
// single dispatch once a search has run; explicit submissions
// ([Orchestrator.Submit]) dispatch immediately.
//
// When the product search fails, or (under [PolicyFallback]) returns nothing,
// the orchestrator publishes deterministic placeholder products instead and
// flags the state with a [Warning].
package search

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/shopvox/internal/observe"
	"github.com/MrWong99/shopvox/internal/search/synth"
	"github.com/MrWong99/shopvox/pkg/criteria"
	"github.com/MrWong99/shopvox/pkg/provider/productsearch"
	"github.com/MrWong99/shopvox/pkg/types"
)

// Defaults.
const (
	DefaultDebounce       = 1500 * time.Millisecond
	DefaultRequestTimeout = 15 * time.Second
)

// EmptyResultPolicy decides what an empty (but successful) search shows.
type EmptyResultPolicy string

const (
	// PolicyFallback replaces an empty result with synthesized products.
	PolicyFallback EmptyResultPolicy = "fallback"

	// PolicyReport publishes the empty result as-is with a warning.
	PolicyReport EmptyResultPolicy = "report"
)

// IsValid reports whether p is a known policy.
func (p EmptyResultPolicy) IsValid() bool {
	return p == PolicyFallback || p == PolicyReport
}

// Warning flags a degraded [State].
type Warning string

const (
	WarningNone               Warning = ""
	WarningNoResults          Warning = "no_results"
	WarningServiceUnavailable Warning = "service_unavailable"
)

// State is the published search state. Values handed to subscribers are
// copies and may be retained.
type State struct {
	Token          uint64            `json:"token"`
	Status         Status            `json:"status,omitempty"`
	Criteria       criteria.Snapshot `json:"criteria"`
	Products       []types.Product   `json:"products"`
	TotalResults   int               `json:"total_results"`
	FiltersApplied map[string]any    `json:"filters_applied,omitempty"`
	Loading        bool              `json:"loading"`
	Synthesized    bool              `json:"synthesized"`
	Warning        Warning           `json:"warning,omitempty"`

	// Err is the validation or request error behind the state, if any.
	// Error carries its message on the wire.
	Err   error  `json:"-"`
	Error string `json:"error,omitempty"`
}

func (s State) clone() State {
	s.Products = slices.Clone(s.Products)
	s.FiltersApplied = maps.Clone(s.FiltersApplied)
	return s
}

// Subscriber receives every published [State] in publication order. It must
// not call back into the orchestrator synchronously.
type Subscriber func(State)

// Synthesizer produces placeholder products for a query.
type Synthesizer interface {
	Synthesize(query string, sources []types.Source) []types.Product
}

// Recorder persists successful searches. Implementations must not block.
type Recorder interface {
	RecordSearch(actorID, query string, sources []types.Source, resultCount int)
}

// Option configures an [Orchestrator].
type Option func(*Orchestrator)

// WithDebounce sets the passive-change debounce window.
func WithDebounce(d time.Duration) Option {
	return func(o *Orchestrator) { o.debounce.SetDelay(d) }
}

// WithEmptyResultPolicy sets the empty-result policy. Invalid values are
// ignored.
func WithEmptyResultPolicy(p EmptyResultPolicy) Option {
	return func(o *Orchestrator) {
		if p.IsValid() {
			o.policy = p
		}
	}
}

// WithSynthesizer replaces the default [synth.Synthesizer].
func WithSynthesizer(s Synthesizer) Option {
	return func(o *Orchestrator) { o.synth = s }
}

// WithRecorder sets the history recorder.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithRequestTimeout bounds each product search call.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithActor sets the signed-in actor whose searches are recorded.
func WithActor(id string) Option {
	return func(o *Orchestrator) { o.actor = id }
}

// Orchestrator dispatches product searches and publishes their state.
//
// All methods are safe for concurrent use.
type Orchestrator struct {
	provider productsearch.Provider
	synth    Synthesizer
	recorder Recorder
	metrics  *observe.Metrics
	timeout  time.Duration
	debounce *debouncer

	mu         sync.Mutex
	latest     uint64
	current    *Request
	state      State
	pending    criteria.Criteria
	hasPending bool
	hasRun     bool
	actor      string
	policy     EmptyResultPolicy
	closed     bool
	subs       map[int]Subscriber
	nextSub    int

	// pubMu is taken before mu is released so subscribers see states in
	// mutation order.
	pubMu sync.Mutex

	wg sync.WaitGroup
}

// New creates an Orchestrator backed by p.
func New(p productsearch.Provider, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		provider: p,
		synth:    synth.New(),
		timeout:  DefaultRequestTimeout,
		debounce: newDebouncer(DefaultDebounce),
		policy:   PolicyFallback,
		subs:     make(map[int]Subscriber),
		state:    State{Criteria: criteria.Default().Snapshot()},
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return o
}

// Submit validates c and dispatches it immediately, cancelling any armed
// debounce. Invalid criteria are published as the state error and returned
// as a [*ValidationError]; no token is consumed and no call is made.
func (o *Orchestrator) Submit(ctx context.Context, c criteria.Criteria) (*Request, error) {
	o.debounce.Stop()
	o.mu.Lock()
	o.hasPending = false
	return o.dispatchLocked(ctx, c)
}

// Notify records a passive criteria change. Once any search has run, it
// (re-)arms the debounce window; the window dispatching uses whatever
// criteria were notified last.
func (o *Orchestrator) Notify(c criteria.Criteria) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.pending = c
	o.hasPending = true
	armed := o.hasRun
	o.mu.Unlock()

	if armed {
		o.debounce.Arm(o.fire)
	}
}

// Watch feeds every change of store into [Orchestrator.Notify].
func (o *Orchestrator) Watch(store *criteria.Store) (unsubscribe func()) {
	return store.Subscribe(func(_, c criteria.Criteria) { o.Notify(c) })
}

func (o *Orchestrator) fire() {
	o.mu.Lock()
	if o.closed || !o.hasPending {
		o.mu.Unlock()
		return
	}
	c := o.pending
	o.hasPending = false
	if _, err := o.dispatchLocked(context.Background(), c); err != nil {
		slog.Debug("search: debounced dispatch rejected", "err", err)
	}
}

// dispatchLocked must be called with o.mu held; it releases it.
func (o *Orchestrator) dispatchLocked(ctx context.Context, c criteria.Criteria) (*Request, error) {
	if o.closed {
		o.mu.Unlock()
		return nil, ErrClosed
	}

	if err := Validate(c); err != nil {
		// The latest criteria are unsearchable, so an in-flight response
		// for older criteria must not replace the error.
		if o.current != nil && o.current.finish(StatusCancelled, nil, err) {
			o.state.Status = StatusCancelled
			o.state.Loading = false
		}
		o.state.Criteria = c.Snapshot()
		o.state.Err = err
		o.state.Error = err.Error()
		pub := o.publishLocked()
		o.mu.Unlock()
		pub()
		o.metrics.RecordValidationError(ctx)
		return nil, err
	}

	o.latest++
	req := newRequest(o.latest, c)
	req.setInFlight()
	if o.current != nil {
		o.current.finish(StatusSuperseded, nil, nil)
	}
	o.current = req
	o.hasRun = true
	o.state = State{
		Token:    req.Token,
		Status:   StatusInFlight,
		Criteria: c.Snapshot(),
		Products: o.state.Products,
		Loading:  true,
	}
	o.wg.Add(1)
	pub := o.publishLocked()
	o.mu.Unlock()
	pub()

	slog.Debug("search: dispatched", "token", req.Token, "query", c.TrimmedQuery(), "sources", c.Sources())
	go o.run(context.WithoutCancel(ctx), req)
	return req, nil
}

func (o *Orchestrator) run(ctx context.Context, req *Request) {
	defer o.wg.Done()

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	ctx = observe.ContextWithActor(ctx, o.Actor())
	ctx, span := observe.StartSpan(ctx, "search.dispatch",
		observe.SearchAttributes(req.Token, req.Criteria.TrimmedQuery(), sourceNames(req.Criteria.Sources())...),
	)
	defer span.End()

	o.metrics.SearchesInFlight.Add(ctx, 1)
	defer o.metrics.SearchesInFlight.Add(ctx, -1)

	start := time.Now()
	resp, err := o.provider.Search(ctx, wireRequest(req.Criteria))
	elapsed := time.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	o.resolve(ctx, req, resp, err, elapsed)
}

func (o *Orchestrator) resolve(ctx context.Context, req *Request, resp productsearch.Response, callErr error, elapsed time.Duration) {
	log := observe.Logger(ctx)

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		req.finish(StatusCancelled, nil, ErrClosed)
		return
	}
	if req.Token != o.latest {
		o.mu.Unlock()
		req.finish(StatusSuperseded, nil, nil)
		o.metrics.RecordSuperseded(ctx)
		log.Debug("search: discarded stale response", "token", req.Token)
		return
	}
	if req.Status() == StatusCancelled {
		o.mu.Unlock()
		log.Debug("search: discarded response for cancelled request", "token", req.Token)
		return
	}

	c := req.Criteria
	query := c.TrimmedQuery()
	sources := c.Sources()
	next := State{
		Token:          req.Token,
		Criteria:       c.Snapshot(),
		FiltersApplied: resp.FiltersApplied,
	}
	var (
		fallback string
		record   bool
	)

	switch {
	case callErr != nil:
		err := fmt.Errorf("%w: %w", ErrService, callErr)
		products := o.synth.Synthesize(query, sources)
		req.finish(StatusFailed, products, err)
		next.Status = StatusFailed
		next.Products = products
		next.TotalResults = len(products)
		next.Synthesized = true
		next.Warning = WarningServiceUnavailable
		next.Err = err
		fallback = string(WarningServiceUnavailable)
		log.Warn("search: service error, showing demo results", "token", req.Token, "err", callErr)

	case len(resp.Products) == 0 && o.policy == PolicyFallback:
		products := o.synth.Synthesize(query, sources)
		req.finish(StatusFailed, products, ErrEmptyResult)
		next.Status = StatusFailed
		next.Products = products
		next.TotalResults = len(products)
		next.Synthesized = true
		next.Warning = WarningNoResults
		next.Err = ErrEmptyResult
		fallback = string(WarningNoResults)
		log.Info("search: no results, showing demo results", "token", req.Token, "query", query)

	case len(resp.Products) == 0:
		req.finish(StatusSucceeded, nil, nil)
		next.Status = StatusSucceeded
		next.Products = []types.Product{}
		next.Warning = WarningNoResults

	default:
		products := slices.Clone(resp.Products)
		req.finish(StatusSucceeded, products, nil)
		next.Status = StatusSucceeded
		next.Products = products
		next.TotalResults = resp.TotalResults
		if next.TotalResults < len(products) {
			next.TotalResults = len(products)
		}
		record = o.actor != "" && o.recorder != nil
	}
	if next.Err != nil {
		next.Error = next.Err.Error()
	}

	o.state = next
	actor := o.actor
	pub := o.publishLocked()
	o.mu.Unlock()
	pub()

	o.metrics.RecordSearch(ctx, string(next.Status), elapsed.Seconds())
	if fallback != "" {
		o.metrics.RecordFallback(ctx, fallback)
	}
	if record {
		o.recorder.RecordSearch(actor, query, sources, len(next.Products))
	}
}

// publishLocked snapshots the state for subscribers. Must be called with
// o.mu held; the returned func must be called after releasing it.
func (o *Orchestrator) publishLocked() func() {
	st := o.state.clone()
	subs := make([]Subscriber, 0, len(o.subs))
	for id := 0; id < o.nextSub; id++ {
		if s, ok := o.subs[id]; ok {
			subs = append(subs, s)
		}
	}
	o.pubMu.Lock()
	return func() {
		defer o.pubMu.Unlock()
		for _, s := range subs {
			s(st)
		}
	}
}

// Subscribe registers s and returns a function that removes it.
func (o *Orchestrator) Subscribe(s Subscriber) (unsubscribe func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	id := o.nextSub
	o.nextSub++
	o.subs[id] = s
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.subs, id)
	}
}

// State returns a copy of the published state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.clone()
}

// LatestToken returns the most recently allocated token (0 before any
// dispatch).
func (o *Orchestrator) LatestToken() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.latest
}

// SetActor sets the signed-in actor. An empty id disables history.
func (o *Orchestrator) SetActor(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.actor = id
}

// Actor returns the signed-in actor, or "".
func (o *Orchestrator) Actor() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.actor
}

// SetPolicy changes the empty-result policy. Invalid values are ignored.
func (o *Orchestrator) SetPolicy(p EmptyResultPolicy) {
	if !p.IsValid() {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.policy = p
}

// Policy returns the empty-result policy.
func (o *Orchestrator) Policy() EmptyResultPolicy {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.policy
}

// SetDebounce changes the debounce window for subsequent arms.
func (o *Orchestrator) SetDebounce(d time.Duration) { o.debounce.SetDelay(d) }

// Wait blocks until every dispatched search has resolved.
func (o *Orchestrator) Wait() { o.wg.Wait() }

// Close stops the debounce window and waits for in-flight searches. Their
// responses are discarded and the requests marked cancelled.
func (o *Orchestrator) Close() error {
	o.debounce.Stop()
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.wg.Wait()
	return nil
}

// Validate reports every reason c cannot be searched as a
// [*ValidationError], or nil.
func Validate(c criteria.Criteria) error {
	var reasons []string
	if c.TrimmedQuery() == "" {
		reasons = append(reasons, ReasonEmptyQuery)
	}
	if len(c.Sources()) == 0 {
		reasons = append(reasons, ReasonNoSources)
	}
	if len(reasons) > 0 {
		return &ValidationError{Reasons: reasons}
	}
	return nil
}

func wireRequest(c criteria.Criteria) productsearch.Request {
	r := productsearch.Request{
		Query:    c.TrimmedQuery(),
		Category: c.Category(),
		Brand:    c.Brand(),
		Limit:    c.Limit(),
		Sources:  c.Sources(),
		Fallback: true,
	}
	if v, ok := c.MinPrice(); ok {
		r.MinPrice = &v
	}
	if v, ok := c.MaxPrice(); ok {
		r.MaxPrice = &v
	}
	return r
}

func sourceNames(sources []types.Source) []string {
	names := make([]string, len(sources))
	for i, src := range sources {
		names[i] = string(src)
	}
	return names
}
