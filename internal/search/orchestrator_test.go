package search

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/shopvox/internal/observe"
	"github.com/MrWong99/shopvox/pkg/criteria"
	"github.com/MrWong99/shopvox/pkg/provider/productsearch"
	searchmock "github.com/MrWong99/shopvox/pkg/provider/productsearch/mock"
	"github.com/MrWong99/shopvox/pkg/types"
)

type recordedSearch struct {
	actor   string
	query   string
	sources []types.Source
	count   int
}

type fakeRecorder struct {
	mu    sync.Mutex
	calls []recordedSearch
}

func (r *fakeRecorder) RecordSearch(actorID, query string, sources []types.Source, resultCount int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, recordedSearch{actorID, query, sources, resultCount})
}

func (r *fakeRecorder) Calls() []recordedSearch {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.calls)
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func newTestOrchestrator(t *testing.T, p productsearch.Provider, opts ...Option) *Orchestrator {
	t.Helper()
	opts = append([]Option{WithMetrics(testMetrics(t)), WithDebounce(30 * time.Millisecond)}, opts...)
	o := New(p, opts...)
	t.Cleanup(func() { _ = o.Close() })
	return o
}

func crit(query string, sources ...types.Source) criteria.Criteria {
	c := criteria.Reduce(criteria.Default(), criteria.SetQuery{Query: query})
	for _, s := range sources {
		c = criteria.Reduce(c, criteria.ToggleSource{Source: s})
	}
	return c
}

func products(ids ...string) productsearch.Response {
	resp := productsearch.Response{}
	for _, id := range ids {
		resp.Products = append(resp.Products, types.Product{ID: id, Title: id, Price: 10, Source: types.SourceAmazon})
	}
	resp.TotalResults = len(ids)
	return resp
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met within 2s")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSubmit_ZeroSourcesConsumesNoToken(t *testing.T) {
	t.Parallel()
	p := &searchmock.Provider{Response: products("1")}
	o := newTestOrchestrator(t, p)

	req, err := o.Submit(context.Background(), crit("laptop"))
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
	if req != nil {
		t.Errorf("request = %+v, want nil", req)
	}
	if o.LatestToken() != 0 {
		t.Errorf("token = %d, want 0", o.LatestToken())
	}
	if p.CallCount() != 0 {
		t.Errorf("search calls = %d, want 0", p.CallCount())
	}
	if st := o.State(); !errors.Is(st.Err, ErrValidation) || st.Error == "" {
		t.Errorf("state err = %v (%q), want validation error published", st.Err, st.Error)
	}
}

func TestSubmit_ValidationListsEveryReason(t *testing.T) {
	t.Parallel()
	o := newTestOrchestrator(t, &searchmock.Provider{})

	_, err := o.Submit(context.Background(), crit("   "))
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want *ValidationError", err)
	}
	want := []string{ReasonEmptyQuery, ReasonNoSources}
	if !slices.Equal(verr.Reasons, want) {
		t.Errorf("reasons = %v, want %v", verr.Reasons, want)
	}
}

func TestSubmit_SuccessPublishesAndRecords(t *testing.T) {
	t.Parallel()
	p := &searchmock.Provider{Response: products("a", "b")}
	rec := &fakeRecorder{}
	o := newTestOrchestrator(t, p, WithRecorder(rec), WithActor("user-1"))

	var (
		mu     sync.Mutex
		states []State
	)
	o.Subscribe(func(s State) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, s)
	})

	req, err := o.Submit(context.Background(), crit(" red shoes ", types.SourceAmazon, types.SourceEbay))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	o.Wait()

	if req.Status() != StatusSucceeded {
		t.Errorf("status = %s, want succeeded", req.Status())
	}
	st := o.State()
	if len(st.Products) != 2 || st.Synthesized || st.Warning != WarningNone || st.Loading {
		t.Errorf("state = %+v", st)
	}

	mu.Lock()
	if len(states) != 2 || !states[0].Loading || states[1].Loading {
		t.Errorf("published %d states, want loading then result", len(states))
	}
	mu.Unlock()

	calls := rec.Calls()
	if len(calls) != 1 {
		t.Fatalf("recorder calls = %d, want 1", len(calls))
	}
	if c := calls[0]; c.actor != "user-1" || c.query != "red shoes" || c.count != 2 {
		t.Errorf("recorded %+v", c)
	}
}

func TestSubmit_NoActorSkipsHistory(t *testing.T) {
	t.Parallel()
	rec := &fakeRecorder{}
	o := newTestOrchestrator(t, &searchmock.Provider{Response: products("a")}, WithRecorder(rec))

	if _, err := o.Submit(context.Background(), crit("mug", types.SourceWalmart)); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	o.Wait()
	if n := len(rec.Calls()); n != 0 {
		t.Errorf("recorder calls = %d, want 0", n)
	}
}

func TestSubmit_WireRequest(t *testing.T) {
	t.Parallel()
	p := &searchmock.Provider{Response: products("a")}
	o := newTestOrchestrator(t, p)

	c := crit("tv", types.SourceWalmart, types.SourceAmazon)
	c = criteria.Reduce(c, criteria.SetMinPrice{Price: criteria.Price(100)})
	c = criteria.Reduce(c, criteria.SetMaxPrice{Price: criteria.Price(500)})
	c = criteria.Reduce(c, criteria.SetBrand{Brand: "Acme"})
	if _, err := o.Submit(context.Background(), c); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	o.Wait()

	got, ok := p.LastCall()
	if !ok {
		t.Fatal("no search call")
	}
	if got.Query != "tv" || got.Brand != "Acme" || !got.Fallback || got.Limit != criteria.DefaultLimit {
		t.Errorf("request = %+v", got)
	}
	if got.MinPrice == nil || *got.MinPrice != 100 || got.MaxPrice == nil || *got.MaxPrice != 500 {
		t.Errorf("price bounds = %v/%v", got.MinPrice, got.MaxPrice)
	}
	if want := []types.Source{types.SourceAmazon, types.SourceWalmart}; !slices.Equal(got.Sources, want) {
		t.Errorf("sources = %v, want %v", got.Sources, want)
	}
}

func TestStaleResponseDoesNotMutateState(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	p := &searchmock.Provider{
		SearchFunc: func(_ int, req productsearch.Request) (productsearch.Response, error) {
			if req.Query == "phone" {
				<-release
				return products("old"), nil
			}
			return products("new"), nil
		},
	}
	o := newTestOrchestrator(t, p)

	var (
		mu   sync.Mutex
		seen []string
	)
	o.Subscribe(func(s State) {
		mu.Lock()
		defer mu.Unlock()
		for _, prod := range s.Products {
			seen = append(seen, prod.ID)
		}
	})

	ctx := context.Background()
	first, err := o.Submit(ctx, crit("phone", types.SourceAmazon))
	if err != nil {
		t.Fatalf("Submit first: %v", err)
	}
	second, err := o.Submit(ctx, crit("phone case", types.SourceAmazon))
	if err != nil {
		t.Fatalf("Submit second: %v", err)
	}
	if second.Token <= first.Token {
		t.Fatalf("tokens %d then %d, want strictly increasing", first.Token, second.Token)
	}
	<-second.Done()

	// Superseded as soon as the newer token exists, before its own call returns.
	if first.Status() != StatusSuperseded {
		t.Errorf("first status = %s while its call is blocked, want superseded", first.Status())
	}
	select {
	case <-first.Done():
	default:
		t.Error("first request not done after being superseded")
	}

	close(release)
	o.Wait()

	if first.Status() != StatusSuperseded {
		t.Errorf("first status = %s, want superseded", first.Status())
	}
	st := o.State()
	if st.Token != second.Token || len(st.Products) != 1 || st.Products[0].ID != "new" {
		t.Errorf("state = token %d products %+v, want token %d [new]", st.Token, st.Products, second.Token)
	}
	mu.Lock()
	defer mu.Unlock()
	if slices.Contains(seen, "old") {
		t.Errorf("stale products were published: %v", seen)
	}
}

func TestNotify_BeforeFirstRunOnlyRecords(t *testing.T) {
	t.Parallel()
	p := &searchmock.Provider{Response: products("a")}
	o := newTestOrchestrator(t, p)

	o.Notify(crit("laptop", types.SourceEbay))
	time.Sleep(100 * time.Millisecond)
	if p.CallCount() != 0 {
		t.Fatalf("search calls = %d, want 0 before the first run", p.CallCount())
	}
}

func TestNotify_BurstCoalescesIntoOneDispatch(t *testing.T) {
	t.Parallel()
	p := &searchmock.Provider{Response: products("a")}
	o := newTestOrchestrator(t, p)

	store := criteria.NewStore(crit("headphones", types.SourceAmazon))
	unsubscribe := o.Watch(store)
	defer unsubscribe()

	if _, err := o.Submit(context.Background(), store.Current()); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	o.Wait()

	store.Dispatch(
		criteria.ToggleSource{Source: types.SourceEbay},
		criteria.ToggleSource{Source: types.SourceWalmart},
		criteria.ToggleSource{Source: types.SourceEbay},
		criteria.SetQuery{Query: "wireless headphones"},
	)

	waitFor(t, func() bool { return p.CallCount() == 2 })
	time.Sleep(100 * time.Millisecond)
	o.Wait()

	if n := p.CallCount(); n != 2 {
		t.Fatalf("search calls = %d, want 2 (initial + one debounced)", n)
	}
	last, _ := p.LastCall()
	if last.Query != "wireless headphones" {
		t.Errorf("query = %q, want wireless headphones", last.Query)
	}
	if want := []types.Source{types.SourceAmazon, types.SourceWalmart}; !slices.Equal(last.Sources, want) {
		t.Errorf("sources = %v, want %v", last.Sources, want)
	}
}

func TestNotify_NetZeroBurstStillDispatches(t *testing.T) {
	t.Parallel()
	p := &searchmock.Provider{Response: products("a")}
	o := newTestOrchestrator(t, p)

	base := crit("headphones", types.SourceAmazon)
	if _, err := o.Submit(context.Background(), base); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	o.Wait()

	o.Notify(criteria.Reduce(base, criteria.ToggleSource{Source: types.SourceEbay}))
	o.Notify(base)

	waitFor(t, func() bool { return p.CallCount() == 2 })
	time.Sleep(100 * time.Millisecond)
	o.Wait()

	if n := p.CallCount(); n != 2 {
		t.Fatalf("search calls = %d, want 2 (submit + one settled burst)", n)
	}
	last, _ := p.LastCall()
	if want := []types.Source{types.SourceAmazon}; !slices.Equal(last.Sources, want) {
		t.Errorf("sources = %v, want %v", last.Sources, want)
	}
	if o.LatestToken() != 2 {
		t.Errorf("token = %d, want 2", o.LatestToken())
	}
}

func TestValidationErrorWhileInFlightWins(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	p := &searchmock.Provider{
		SearchFunc: func(int, productsearch.Request) (productsearch.Response, error) {
			<-release
			return products("late"), nil
		},
	}
	o := newTestOrchestrator(t, p)

	ctx := context.Background()
	req, err := o.Submit(ctx, crit("phone", types.SourceAmazon))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := o.Submit(ctx, crit("", types.SourceAmazon)); !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
	if req.Status() != StatusCancelled {
		t.Errorf("in-flight status = %s, want cancelled", req.Status())
	}

	close(release)
	o.Wait()

	st := o.State()
	if !errors.Is(st.Err, ErrValidation) || st.Loading {
		t.Errorf("state err = %v loading = %v, want validation error and not loading", st.Err, st.Loading)
	}
	if slices.ContainsFunc(st.Products, func(prod types.Product) bool { return prod.ID == "late" }) {
		t.Errorf("late response replaced the validation error: %+v", st.Products)
	}
	if o.LatestToken() != 1 {
		t.Errorf("token = %d, want 1", o.LatestToken())
	}
}

func TestSubmit_CancelsArmedDebounce(t *testing.T) {
	t.Parallel()
	p := &searchmock.Provider{Response: products("a")}
	o := newTestOrchestrator(t, p, WithDebounce(50*time.Millisecond))

	ctx := context.Background()
	if _, err := o.Submit(ctx, crit("desk", types.SourceAmazon)); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	o.Notify(crit("desk lamp", types.SourceAmazon))
	if _, err := o.Submit(ctx, crit("standing desk", types.SourceAmazon)); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	time.Sleep(150 * time.Millisecond)
	o.Wait()

	if n := p.CallCount(); n != 2 {
		t.Fatalf("search calls = %d, want 2", n)
	}
	// Every run has returned, so reading Calls directly is race-free.
	calls := slices.Clone(p.Calls)
	for _, c := range calls {
		if c.Query == "desk lamp" {
			t.Errorf("debounced criteria were dispatched after Submit: %+v", calls)
		}
	}
	if q := o.State().Criteria.Query; q != "standing desk" {
		t.Errorf("state query = %q, want standing desk", q)
	}
}

func TestEmptyResult_FallbackSynthesizes(t *testing.T) {
	t.Parallel()
	p := &searchmock.Provider{Response: productsearch.Response{}}
	rec := &fakeRecorder{}
	o := newTestOrchestrator(t, p, WithRecorder(rec), WithActor("user-1"))

	req, err := o.Submit(context.Background(), crit("headphones", types.SourceAmazon))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	o.Wait()

	if req.Status() != StatusFailed || !errors.Is(req.Err(), ErrEmptyResult) {
		t.Errorf("request = %s / %v, want failed with ErrEmptyResult", req.Status(), req.Err())
	}
	st := o.State()
	if len(st.Products) != 1 || st.Products[0].Source != types.SourceAmazon {
		t.Fatalf("products = %+v, want one amazon product", st.Products)
	}
	if !st.Synthesized || st.Warning != WarningNoResults {
		t.Errorf("synthesized = %v, warning = %q", st.Synthesized, st.Warning)
	}
	if n := len(rec.Calls()); n != 0 {
		t.Errorf("recorder calls = %d, want 0", n)
	}
}

func TestEmptyResult_ReportPolicy(t *testing.T) {
	t.Parallel()
	o := newTestOrchestrator(t, &searchmock.Provider{}, WithEmptyResultPolicy(PolicyReport))

	req, err := o.Submit(context.Background(), crit("headphones", types.SourceAmazon, types.SourceEbay))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	o.Wait()

	if req.Status() != StatusSucceeded {
		t.Errorf("status = %s, want succeeded", req.Status())
	}
	st := o.State()
	if len(st.Products) != 0 || st.Synthesized || st.Warning != WarningNoResults || st.Err != nil {
		t.Errorf("state = %+v", st)
	}
}

func TestServiceError_SynthesizesWithWarning(t *testing.T) {
	t.Parallel()
	boom := errors.New("502 bad gateway")
	o := newTestOrchestrator(t, &searchmock.Provider{Err: boom})

	req, err := o.Submit(context.Background(), crit("phone", types.SourceAmazon, types.SourceEbay))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	o.Wait()

	if !errors.Is(req.Err(), ErrService) || !errors.Is(req.Err(), boom) {
		t.Errorf("request err = %v, want ErrService wrapping the cause", req.Err())
	}
	st := o.State()
	if st.Warning != WarningServiceUnavailable || !st.Synthesized {
		t.Errorf("warning = %q synthesized = %v", st.Warning, st.Synthesized)
	}
	if len(st.Products) != 2 || st.Products[0].Source != types.SourceAmazon || st.Products[1].Source != types.SourceEbay {
		t.Errorf("products = %+v", st.Products)
	}
}

func TestSetPolicy_IgnoresInvalid(t *testing.T) {
	t.Parallel()
	o := newTestOrchestrator(t, &searchmock.Provider{})
	o.SetPolicy("bogus")
	if o.Policy() != PolicyFallback {
		t.Errorf("policy = %q, want fallback", o.Policy())
	}
	o.SetPolicy(PolicyReport)
	if o.Policy() != PolicyReport {
		t.Errorf("policy = %q, want report", o.Policy())
	}
}

func TestClose_CancelsInFlight(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	p := &searchmock.Provider{
		SearchFunc: func(int, productsearch.Request) (productsearch.Response, error) {
			<-release
			return products("late"), nil
		},
	}
	o := New(p, WithMetrics(testMetrics(t)))

	req, err := o.Submit(context.Background(), crit("chair", types.SourceAmazon))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	closed := make(chan struct{})
	go func() {
		_ = o.Close()
		close(closed)
	}()
	waitFor(t, func() bool {
		_, err := o.Submit(context.Background(), crit("x", types.SourceAmazon))
		return errors.Is(err, ErrClosed)
	})
	close(release)
	<-closed

	if req.Status() != StatusCancelled {
		t.Errorf("status = %s, want cancelled", req.Status())
	}
	if st := o.State(); len(st.Products) != 0 {
		t.Errorf("late products published: %+v", st.Products)
	}
}

func TestDebouncer_RearmReplaces(t *testing.T) {
	t.Parallel()
	d := newDebouncer(20 * time.Millisecond)

	var (
		mu    sync.Mutex
		fired []int
	)
	for i := range 5 {
		d.Arm(func() {
			mu.Lock()
			defer mu.Unlock()
			fired = append(fired, i)
		})
	}
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(fired) != 1 || fired[0] != 4 {
		t.Errorf("fired = %v, want [4]", fired)
	}
	if d.Pending() {
		t.Error("debouncer still pending after firing")
	}
}

func TestDebouncer_Stop(t *testing.T) {
	t.Parallel()
	d := newDebouncer(20 * time.Millisecond)
	ran := make(chan struct{}, 1)
	d.Arm(func() { ran <- struct{}{} })
	if !d.Stop() {
		t.Error("Stop = false, want true with an armed callback")
	}
	select {
	case <-ran:
		t.Error("callback ran after Stop")
	case <-time.After(60 * time.Millisecond):
	}
	if d.Stop() {
		t.Error("second Stop = true, want false")
	}
}
