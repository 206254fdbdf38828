package voice_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/shopvox/internal/observe"
	"github.com/MrWong99/shopvox/internal/search"
	"github.com/MrWong99/shopvox/internal/voice"
	"github.com/MrWong99/shopvox/pkg/capture"
	capturemock "github.com/MrWong99/shopvox/pkg/capture/mock"
	"github.com/MrWong99/shopvox/pkg/criteria"
	"github.com/MrWong99/shopvox/pkg/provider/productsearch"
	searchmock "github.com/MrWong99/shopvox/pkg/provider/productsearch/mock"
	"github.com/MrWong99/shopvox/pkg/provider/transcribe"
	transcribemock "github.com/MrWong99/shopvox/pkg/provider/transcribe/mock"
	"github.com/MrWong99/shopvox/pkg/types"
)

type eventLog struct {
	mu     sync.Mutex
	events []voice.Event
}

func (l *eventLog) add(ev voice.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) all() []voice.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.events)
}

type fixture struct {
	transcriber *transcribemock.Provider
	search      *searchmock.Provider
	store       *criteria.Store
	orch        *search.Orchestrator
	pipeline    *voice.Pipeline
	events      *eventLog
}

func newFixture(t *testing.T, text string, opts ...voice.Option) *fixture {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	f := &fixture{
		transcriber: &transcribemock.Provider{Transcript: transcribe.Transcript{Text: text, Language: "en"}},
		search: &searchmock.Provider{Response: productsearch.Response{
			Products:     []types.Product{{ID: "p1", Title: "Headphones", Price: 79, Source: types.SourceAmazon}},
			TotalResults: 1,
		}},
		store:  criteria.NewStore(criteria.Default()),
		events: &eventLog{},
	}
	f.orch = search.New(f.search, search.WithMetrics(m), search.WithDebounce(20*time.Millisecond))
	t.Cleanup(func() { _ = f.orch.Close() })

	opts = append([]voice.Option{voice.WithMetrics(m)}, opts...)
	f.pipeline = voice.New(f.transcriber, f.store, f.orch, opts...)
	f.pipeline.Subscribe(f.events.add)
	return f
}

func wav() transcribe.Audio {
	return transcribe.Audio{Data: []byte("RIFF....WAVE"), MIMEType: "audio/wav"}
}

func TestPipeline_HandleSubmitsParsedIntent(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "Show me headphones under $100", voice.WithDefaultSources(types.SourceWalmart, types.SourceAmazon))

	res, err := f.pipeline.Handle(context.Background(), wav())
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if res.Intent.Query != "headphones" {
		t.Errorf("Intent.Query = %q, want headphones", res.Intent.Query)
	}
	if res.Request == nil {
		t.Fatal("Request is nil")
	}

	select {
	case <-res.Request.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("search did not finish")
	}
	if got := res.Request.Status(); got != search.StatusSucceeded {
		t.Errorf("status = %s, want succeeded", got)
	}

	req, ok := f.search.LastCall()
	if !ok {
		t.Fatal("search provider not called")
	}
	if req.Query != "headphones" {
		t.Errorf("request query = %q", req.Query)
	}
	if req.MaxPrice == nil || *req.MaxPrice != 100 {
		t.Errorf("request max price = %v, want 100", req.MaxPrice)
	}
	if !slices.Equal(req.Sources, []types.Source{types.SourceAmazon, types.SourceWalmart}) {
		t.Errorf("request sources = %v", req.Sources)
	}

	cur := f.store.Current()
	if cur.Query() != "headphones" || len(cur.Sources()) != 2 {
		t.Errorf("store = %q %v", cur.Query(), cur.Sources())
	}
	if calls := f.transcriber.Calls; len(calls) != 1 || calls[0].Locale != transcribe.DefaultLocale {
		t.Errorf("transcriber calls = %+v, want one with default locale", calls)
	}

	evs := f.events.all()
	if len(evs) != 1 {
		t.Fatalf("events = %d, want 1", len(evs))
	}
	ev := evs[0]
	if ev.Kind != voice.EventTranscript || ev.Token != res.Request.Token || ev.Query != "headphones" || ev.Criteria == nil {
		t.Errorf("event = %+v", ev)
	}
}

func TestPipeline_KeepsSelectedSources(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "find a desk lamp", voice.WithDefaultSources(types.SourceAmazon))
	f.store.Dispatch(criteria.ToggleSource{Source: types.SourceEbay})

	if _, err := f.pipeline.Handle(context.Background(), wav()); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if got := f.store.Current().Sources(); !slices.Equal(got, []types.Source{types.SourceEbay}) {
		t.Errorf("sources = %v, want [ebay]", got)
	}
}

func TestPipeline_NoSourcesFailsValidation(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "find a desk lamp")

	_, err := f.pipeline.Handle(context.Background(), wav())
	if !errors.Is(err, search.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
	if f.search.CallCount() != 0 {
		t.Errorf("search calls = %d, want 0", f.search.CallCount())
	}
	evs := f.events.all()
	if len(evs) != 1 || evs[0].Error == "" {
		t.Errorf("events = %+v, want one carrying the error", evs)
	}
}

func TestPipeline_TranscribeError(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "")
	boom := errors.New("boom")
	f.transcriber.Err = boom

	_, err := f.pipeline.Handle(context.Background(), wav())
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	evs := f.events.all()
	if len(evs) != 1 || evs[0].Kind != voice.EventTranscribeError || evs[0].Error != "boom" {
		t.Errorf("events = %+v", evs)
	}
	if f.search.CallCount() != 0 {
		t.Error("search should not run")
	}
}

func TestPipeline_NoQuery(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "...", voice.WithDefaultSources(types.SourceAmazon))

	_, err := f.pipeline.Handle(context.Background(), wav())
	if !errors.Is(err, voice.ErrNoQuery) {
		t.Fatalf("err = %v, want ErrNoQuery", err)
	}
	if got := f.orch.LatestToken(); got != 0 {
		t.Errorf("token = %d, want 0", got)
	}
	if got := f.store.Current().Sources(); len(got) != 0 {
		t.Errorf("store mutated: sources = %v", got)
	}
}

func TestPipeline_PriceOnlyKeepsQuery(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "under 50 bucks", voice.WithDefaultSources(types.SourceAmazon))
	f.store.Dispatch(criteria.SetQuery{Query: "coffee maker"})

	res, err := f.pipeline.Handle(context.Background(), wav())
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if res.Criteria.Query() != "coffee maker" {
		t.Errorf("query = %q, want coffee maker", res.Criteria.Query())
	}
	if v, ok := res.Criteria.MaxPrice(); !ok || v != 50 {
		t.Errorf("max price = %v %v, want 50", v, ok)
	}
}

func TestPipeline_CategoryInference(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "show me noise cancelling headphones",
		voice.WithDefaultSources(types.SourceAmazon), voice.WithCategoryInference(true))

	res, err := f.pipeline.Handle(context.Background(), wav())
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if got := res.Criteria.Category(); got != "headphones" {
		t.Errorf("category = %q, want headphones", got)
	}
}

func TestPipeline_CategoryInferenceClearsStaleCategory(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "xylophone mallets",
		voice.WithDefaultSources(types.SourceAmazon), voice.WithCategoryInference(true))
	f.store.Dispatch(criteria.SetCategory{Category: "headphones"})

	res, err := f.pipeline.Handle(context.Background(), wav())
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if got := res.Criteria.Category(); got != "" {
		t.Errorf("category = %q, want it cleared when nothing is inferred", got)
	}
	if got := res.Criteria.Query(); got != "xylophone mallets" {
		t.Errorf("query = %q", got)
	}
}

func TestPipeline_Supports(t *testing.T) {
	t.Parallel()

	p := voice.New(&transcribemock.Provider{}, criteria.NewStore(criteria.Default()), nil)
	if !p.Supports("audio/wav") {
		t.Error("audio/wav should be supported")
	}
	if p.Supports("text/plain") {
		t.Error("text/plain should not be supported")
	}
}

func TestPipeline_ConsumeFromCapture(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "find wireless earbuds", voice.WithDefaultSources(types.SourceEbay))
	got := make(chan transcribe.Audio, 1)
	f.transcriber.TranscribeFunc = func(_ context.Context, a transcribe.Audio) (transcribe.Transcript, error) {
		got <- a
		return transcribe.Transcript{Text: "find wireless earbuds"}, nil
	}

	mic := &capturemock.Microphone{Frames: [][]int16{make([]int16, 16000)}}
	ctl := capture.New(mic, capture.WithConsumer(f.pipeline), capture.WithMinDuration(0))
	t.Cleanup(func() { _ = ctl.Close() })

	if err := ctl.RequestStart(context.Background()); err != nil {
		t.Fatalf("RequestStart: %v", err)
	}
	if _, err := ctl.RequestStop(context.Background()); err != nil {
		t.Fatalf("RequestStop: %v", err)
	}

	select {
	case a := <-got:
		if a.MIMEType != capture.MIMEWAV {
			t.Errorf("MIMEType = %q, want %q", a.MIMEType, capture.MIMEWAV)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("recording never reached the transcriber")
	}

	deadline := time.Now().Add(2 * time.Second)
	for f.search.CallCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("search never ran")
		}
		time.Sleep(5 * time.Millisecond)
	}
	req, _ := f.search.LastCall()
	if req.Query != "wireless earbuds" {
		t.Errorf("query = %q", req.Query)
	}
}

func TestCaptureMetrics_ChainsObserver(t *testing.T) {
	t.Parallel()

	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	var seen []capture.State
	obs := voice.CaptureMetrics(m, func(s capture.Snapshot) { seen = append(seen, s.State) })
	for _, st := range []capture.State{capture.StateRecording, capture.StateCompleted, capture.StateCancelled, capture.StateError} {
		obs(capture.Snapshot{State: st, ElapsedSeconds: 2})
	}
	if len(seen) != 4 {
		t.Errorf("chained observer saw %d snapshots, want 4", len(seen))
	}

	// A nil next is allowed.
	voice.CaptureMetrics(m, nil)(capture.Snapshot{State: capture.StateCompleted})
}
