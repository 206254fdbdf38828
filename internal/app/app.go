// Package app wires all shopvox subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the HTTP API (and optionally MCP over stdio), and
// Shutdown tears everything down in order.
//
// For testing, inject mock implementations via [Providers] and functional
// options (WithHistoryStore, WithMetrics, etc.). When an option is not
// provided, New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/shopvox/internal/api"
	"github.com/MrWong99/shopvox/internal/config"
	"github.com/MrWong99/shopvox/internal/health"
	"github.com/MrWong99/shopvox/internal/history"
	"github.com/MrWong99/shopvox/internal/history/badgerstore"
	"github.com/MrWong99/shopvox/internal/history/memstore"
	"github.com/MrWong99/shopvox/internal/history/postgres"
	"github.com/MrWong99/shopvox/internal/mcp"
	"github.com/MrWong99/shopvox/internal/observe"
	"github.com/MrWong99/shopvox/internal/resilience"
	"github.com/MrWong99/shopvox/internal/search"
	"github.com/MrWong99/shopvox/internal/voice"
	"github.com/MrWong99/shopvox/pkg/audio"
	"github.com/MrWong99/shopvox/pkg/capture"
	"github.com/MrWong99/shopvox/pkg/criteria"
	"github.com/MrWong99/shopvox/pkg/provider/productsearch"
	"github.com/MrWong99/shopvox/pkg/provider/transcribe"
)

// serverShutdownTimeout bounds the graceful HTTP drain once Run's context
// is cancelled.
const serverShutdownTimeout = 10 * time.Second

// errStdioClosed ends Run when the MCP stdio client disconnects.
var errStdioClosed = errors.New("app: mcp stdio session closed")

// Providers holds one interface value per provider slot. Nil Transcriber or
// Microphone means the slot is not configured. Populated by main.go via the
// config registry.
type Providers struct {
	// Search is the product search backend. Required.
	Search productsearch.Provider

	// Transcriber turns recordings into text.
	Transcriber transcribe.Provider

	// TranscriberName labels transcription metrics and logs.
	TranscriberName string

	// Microphone enables server-side capture.
	Microphone capture.Microphone
}

// App owns all subsystem lifetimes and serves the shopvox API.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics
	level     *slog.LevelVar

	// Subsystems, initialised in New and torn down in Shutdown.
	store    *criteria.Store
	breaker  *resilience.SearchBreaker
	orch     *search.Orchestrator
	history  history.Store
	service  *history.Service
	recorder *history.Recorder
	hub      *api.Hub
	pipeline *voice.Pipeline
	capture  *capture.Controller
	mcp      *mcp.Server
	api      *api.Server
	handler  http.Handler

	mu   sync.Mutex
	addr net.Addr

	// closers are called in order during Shutdown.
	closers []func(ctx context.Context) error

	// closeHistory runs after every closer that may still write history.
	closeHistory func(ctx context.Context) error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithHistoryStore injects a history store instead of creating one from
// config. The app does not close injected stores.
func WithHistoryStore(s history.Store) Option {
	return func(a *App) { a.history = s }
}

// WithMetrics sets the metrics instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel hands the app the level variable behind the process logger
// so that hot reloads can change verbosity.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// New creates a new App by wiring all subsystems together. Subsystems that
// were not injected via options are created from cfg.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Search == nil {
		return nil, errors.New("app: a search provider is required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initHistory(ctx); err != nil {
		return nil, fmt.Errorf("app: init history: %w", err)
	}
	a.initSearch()
	a.initVoice()
	a.initAPI()
	if a.closeHistory != nil {
		a.closers = append(a.closers, a.closeHistory)
	}

	slog.Info("app initialised",
		"history", a.cfg.History.Backend,
		"transcriber", providers.TranscriberName,
		"capture", a.capture != nil,
		"mcp_http", a.cfg.MCP.HTTP,
		"mcp_stdio", a.cfg.MCP.Stdio,
	)
	return a, nil
}

func (a *App) initHistory(ctx context.Context) error {
	if a.cfg.History.Backend == config.HistoryDisabled && a.history == nil {
		return nil
	}
	if a.history == nil {
		store, err := openHistory(ctx, a.cfg.History)
		if err != nil {
			return err
		}
		a.history = store
		a.closeHistory = func(context.Context) error { return store.Close() }
	}

	window := a.cfg.History.DedupeWindow
	if window < 0 {
		window = 0
	}
	a.service = history.NewService(a.history, history.WithPolicy(history.Policy{
		DedupeWindow: window,
		MaxPerActor:  a.cfg.History.MaxPerActor,
	}))
	a.recorder = history.NewRecorder(a.service, history.WithRecorderMetrics(a.metrics))
	return nil
}

func openHistory(ctx context.Context, cfg config.HistoryConfig) (history.Store, error) {
	switch cfg.Backend {
	case config.HistoryPostgres:
		return postgres.NewStore(ctx, cfg.PostgresDSN)
	case config.HistoryBadger:
		return badgerstore.Open(cfg.BadgerDir)
	default:
		return memstore.New(), nil
	}
}

func (a *App) initSearch() {
	b := a.cfg.Search.Breaker
	a.breaker = resilience.NewSearchBreaker(a.providers.Search, resilience.CircuitBreakerConfig{
		Name:         "search",
		MaxFailures:  b.MaxFailures,
		ResetTimeout: b.ResetTimeout,
		HalfOpenMax:  b.HalfOpenMax,
		OnStateChange: func(name string, from, to resilience.State) {
			slog.Warn("circuit breaker state change", "name", name, "from", from, "to", to)
		},
	})

	a.store = criteria.NewStore(criteria.Default())
	opts := []search.Option{
		search.WithDebounce(a.cfg.Search.Debounce),
		search.WithEmptyResultPolicy(search.EmptyResultPolicy(a.cfg.Search.EmptyResultPolicy)),
		search.WithRequestTimeout(a.cfg.Search.Timeout),
		search.WithActor(a.cfg.Server.DefaultActor),
		search.WithMetrics(a.metrics),
	}
	if a.recorder != nil {
		opts = append(opts, search.WithRecorder(a.recorder))
	}
	a.orch = search.New(a.breaker, opts...)
	unsubscribe := a.orch.Watch(a.store)

	a.closers = append(a.closers, func(context.Context) error {
		unsubscribe()
		return a.orch.Close()
	})
	if a.recorder != nil {
		a.closers = append(a.closers, a.recorder.Close)
	}
}

func (a *App) initVoice() {
	a.hub = api.NewHub(
		api.WithOriginPatterns(a.cfg.Server.AllowedOrigins...),
		api.WithHubMetrics(a.metrics),
	)

	if a.providers.Transcriber != nil {
		opts := []voice.Option{
			voice.WithLocale(a.cfg.Voice.Locale),
			voice.WithCategoryInference(a.cfg.Voice.InferCategory),
			voice.WithTranscriberName(a.providers.TranscriberName),
			voice.WithMetrics(a.metrics),
		}
		if sources := a.cfg.Voice.Sources(); len(sources) > 0 {
			opts = append(opts, voice.WithDefaultSources(sources...))
		}
		a.pipeline = voice.New(a.providers.Transcriber, a.store, a.orch, opts...)
		if c, ok := a.providers.Transcriber.(io.Closer); ok {
			a.closers = append(a.closers, func(context.Context) error { return c.Close() })
		}
	}

	if a.providers.Microphone == nil {
		return
	}
	minDuration := a.cfg.Capture.MinDuration
	if minDuration < 0 {
		minDuration = 0
	}
	opts := []capture.Option{
		capture.WithFormat(audio.Format{SampleRate: a.cfg.Capture.SampleRate, Channels: 1}),
		capture.WithMinDuration(minDuration),
		capture.WithObserver(voice.CaptureMetrics(a.metrics, a.hub.RecordingObserver())),
	}
	if a.pipeline != nil {
		opts = append(opts, capture.WithConsumer(a.pipeline))
	}
	a.capture = capture.New(a.providers.Microphone, opts...)
	a.closers = append(a.closers, func(context.Context) error { return a.capture.Close() })
	if c, ok := a.providers.Microphone.(io.Closer); ok {
		a.closers = append(a.closers, func(context.Context) error { return c.Close() })
	}
}

func (a *App) initAPI() {
	checks := []health.Checker{health.BreakerChecker("search", a.breaker.State)}
	if a.history != nil {
		checks = append(checks, health.PingChecker("history", a.history))
	}

	opts := []api.Option{
		api.WithHub(a.hub),
		api.WithHealth(health.New(checks...)),
		api.WithMaxUploadBytes(int64(a.cfg.Server.MaxUploadMB) << 20),
		api.WithDefaultActor(a.cfg.Server.DefaultActor),
		api.WithServerMetrics(a.metrics),
		api.WithMetricsEndpoint(a.cfg.Server.MetricsEndpoint),
	}
	if a.capture != nil {
		opts = append(opts, api.WithCapture(a.capture))
	}
	if a.pipeline != nil {
		opts = append(opts, api.WithVoice(a.pipeline))
	}
	if a.service != nil {
		opts = append(opts, api.WithHistory(a.service))
	}

	if a.cfg.MCP.HTTP || a.cfg.MCP.Stdio {
		mcpOpts := []mcp.Option{mcp.WithDefaultActor(a.cfg.Server.DefaultActor)}
		if a.service != nil {
			mcpOpts = append(mcpOpts, mcp.WithHistory(a.service))
		}
		a.mcp = mcp.New(a.store, a.orch, mcpOpts...)
		if a.cfg.MCP.HTTP {
			opts = append(opts, api.WithMCP(a.mcp.Handler()))
		}
	}

	a.api = api.New(a.store, a.orch, opts...)
	a.handler = a.api.Handler()
	// The hub goes first so WebSocket clients see the close before the
	// orchestrator stops publishing.
	a.closers = append([]func(context.Context) error{func(context.Context) error {
		a.api.Close()
		return nil
	}}, a.closers...)
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Orchestrator returns the search orchestrator.
func (a *App) Orchestrator() *search.Orchestrator { return a.orch }

// Addr returns the address Run is listening on, or nil before it listens.
func (a *App) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addr
}

// Run serves the HTTP API until ctx is cancelled. With MCP stdio enabled it
// also serves the tools on stdin/stdout and returns when that session ends.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen %q: %w", a.cfg.Server.ListenAddr, err)
	}
	a.mu.Lock()
	a.addr = ln.Addr()
	a.mu.Unlock()

	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			slog.Info("https server listening", "addr", ln.Addr().String())
			err = srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			slog.Info("http server listening", "addr", ln.Addr().String())
			err = srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), serverShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http server shutdown error", "err", err)
		}
		return nil
	})
	if a.cfg.MCP.Stdio && a.mcp != nil {
		g.Go(func() error {
			slog.Info("mcp stdio transport started")
			if err := a.mcp.RunStdio(gctx); err != nil && gctx.Err() == nil {
				return fmt.Errorf("app: mcp stdio: %w", err)
			}
			return errStdioClosed
		})
	}

	err = g.Wait()
	if errors.Is(err, errStdioClosed) {
		return nil
	}
	return err
}

// ApplyConfig applies the hot-reloadable fields of a config change. Other
// changes need a restart and are only logged by the watcher.
func (a *App) ApplyConfig(d config.ConfigDiff) {
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.SlogLevel())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.DebounceChanged {
		a.orch.SetDebounce(d.NewDebounce)
		slog.Info("search debounce changed", "debounce", d.NewDebounce)
	}
	if d.PolicyChanged {
		a.orch.SetPolicy(search.EmptyResultPolicy(d.NewPolicy))
		slog.Info("empty result policy changed", "policy", d.NewPolicy)
	}
}

// Shutdown gracefully tears down all subsystems in order. It respects the
// context deadline: if ctx expires before all closers finish, the remaining
// closers are skipped and ctx.Err() is returned.
//
// Shutdown is safe to call more than once; only the first call has effect.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		shutdownErr = a.closeAll(ctx)
		if shutdownErr == nil {
			slog.Info("shutdown complete")
		}
	})
	return shutdownErr
}

func (a *App) closeAll(ctx context.Context) error {
	for i, closer := range a.closers {
		select {
		case <-ctx.Done():
			slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
			return ctx.Err()
		default:
		}
		if err := closer(ctx); err != nil {
			slog.Warn("closer error", "index", i, "err", err)
		}
	}
	return nil
}
