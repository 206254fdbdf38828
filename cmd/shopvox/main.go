// Command shopvox is the main entry point for the shopvox voice shopping
// search server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/MrWong99/shopvox/internal/app"
	"github.com/MrWong99/shopvox/internal/config"
	"github.com/MrWong99/shopvox/internal/mcp"
	"github.com/MrWong99/shopvox/internal/observe"
	"github.com/MrWong99/shopvox/internal/resilience"
	"github.com/MrWong99/shopvox/pkg/capture"
	"github.com/MrWong99/shopvox/pkg/capture/portaudio"
	searchservice "github.com/MrWong99/shopvox/pkg/provider/productsearch/service"
	"github.com/MrWong99/shopvox/pkg/provider/transcribe"
	transcribemock "github.com/MrWong99/shopvox/pkg/provider/transcribe/mock"
	oatranscribe "github.com/MrWong99/shopvox/pkg/provider/transcribe/openai"
	transcribeservice "github.com/MrWong99/shopvox/pkg/provider/transcribe/service"
	"github.com/MrWong99/shopvox/pkg/provider/transcribe/whisper"
)

// demoTranscript is what the mock transcriber hears in every recording.
const demoTranscript = "wireless headphones under $100"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	envFile := flag.String("env", ".env", "optional dotenv file with SHOPVOX_* overrides")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "shopvox: load %s: %v\n", *envFile, err)
		return 1
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "shopvox: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "shopvox: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.SlogLevel())
	slog.SetDefault(newLogger(level))

	slog.Info("shopvox starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "shopvox",
		ServiceVersion: mcp.Version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg, providers)

	application, err := app.New(ctx, cfg, providers, app.WithLogLevel(level))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Hot reload ────────────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(_, _ *config.Config, d config.ConfigDiff) {
		application.ApplyConfig(d)
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
		go reloadOnHangup(ctx, watcher)
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterTranscriber(config.TranscriberService, func(entry config.TranscriberEntry) (transcribe.Provider, error) {
		var opts []transcribeservice.Option
		if entry.Timeout > 0 {
			opts = append(opts, transcribeservice.WithTimeout(entry.Timeout))
		}
		if entry.APIKey != "" {
			opts = append(opts, transcribeservice.WithAPIKey(entry.APIKey))
		}
		return transcribeservice.New(entry.BaseURL, opts...)
	})

	reg.RegisterTranscriber(config.TranscriberOpenAI, func(entry config.TranscriberEntry) (transcribe.Provider, error) {
		var opts []oatranscribe.Option
		if entry.BaseURL != "" {
			opts = append(opts, oatranscribe.WithBaseURL(entry.BaseURL))
		}
		if entry.Timeout > 0 {
			opts = append(opts, oatranscribe.WithTimeout(entry.Timeout))
		}
		return oatranscribe.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterTranscriber(config.TranscriberWhisper, func(entry config.TranscriberEntry) (transcribe.Provider, error) {
		var opts []whisper.Option
		if entry.Language != "" {
			opts = append(opts, whisper.WithLanguage(entry.Language))
		}
		return whisper.New(entry.Model, opts...)
	})

	// For demos without a speech backend.
	reg.RegisterTranscriber(config.TranscriberMock, func(entry config.TranscriberEntry) (transcribe.Provider, error) {
		lang := entry.Language
		if lang == "" {
			lang = config.DefaultLocale
		}
		return &transcribemock.Provider{Transcript: transcribe.Transcript{Text: demoTranscript, Language: lang}}, nil
	})

	reg.RegisterMicrophone(config.MicrophonePortAudio, func(cfg config.CaptureConfig) (capture.Microphone, error) {
		var opts []portaudio.Option
		if cfg.FramesPerBuffer > 0 {
			opts = append(opts, portaudio.WithFramesPerBuffer(cfg.FramesPerBuffer))
		}
		return portaudio.New(opts...)
	})

	for _, name := range reg.Transcribers() {
		slog.Debug("registered provider", "kind", "transcriber", "name", name)
	}
}

func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	search, err := searchservice.New(cfg.Search.ServiceURL, searchservice.WithTimeout(cfg.Search.Timeout))
	if err != nil {
		return nil, fmt.Errorf("search provider: %w", err)
	}
	ps := &app.Providers{Search: search}

	t, name, err := buildTranscriber(cfg.Transcription, reg)
	if err != nil {
		return nil, err
	}
	ps.Transcriber, ps.TranscriberName = t, name

	if cfg.Capture.Microphone != config.MicrophoneNone {
		mic, err := reg.CreateMicrophone(cfg.Capture)
		if err != nil {
			return nil, fmt.Errorf("microphone %q: %w", cfg.Capture.Microphone, err)
		}
		ps.Microphone = mic
	}
	return ps, nil
}

// buildTranscriber creates every configured transcriber and chains them
// behind per-provider circuit breakers, first entry preferred.
func buildTranscriber(tc config.TranscriptionConfig, reg *config.Registry) (transcribe.Provider, string, error) {
	if len(tc.Providers) == 0 {
		return nil, "", nil
	}

	var (
		chain   *resilience.TranscribeFallback
		closers []io.Closer
		names   []string
	)
	for i, entry := range tc.Providers {
		p, err := reg.CreateTranscriber(entry)
		if err != nil {
			for _, c := range closers {
				_ = c.Close()
			}
			return nil, "", fmt.Errorf("transcriber %q (index %d): %w", entry.Name, i, err)
		}
		if c, ok := p.(io.Closer); ok {
			closers = append(closers, c)
		}

		name := string(entry.Name)
		if chain == nil {
			chain = resilience.NewTranscribeFallback(p, name, resilience.FallbackConfig{
				CircuitBreaker: resilience.CircuitBreakerConfig{
					MaxFailures:  tc.Breaker.MaxFailures,
					ResetTimeout: tc.Breaker.ResetTimeout,
					HalfOpenMax:  tc.Breaker.HalfOpenMax,
					OnStateChange: func(name string, from, to resilience.State) {
						slog.Warn("circuit breaker state change", "name", name, "from", from, "to", to)
					},
				},
			})
		} else {
			chain.AddFallback(name, p)
		}
		names = append(names, name)
	}
	return &closingTranscriber{TranscribeFallback: chain, closers: closers}, strings.Join(names, ","), nil
}

// closingTranscriber closes the chained providers that hold resources, such
// as a loaded whisper model.
type closingTranscriber struct {
	*resilience.TranscribeFallback
	closers []io.Closer
}

func (c *closingTranscriber) Close() error {
	var errs []error
	for _, cl := range c.closers {
		errs = append(errs, cl.Close())
	}
	return errors.Join(errs...)
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, ps *app.Providers) {
	fmt.Fprintln(os.Stderr, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(os.Stderr, "║         shopvox · startup summary     ║")
	fmt.Fprintln(os.Stderr, "╠═══════════════════════════════════════╣")
	printRow("Listen addr", cfg.Server.ListenAddr)
	printRow("Search", cfg.Search.ServiceURL)
	printRow("Transcriber", orNone(ps.TranscriberName))
	printRow("Microphone", string(cfg.Capture.Microphone))
	printRow("History", string(cfg.History.Backend))
	printRow("Empty policy", string(cfg.Search.EmptyResultPolicy))
	switch {
	case cfg.MCP.HTTP && cfg.MCP.Stdio:
		printRow("MCP", "http + stdio")
	case cfg.MCP.HTTP:
		printRow("MCP", "http (/mcp)")
	case cfg.MCP.Stdio:
		printRow("MCP", "stdio")
	default:
		printRow("MCP", "(disabled)")
	}
	fmt.Fprintln(os.Stderr, "╚═══════════════════════════════════════╝")
}

func printRow(kind, value string) {
	if len(value) > 19 {
		value = value[:16] + "..."
	}
	fmt.Fprintf(os.Stderr, "║  %-12s    : %-19s ║\n", kind, value)
}

func orNone(s string) string {
	if s == "" {
		return "(not configured)"
	}
	return s
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogger logs to stderr so that stdout stays free for the MCP stdio
// transport.
func newLogger(level *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// reloadOnHangup re-reads the config file on every SIGHUP until ctx ends.
func reloadOnHangup(ctx context.Context, w *config.Watcher) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			slog.Info("SIGHUP received, reloading config")
			w.Reload()
		}
	}
}
