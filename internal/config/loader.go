package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/shopvox/pkg/types"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr    = ":8765"
	DefaultMaxUploadMB   = 10
	DefaultSearchTimeout = 15 * time.Second
	DefaultDebounce      = 1500 * time.Millisecond
	DefaultMinDuration   = time.Second
	DefaultSampleRate    = 16000
	DefaultLocale        = "en-US"
	DefaultDedupeWindow  = time.Hour
	DefaultMaxPerActor   = 50
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SHOPVOX_"

// LookupFunc resolves an environment variable. [os.LookupEnv] satisfies it.
type LookupFunc func(key string) (string, bool)

// Load reads the YAML configuration file at path, applies SHOPVOX_*
// environment overrides and defaults, and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := parse(f, os.LookupEnv)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. The environment is not consulted.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	return parse(r, nil)
}

func parse(r io.Reader, lookup LookupFunc) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if lookup != nil {
		ApplyEnv(cfg, lookup)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with SHOPVOX_* variables resolved through lookup.
// Credentials only fill provider entries that leave them empty.
func ApplyEnv(cfg *Config, lookup LookupFunc) {
	set := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	set("LISTEN_ADDR", &cfg.Server.ListenAddr)
	set("DEFAULT_ACTOR", &cfg.Server.DefaultActor)
	set("SEARCH_SERVICE_URL", &cfg.Search.ServiceURL)
	set("POSTGRES_DSN", &cfg.History.PostgresDSN)
	set("BADGER_DIR", &cfg.History.BadgerDir)

	if v, ok := lookup(EnvPrefix + "LOG_LEVEL"); ok && v != "" {
		cfg.Server.LogLevel = LogLevel(v)
	}
	if v, ok := lookup(EnvPrefix + "HISTORY_BACKEND"); ok && v != "" {
		cfg.History.Backend = HistoryBackend(v)
	}

	openAIKey, _ := lookup(EnvPrefix + "OPENAI_API_KEY")
	transcribeURL, _ := lookup(EnvPrefix + "TRANSCRIBE_URL")
	for i := range cfg.Transcription.Providers {
		p := &cfg.Transcription.Providers[i]
		switch {
		case p.Name == TranscriberOpenAI && p.APIKey == "":
			p.APIKey = openAIKey
		case p.Name == TranscriberService && p.BaseURL == "":
			p.BaseURL = transcribeURL
		}
	}
}

// ApplyDefaults fills zero-valued fields with their documented defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.MaxUploadMB == 0 {
		cfg.Server.MaxUploadMB = DefaultMaxUploadMB
	}

	if cfg.Search.Timeout == 0 {
		cfg.Search.Timeout = DefaultSearchTimeout
	}
	if cfg.Search.Debounce == 0 {
		cfg.Search.Debounce = DefaultDebounce
	}
	if cfg.Search.EmptyResultPolicy == "" {
		cfg.Search.EmptyResultPolicy = PolicyFallback
	}

	if cfg.Capture.Microphone == "" {
		cfg.Capture.Microphone = MicrophoneNone
	}
	if cfg.Capture.MinDuration == 0 {
		cfg.Capture.MinDuration = DefaultMinDuration
	}
	if cfg.Capture.SampleRate == 0 {
		cfg.Capture.SampleRate = DefaultSampleRate
	}

	if cfg.Voice.Locale == "" {
		cfg.Voice.Locale = DefaultLocale
	}

	if cfg.History.Backend == "" {
		cfg.History.Backend = HistoryMemory
	}
	if cfg.History.DedupeWindow == 0 {
		cfg.History.DedupeWindow = DefaultDedupeWindow
	}
	if cfg.History.MaxPerActor == 0 {
		cfg.History.MaxPerActor = DefaultMaxPerActor
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}
	if cfg.Server.MaxUploadMB < 0 {
		errs = append(errs, fmt.Errorf("server.max_upload_mb %d must not be negative", cfg.Server.MaxUploadMB))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Search
	if cfg.Search.ServiceURL == "" {
		errs = append(errs, errors.New("search.service_url is required"))
	} else if err := checkURL(cfg.Search.ServiceURL); err != nil {
		errs = append(errs, fmt.Errorf("search.service_url: %w", err))
	}
	if cfg.Search.Timeout < 0 {
		errs = append(errs, fmt.Errorf("search.timeout %s must not be negative", cfg.Search.Timeout))
	}
	if cfg.Search.Debounce < 0 {
		errs = append(errs, fmt.Errorf("search.debounce %s must not be negative", cfg.Search.Debounce))
	}
	if !cfg.Search.EmptyResultPolicy.IsValid() {
		errs = append(errs, fmt.Errorf("search.empty_result_policy %q is invalid; valid values: fallback, report", cfg.Search.EmptyResultPolicy))
	}
	errs = append(errs, validateBreaker("search.breaker", cfg.Search.Breaker)...)

	// Capture
	if !cfg.Capture.Microphone.IsValid() {
		errs = append(errs, fmt.Errorf("capture.microphone %q is invalid; valid values: portaudio, none", cfg.Capture.Microphone))
	}
	if cfg.Capture.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("capture.sample_rate %d must be positive", cfg.Capture.SampleRate))
	}
	if cfg.Capture.FramesPerBuffer < 0 {
		errs = append(errs, fmt.Errorf("capture.frames_per_buffer %d must not be negative", cfg.Capture.FramesPerBuffer))
	}

	// Transcription
	if len(cfg.Transcription.Providers) == 0 {
		slog.Warn("no transcription.providers configured; recordings and uploads will be rejected")
	}
	for i, p := range cfg.Transcription.Providers {
		prefix := fmt.Sprintf("transcription.providers[%d]", i)
		switch p.Name {
		case "":
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		case TranscriberService:
			if p.BaseURL == "" {
				errs = append(errs, fmt.Errorf("%s.base_url is required for the service transcriber", prefix))
			} else if err := checkURL(p.BaseURL); err != nil {
				errs = append(errs, fmt.Errorf("%s.base_url: %w", prefix, err))
			}
		case TranscriberOpenAI:
			if p.APIKey == "" {
				errs = append(errs, fmt.Errorf("%s.api_key is required for the openai transcriber (or set %sOPENAI_API_KEY)", prefix, EnvPrefix))
			}
		case TranscriberWhisper:
			if p.Model == "" {
				errs = append(errs, fmt.Errorf("%s.model must point at a ggml model file for the whisper transcriber", prefix))
			}
		case TranscriberMock:
		default:
			slog.Warn("unknown transcriber name, may be a typo or third-party provider", "name", p.Name)
		}
		if p.Timeout < 0 {
			errs = append(errs, fmt.Errorf("%s.timeout %s must not be negative", prefix, p.Timeout))
		}
	}
	errs = append(errs, validateBreaker("transcription.breaker", cfg.Transcription.Breaker)...)

	// Voice
	for i, name := range cfg.Voice.DefaultSources {
		if _, ok := types.ParseSource(name); !ok {
			errs = append(errs, fmt.Errorf("voice.default_sources[%d] %q is not a known source; valid values: %v", i, name, types.Catalog))
		}
	}

	// History
	switch cfg.History.Backend {
	case HistoryPostgres:
		if cfg.History.PostgresDSN == "" {
			errs = append(errs, errors.New("history.postgres_dsn is required for the postgres backend"))
		}
	case HistoryBadger:
		if cfg.History.BadgerDir == "" {
			errs = append(errs, errors.New("history.badger_dir is required for the badger backend"))
		}
	case HistoryMemory, HistoryDisabled:
	default:
		errs = append(errs, fmt.Errorf("history.backend %q is invalid; valid values: memory, postgres, badger, disabled", cfg.History.Backend))
	}
	if cfg.History.MaxPerActor < 0 {
		errs = append(errs, fmt.Errorf("history.max_per_actor %d must not be negative", cfg.History.MaxPerActor))
	}

	// MCP
	if cfg.MCP.Stdio && cfg.MCP.HTTP {
		slog.Warn("mcp: both stdio and http transports are enabled")
	}

	return errors.Join(errs...)
}

func validateBreaker(prefix string, b BreakerConfig) []error {
	var errs []error
	if b.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("%s.max_failures %d must not be negative", prefix, b.MaxFailures))
	}
	if b.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("%s.reset_timeout %s must not be negative", prefix, b.ResetTimeout))
	}
	if b.HalfOpenMax < 0 {
		errs = append(errs, fmt.Errorf("%s.half_open_max %d must not be negative", prefix, b.HalfOpenMax))
	}
	return errs
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if !slices.Contains([]string{"http", "https"}, u.Scheme) || u.Host == "" {
		return fmt.Errorf("%q must be an absolute http(s) URL", raw)
	}
	return nil
}

// Sources parses the configured default sources, skipping unknown names.
func (v VoiceConfig) Sources() []types.Source {
	out := make([]types.Source, 0, len(v.DefaultSources))
	for _, name := range v.DefaultSources {
		if src, ok := types.ParseSource(name); ok {
			out = append(out, src)
		}
	}
	return types.SortSources(out)
}
