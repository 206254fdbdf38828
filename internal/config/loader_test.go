package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/shopvox/internal/config"
	"github.com/MrWong99/shopvox/pkg/types"
)

const minimalYAML = `
search:
  service_url: http://localhost:8001
`

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(minimalYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	checks := []struct {
		name      string
		got, want any
	}{
		{"listen_addr", cfg.Server.ListenAddr, config.DefaultListenAddr},
		{"log_level", cfg.Server.LogLevel, config.LogInfo},
		{"max_upload_mb", cfg.Server.MaxUploadMB, config.DefaultMaxUploadMB},
		{"search.timeout", cfg.Search.Timeout, config.DefaultSearchTimeout},
		{"search.debounce", cfg.Search.Debounce, 1500 * time.Millisecond},
		{"search.empty_result_policy", cfg.Search.EmptyResultPolicy, config.PolicyFallback},
		{"capture.microphone", cfg.Capture.Microphone, config.MicrophoneNone},
		{"capture.min_duration", cfg.Capture.MinDuration, time.Second},
		{"capture.sample_rate", cfg.Capture.SampleRate, 16000},
		{"voice.locale", cfg.Voice.Locale, "en-US"},
		{"history.backend", cfg.History.Backend, config.HistoryMemory},
		{"history.dedupe_window", cfg.History.DedupeWindow, time.Hour},
		{"history.max_per_actor", cfg.History.MaxPerActor, 50},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s: got %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestLoadFromReader_FullConfig(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  listen_addr: "127.0.0.1:9000"
  log_level: debug
  allowed_origins: ["localhost:3000"]
  max_upload_mb: 4
  metrics_endpoint: true
search:
  service_url: https://search.example.com
  timeout: 5s
  debounce: 250ms
  empty_result_policy: report
  breaker:
    max_failures: 3
    reset_timeout: 10s
capture:
  microphone: portaudio
  min_duration: 500ms
transcription:
  providers:
    - name: service
      base_url: http://localhost:8002
    - name: openai
      api_key: sk-test
      model: whisper-1
voice:
  infer_category: true
  default_sources: [walmart, amazon]
history:
  backend: badger
  badger_dir: /var/lib/shopvox
mcp:
  http: true
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Search.Breaker.MaxFailures != 3 || cfg.Search.Breaker.ResetTimeout != 10*time.Second {
		t.Errorf("breaker = %+v", cfg.Search.Breaker)
	}
	if cfg.Search.Debounce != 250*time.Millisecond {
		t.Errorf("debounce = %s", cfg.Search.Debounce)
	}
	if len(cfg.Transcription.Providers) != 2 || cfg.Transcription.Providers[1].Name != config.TranscriberOpenAI {
		t.Errorf("providers = %+v", cfg.Transcription.Providers)
	}
	if got := cfg.Voice.Sources(); len(got) != 2 || got[0] != types.SourceAmazon || got[1] != types.SourceWalmart {
		t.Errorf("Voice.Sources() = %v, want [amazon walmart]", got)
	}
	if !cfg.MCP.HTTP || cfg.MCP.Stdio {
		t.Errorf("mcp = %+v", cfg.MCP)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(minimalYAML + "unknown: 1\n"))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestLoadFromReader_EmptyInputNeedsServiceURL(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(""))
	if err == nil || !strings.Contains(err.Error(), "search.service_url is required") {
		t.Errorf("err = %v, want missing service_url", err)
	}
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
search:
  service_url: localhost:8001
  empty_result_policy: hide
capture:
  microphone: alsa
transcription:
  providers:
    - name: service
    - name: openai
    - name: whisper
voice:
  default_sources: [etsy]
history:
  backend: postgres
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	for _, want := range []string{
		"server.log_level",
		"search.service_url",
		"search.empty_result_policy",
		"capture.microphone",
		"providers[0].base_url",
		"providers[1].api_key",
		"providers[2].model",
		"voice.default_sources[0]",
		"history.postgres_dsn",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %q, got: %v", want, err)
		}
	}
}

func TestValidate_Negatives(t *testing.T) {
	t.Parallel()
	yaml := minimalYAML + `  debounce: -1s
  breaker:
    max_failures: -2
history:
  max_per_actor: -1
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	for _, want := range []string{"search.debounce", "search.breaker.max_failures", "history.max_per_actor"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %q, got: %v", want, err)
		}
	}
}

func TestValidate_TLSNeedsBothFiles(t *testing.T) {
	t.Parallel()
	yaml := minimalYAML + `server:
  tls:
    cert_file: cert.pem
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil || !strings.Contains(err.Error(), "server.tls") {
		t.Errorf("err = %v, want tls error", err)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Transcription: config.TranscriptionConfig{Providers: []config.TranscriberEntry{
			{Name: config.TranscriberOpenAI},
			{Name: config.TranscriberOpenAI, APIKey: "explicit"},
			{Name: config.TranscriberService},
		}},
	}
	env := map[string]string{
		"SHOPVOX_LISTEN_ADDR":        ":7000",
		"SHOPVOX_LOG_LEVEL":          "warn",
		"SHOPVOX_SEARCH_SERVICE_URL": "http://search:8001",
		"SHOPVOX_HISTORY_BACKEND":    "postgres",
		"SHOPVOX_POSTGRES_DSN":       "postgres://db/shopvox",
		"SHOPVOX_OPENAI_API_KEY":     "sk-env",
		"SHOPVOX_TRANSCRIBE_URL":     "http://stt:8002",
	}
	config.ApplyEnv(cfg, func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})

	if cfg.Server.ListenAddr != ":7000" || cfg.Server.LogLevel != config.LogWarn {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Search.ServiceURL != "http://search:8001" {
		t.Errorf("service_url = %q", cfg.Search.ServiceURL)
	}
	if cfg.History.Backend != config.HistoryPostgres || cfg.History.PostgresDSN != "postgres://db/shopvox" {
		t.Errorf("history = %+v", cfg.History)
	}
	p := cfg.Transcription.Providers
	if p[0].APIKey != "sk-env" {
		t.Errorf("providers[0].api_key = %q, want sk-env", p[0].APIKey)
	}
	if p[1].APIKey != "explicit" {
		t.Errorf("providers[1].api_key = %q, want explicit value kept", p[1].APIKey)
	}
	if p[2].BaseURL != "http://stt:8002" {
		t.Errorf("providers[2].base_url = %q", p[2].BaseURL)
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "shopvox.yaml")
	if err := os.WriteFile(path, []byte(minimalYAML), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Search.ServiceURL == "" {
		t.Error("service_url is empty after Load")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestEnumValidity(t *testing.T) {
	t.Parallel()
	if !config.HistoryDisabled.IsValid() || config.HistoryBackend("sqlite").IsValid() {
		t.Error("HistoryBackend.IsValid")
	}
	if !config.TranscriberWhisper.IsValid() || config.TranscriberName("deepgram").IsValid() {
		t.Error("TranscriberName.IsValid")
	}
	if !config.PolicyReport.IsValid() || config.EmptyResultPolicy("").IsValid() {
		t.Error("EmptyResultPolicy.IsValid")
	}
}
