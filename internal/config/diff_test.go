package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/shopvox/internal/config"
)

func baseConfig() *config.Config {
	cfg := &config.Config{
		Search: config.SearchConfig{ServiceURL: "http://localhost:8001"},
		Transcription: config.TranscriptionConfig{Providers: []config.TranscriberEntry{
			{Name: config.TranscriberMock},
		}},
		Voice: config.VoiceConfig{DefaultSources: []string{"amazon"}},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	d := config.Diff(baseConfig(), baseConfig())
	if d.Changed() {
		t.Errorf("Changed() = true for identical configs: %+v", d)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("RestartRequired = %v, want none", d.RestartRequired)
	}
}

func TestDiff_HotFields(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Server.LogLevel = config.LogDebug
	new.Search.Debounce = 200 * time.Millisecond
	new.Search.EmptyResultPolicy = config.PolicyReport

	d := config.Diff(old, new)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("log level diff = %v %q", d.LogLevelChanged, d.NewLogLevel)
	}
	if !d.DebounceChanged || d.NewDebounce != 200*time.Millisecond {
		t.Errorf("debounce diff = %v %s", d.DebounceChanged, d.NewDebounce)
	}
	if !d.PolicyChanged || d.NewPolicy != config.PolicyReport {
		t.Errorf("policy diff = %v %q", d.PolicyChanged, d.NewPolicy)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("hot fields reported as restart-required: %v", d.RestartRequired)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   []string
	}{
		{"listen addr", func(c *config.Config) { c.Server.ListenAddr = ":1" }, []string{"server"}},
		{"origins", func(c *config.Config) { c.Server.AllowedOrigins = []string{"a"} }, []string{"server"}},
		{"tls", func(c *config.Config) { c.Server.TLS = &config.TLSConfig{CertFile: "c", KeyFile: "k"} }, []string{"server"}},
		{"service url", func(c *config.Config) { c.Search.ServiceURL = "http://other" }, []string{"search"}},
		{"microphone", func(c *config.Config) { c.Capture.Microphone = config.MicrophonePortAudio }, []string{"capture"}},
		{"transcriber", func(c *config.Config) { c.Transcription.Providers[0].Model = "x" }, []string{"transcription"}},
		{"voice sources", func(c *config.Config) { c.Voice.DefaultSources = []string{"ebay"} }, []string{"voice"}},
		{"history", func(c *config.Config) { c.History.MaxPerActor = 5 }, []string{"history"}},
		{"mcp", func(c *config.Config) { c.MCP.HTTP = true }, []string{"mcp"}},
		{"two sections", func(c *config.Config) {
			c.History.Backend = config.HistoryDisabled
			c.MCP.Stdio = true
		}, []string{"history", "mcp"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			new := baseConfig()
			tt.mutate(new)
			d := config.Diff(baseConfig(), new)
			if !slices.Equal(d.RestartRequired, tt.want) {
				t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, tt.want)
			}
			if d.Changed() {
				t.Errorf("Changed() = true for a restart-only change")
			}
		})
	}
}
