package config

import "time"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// needs a restart and is reported through RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	DebounceChanged bool
	NewDebounce     time.Duration

	PolicyChanged bool
	NewPolicy     EmptyResultPolicy

	// RestartRequired lists top-level sections whose changes are ignored
	// until restart.
	RestartRequired []string
}

// Changed reports whether any hot-reloadable field changed.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.DebounceChanged || d.PolicyChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Search.Debounce != new.Search.Debounce {
		d.DebounceChanged = true
		d.NewDebounce = new.Search.Debounce
	}
	if old.Search.EmptyResultPolicy != new.Search.EmptyResultPolicy {
		d.PolicyChanged = true
		d.NewPolicy = new.Search.EmptyResultPolicy
	}

	// Compare the remaining fields with the hot ones masked out.
	o, n := *old, *new
	o.Server.LogLevel, n.Server.LogLevel = "", ""
	o.Search.Debounce, n.Search.Debounce = 0, 0
	o.Search.EmptyResultPolicy, n.Search.EmptyResultPolicy = "", ""

	if !equalServer(o.Server, n.Server) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if o.Search != n.Search {
		d.RestartRequired = append(d.RestartRequired, "search")
	}
	if o.Capture != n.Capture {
		d.RestartRequired = append(d.RestartRequired, "capture")
	}
	if !equalTranscription(o.Transcription, n.Transcription) {
		d.RestartRequired = append(d.RestartRequired, "transcription")
	}
	if !equalVoice(o.Voice, n.Voice) {
		d.RestartRequired = append(d.RestartRequired, "voice")
	}
	if o.History != n.History {
		d.RestartRequired = append(d.RestartRequired, "history")
	}
	if o.MCP != n.MCP {
		d.RestartRequired = append(d.RestartRequired, "mcp")
	}
	return d
}

func equalServer(a, b ServerConfig) bool {
	if !equalStrings(a.AllowedOrigins, b.AllowedOrigins) {
		return false
	}
	if (a.TLS == nil) != (b.TLS == nil) || (a.TLS != nil && *a.TLS != *b.TLS) {
		return false
	}
	return a.ListenAddr == b.ListenAddr &&
		a.MaxUploadMB == b.MaxUploadMB &&
		a.DefaultActor == b.DefaultActor &&
		a.MetricsEndpoint == b.MetricsEndpoint
}

func equalTranscription(a, b TranscriptionConfig) bool {
	if a.Breaker != b.Breaker || len(a.Providers) != len(b.Providers) {
		return false
	}
	for i := range a.Providers {
		if a.Providers[i] != b.Providers[i] {
			return false
		}
	}
	return true
}

func equalVoice(a, b VoiceConfig) bool {
	return a.Locale == b.Locale && a.InferCategory == b.InferCategory &&
		equalStrings(a.DefaultSources, b.DefaultSources)
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
