package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/shopvox/internal/config"
)

const baseYAML = `
server:
  log_level: info
search:
  service_url: http://localhost:8001
  debounce: 1500ms
transcription:
  providers:
    - name: mock
`

const tunedYAML = `
server:
  log_level: debug
  listen_addr: ":9000"
search:
  service_url: http://localhost:8001
  debounce: 300ms
  empty_result_policy: report
transcription:
  providers:
    - name: mock
`

const brokenYAML = `
server:
  log_level: bananas
search:
  service_url: http://localhost:8001
`

const pollEvery = 50 * time.Millisecond

// change is one onChange invocation.
type change struct {
	old, new *config.Config
	diff     config.ConfigDiff
}

// noEnv keeps watcher tests independent of the process environment.
func noEnv(string) (string, bool) { return "", false }

// startWatcher writes content to a fresh config file and watches it. Every
// callback lands on the returned channel.
func startWatcher(t *testing.T, content string, opts ...config.WatcherOption) (*config.Watcher, string, <-chan change) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	rewrite(t, path, content)

	changes := make(chan change, 8)
	opts = append([]config.WatcherOption{config.WithInterval(pollEvery), config.WithLookup(noEnv)}, opts...)
	w, err := config.NewWatcher(path, func(old, new *config.Config, d config.ConfigDiff) {
		changes <- change{old: old, new: new, diff: d}
	}, opts...)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)
	return w, path, changes
}

func rewrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func awaitChange(t *testing.T, changes <-chan change) change {
	t.Helper()
	select {
	case c := <-changes:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no config change applied")
		return change{}
	}
}

// expectQuiet fails if a callback arrives within a few poll intervals.
func expectQuiet(t *testing.T, changes <-chan change) {
	t.Helper()
	select {
	case c := <-changes:
		t.Fatalf("unexpected config change: %+v", c.diff)
	case <-time.After(6 * pollEvery):
	}
}

func TestWatcher_CurrentAfterStart(t *testing.T) {
	t.Parallel()
	w, _, _ := startWatcher(t, baseYAML)

	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() = nil")
	}
	if cfg.Server.LogLevel != config.LogInfo || cfg.Search.Debounce != 1500*time.Millisecond {
		t.Errorf("log_level=%q debounce=%s", cfg.Server.LogLevel, cfg.Search.Debounce)
	}
}

func TestWatcher_AppliesEditedFile(t *testing.T) {
	t.Parallel()
	w, path, changes := startWatcher(t, baseYAML)

	time.Sleep(2 * pollEvery)
	rewrite(t, path, tunedYAML)
	c := awaitChange(t, changes)

	if c.old.Server.LogLevel != config.LogInfo || c.new.Server.LogLevel != config.LogDebug {
		t.Errorf("log level %q -> %q", c.old.Server.LogLevel, c.new.Server.LogLevel)
	}
	d := c.diff
	if !d.LogLevelChanged || !d.DebounceChanged || !d.PolicyChanged {
		t.Errorf("diff = %+v, want log level, debounce and policy changes", d)
	}
	if d.NewDebounce != 300*time.Millisecond || d.NewPolicy != config.PolicyReport {
		t.Errorf("NewDebounce=%s NewPolicy=%q", d.NewDebounce, d.NewPolicy)
	}
	if len(d.RestartRequired) != 1 || d.RestartRequired[0] != "server" {
		t.Errorf("RestartRequired = %v, want [server]", d.RestartRequired)
	}
	if got := w.Current(); got != c.new {
		t.Error("Current() is not the config handed to the callback")
	}
}

func TestWatcher_InvalidRevision(t *testing.T) {
	t.Parallel()
	w, path, changes := startWatcher(t, baseYAML)

	time.Sleep(2 * pollEvery)
	rewrite(t, path, brokenYAML)
	expectQuiet(t, changes)
	if got := w.Current().Server.LogLevel; got != config.LogInfo {
		t.Fatalf("Current() log_level = %q after invalid edit, want %q", got, config.LogInfo)
	}

	// Fixing the file applies normally; the diff is against the last valid config.
	rewrite(t, path, tunedYAML)
	c := awaitChange(t, changes)
	if c.old.Server.LogLevel != config.LogInfo || c.new.Server.LogLevel != config.LogDebug {
		t.Errorf("log level %q -> %q", c.old.Server.LogLevel, c.new.Server.LogLevel)
	}
	expectQuiet(t, changes)
}

func TestWatcher_TouchOnly(t *testing.T) {
	t.Parallel()
	_, path, changes := startWatcher(t, baseYAML)

	time.Sleep(2 * pollEvery)
	later := time.Now().Add(time.Second)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}
	expectQuiet(t, changes)
}

func TestWatcher_Reload(t *testing.T) {
	t.Parallel()
	// Polling never fires within the test, so only Reload reads the file.
	w, path, changes := startWatcher(t, baseYAML, config.WithInterval(time.Hour))

	rewrite(t, path, tunedYAML)
	expectQuiet(t, changes)

	w.Reload()
	c := awaitChange(t, changes)
	if !c.diff.PolicyChanged {
		t.Errorf("diff = %+v, want policy change", c.diff)
	}
	if got := w.Current().Search.EmptyResultPolicy; got != config.PolicyReport {
		t.Errorf("EmptyResultPolicy = %q, want %q", got, config.PolicyReport)
	}

	// A second reload of the same content is a no-op.
	w.Reload()
	expectQuiet(t, changes)
}

func TestWatcher_ResolvesEnv(t *testing.T) {
	t.Parallel()
	env := func(key string) (string, bool) {
		if key == config.EnvPrefix+"DEFAULT_ACTOR" {
			return "kiosk", true
		}
		return "", false
	}
	w, _, _ := startWatcher(t, baseYAML, config.WithLookup(env))

	if got := w.Current().Server.DefaultActor; got != "kiosk" {
		t.Errorf("DefaultActor = %q, want kiosk", got)
	}
}

func TestWatcher_MissingFile(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "absent.yaml"), nil); err == nil {
		t.Fatal("NewWatcher on a missing file succeeded")
	}
}

func TestWatcher_StopTwice(t *testing.T) {
	t.Parallel()
	w, _, _ := startWatcher(t, baseYAML)
	w.Stop()
	w.Stop()
}
