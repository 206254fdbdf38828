package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] stats its file.
const DefaultWatchInterval = 5 * time.Second

// revision identifies one version of the config file on disk.
type revision struct {
	mtime time.Time
	size  int64
	hash  [sha256.Size]byte
}

// Watcher polls a config file and hands every valid, changed config to a
// callback together with its [Diff] against the previous one. Polling only
// hashes the file when its mtime or size moved. An invalid revision is
// logged once and skipped; the previous config stays current.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config, d ConfigDiff)
	lookup   LookupFunc

	// reloadMu serialises polls and manual reloads.
	reloadMu sync.Mutex
	applied  revision
	rejected revision

	mu      sync.Mutex
	current *Config

	reload   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Default [DefaultWatchInterval].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithLookup sets the environment resolver applied on every reload. The
// default is [os.LookupEnv], matching [Load].
func WithLookup(fn LookupFunc) WatcherOption {
	return func(w *Watcher) { w.lookup = fn }
}

// NewWatcher loads path and starts watching it. onChange runs on the
// watcher goroutine, outside its locks, so it may call [Watcher.Current].
func NewWatcher(path string, onChange func(old, new *Config, d ConfigDiff), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		onChange: onChange,
		lookup:   os.LookupEnv,
		reload:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, rev, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current = cfg
	w.applied = rev

	go w.loop()
	return w, nil
}

// Current returns the most recently applied config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Reload asks the watcher to re-read the file now, e.g. on SIGHUP. It does
// not block; the reload happens on the watcher goroutine.
func (w *Watcher) Reload() {
	select {
	case w.reload <- struct{}{}:
	default:
	}
}

// Stop ends polling. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

func (w *Watcher) loop() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.check(false)
		case <-w.reload:
			w.check(true)
		}
	}
}

// check applies the file if it holds a new valid revision. Unless forced,
// an unchanged mtime and size skip reading the file.
func (w *Watcher) check(force bool) {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return
	}
	if !force && info.ModTime().Equal(w.applied.mtime) && info.Size() == w.applied.size {
		return
	}

	cfg, rev, err := w.read()
	switch {
	case err != nil && rev.hash == w.rejected.hash:
		return
	case err != nil:
		w.rejected = rev
		slog.Warn("config watcher: keeping previous config, new revision is invalid", "path", w.path, "err", err)
		return
	case rev.hash == w.applied.hash:
		w.applied = rev
		return
	}
	w.applied = rev

	w.mu.Lock()
	old := w.current
	w.current = cfg
	w.mu.Unlock()

	d := Diff(old, cfg)
	slog.Info("config watcher: configuration reloaded", "path", w.path, "hot_changes", d.Changed())
	if len(d.RestartRequired) > 0 {
		slog.Warn("config watcher: changes need a restart to take effect", "sections", d.RestartRequired)
	}
	if w.onChange != nil {
		w.onChange(old, cfg, d)
	}
}

// read parses the file. The returned revision is filled in whenever the
// file could be read, even if the config is invalid.
func (w *Watcher) read() (*Config, revision, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, revision{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, revision{}, err
	}
	rev := revision{mtime: info.ModTime(), size: info.Size(), hash: sha256.Sum256(data)}

	cfg, err := parse(bytes.NewReader(data), w.lookup)
	if err != nil {
		return nil, rev, err
	}
	return cfg, rev, nil
}
