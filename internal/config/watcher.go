package config

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] polls by default.
const DefaultWatchInterval = 5 * time.Second

// Watcher polls the configuration file and reports every change that loads
// and validates. A missing file stands for the defaults, so an operator can
// create the file while the rover is running and later delete it again.
// Environment overrides are applied on every load.
type Watcher struct {
	path     string
	interval time.Duration
	lookup   func(string) (string, bool)
	onChange func(old, new *Config)

	mu      sync.Mutex
	current *Config
	seen    fileState
}

// fileState identifies one version of the watched file.
type fileState struct {
	exists bool
	mtime  time.Time
	sum    [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Non-positive values keep
// [DefaultWatchInterval].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithLookup replaces [os.LookupEnv] as the source of environment overrides.
func WithLookup(lookup func(string) (string, bool)) WatcherOption {
	return func(w *Watcher) { w.lookup = lookup }
}

// NewWatcher loads path once and returns a watcher whose [Watcher.Run]
// reports later changes to onChange. onChange may be nil.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		lookup:   os.LookupEnv,
		onChange: onChange,
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, state, err := w.load()
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	w.current, w.seen = cfg, state
	return w, nil
}

// Current returns the most recent valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls until ctx is cancelled. It always returns nil: a bad reload is
// logged and the previous config stays in effect.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.check()
		}
	}
}

// check reloads the file when it changed and reports whether onChange ran.
func (w *Watcher) check() bool {
	info, err := os.Stat(w.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if !w.seen.exists {
			return false
		}
	case err != nil:
		slog.Warn("config watcher: stat failed", "path", w.path, "err", err)
		return false
	case w.seen.exists && info.ModTime().Equal(w.seen.mtime):
		return false
	}

	cfg, state, err := w.load()
	if err != nil {
		slog.Warn("config watcher: reload rejected, keeping previous config", "path", w.path, "err", err)
		return false
	}

	w.mu.Lock()
	if state.exists == w.seen.exists && state.sum == w.seen.sum {
		// Touched, not edited.
		w.seen = state
		w.mu.Unlock()
		return false
	}
	old := w.current
	w.current, w.seen = cfg, state
	w.mu.Unlock()

	if state.exists {
		slog.Info("config watcher: reloaded", "path", w.path)
	} else {
		slog.Info("config watcher: file removed, back to defaults", "path", w.path)
	}
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
	return true
}

func (w *Watcher) load() (*Config, fileState, error) {
	data, err := os.ReadFile(w.path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err := parse(nil, w.lookup)
		return cfg, fileState{}, err
	}
	if err != nil {
		return nil, fileState{}, err
	}
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fileState{}, err
	}
	cfg, err := parse(data, w.lookup)
	if err != nil {
		return nil, fileState{}, err
	}
	return cfg, fileState{exists: true, mtime: info.ModTime(), sum: sha256.Sum256(data)}, nil
}
