package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] polls when no interval is
// configured.
const DefaultWatchInterval = 5 * time.Second

// ErrUnchanged is returned by [Watcher.Check] when the file holds no new
// revision.
var ErrUnchanged = errors.New("config: unchanged")

// Reload is one accepted revision of the config file.
type Reload struct {
	Old, New *Config
	Diff     ConfigDiff
}

// fileStamp identifies a revision of the config file on disk. Size and
// mtime gate the hash so an idle file is never read.
type fileStamp struct {
	mtime time.Time
	size  int64
	sum   [sha256.Size]byte
}

// Watcher polls a config file and reports each valid revision that differs
// from the previous one. Invalid revisions are logged and skipped; the last
// valid config stays current.
type Watcher struct {
	path     string
	interval time.Duration
	onReload func(context.Context, Reload)

	mu      sync.Mutex
	current *Config
	stamp   fileStamp
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Non-positive values are ignored.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path and returns a watcher for it. Polling starts with
// [Watcher.Run]. onReload may be nil.
func NewWatcher(path string, onReload func(context.Context, Reload), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{path: path, interval: DefaultWatchInterval, onReload: onReload}
	for _, opt := range opts {
		opt(w)
	}
	cfg, stamp, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.current, w.stamp = cfg, stamp
	return w, nil
}

// Current returns the last valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls until ctx is cancelled. It always returns nil so it can sit in
// an errgroup next to the server.
func (w *Watcher) Run(ctx context.Context) error {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			r, err := w.Check()
			switch {
			case errors.Is(err, ErrUnchanged):
			case err != nil:
				slog.Warn("config: reload rejected, keeping current config", "path", w.path, "err", err)
			default:
				slog.Info("config: reloaded", "path", w.path,
					"hot", r.Diff.Changed(), "restart_required", r.Diff.RestartRequired)
				if w.onReload != nil {
					w.onReload(ctx, r)
				}
			}
		}
	}
}

// Check examines the file once. It returns [ErrUnchanged] when neither the
// bytes nor the effective settings changed, and a load or validation error
// when the new revision is unusable.
func (w *Watcher) Check() (Reload, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return Reload{}, err
	}

	w.mu.Lock()
	prev := w.stamp
	w.mu.Unlock()
	if info.ModTime().Equal(prev.mtime) && info.Size() == prev.size {
		return Reload{}, ErrUnchanged
	}

	cfg, stamp, err := w.read()
	if err != nil {
		if !stamp.mtime.IsZero() {
			// Remember the bad revision so it is reported once.
			w.mu.Lock()
			w.stamp = stamp
			w.mu.Unlock()
		}
		return Reload{}, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.stamp = stamp
	if stamp.sum == prev.sum {
		return Reload{}, ErrUnchanged
	}
	r := Reload{Old: w.current, New: cfg, Diff: Diff(w.current, cfg)}
	w.current = cfg
	if r.Diff.Empty() {
		// Comment or formatting edit.
		return Reload{}, ErrUnchanged
	}
	return r, nil
}

func (w *Watcher) read() (*Config, fileStamp, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fileStamp{}, err
	}
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fileStamp{}, err
	}
	stamp := fileStamp{mtime: info.ModTime(), size: info.Size(), sum: sha256.Sum256(data)}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, stamp, err
	}
	return cfg, stamp, nil
}
