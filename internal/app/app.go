// Package app wires the dictation subsystems into a running server.
//
// The App struct owns the full lifecycle: New opens the dictionary store and
// builds the HTTP server, Run serves until the context is cancelled while
// hot-reloading the config file, and Shutdown releases everything in reverse
// order.
//
// App also implements the server's pipeline factory: every dictation
// connection gets a fresh [dictation.Pipeline] built from the current
// config snapshot and the current dictionary.
//
// For testing, inject doubles via functional options (WithStore,
// WithMetrics). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/dictoxa/internal/config"
	"github.com/MrWong99/dictoxa/internal/health"
	"github.com/MrWong99/dictoxa/internal/observe"
	"github.com/MrWong99/dictoxa/internal/server"
	"github.com/MrWong99/dictoxa/internal/store"
	"github.com/MrWong99/dictoxa/internal/store/pgstore"
	"github.com/MrWong99/dictoxa/internal/store/yamlstore"
	"github.com/MrWong99/dictoxa/pkg/provider/llm"
	"github.com/MrWong99/dictoxa/pkg/provider/stt"
	"github.com/MrWong99/dictoxa/pkg/provider/vad"
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	STT stt.Transcriber
	LLM llm.Provider
	VAD vad.Loader
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       atomic.Pointer[config.Config]
	providers *Providers
	metrics   *observe.Metrics
	level     *slog.LevelVar

	store  *storeRef
	health *health.Handler
	server *server.Server

	configPath    string
	watchInterval time.Duration

	// closers are called in reverse order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a dictionary store instead of opening one from config.
// The App does not close an injected store.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = &storeRef{cur: s, injected: true} }
}

// WithMetrics sets the metrics instance. Default: observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel passes the level variable backing the default logger so a
// config reload can change verbosity.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithConfigPath enables hot reload of the config file at path during Run.
func WithConfigPath(path string) Option {
	return func(a *App) { a.configPath = path }
}

// WithWatchInterval sets the config polling interval. Default: 5s.
func WithWatchInterval(d time.Duration) Option {
	return func(a *App) { a.watchInterval = d }
}

// New creates an App from cfg and the already-built providers.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{providers: providers}
	a.cfg.Store(cfg)
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.level == nil {
		a.level = new(slog.LevelVar)
		a.level.Set(LogLevel(cfg.Server.LogLevel))
	}

	// ── 1. Dictionary store ──────────────────────────────────────────────
	if a.store == nil {
		s, err := openStore(ctx, cfg.Store)
		if err != nil {
			return nil, fmt.Errorf("app: open store: %w", err)
		}
		a.store = &storeRef{cur: s}
	}
	a.closers = append(a.closers, a.store.closeOwned)

	// ── 2. Health ────────────────────────────────────────────────────────
	checks := []health.Checker{
		health.ProviderCheck("stt", a.providers.STT),
		health.PingCheck("store", a.store),
	}
	if a.providers.LLM != nil {
		checks = append(checks, health.ProviderCheck("llm", a.providers.LLM))
	}
	a.health = health.New(checks...)

	// ── 3. HTTP server ───────────────────────────────────────────────────
	a.server = server.New(a,
		server.WithStore(a.store),
		server.WithHealth(a.health),
		server.WithMetrics(a.metrics),
		server.WithAllowedOrigins(cfg.Server.AllowedOrigins),
	)

	return a, nil
}

// Config returns the current config snapshot.
func (a *App) Config() *config.Config { return a.cfg.Load() }

// Run serves dictation clients and watches the config file until ctx is
// cancelled. It returns nil after a clean shutdown.
func (a *App) Run(ctx context.Context) error {
	cfg := a.cfg.Load()
	tlsCfg, err := loadTLS(cfg.Server.TLS)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.server.ListenAndServe(gctx, cfg.Server.ListenAddr, tlsCfg)
	})

	if a.configPath != "" {
		var wopts []config.WatcherOption
		if a.watchInterval > 0 {
			wopts = append(wopts, config.WithInterval(a.watchInterval))
		}
		w, err := config.NewWatcher(a.configPath, func(ctx context.Context, r config.Reload) {
			a.applyConfig(ctx, r.New)
		}, wopts...)
		if err != nil {
			slog.Warn("config hot reload disabled", "path", a.configPath, "err", err)
		} else {
			g.Go(func() error { return w.Run(gctx) })
		}
	}

	slog.Info("app running", "listen_addr", cfg.Server.ListenAddr)
	return g.Wait()
}

// Shutdown releases all resources. It is safe to call more than once.
func (a *App) Shutdown(_ context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := a.closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

// applyConfig installs next as the current config and applies the changes
// that are safe at runtime. Pipelines already serving a connection keep
// their settings; new connections see the new ones.
func (a *App) applyConfig(ctx context.Context, next *config.Config) {
	prev := a.cfg.Load()
	d := config.Diff(prev, next)

	if d.LogLevelChanged {
		a.level.Set(LogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.StoreChanged && !a.store.injected {
		s, err := openStore(ctx, next.Store)
		if err != nil {
			slog.Error("failed to switch dictionary store, keeping the old one", "err", err)
			next.Store = prev.Store
		} else {
			a.store.swap(s)
			slog.Info("dictionary store switched", "kind", next.Store.Kind)
		}
	}
	if d.DictationChanged || d.VADChanged {
		slog.Info("dictation settings reloaded; applies to new connections",
			"dictation_changed", d.DictationChanged, "vad_changed", d.VADChanged)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart", "fields", d.RestartRequired)
	}
	a.cfg.Store(next)
}

func openStore(ctx context.Context, sc config.StoreConfig) (store.Store, error) {
	switch sc.Kind {
	case config.StorePostgres:
		return pgstore.Open(ctx, sc.PostgresDSN)
	default:
		return yamlstore.New(sc.Path), nil
	}
}

func loadTLS(t *config.TLSConfig) (*tls.Config, error) {
	if t == nil {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(t.CertFile, t.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("app: load tls key pair: %w", err)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}, nil
}

// LogLevel maps a config log level to its slog level.
func LogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
