package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/dictoxa/internal/config"
	"github.com/MrWong99/dictoxa/internal/dictation"
	"github.com/MrWong99/dictoxa/internal/health"
	"github.com/MrWong99/dictoxa/internal/server"
	"github.com/MrWong99/dictoxa/internal/store"
	"github.com/MrWong99/dictoxa/internal/textproc"
	vaddetector "github.com/MrWong99/dictoxa/internal/vad"
)

var _ server.Factory = (*App)(nil)

// NewPipeline builds a pipeline from the current config with the current
// dictionary and snippets loaded. A store failure is logged and the
// pipeline starts without substitutions.
func (a *App) NewPipeline(ctx context.Context) (*dictation.Pipeline, error) {
	cfg := a.cfg.Load()
	if a.providers.STT == nil {
		return nil, dictation.ErrNoTranscriber
	}

	opts := []dictation.Option{
		dictation.WithTranscriber(a.providers.STT),
		dictation.WithMetrics(a.metrics),
	}
	if a.providers.LLM != nil {
		opts = append(opts, dictation.WithLLM(a.providers.LLM))
	}
	if a.providers.VAD != nil {
		opts = append(opts, dictation.WithVADOptions(vaddetector.WithLoader(a.providers.VAD)))
	}
	p := dictation.New(DictationConfig(cfg), opts...)
	if err := a.RefreshDictionary(ctx, p); err != nil {
		slog.Warn("dictionary unavailable, continuing without substitutions", "err", err)
	}
	return p, nil
}

// RefreshDictionary implements [server.Factory].
func (a *App) RefreshDictionary(ctx context.Context, p *dictation.Pipeline) error {
	entries, snippets, err := loadDictionary(ctx, a.store)
	if err != nil {
		return err
	}
	p.SetEntries(entries)
	p.SetSnippets(snippets)
	return nil
}

// DefaultMode implements [server.Factory].
func (a *App) DefaultMode() dictation.Mode {
	return dictation.Mode(a.cfg.Load().Dictation.DefaultMode)
}

// DictationConfig maps the file config to pipeline settings.
func DictationConfig(cfg *config.Config) dictation.Config {
	return dictation.Config{
		InputSampleRate:  cfg.Audio.InputSampleRate,
		InputChannels:    cfg.Audio.InputChannels,
		TargetSampleRate: cfg.Audio.TargetSampleRate,
		STTModel:         cfg.Providers.STT.Model,
		Language:         cfg.Dictation.Language,
		Prompt:           cfg.Dictation.Prompt,
		Cleanup:          cfg.Dictation.Cleanup,
		Formality:        dictation.Formality(cfg.Dictation.Formality),
		LLMModel:         cfg.Providers.LLM.Model,
		VAD: vaddetector.Config{
			Threshold:         cfg.VAD.Threshold,
			MinSpeechDuration: cfg.VAD.MinSpeechDuration,
			SilenceDuration:   cfg.VAD.SilenceDuration,
			FrameSamples:      cfg.VAD.FrameSamples,
		},
		RingSeconds:        cfg.Audio.RingSeconds,
		MaxSessionDuration: time.Duration(cfg.Dictation.MaxSessionSeconds) * time.Second,
	}
}

func loadDictionary(ctx context.Context, s store.Store) ([]textproc.Entry, []textproc.Snippet, error) {
	entries, err := s.Entries(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load entries: %w", err)
	}
	snippets, err := s.Snippets(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load snippets: %w", err)
	}
	return entries, snippets, nil
}

// storeRef is a [store.Store] whose backend can be swapped on config
// reload. The server and health checks hold the ref, never the backend.
type storeRef struct {
	mu       sync.RWMutex
	cur      store.Store
	injected bool
}

var (
	_ store.Store   = (*storeRef)(nil)
	_ health.Pinger = (*storeRef)(nil)
)

func (r *storeRef) get() store.Store {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cur
}

func (r *storeRef) swap(s store.Store) {
	r.mu.Lock()
	old := r.cur
	r.cur = s
	r.mu.Unlock()
	if old != nil {
		if err := old.Close(); err != nil {
			slog.Warn("failed to close previous store", "err", err)
		}
	}
}

func (r *storeRef) Entries(ctx context.Context) ([]textproc.Entry, error) {
	return r.get().Entries(ctx)
}

func (r *storeRef) Snippets(ctx context.Context) ([]textproc.Snippet, error) {
	return r.get().Snippets(ctx)
}

func (r *storeRef) AddEntry(ctx context.Context, e textproc.Entry) (textproc.Entry, error) {
	return r.get().AddEntry(ctx, e)
}

// Ping probes the backend when it supports it.
func (r *storeRef) Ping(ctx context.Context) error {
	if p, ok := r.get().(health.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Close is a no-op; the App closes the backend through closeOwned.
func (r *storeRef) Close() error { return nil }

func (r *storeRef) closeOwned() error {
	if r.injected {
		return nil
	}
	return r.get().Close()
}
