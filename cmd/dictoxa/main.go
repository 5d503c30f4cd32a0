// Command dictoxa is the main entry point for the Dictoxa dictation server.
//
// By default it serves the WebSocket dictation endpoint. With -transcribe it
// runs a single WAV file through the pipeline and prints the result.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/dictoxa/internal/app"
	"github.com/MrWong99/dictoxa/internal/config"
	"github.com/MrWong99/dictoxa/internal/dictation"
	"github.com/MrWong99/dictoxa/internal/observe"
	"github.com/MrWong99/dictoxa/internal/resilience"
	"github.com/MrWong99/dictoxa/pkg/audio"
	"github.com/MrWong99/dictoxa/pkg/provider/llm"
	"github.com/MrWong99/dictoxa/pkg/provider/llm/anyllm"
	oaillm "github.com/MrWong99/dictoxa/pkg/provider/llm/openai"
	"github.com/MrWong99/dictoxa/pkg/provider/stt"
	"github.com/MrWong99/dictoxa/pkg/provider/stt/deepgram"
	oaistt "github.com/MrWong99/dictoxa/pkg/provider/stt/openai"
	"github.com/MrWong99/dictoxa/pkg/provider/stt/whisper"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

// chunkDuration is the size of the PCM chunks fed to the pipeline in
// offline mode, matching what a live client sends.
const chunkDuration = 20 * time.Millisecond

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	transcribe := flag.String("transcribe", "", "transcribe a WAV file and exit")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "dictoxa: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "dictoxa: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(app.LogLevel(cfg.Server.LogLevel))
	slog.SetDefault(newLogger(level))

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *transcribe != "" {
		return runOffline(ctx, cfg, providers, *transcribe)
	}

	slog.Info("dictoxa starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownOTel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		SampleRatio:    cfg.Telemetry.TraceSampleRatio,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	printStartupSummary(os.Stdout, cfg)

	application, err := app.New(ctx, cfg, providers,
		app.WithLogLevel(level),
		app.WithConfigPath(*configPath),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	code := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		code = 1
	}
	if err := shutdownOTel(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return code
}

// ── Offline mode ──────────────────────────────────────────────────────────────

func runOffline(ctx context.Context, cfg *config.Config, providers *app.Providers, path string) int {
	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}
	defer func() { _ = application.Shutdown(context.Background()) }()

	res, err := transcribeFile(ctx, application, path)
	if err != nil {
		slog.Error("transcription failed", "file", path, "err", err)
		return 1
	}
	if res == nil {
		fmt.Fprintln(os.Stderr, "dictoxa: no speech recognised")
		return 0
	}
	fmt.Println(res.Text)
	slog.Info("transcription complete",
		"file", path,
		"duration", res.Duration,
		"stt_time", res.STTTime,
		"llm_time", res.LLMTime,
		"total_time", res.TotalTime,
	)
	return 0
}

// pipelineFactory is the part of [app.App] offline mode needs.
type pipelineFactory interface {
	NewPipeline(ctx context.Context) (*dictation.Pipeline, error)
}

// transcribeFile plays the WAV file at path through a push-to-talk session
// in chunkDuration slices and returns the pipeline's result.
func transcribeFile(ctx context.Context, f pipelineFactory, path string) (*dictation.Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	clip, err := audio.ParseWAV(data)
	if err != nil {
		return nil, err
	}

	p, err := f.NewPipeline(ctx)
	if err != nil {
		return nil, err
	}
	defer p.Destroy()

	p.SetInputFormat(clip.Format.SampleRate, clip.Format.Channels)
	if err := p.StartRecording(ctx, dictation.ModePushToTalk); err != nil {
		return nil, err
	}

	chunk := clip.Format.SampleRate * int(chunkDuration/time.Millisecond) / 1000 * clip.Format.Channels * 2
	if chunk <= 0 {
		chunk = len(clip.PCM)
	}
	for off := 0; off < len(clip.PCM); off += chunk {
		if err := ctx.Err(); err != nil {
			p.Cancel()
			return nil, err
		}
		p.ProcessAudio(clip.PCM[off:min(off+chunk, len(clip.PCM))])
	}
	return p.StopRecording(ctx)
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// anyllmProviders are the LLM backends served through any-llm-go. They all
// take an optional APIKey and BaseURL.
var anyllmProviders = []string{
	"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oaillm.WithOrganization(org))
		}
		return oaillm.New(entry.APIKey, entry.Model, opts...)
	})

	for _, providerName := range anyllmProviders {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []oaistt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaistt.WithBaseURL(entry.BaseURL))
		}
		return oaistt.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithBaseURL(entry.BaseURL))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	for _, kind := range []string{"llm", "stt", "vad"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// buildProviders instantiates all providers named in cfg using the registry.
// STT and LLM always sit behind a circuit breaker, followed by their
// configured fallbacks.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}
	fbCfg := resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  cfg.Providers.Fallbacks.MaxFailures,
			ResetTimeout: cfg.Providers.Fallbacks.ResetTimeout,
		},
	}

	if name := cfg.Providers.STT.Name; name != "" {
		p, err := create("stt", cfg.Providers.STT, reg.CreateSTT)
		if err != nil {
			return nil, err
		}
		if p != nil {
			fb := resilience.NewSTTFallback(p, name, fbCfg)
			for _, entry := range cfg.Providers.Fallbacks.STT {
				alt, err := create("stt fallback", entry, reg.CreateSTT)
				if err != nil {
					return nil, err
				}
				if alt != nil {
					fb.AddFallback(entry.Name, alt)
				}
			}
			ps.STT = fb.Transcriber()
		}
	}

	if name := cfg.Providers.LLM.Name; name != "" {
		p, err := create("llm", cfg.Providers.LLM, reg.CreateLLM)
		if err != nil {
			return nil, err
		}
		if p != nil {
			fb := resilience.NewLLMFallback(p, name, fbCfg)
			for _, entry := range cfg.Providers.Fallbacks.LLM {
				alt, err := create("llm fallback", entry, reg.CreateLLM)
				if err != nil {
					return nil, err
				}
				if alt != nil {
					fb.AddFallback(entry.Name, alt)
				}
			}
			ps.LLM = fb
		}
	}

	if name := cfg.Providers.VAD.Name; name != "" {
		p, err := create("vad", cfg.Providers.VAD, reg.CreateVAD)
		if err != nil {
			return nil, err
		}
		if p != nil {
			ps.VAD = p
		}
	}

	return ps, nil
}

// create builds one provider. An unregistered name is logged and yields the
// zero value so the daemon can start without it.
func create[T any](kind string, entry config.ProviderEntry, factory func(config.ProviderEntry) (T, error)) (T, error) {
	var zero T
	p, err := factory(entry)
	if errors.Is(err, config.ErrProviderNotRegistered) {
		slog.Warn("provider not registered, skipping", "kind", kind, "name", entry.Name)
		return zero, nil
	}
	if err != nil {
		return zero, fmt.Errorf("create %s provider %q: %w", kind, entry.Name, err)
	}
	slog.Info("provider created", "kind", kind, "name", entry.Name)
	return p, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║        Dictoxa: startup summary       ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printProvider(w, "STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider(w, "LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider(w, "VAD", cfg.Providers.VAD.Name, "")
	fmt.Fprintf(w, "║  Fallbacks       : %-19s ║\n",
		fmt.Sprintf("%d stt / %d llm", len(cfg.Providers.Fallbacks.STT), len(cfg.Providers.Fallbacks.LLM)))
	fmt.Fprintf(w, "║  Default mode    : %-19s ║\n", cfg.Dictation.DefaultMode)
	cleanup := "off"
	if cfg.Dictation.Cleanup {
		cleanup = cfg.Dictation.Formality
	}
	fmt.Fprintf(w, "║  Cleanup         : %-19s ║\n", cleanup)
	fmt.Fprintf(w, "║  Store           : %-19s ║\n", string(cfg.Store.Kind))
	if cfg.Server.ListenAddr != "" {
		fmt.Fprintf(w, "║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func printProvider(w io.Writer, kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Fprintf(w, "║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}
