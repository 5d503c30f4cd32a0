package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"openai", "deepgram", "whisper"},
	"vad": {},
}

var (
	validModes       = []string{"push-to-talk", "hands-free", "command"}
	validFormalities = []string{"casual", "neutral", "formal"}
)

// envRef matches ${VAR} references. Bare $VAR is left alone so regex
// replacements like "$1" survive.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandEnv replaces ${VAR} references in data with the value of the
// environment variable VAR. Unset variables expand to the empty string.
func ExpandEnv(data []byte) []byte {
	return envRef.ReplaceAllFunc(data, func(m []byte) []byte {
		name := envRef.FindSubmatch(m)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader expands ${VAR} references, decodes a YAML config from r,
// applies defaults and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(ExpandEnv(data)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Unknown provider names only warn.
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("vad", cfg.Providers.VAD.Name)
	for i, fb := range cfg.Providers.Fallbacks.STT {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.fallbacks.stt[%d].name is required", i))
		}
		validateProviderName("stt", fb.Name)
	}
	for i, fb := range cfg.Providers.Fallbacks.LLM {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.fallbacks.llm[%d].name is required", i))
		}
		validateProviderName("llm", fb.Name)
	}
	if cfg.Providers.Fallbacks.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("providers.fallbacks.max_failures %d must not be negative", cfg.Providers.Fallbacks.MaxFailures))
	}
	if cfg.Providers.Fallbacks.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("providers.fallbacks.reset_timeout %s must not be negative", cfg.Providers.Fallbacks.ResetTimeout))
	}

	// Provider availability warnings
	if cfg.Providers.STT.Name == "" {
		slog.Warn("providers.stt is not configured; dictation sessions cannot be started")
	}
	if cfg.Dictation.Cleanup && cfg.Providers.LLM.Name == "" {
		slog.Warn("dictation.cleanup is enabled but providers.llm is not configured; cleanup will be skipped")
	}

	// Audio
	a := cfg.Audio
	if a.InputSampleRate < 0 || a.InputSampleRate > 192000 {
		errs = append(errs, fmt.Errorf("audio.input_sample_rate %d is out of range [1, 192000]", a.InputSampleRate))
	}
	if a.InputChannels < 0 || a.InputChannels > 8 {
		errs = append(errs, fmt.Errorf("audio.input_channels %d is out of range [1, 8]", a.InputChannels))
	}
	if a.TargetSampleRate < 0 || a.TargetSampleRate > 48000 {
		errs = append(errs, fmt.Errorf("audio.target_sample_rate %d is out of range [1, 48000]", a.TargetSampleRate))
	}
	if a.RingSeconds < 0 || a.RingSeconds > 600 {
		errs = append(errs, fmt.Errorf("audio.ring_seconds %.1f is out of range [0, 600]", a.RingSeconds))
	}

	// VAD
	v := cfg.VAD
	if v.Threshold < 0 || v.Threshold > 1 {
		errs = append(errs, fmt.Errorf("vad.threshold %.2f is out of range [0, 1]", v.Threshold))
	}
	if v.MinSpeechDuration < 0 {
		errs = append(errs, fmt.Errorf("vad.min_speech_duration %s must not be negative", v.MinSpeechDuration))
	}
	if v.SilenceDuration < 0 {
		errs = append(errs, fmt.Errorf("vad.silence_duration %s must not be negative", v.SilenceDuration))
	}
	if v.FrameSamples < 0 {
		errs = append(errs, fmt.Errorf("vad.frame_samples %d must not be negative", v.FrameSamples))
	}

	// Dictation
	d := cfg.Dictation
	if d.DefaultMode != "" && !slices.Contains(validModes, d.DefaultMode) {
		errs = append(errs, fmt.Errorf("dictation.default_mode %q is invalid; valid values: push-to-talk, hands-free, command", d.DefaultMode))
	}
	if d.Formality != "" && !slices.Contains(validFormalities, d.Formality) {
		errs = append(errs, fmt.Errorf("dictation.formality %q is invalid; valid values: casual, neutral, formal", d.Formality))
	}
	if d.MaxSessionSeconds < 0 {
		errs = append(errs, fmt.Errorf("dictation.max_session_seconds %d must not be negative", d.MaxSessionSeconds))
	}

	// Store
	s := cfg.Store
	if s.Kind != "" && !s.Kind.IsValid() {
		errs = append(errs, fmt.Errorf("store.kind %q is invalid; valid values: yaml, postgres", s.Kind))
	}
	if s.Kind == StorePostgres && s.PostgresDSN == "" {
		errs = append(errs, errors.New("store.postgres_dsn is required when store.kind is postgres"))
	}

	if r := cfg.Telemetry.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("telemetry.trace_sample_ratio %.2f is out of range [0, 1]", r))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
