package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// DictationChanged is true if language, prompt, cleanup, formality,
	// default mode or the session warning limit changed. New connections
	// pick up the new values.
	DictationChanged bool

	// VADChanged is true if any VAD threshold changed. Applies to pipelines
	// created after the reload.
	VADChanged bool

	// StoreChanged is true if the dictionary store location changed; the
	// dictionary and snippets are reloaded from the new store.
	StoreChanged bool

	// RestartRequired lists changed settings that only take effect after a
	// restart, such as the listen address or the provider chain.
	RestartRequired []string
}

// Changed reports whether anything hot-reloadable changed.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.DictationChanged || d.VADChanged || d.StoreChanged
}

// Empty reports whether the two configs are equivalent as far as the
// daemon is concerned.
func (d ConfigDiff) Empty() bool {
	return !d.Changed() && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.DictationChanged = old.Dictation != new.Dictation
	d.VADChanged = old.VAD != new.VAD
	d.StoreChanged = old.Store != new.Store

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if !slices.Equal(old.Server.AllowedOrigins, new.Server.AllowedOrigins) {
		d.RestartRequired = append(d.RestartRequired, "server.allowed_origins")
	}
	if !tlsEqual(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server.tls")
	}
	if !providersEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}

	return d
}

func tlsEqual(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func providersEqual(a, b ProvidersConfig) bool {
	if !entryEqual(a.STT, b.STT) || !entryEqual(a.LLM, b.LLM) || !entryEqual(a.VAD, b.VAD) {
		return false
	}
	fa, fb := a.Fallbacks, b.Fallbacks
	if fa.MaxFailures != fb.MaxFailures || fa.ResetTimeout != fb.ResetTimeout {
		return false
	}
	return entriesEqual(fa.STT, fb.STT) && entriesEqual(fa.LLM, fb.LLM)
}

func entriesEqual(a, b []ProviderEntry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !entryEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

// entryEqual compares the scalar fields of two entries. Options are
// compared by length only; a change inside an option value is not detected.
func entryEqual(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL &&
		a.Model == b.Model && len(a.Options) == len(b.Options)
}
