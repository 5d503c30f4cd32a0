// Package vad defines the contract for neural voice-activity models.
//
// A Model scores one fixed-size frame of normalised mono samples with a
// speech probability. Models are stateful (recurrent hidden state), so each
// detector owns exactly one Model and calls Reset between utterances.
//
// No concrete model ships with this module; Loaders are registered by the
// embedding application. Detectors fall back to an energy heuristic when no
// Loader is configured or loading fails.
package vad

import "context"

// Config describes the frames a Model will be fed.
type Config struct {
	// SampleRate is the sample rate of the frames in Hz. Typical: 16000.
	SampleRate int

	// FrameSamples is the number of samples per frame, e.g. 512 at 16 kHz
	// for Silero-style models.
	FrameSamples int
}

// Model scores audio frames. A Model is used from a single goroutine at a
// time.
type Model interface {
	// Probability returns the speech probability in [0, 1] for one frame of
	// exactly Config.FrameSamples samples in [-1, 1].
	Probability(frame []float32) (float64, error)

	// Reset clears any recurrent state.
	Reset()

	// Close releases the model. Calling Close more than once is safe.
	Close() error
}

// Loader creates Models. Loading may be slow (file I/O, runtime init) and
// must honour ctx cancellation.
type Loader interface {
	Load(ctx context.Context, cfg Config) (Model, error)
}

// LoaderFunc adapts a plain function to the Loader interface.
type LoaderFunc func(ctx context.Context, cfg Config) (Model, error)

// Load calls f(ctx, cfg).
func (f LoaderFunc) Load(ctx context.Context, cfg Config) (Model, error) {
	return f(ctx, cfg)
}
