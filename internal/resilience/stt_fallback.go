package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/dictoxa/pkg/provider/stt"
)

// ErrStreamingUnsupported is returned by [STTFallback.StartStream] when no
// registered backend implements [stt.Streamer].
var ErrStreamingUnsupported = errors.New("resilience: no streaming STT backend")

// STTFallback is an [stt.Transcriber] and [stt.Streamer] that fails over
// between speech backends. Streaming backends are also members of a second
// group, with their own breakers, so a broken live socket does not disable
// batch transcription on the same backend.
type STTFallback struct {
	cfg    FallbackConfig
	batch  *FallbackGroup[stt.Transcriber]
	stream *FallbackGroup[stt.Streamer]
}

var (
	_ stt.Transcriber = (*STTFallback)(nil)
	_ stt.Streamer    = (*STTFallback)(nil)
)

// NewSTTFallback returns a fallback chain with primary first. cfg.Kind
// defaults to "stt"; the streaming group reports as "<kind>_stream".
func NewSTTFallback(primary stt.Transcriber, name string, cfg FallbackConfig) *STTFallback {
	if cfg.Kind == "" {
		cfg.Kind = "stt"
	}
	f := &STTFallback{
		cfg:   cfg,
		batch: NewFallbackGroup(primary, name, cfg),
	}
	f.addStreamer(name, primary)
	return f
}

// AddFallback registers an additional STT provider as a fallback.
func (f *STTFallback) AddFallback(name string, provider stt.Transcriber) {
	f.batch.AddFallback(name, provider)
	f.addStreamer(name, provider)
}

func (f *STTFallback) addStreamer(name string, provider stt.Transcriber) {
	s, ok := provider.(stt.Streamer)
	if !ok {
		return
	}
	if f.stream == nil {
		sc := f.cfg
		sc.Kind += "_stream"
		f.stream = NewFallbackGroup(s, name, sc)
		return
	}
	f.stream.AddFallback(name, s)
}

// Transcribe sends the audio to the first healthy backend.
func (f *STTFallback) Transcribe(ctx context.Context, audio []byte, format string, cfg stt.Config) (*stt.Result, error) {
	return Call(ctx, f.batch, func(ctx context.Context, p stt.Transcriber) (*stt.Result, error) {
		return p.Transcribe(ctx, audio, format, cfg)
	})
}

// StartStream opens a live session against the first healthy streaming
// backend. Only opening is covered by failover; errors after the stream is
// established reach the handlers.
func (f *STTFallback) StartStream(ctx context.Context, cfg stt.Config, h stt.StreamHandlers) (stt.Stream, error) {
	if f.stream == nil {
		return nil, ErrStreamingUnsupported
	}
	return Call(ctx, f.stream, func(ctx context.Context, p stt.Streamer) (stt.Stream, error) {
		return p.StartStream(ctx, cfg, h)
	})
}

// CanStream reports whether any registered backend streams.
func (f *STTFallback) CanStream() bool {
	return f.stream != nil
}

// Transcriber returns f itself when some backend streams, otherwise a view
// without StartStream so the pipeline goes straight to batch mode.
func (f *STTFallback) Transcriber() stt.Transcriber {
	if f.CanStream() {
		return f
	}
	return batchOnly{f}
}

type batchOnly struct{ f *STTFallback }

func (b batchOnly) Transcribe(ctx context.Context, audio []byte, format string, cfg stt.Config) (*stt.Result, error) {
	return b.f.Transcribe(ctx, audio, format, cfg)
}

func (b batchOnly) Healthy() bool { return b.f.Healthy() }

// Healthy reports whether at least one batch backend accepts calls.
func (f *STTFallback) Healthy() bool {
	return f.batch.Healthy()
}

// Status returns the breaker state of each batch backend.
func (f *STTFallback) Status() []MemberStatus {
	return f.batch.Status()
}
