// Package stt defines the capability contracts for Speech-to-Text backends.
//
// A backend always offers batch transcription through [Transcriber]: a complete
// utterance is handed over in a container (usually WAV) and a single [Result]
// comes back. Backends that can recognise speech while it is still being
// captured additionally implement [Streamer]. Callers detect the streaming
// capability with a type assertion and fall back to batch mode when it is
// missing or when opening a stream fails.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

// FormatWAV is the container format identifier for RIFF/WAVE audio.
const FormatWAV = "wav"

// ErrStreamClosed is returned by Stream.Write after End or Abort.
var ErrStreamClosed = errors.New("stt: stream closed")

// Config carries recognition parameters for one transcription request or
// stream.
type Config struct {
	// Model is the provider-specific model identifier. Empty selects the
	// provider default.
	Model string

	// Language is the BCP-47 language tag (e.g., "en", "de-DE"). An empty
	// string asks the provider to auto-detect.
	Language string

	// SampleRate is the sample rate of the PCM audio in Hz.
	SampleRate int

	// Channels is the channel count of the PCM audio.
	Channels int

	// Prompt is an optional biasing hint (vocabulary, spelling of names).
	Prompt string

	// Keywords boosts uncommon vocabulary on providers that support it.
	Keywords []KeywordBoost
}

// Transcriber converts a complete utterance into text.
type Transcriber interface {
	// Transcribe sends audio encoded in format (see FormatWAV) to the backend
	// and waits for the transcription. An empty Result.Text is a valid outcome
	// meaning nothing intelligible was said.
	Transcribe(ctx context.Context, audio []byte, format string, cfg Config) (*Result, error)
}

// StreamHandlers receives the asynchronous output of a live stream. Any
// handler may be nil. Handlers are invoked from the stream's own goroutine
// and must not block.
type StreamHandlers struct {
	// OnPartial receives interim hypotheses.
	OnPartial func(text string)

	// OnFinal receives committed segments.
	OnFinal func(r Result)

	// OnError receives transport or protocol failures after the stream opened.
	OnError func(err error)
}

// Stream is an open live-recognition session.
type Stream interface {
	// Write sends a chunk of raw 16-bit PCM matching the Config the stream was
	// opened with.
	Write(chunk []byte) error

	// End flushes pending audio and closes the stream gracefully.
	End() error

	// Abort tears the stream down immediately without waiting for pending
	// results. Calling Abort after End is a no-op.
	Abort()
}

// Streamer is implemented by backends that support live recognition.
type Streamer interface {
	// StartStream opens a live session. The returned Stream is ready for Write
	// immediately.
	StartStream(ctx context.Context, cfg Config, h StreamHandlers) (Stream, error)
}
