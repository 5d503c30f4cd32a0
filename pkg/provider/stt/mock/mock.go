// Package mock provides test doubles for the stt package interfaces.
//
// Use Transcriber to verify the audio and Config a caller submits for batch
// transcription. Use Streamer and Stream to drive a live session: the handlers
// passed to StartStream are recorded so tests can fire partials and finals.
//
// Example:
//
//	tr := &mock.Transcriber{Result: &stt.Result{Text: "hello world"}}
//	res, _ := tr.Transcribe(ctx, wav, stt.FormatWAV, stt.Config{})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/dictoxa/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Transcriber.Transcribe.
type TranscribeCall struct {
	// Audio is a copy of the audio bytes passed to Transcribe.
	Audio []byte
	// Format is the container format passed to Transcribe.
	Format string
	// Cfg is the Config passed to Transcribe.
	Cfg stt.Config
}

// Transcriber is a mock implementation of stt.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Result is returned by Transcribe. If nil, an empty Result is returned.
	Result *stt.Result

	// Err, if non-nil, is returned as the error from Transcribe.
	Err error

	// Block, if non-nil, makes Transcribe wait until the channel is closed or
	// the context is cancelled. A cancelled context returns ctx.Err().
	Block chan struct{}

	// Calls records every call to Transcribe.
	Calls []TranscribeCall
}

// Transcribe records the call and returns Result, Err.
func (t *Transcriber) Transcribe(ctx context.Context, audio []byte, format string, cfg stt.Config) (*stt.Result, error) {
	t.mu.Lock()
	cp := make([]byte, len(audio))
	copy(cp, audio)
	t.Calls = append(t.Calls, TranscribeCall{Audio: cp, Format: format, Cfg: cfg})
	block := t.Block
	res, err := t.Result, t.Err
	t.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if res == nil {
		return &stt.Result{}, nil
	}
	out := *res
	return &out, nil
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (t *Transcriber) CallCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.Calls)
}

// Reset clears all recorded calls. Thread-safe.
func (t *Transcriber) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Calls = nil
}

// StartStreamCall records a single invocation of Streamer.StartStream.
type StartStreamCall struct {
	// Cfg is the Config passed to StartStream.
	Cfg stt.Config
	// Handlers is the StreamHandlers passed to StartStream.
	Handlers stt.StreamHandlers
}

// Streamer is a mock that implements both stt.Transcriber and stt.Streamer.
type Streamer struct {
	Transcriber

	smu sync.Mutex

	// Stream is returned by StartStream. If nil a fresh Stream is created per
	// call.
	Stream *Stream

	// StartStreamErr, if non-nil, is returned as the error from StartStream.
	StartStreamErr error

	// StartStreamCalls records every call to StartStream.
	StartStreamCalls []StartStreamCall
}

// StartStream records the call and returns Stream, StartStreamErr.
func (s *Streamer) StartStream(_ context.Context, cfg stt.Config, h stt.StreamHandlers) (stt.Stream, error) {
	s.smu.Lock()
	defer s.smu.Unlock()
	s.StartStreamCalls = append(s.StartStreamCalls, StartStreamCall{Cfg: cfg, Handlers: h})
	if s.StartStreamErr != nil {
		return nil, s.StartStreamErr
	}
	if s.Stream == nil {
		s.Stream = &Stream{}
	}
	s.Stream.mu.Lock()
	s.Stream.handlers = h
	s.Stream.mu.Unlock()
	return s.Stream, nil
}

// LastHandlers returns the handlers passed to the most recent StartStream
// call. Thread-safe.
func (s *Streamer) LastHandlers() stt.StreamHandlers {
	s.smu.Lock()
	defer s.smu.Unlock()
	if len(s.StartStreamCalls) == 0 {
		return stt.StreamHandlers{}
	}
	return s.StartStreamCalls[len(s.StartStreamCalls)-1].Handlers
}

// Stream is a mock implementation of stt.Stream.
type Stream struct {
	mu       sync.Mutex
	handlers stt.StreamHandlers

	// WriteErr, if non-nil, is returned by every Write call.
	WriteErr error

	// EndErr, if non-nil, is returned by End.
	EndErr error

	// Writes records a copy of every chunk passed to Write.
	Writes [][]byte

	// EndCount is the number of times End was called.
	EndCount int

	// AbortCount is the number of times Abort was called.
	AbortCount int
}

// Write records a copy of chunk and returns WriteErr.
func (s *Stream) Write(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.Writes = append(s.Writes, cp)
	return s.WriteErr
}

// End increments EndCount and returns EndErr.
func (s *Stream) End() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.EndCount++
	return s.EndErr
}

// Abort increments AbortCount.
func (s *Stream) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.AbortCount++
}

// EmitPartial invokes the OnPartial handler registered at StartStream.
func (s *Stream) EmitPartial(text string) {
	s.mu.Lock()
	h := s.handlers.OnPartial
	s.mu.Unlock()
	if h != nil {
		h(text)
	}
}

// Counts returns the number of writes, ends and aborts seen so far.
// Thread-safe.
func (s *Stream) Counts() (writes, ends, aborts int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Writes), s.EndCount, s.AbortCount
}

// Ensure the mocks implement the stt interfaces at compile time.
var (
	_ stt.Transcriber = (*Transcriber)(nil)
	_ stt.Transcriber = (*Streamer)(nil)
	_ stt.Streamer    = (*Streamer)(nil)
	_ stt.Stream      = (*Stream)(nil)
)
