// Package dictation implements the state machine that turns a live audio
// stream into final text.
//
// A [Pipeline] owns one recording session at a time:
//
//	idle ──StartRecording──▶ recording ──StopRecording──▶ processing ──▶ idle
//	                                                          │
//	                                                          └──(STT failure)──▶ error
//
// While recording, audio is resampled to the target rate, metered, buffered
// and forwarded to a live STT stream when the backend supports one. In
// hands-free mode the VAD ends the session after sustained silence. On stop
// the buffered audio is transcribed in one batch call, passed through the
// dictionary and snippet processors, optionally cleaned up by an LLM and
// emitted as a [Result].
//
// Cancel is the only transition that ignores the current state. It aborts
// in-flight work through the session context; results that arrive for a
// cancelled session are dropped.
package dictation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/dictoxa/internal/observe"
	"github.com/MrWong99/dictoxa/internal/textproc"
	"github.com/MrWong99/dictoxa/internal/vad"
	"github.com/MrWong99/dictoxa/pkg/audio"
	"github.com/MrWong99/dictoxa/pkg/provider/llm"
	"github.com/MrWong99/dictoxa/pkg/provider/stt"
)

// ErrBusy is returned by SetConfig while a session is in progress.
var ErrBusy = errors.New("dictation: session in progress")

// Session outcomes reported to metrics.
const (
	outcomeResult    = "result"
	outcomeEmpty     = "empty"
	outcomeCancelled = "cancelled"
	outcomeError     = "error"
)

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithTranscriber sets the STT backend. If t also implements [stt.Streamer],
// live partial transcripts are enabled.
func WithTranscriber(t stt.Transcriber) Option {
	return func(p *Pipeline) {
		p.transcriber = t
	}
}

// WithLLM sets the LLM backend used for cleanup and voice commands.
func WithLLM(l llm.Provider) Option {
	return func(p *Pipeline) {
		p.llm = l
	}
}

// WithVADOptions passes options to the hands-free VAD detector, e.g.
// vad.WithLoader or vad.WithClock.
func WithVADOptions(opts ...vad.Option) Option {
	return func(p *Pipeline) {
		p.vadOpts = append(p.vadOpts, opts...)
	}
}

// WithDictionary shares an existing dictionary processor.
func WithDictionary(d *textproc.Dictionary) Option {
	return func(p *Pipeline) {
		p.dict = d
	}
}

// WithSnippets shares an existing snippet processor.
func WithSnippets(s *textproc.Snippets) Option {
	return func(p *Pipeline) {
		p.snippets = s
	}
}

// WithPrompts replaces the LLM prompt set. Nil fields keep the defaults.
func WithPrompts(ps PromptSet) Option {
	return func(p *Pipeline) {
		if ps.Cleanup != nil {
			p.prompts.Cleanup = ps.Cleanup
		}
		if ps.Command != nil {
			p.prompts.Command = ps.Command
		}
	}
}

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// Pipeline sequences capture, STT, text processing and cleanup for one
// client. All methods are safe for concurrent use; ProcessAudio calls must
// still arrive in capture order.
type Pipeline struct {
	transcriber stt.Transcriber
	llm         llm.Provider
	prompts     PromptSet
	dict        *textproc.Dictionary
	snippets    *textproc.Snippets
	metrics     *observe.Metrics
	vadOpts     []vad.Option
	vad         *vad.Detector

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	cfg       Config
	resampler *audio.Resampler
	acc       *audio.Accumulator
	ring      *audio.RingBuffer
	events    Events
	state     State
	mode      Mode
	destroyed bool

	// Per-session fields, reset by StartRecording.
	sessionID     string
	sessionCtx    context.Context
	sessionCancel context.CancelFunc
	sessionOpen   bool
	stream        stt.Stream
	warnedLong    bool
}

// New creates an idle Pipeline. A pipeline without a transcriber can still
// run voice commands but StartRecording fails with ErrNoTranscriber.
func New(cfg Config, opts ...Option) *Pipeline {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		prompts: DefaultPrompts(),
		ctx:     ctx,
		cancel:  cancel,
		cfg:     cfg,
		acc:     audio.NewAccumulator(),
		state:   StateIdle,
		mode:    ModePushToTalk,
	}
	for _, o := range opts {
		o(p)
	}
	if p.dict == nil {
		p.dict = textproc.NewDictionary(nil)
	}
	if p.snippets == nil {
		p.snippets = textproc.NewSnippets(nil)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	p.resampler = audio.NewResampler(cfg.InputSampleRate, cfg.TargetSampleRate, cfg.InputChannels)
	p.ring = audio.NewRingBuffer(ringCapacity(cfg))
	p.vad = vad.New(cfg.VAD, p.vadOpts...)
	p.vad.SetHandlers(vad.Handlers{OnSpeechEnd: p.onSpeechEnd})
	return p
}

func ringCapacity(cfg Config) int {
	return int(cfg.RingSeconds*float64(cfg.TargetSampleRate)) * 2
}

// SetEvents replaces the event callbacks.
func (p *Pipeline) SetEvents(ev Events) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = ev
}

// SetConfig replaces the pipeline configuration. The resampler and ring
// buffer are rebuilt when the audio format changes. VAD settings are fixed
// at construction. Returns ErrBusy while recording or processing.
func (p *Pipeline) SetConfig(cfg Config) error {
	cfg.applyDefaults()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sessionOpen {
		return ErrBusy
	}
	old := p.cfg
	p.cfg = cfg
	if old.InputSampleRate != cfg.InputSampleRate || old.InputChannels != cfg.InputChannels ||
		old.TargetSampleRate != cfg.TargetSampleRate {
		p.resampler = audio.NewResampler(cfg.InputSampleRate, cfg.TargetSampleRate, cfg.InputChannels)
	}
	if ringCapacity(old) != ringCapacity(cfg) {
		p.ring = audio.NewRingBuffer(ringCapacity(cfg))
	}
	return nil
}

// SetInputFormat changes the format of the PCM passed to ProcessAudio and
// rebuilds the resampler. It may be called during a session.
func (p *Pipeline) SetInputFormat(sampleRate, channels int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	if channels <= 0 {
		channels = 1
	}
	if p.cfg.InputSampleRate == sampleRate && p.cfg.InputChannels == channels {
		return
	}
	p.cfg.InputSampleRate = sampleRate
	p.cfg.InputChannels = channels
	p.resampler = audio.NewResampler(sampleRate, p.cfg.TargetSampleRate, channels)
}

// Config returns the effective configuration.
func (p *Pipeline) Config() Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

// SetEntries reloads the dictionary.
func (p *Pipeline) SetEntries(entries []textproc.Entry) { p.dict.SetEntries(entries) }

// SetSnippets reloads the snippets.
func (p *Pipeline) SetSnippets(snippets []textproc.Snippet) { p.snippets.SetSnippets(snippets) }

// State returns the current state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Mode returns the mode of the current or last session.
func (p *Pipeline) Mode() Mode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode
}

// SessionID returns the id of the session in progress, or "" when idle.
func (p *Pipeline) SessionID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.sessionOpen {
		return ""
	}
	return p.sessionID
}

// Snapshot returns a copy of the most recent captured audio (16-bit mono at
// the target rate), at most RingSeconds long.
func (p *Pipeline) Snapshot() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ring.Read()
}

// StartRecording begins a session in the given mode. It is a no-op while a
// session is recording or processing.
func (p *Pipeline) StartRecording(ctx context.Context, mode Mode) error {
	if !mode.IsValid() {
		return fmt.Errorf("dictation: invalid mode %q", mode)
	}
	if p.transcriber == nil {
		return ErrNoTranscriber
	}

	if mode == ModeHandsFree {
		if err := p.vad.Init(ctx); err != nil {
			return ErrDestroyed
		}
	}

	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return ErrDestroyed
	}
	if p.sessionOpen {
		slog.Debug("dictation: start ignored, session in progress", "session_id", p.sessionID, "state", p.state)
		p.mu.Unlock()
		return nil
	}
	id := uuid.NewString()
	sessCtx, sessCancel := context.WithCancel(p.ctx)
	p.sessionID = id
	p.sessionCtx = sessCtx
	p.sessionCancel = sessCancel
	p.sessionOpen = true
	p.stream = nil
	p.warnedLong = false
	p.mode = mode
	p.acc.Clear()
	p.ring.Clear()
	cfg := p.cfg
	emit := p.transitionLocked(StateRecording)
	p.mu.Unlock()

	if mode == ModeHandsFree {
		p.vad.Reset()
	}
	p.metrics.RecordSessionStart(ctx, string(mode))
	slog.Info("dictation: recording started", "session_id", id, "mode", mode)
	emit()

	if streamer, ok := p.transcriber.(stt.Streamer); ok && mode != ModeCommand {
		p.openStream(sessCtx, streamer, id, cfg)
	}
	return nil
}

// openStream attaches a live STT stream to session id. Failure leaves the
// session in batch mode.
func (p *Pipeline) openStream(ctx context.Context, streamer stt.Streamer, id string, cfg Config) {
	h := stt.StreamHandlers{
		OnPartial: func(text string) { p.emitPartial(id, text) },
		OnError: func(err error) {
			slog.Warn("dictation: live stream failed, continuing in batch mode", "session_id", id, "err", err)
			p.mu.Lock()
			s := p.stream
			p.mu.Unlock()
			p.dropStream(id, s)
		},
	}
	s, err := streamer.StartStream(ctx, p.sttConfig(cfg), h)
	if err != nil {
		slog.Warn("dictation: live stream unavailable, using batch transcription", "session_id", id, "err", err)
		return
	}

	p.mu.Lock()
	if !p.sessionOpen || p.sessionID != id || p.state != StateRecording {
		p.mu.Unlock()
		s.Abort()
		return
	}
	p.stream = s
	p.mu.Unlock()
	slog.Debug("dictation: live stream opened", "session_id", id)
}

// dropStream detaches s from session id and aborts it.
func (p *Pipeline) dropStream(id string, s stt.Stream) {
	if s == nil {
		return
	}
	p.mu.Lock()
	if p.sessionID == id && p.stream == s {
		p.stream = nil
	}
	p.mu.Unlock()
	s.Abort()
}

func (p *Pipeline) sttConfig(cfg Config) stt.Config {
	return stt.Config{
		Model:      cfg.STTModel,
		Language:   cfg.Language,
		SampleRate: cfg.TargetSampleRate,
		Channels:   1,
		Prompt:     cfg.Prompt,
		Keywords:   cfg.Keywords,
	}
}

// ProcessAudio feeds one chunk of little-endian 16-bit PCM in the input
// format. Chunks outside a recording session are ignored.
func (p *Pipeline) ProcessAudio(chunk []byte) {
	p.mu.Lock()
	if p.state != StateRecording {
		p.mu.Unlock()
		return
	}
	pcm := p.resampler.Resample(chunk)
	level := audio.Level(pcm)
	p.acc.Write(pcm)
	p.ring.Write(pcm)
	if limit := p.cfg.MaxSessionDuration; limit > 0 && !p.warnedLong {
		if p.acc.DurationSeconds(p.cfg.TargetSampleRate, 2, 1) > limit.Seconds() {
			p.warnedLong = true
			slog.Warn("dictation: session exceeds maximum duration, audio keeps accumulating",
				"session_id", p.sessionID,
				"max", limit,
			)
		}
	}
	id := p.sessionID
	stream := p.stream
	handsFree := p.mode == ModeHandsFree
	onLevel := p.events.OnAudioLevel
	p.mu.Unlock()

	if onLevel != nil {
		onLevel(level)
	}
	if stream != nil {
		if err := stream.Write(pcm); err != nil {
			slog.Warn("dictation: live stream write failed, continuing in batch mode", "session_id", id, "err", err)
			p.dropStream(id, stream)
		}
	}
	if handsFree {
		p.vad.Process(audio.PCMToFloat32(pcm))
	}
}

// ProcessFloat32 converts normalised samples to 16-bit PCM and calls
// ProcessAudio.
func (p *Pipeline) ProcessFloat32(samples []float32) {
	p.ProcessAudio(audio.Int16ToBytes(audio.Float32ToInt16(samples)))
}

// StopRecording ends the current session and returns its result. It returns
// nil, nil when not recording, when no audio or no speech was captured, and
// when the session is cancelled while processing. An STT failure leaves the
// pipeline in StateError and is returned as a *TranscriptionError.
func (p *Pipeline) StopRecording(ctx context.Context) (*Result, error) {
	return p.stop(ctx, "")
}

// stop ends the session; a non-empty want restricts it to that session.
func (p *Pipeline) stop(ctx context.Context, want string) (*Result, error) {
	stoppedAt := time.Now()

	p.mu.Lock()
	if p.state != StateRecording || (want != "" && p.sessionID != want) {
		p.mu.Unlock()
		return nil, nil
	}
	id, mode, cfg := p.sessionID, p.mode, p.cfg
	sessCtx := p.sessionCtx
	stream := p.stream
	p.stream = nil
	pcm := p.acc.Drain()
	p.ring.Clear()
	emit := p.transitionLocked(StateProcessing)
	p.mu.Unlock()
	emit()

	if stream != nil {
		if err := stream.End(); err != nil {
			slog.Warn("dictation: closing live stream", "session_id", id, "err", err)
		}
	}
	if mode == ModeHandsFree {
		p.vad.Reset()
	}

	if len(pcm) == 0 {
		slog.Debug("dictation: no audio captured", "session_id", id)
		p.finish(id, StateIdle, outcomeEmpty)
		return nil, nil
	}

	ctx = observe.WithSessionID(ctx, id)
	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer context.AfterFunc(sessCtx, cancel)()

	audioLen := time.Duration(len(pcm)/2) * time.Second / time.Duration(cfg.TargetSampleRate)
	observe.RecordStage(ctx, p.metrics.AudioDuration, audioLen, observe.Attr("mode", string(mode)))

	res, sttTime, err := p.transcribe(callCtx, pcm, cfg)
	if sessCtx.Err() != nil || !p.current(id) {
		slog.Debug("dictation: discarding transcription of cancelled session", "session_id", id)
		return nil, nil
	}
	if err != nil {
		terr := &TranscriptionError{SessionID: id, Err: err}
		if !p.finish(id, StateError, outcomeError) {
			return nil, nil
		}
		observe.Logger(ctx).Error("dictation: transcription failed", "err", err)
		p.emitError(terr)
		return nil, terr
	}

	raw := strings.TrimSpace(res.Text)
	if raw == "" {
		slog.Debug("dictation: empty transcription", "session_id", id)
		p.finish(id, StateIdle, outcomeEmpty)
		return nil, nil
	}

	corrected := p.dict.Apply(raw)
	matches := p.snippets.FindMatches(corrected)
	text := p.snippets.Expand(corrected)

	var llmTime time.Duration
	if cfg.Cleanup && p.llm != nil {
		var cleaned string
		cleaned, llmTime, err = p.cleanup(callCtx, text, cfg)
		if sessCtx.Err() != nil || !p.current(id) {
			slog.Debug("dictation: discarding cleanup of cancelled session", "session_id", id)
			return nil, nil
		}
		switch {
		case err != nil:
			p.metrics.CleanupFailures.Add(ctx, 1)
			observe.Logger(ctx).Warn("dictation: cleanup failed, keeping uncleaned text", "err", err)
		case cleaned != "":
			text = cleaned
		}
	}

	lang := res.Language
	if lang == "" {
		lang = cfg.Language
	}
	dur := res.Duration
	if dur <= 0 {
		dur = audioLen
	}
	result := &Result{
		SessionID:  id,
		Text:       text,
		RawText:    raw,
		Language:   lang,
		Confidence: res.Confidence,
		Mode:       mode,
		Snippets:   matches,
		Duration:   dur,
		STTTime:    sttTime,
		LLMTime:    llmTime,
		TotalTime:  time.Since(stoppedAt),
	}

	if !p.finish(id, StateIdle, outcomeResult) {
		return nil, nil
	}
	observe.RecordStage(ctx, p.metrics.PipelineDuration, result.TotalTime, observe.Attr("mode", string(mode)))
	slog.Info("dictation: result",
		"session_id", id,
		"mode", mode,
		"chars", len(result.Text),
		"stt_ms", sttTime.Milliseconds(),
		"llm_ms", llmTime.Milliseconds(),
	)

	p.mu.Lock()
	onResult := p.events.OnResult
	p.mu.Unlock()
	if onResult != nil {
		onResult(result)
	}
	return result, nil
}

// transcribe runs the batch STT call for pcm.
func (p *Pipeline) transcribe(ctx context.Context, pcm []byte, cfg Config) (*stt.Result, time.Duration, error) {
	ctx, span := observe.StartSpan(ctx, "dictation.transcribe",
		trace.WithAttributes(attribute.Int("audio_bytes", len(pcm))),
	)
	defer span.End()

	wav := audio.CreateWAVHeader(pcm, cfg.TargetSampleRate, 16, 1)
	start := time.Now()
	res, err := p.transcriber.Transcribe(ctx, wav, stt.FormatWAV, p.sttConfig(cfg))
	elapsed := time.Since(start)
	observe.RecordStage(ctx, p.metrics.STTDuration, elapsed)
	if err == nil && res == nil {
		res = &stt.Result{}
	}
	if err != nil {
		observe.FailSpan(span, err, "transcription failed")
	}
	return res, elapsed, err
}

// cleanup asks the LLM to tidy text. The elapsed time is reported even on
// failure.
func (p *Pipeline) cleanup(ctx context.Context, text string, cfg Config) (string, time.Duration, error) {
	ctx, span := observe.StartSpan(ctx, "dictation.cleanup",
		trace.WithAttributes(attribute.String("formality", string(cfg.Formality))),
	)
	defer span.End()

	start := time.Now()
	resp, err := p.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: p.prompts.Cleanup(cfg.Formality),
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: text}},
		Model:        cfg.LLMModel,
	})
	elapsed := time.Since(start)
	observe.RecordStage(ctx, p.metrics.LLMDuration, elapsed, observe.Attr("purpose", "cleanup"))
	if err != nil {
		observe.FailSpan(span, err, "cleanup failed")
		return "", elapsed, fmt.Errorf("dictation: cleanup: %w", err)
	}
	if resp == nil {
		return "", elapsed, nil
	}
	return strings.TrimSpace(resp.Content), elapsed, nil
}

// ExecuteCommand transforms selected according to the spoken command using
// the LLM. An empty LLM reply returns selected unchanged. The state machine
// reports processing for the duration of the call unless a dictation
// session is in progress.
func (p *Pipeline) ExecuteCommand(ctx context.Context, selected, command string) (string, error) {
	if p.llm == nil {
		return "", ErrNoLLM
	}

	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return "", ErrDestroyed
	}
	track := !p.sessionOpen
	emit := func() {}
	if track {
		emit = p.transitionLocked(StateProcessing)
	}
	model := p.cfg.LLMModel
	p.mu.Unlock()
	emit()

	ctx, span := observe.StartSpan(ctx, "dictation.command")
	defer span.End()

	start := time.Now()
	resp, err := p.llm.Complete(ctx, llm.CompletionRequest{
		Messages: p.prompts.Command(selected, command),
		Model:    model,
	})
	observe.RecordStage(ctx, p.metrics.LLMDuration, time.Since(start), observe.Attr("purpose", "command"))
	if err != nil {
		observe.FailSpan(span, err, "command failed")
		err = fmt.Errorf("dictation: command: %w", err)
		if track {
			p.settle(StateError)
		}
		p.emitError(err)
		return "", err
	}
	if track {
		p.settle(StateIdle)
	}

	var out string
	if resp != nil {
		out = strings.TrimSpace(resp.Content)
	}
	if out == "" {
		return selected, nil
	}
	return out, nil
}

// Cancel aborts the current session regardless of state: in-flight STT and
// LLM calls are cancelled, the live stream is aborted, buffers are cleared
// and the state is forced to idle.
func (p *Pipeline) Cancel() {
	p.mu.Lock()
	if p.sessionCancel != nil {
		p.sessionCancel()
		p.sessionCancel = nil
	}
	stream := p.stream
	p.stream = nil
	p.acc.Clear()
	p.ring.Clear()
	mode := p.mode
	wasOpen := p.sessionOpen
	if wasOpen {
		slog.Info("dictation: session cancelled", "session_id", p.sessionID)
	}
	p.sessionOpen = false
	emit := p.transitionLocked(StateIdle)
	p.mu.Unlock()

	if stream != nil {
		stream.Abort()
	}
	p.vad.Reset()
	if wasOpen {
		p.metrics.RecordSessionEnd(context.Background(), string(mode), outcomeCancelled)
	}
	emit()
}

// Destroy cancels any session, releases the VAD and detaches all event
// callbacks. The pipeline cannot be used afterwards.
func (p *Pipeline) Destroy() {
	p.Cancel()
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	p.destroyed = true
	p.events = Events{}
	p.mu.Unlock()
	p.vad.Destroy()
	p.cancel()
}

// onSpeechEnd runs on the VAD timer goroutine. Stopping happens on a new
// goroutine so the detector is free while STT runs.
func (p *Pipeline) onSpeechEnd(ev vad.SpeechEnd) {
	p.mu.Lock()
	id := p.sessionID
	ok := p.state == StateRecording && p.mode == ModeHandsFree
	p.mu.Unlock()
	if !ok {
		return
	}
	slog.Debug("dictation: silence detected, stopping", "session_id", id, "speech", ev.Duration)
	go func() {
		if _, err := p.stop(p.ctx, id); err != nil {
			slog.Debug("dictation: hands-free stop failed", "session_id", id, "err", err)
		}
	}()
}

// current reports whether session id is still processing.
func (p *Pipeline) current(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessionOpen && p.sessionID == id && p.state == StateProcessing
}

// finish closes session id with the given final state. It reports false
// when the session is no longer current.
func (p *Pipeline) finish(id string, s State, outcome string) bool {
	p.mu.Lock()
	if !p.sessionOpen || p.sessionID != id || p.state != StateProcessing {
		p.mu.Unlock()
		return false
	}
	p.sessionOpen = false
	p.sessionCancel()
	p.sessionCancel = nil
	mode := p.mode
	emit := p.transitionLocked(s)
	p.mu.Unlock()

	p.metrics.RecordSessionEnd(context.Background(), string(mode), outcome)
	emit()
	return true
}

// settle sets the state after a voice command.
func (p *Pipeline) settle(s State) {
	p.mu.Lock()
	if p.sessionOpen {
		p.mu.Unlock()
		return
	}
	emit := p.transitionLocked(s)
	p.mu.Unlock()
	emit()
}

// transitionLocked sets the state and returns a func that emits the change.
// The returned func must be called after p.mu is released.
func (p *Pipeline) transitionLocked(s State) func() {
	if p.state == s {
		return func() {}
	}
	slog.Debug("dictation: state change", "from", p.state, "to", s, "session_id", p.sessionID)
	p.state = s
	cb := p.events.OnStateChange
	if cb == nil {
		return func() {}
	}
	return func() { cb(s) }
}

func (p *Pipeline) emitPartial(id, text string) {
	p.mu.Lock()
	ok := p.sessionOpen && p.sessionID == id
	cb := p.events.OnPartialTranscript
	p.mu.Unlock()
	if ok && cb != nil {
		cb(text)
	}
}

func (p *Pipeline) emitError(err error) {
	p.mu.Lock()
	cb := p.events.OnError
	p.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}
