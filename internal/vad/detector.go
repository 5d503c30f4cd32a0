// Package vad implements the voice-activity detector that ends hands-free
// dictation after sustained silence.
//
// Every frame gets a speech probability, either from an injected neural model
// ([ModelBacked]) or from frame RMS energy ([EnergyBased]). The variant is
// chosen once by [Detector.Init]; a model that fails to load downgrades the
// detector to [EnergyBased] with a warning instead of failing.
//
// Transitions are debounced. Speech must last at least MinSpeechDuration
// before OnSpeechStart fires, and an utterance ends only after
// SilenceDuration of uninterrupted silence. Any speech frame during the
// silence window cancels it. A burst too short to start still ends with
// OnSpeechEnd, so hands-free sessions stop after a cough and silence. Timers run on their own goroutines, so Detector
// guards its state with a mutex and invokes handlers without holding it.
package vad

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/MrWong99/dictoxa/pkg/audio"
	provider "github.com/MrWong99/dictoxa/pkg/provider/vad"
)

// Defaults applied by New to zero-valued Config fields.
const (
	DefaultThreshold         = 0.5
	DefaultMinSpeechDuration = 250 * time.Millisecond
	DefaultSilenceDuration   = 1500 * time.Millisecond
	DefaultSampleRate        = 16000
	DefaultFrameSamples      = 512
)

// Energy normalisation: rms at or below energyFloor maps to 0, rms at
// energyFloor+energySpan or above maps to 1.
const (
	energyFloor = 0.005
	energySpan  = 0.05
)

// Kind identifies how a Detector scores frames.
type Kind int

const (
	// EnergyBased scores frames by normalised RMS energy.
	EnergyBased Kind = iota
	// ModelBacked scores frames with an injected provider.Model.
	ModelBacked
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case ModelBacked:
		return "model"
	default:
		return "energy"
	}
}

// Config holds detector parameters.
type Config struct {
	// Threshold is the probability at or above which a frame is speech.
	Threshold float64
	// MinSpeechDuration is the debounce before OnSpeechStart fires.
	MinSpeechDuration time.Duration
	// SilenceDuration is the uninterrupted silence that ends an utterance.
	SilenceDuration time.Duration
	// SampleRate of the samples passed to Process.
	SampleRate int
	// FrameSamples is the analysis frame size in samples.
	FrameSamples int
}

func (c *Config) applyDefaults() {
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.MinSpeechDuration <= 0 {
		c.MinSpeechDuration = DefaultMinSpeechDuration
	}
	if c.SilenceDuration <= 0 {
		c.SilenceDuration = DefaultSilenceDuration
	}
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.FrameSamples <= 0 {
		c.FrameSamples = DefaultFrameSamples
	}
}

// Frame is the raw per-frame classification.
type Frame struct {
	IsSpeech    bool
	Probability float64
	Timestamp   time.Time
}

// SpeechEnd describes a completed utterance.
type SpeechEnd struct {
	Start    time.Time
	Duration time.Duration
}

// Handlers receives detector events. Any field may be nil.
type Handlers struct {
	OnSpeechStart func(at time.Time)
	OnSpeechEnd   func(ev SpeechEnd)
	OnFrame       func(f Frame)
}

// Option configures a Detector.
type Option func(*Detector)

// WithLoader sets the model loader used by Init. Without a loader the
// detector is EnergyBased.
func WithLoader(l provider.Loader) Option {
	return func(d *Detector) {
		d.loader = l
	}
}

// WithClock replaces the system clock.
func WithClock(c Clock) Option {
	return func(d *Detector) {
		d.clock = c
	}
}

// Detector is a debounced speech/silence state machine. It is safe for
// concurrent use, although frames are expected from a single producer.
type Detector struct {
	cfg    Config
	loader provider.Loader
	clock  Clock

	mu          sync.Mutex
	kind        Kind
	model       provider.Model
	initialised bool
	destroyed   bool
	handlers    Handlers

	speaking    bool
	started     bool // OnSpeechStart emitted for the current utterance
	speechStart time.Time
	lastSpeech  time.Time

	silenceTimer Timer
	startTimer   Timer
	// gen invalidates timer callbacks scheduled before the last
	// cancel/reset.
	gen uint64
	// silenceSeq identifies the current silence window; a callback from a
	// window that speech already interrupted must not end the utterance.
	silenceSeq uint64

	carry      []float32
	modelErred bool
}

// New returns an uninitialised Detector. Call Init before Process.
func New(cfg Config, opts ...Option) *Detector {
	cfg.applyDefaults()
	d := &Detector{cfg: cfg, clock: SystemClock{}, kind: EnergyBased}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Config returns the effective configuration.
func (d *Detector) Config() Config { return d.cfg }

// Kind reports the active scoring variant.
func (d *Detector) Kind() Kind {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.kind
}

// SetHandlers replaces the event handlers.
func (d *Detector) SetHandlers(h Handlers) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = h
}

// Init selects the detector variant. With a loader it tries to load the
// model; a load failure is logged and the detector stays EnergyBased. Init
// is idempotent and never returns a load error; it only fails for a
// destroyed detector.
func (d *Detector) Init(ctx context.Context) error {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return fmt.Errorf("vad: detector destroyed")
	}
	if d.initialised {
		d.mu.Unlock()
		return nil
	}
	loader := d.loader
	d.mu.Unlock()

	var model provider.Model
	if loader != nil {
		m, err := loader.Load(ctx, provider.Config{SampleRate: d.cfg.SampleRate, FrameSamples: d.cfg.FrameSamples})
		if err != nil {
			slog.Warn("vad: model load failed, falling back to energy detection", "err", err)
		} else {
			model = m
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.initialised || d.destroyed {
		// Lost a race with another Init or Destroy.
		if model != nil {
			_ = model.Close()
		}
		return nil
	}
	d.initialised = true
	if model != nil {
		d.model = model
		d.kind = ModelBacked
	}
	slog.Debug("vad: initialised", "kind", d.kind, "frame_samples", d.cfg.FrameSamples)
	return nil
}

// ProcessPCM converts little-endian 16-bit mono PCM and calls Process.
func (d *Detector) ProcessPCM(pcm []byte) {
	d.Process(audio.PCMToFloat32(pcm))
}

// Process feeds mono samples in [-1, 1]. Input is cut into FrameSamples
// frames; a trailing partial frame is kept and completed by the next call.
func (d *Detector) Process(samples []float32) {
	n := d.cfg.FrameSamples

	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return
	}
	buf := append(d.carry, samples...)
	full := len(buf) / n * n
	d.carry = append([]float32(nil), buf[full:]...)
	d.mu.Unlock()

	for off := 0; off < full; off += n {
		d.processFrame(buf[off : off+n])
	}
}

// processFrame classifies one frame and advances the state machine.
func (d *Detector) processFrame(frame []float32) {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return
	}
	p := d.probability(frame)
	now := d.clock.Now()
	isSpeech := p >= d.cfg.Threshold

	var emitStart bool
	if isSpeech {
		d.lastSpeech = now
		if !d.speaking {
			d.speaking = true
			d.started = false
			d.speechStart = now
			d.cancelTimersLocked()
			gen := d.gen
			d.startTimer = d.clock.AfterFunc(d.cfg.MinSpeechDuration, func() { d.debounceFired(gen) })
		} else {
			if d.silenceTimer != nil {
				d.silenceTimer.Stop()
				d.silenceTimer = nil
				d.silenceSeq++
			}
			emitStart = d.confirmStartLocked(now)
		}
	} else if d.speaking && d.silenceTimer == nil {
		d.silenceSeq++
		gen, seq := d.gen, d.silenceSeq
		d.silenceTimer = d.clock.AfterFunc(d.cfg.SilenceDuration, func() { d.silenceFired(gen, seq) })
	}
	h := d.handlers
	start := d.speechStart
	d.mu.Unlock()

	if h.OnFrame != nil {
		h.OnFrame(Frame{IsSpeech: isSpeech, Probability: p, Timestamp: now})
	}
	if emitStart && h.OnSpeechStart != nil {
		h.OnSpeechStart(start)
	}
}

// probability scores a frame. Caller holds d.mu.
func (d *Detector) probability(frame []float32) float64 {
	if d.kind == ModelBacked && d.model != nil {
		p, err := d.model.Probability(frame)
		if err == nil {
			return max(0, min(1, p))
		}
		if !d.modelErred {
			d.modelErred = true
			slog.Warn("vad: model inference failed, scoring frame by energy", "err", err)
		}
	}
	return EnergyProbability(frame)
}

// confirmStartLocked marks the utterance as started once speech is ongoing
// (no silence window pending) and has lasted MinSpeechDuration. It reports
// whether OnSpeechStart should be emitted.
func (d *Detector) confirmStartLocked(now time.Time) bool {
	if !d.speaking || d.started || d.silenceTimer != nil {
		return false
	}
	if now.Sub(d.speechStart) < d.cfg.MinSpeechDuration {
		return false
	}
	d.started = true
	return true
}

func (d *Detector) debounceFired(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || d.destroyed {
		d.mu.Unlock()
		return
	}
	d.startTimer = nil
	emit := d.confirmStartLocked(d.clock.Now())
	h := d.handlers.OnSpeechStart
	start := d.speechStart
	d.mu.Unlock()

	if emit && h != nil {
		h(start)
	}
}

func (d *Detector) silenceFired(gen, seq uint64) {
	d.mu.Lock()
	if gen != d.gen || seq != d.silenceSeq || d.destroyed || d.silenceTimer == nil {
		d.mu.Unlock()
		return
	}
	now := d.clock.Now()
	ev := SpeechEnd{Start: d.speechStart, Duration: now.Sub(d.speechStart)}
	wasStarted := d.started
	d.speaking = false
	d.started = false
	d.silenceTimer = nil
	if d.startTimer != nil {
		d.startTimer.Stop()
		d.startTimer = nil
	}
	d.gen++
	h := d.handlers.OnSpeechEnd
	d.mu.Unlock()

	if !wasStarted {
		slog.Debug("vad: speech burst ended before reaching minimum duration", "duration", ev.Duration)
	}
	if h != nil {
		h(ev)
	}
}

// cancelTimersLocked stops pending timers and invalidates their callbacks.
func (d *Detector) cancelTimersLocked() {
	if d.silenceTimer != nil {
		d.silenceTimer.Stop()
		d.silenceTimer = nil
	}
	if d.startTimer != nil {
		d.startTimer.Stop()
		d.startTimer = nil
	}
	d.gen++
}

// IsSpeaking reports whether the detector is inside an utterance.
func (d *Detector) IsSpeaking() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.speaking
}

// Reset clears timers, flags and buffered samples without releasing the
// model.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelTimersLocked()
	d.speaking = false
	d.started = false
	d.speechStart = time.Time{}
	d.lastSpeech = time.Time{}
	d.carry = nil
	if d.model != nil {
		d.model.Reset()
	}
}

// Destroy resets the detector, closes the model and detaches handlers. The
// detector ignores all input afterwards.
func (d *Detector) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return
	}
	d.cancelTimersLocked()
	d.speaking = false
	d.started = false
	d.carry = nil
	d.handlers = Handlers{}
	if d.model != nil {
		if err := d.model.Close(); err != nil {
			slog.Warn("vad: closing model", "err", err)
		}
		d.model = nil
	}
	d.kind = EnergyBased
	d.destroyed = true
}

// EnergyProbability maps the RMS of a frame to a speech probability:
// clamp((rms - 0.005) / 0.05, 0, 1).
func EnergyProbability(frame []float32) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(frame)))
	return max(0, min(1, (rms-energyFloor)/energySpan))
}
