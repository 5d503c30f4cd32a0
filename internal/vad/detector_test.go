package vad_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/dictoxa/internal/vad"
	"github.com/MrWong99/dictoxa/pkg/provider/vad/mock"
)

// fakeClock is a manually advanced Clock. Timers fire synchronously inside
// Advance, in deadline order.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	c       *fakeClock
	at      time.Time
	f       func()
	stopped bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) vad.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{c: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

// Advance moves time forward by d, firing due timers.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		sort.SliceStable(c.timers, func(i, j int) bool { return c.timers[i].at.Before(c.timers[j].at) })
		var due *fakeTimer
		for i, t := range c.timers {
			if t.stopped {
				continue
			}
			if !t.at.After(target) {
				due = t
				t.stopped = true
				c.timers = append(c.timers[:i], c.timers[i+1:]...)
			}
			break
		}
		if due == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		c.now = due.at
		c.mu.Unlock()
		due.f()
	}
}

// cancelled returns the callbacks of timers stopped before they fired.
func (c *fakeClock) cancelled() []func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []func()
	for _, t := range c.timers {
		if t.stopped {
			out = append(out, t.f)
		}
	}
	return out
}

// recorder collects detector events.
type recorder struct {
	mu     sync.Mutex
	starts []time.Time
	ends   []vad.SpeechEnd
	frames []vad.Frame
}

func (r *recorder) handlers() vad.Handlers {
	return vad.Handlers{
		OnSpeechStart: func(at time.Time) { r.mu.Lock(); r.starts = append(r.starts, at); r.mu.Unlock() },
		OnSpeechEnd:   func(ev vad.SpeechEnd) { r.mu.Lock(); r.ends = append(r.ends, ev); r.mu.Unlock() },
		OnFrame:       func(f vad.Frame) { r.mu.Lock(); r.frames = append(r.frames, f); r.mu.Unlock() },
	}
}

func (r *recorder) counts() (starts, ends, frames int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.starts), len(r.ends), len(r.frames)
}

const (
	frameSamples = 160 // 10 ms at 16 kHz
	frameDur     = 10 * time.Millisecond
)

// newScripted returns an initialised ModelBacked detector whose model returns
// the probability set via model.SetDefault.
func newScripted(t *testing.T) (*vad.Detector, *mock.Model, *fakeClock, *recorder) {
	t.Helper()
	clk := newFakeClock()
	model := &mock.Model{}
	d := vad.New(vad.Config{SampleRate: 16000, FrameSamples: frameSamples},
		vad.WithLoader(&mock.Loader{Model: model}),
		vad.WithClock(clk),
	)
	if err := d.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	rec := &recorder{}
	d.SetHandlers(rec.handlers())
	return d, model, clk, rec
}

// feed sends n frames with probability p, advancing the clock one frame
// duration after each.
func feed(d *vad.Detector, m *mock.Model, clk *fakeClock, p float64, n int) {
	m.SetDefault(p)
	for range n {
		d.Process(make([]float32, frameSamples))
		clk.Advance(frameDur)
	}
}

func TestDetector_ShortBlipEndsWithoutStart(t *testing.T) {
	t.Parallel()
	d, m, clk, rec := newScripted(t)

	feed(d, m, clk, 0.9, 20) // 200 ms < 250 ms
	feed(d, m, clk, 0.1, 300)

	starts, ends, frames := rec.counts()
	if starts != 0 {
		t.Errorf("speechStart emitted %d times for a sub-minimum blip", starts)
	}
	if ends != 1 {
		t.Fatalf("speechEnd emitted %d times, want 1 once the silence window elapsed", ends)
	}
	if frames != 320 {
		t.Errorf("frame events = %d, want 320", frames)
	}
	rec.mu.Lock()
	dur := rec.ends[0].Duration
	rec.mu.Unlock()
	// 200 ms of speech plus the full 1500 ms silence window.
	if dur < 1700*time.Millisecond || dur > 1720*time.Millisecond {
		t.Errorf("duration = %s, want ~1.7s", dur)
	}
	if d.IsSpeaking() {
		t.Error("detector still speaking after long silence")
	}
}

func TestDetector_StartThenEnd(t *testing.T) {
	t.Parallel()
	d, m, clk, rec := newScripted(t)

	begin := clk.Now()
	feed(d, m, clk, 0.9, 100) // 1 s of speech
	feed(d, m, clk, 0.1, 200) // 2 s of silence

	starts, ends, _ := rec.counts()
	if starts != 1 || ends != 1 {
		t.Fatalf("starts=%d ends=%d, want 1 and 1", starts, ends)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if !rec.starts[0].Equal(begin) {
		t.Errorf("speech start = %v, want %v", rec.starts[0], begin)
	}
	// Speech 0..1s, the silence timer starts at the first silent frame (1s)
	// and fires 1.5 s later.
	want := 2500 * time.Millisecond
	if diff := rec.ends[0].Duration - want; diff < -frameDur || diff > frameDur {
		t.Errorf("duration = %v, want ~%v", rec.ends[0].Duration, want)
	}
}

func TestDetector_SpeechCancelsSilenceWindow(t *testing.T) {
	t.Parallel()
	d, m, clk, rec := newScripted(t)

	feed(d, m, clk, 0.9, 50)  // 500 ms speech
	feed(d, m, clk, 0.1, 100) // 1 s pause, below SilenceDuration
	feed(d, m, clk, 0.9, 50)  // speech resumes
	if _, ends, _ := rec.counts(); ends != 0 {
		t.Fatalf("speechEnd fired during a pause shorter than SilenceDuration")
	}
	feed(d, m, clk, 0.1, 160)

	starts, ends, _ := rec.counts()
	if starts != 1 || ends != 1 {
		t.Errorf("starts=%d ends=%d, want exactly one of each", starts, ends)
	}
}

func TestDetector_StartAfterInterruptedDebounce(t *testing.T) {
	t.Parallel()
	d, m, clk, rec := newScripted(t)

	feed(d, m, clk, 0.9, 20) // 200 ms
	feed(d, m, clk, 0.1, 10) // debounce fires during the pause
	feed(d, m, clk, 0.9, 10) // speech resumes past the minimum

	if starts, _, _ := rec.counts(); starts != 1 {
		t.Errorf("starts = %d, want 1 once speech resumes past the minimum", starts)
	}
}

func TestDetector_FrameSplittingCarriesRemainder(t *testing.T) {
	t.Parallel()
	d, m, _, rec := newScripted(t)

	d.Process(make([]float32, frameSamples+frameSamples/2))
	d.Process(make([]float32, frameSamples/2))
	d.Process(make([]float32, 10))

	if _, _, frames := rec.counts(); frames != 2 {
		t.Errorf("frames = %d, want 2", frames)
	}
	for _, n := range m.FrameLengths() {
		if n != frameSamples {
			t.Errorf("model scored frame of %d samples, want %d", n, frameSamples)
		}
	}
}

func TestDetector_ResetCancelsPendingEnd(t *testing.T) {
	t.Parallel()
	d, m, clk, rec := newScripted(t)

	feed(d, m, clk, 0.9, 50)
	feed(d, m, clk, 0.1, 10) // silence window pending
	d.Reset()
	clk.Advance(5 * time.Second)

	if _, ends, _ := rec.counts(); ends != 0 {
		t.Errorf("speechEnd fired after Reset")
	}
	if d.IsSpeaking() {
		t.Error("IsSpeaking after Reset")
	}
	if _, resets, _ := m.Counts(); resets != 1 {
		t.Errorf("model resets = %d, want 1", resets)
	}
}

func TestDetector_DestroyClosesModelAndIgnoresInput(t *testing.T) {
	t.Parallel()
	d, m, clk, rec := newScripted(t)

	d.Destroy()
	d.Destroy()
	feed(d, m, clk, 0.9, 50)

	if _, _, frames := rec.counts(); frames != 0 {
		t.Errorf("frames processed after Destroy: %d", frames)
	}
	if _, _, closes := m.Counts(); closes != 1 {
		t.Errorf("model closes = %d, want 1", closes)
	}
	if d.Kind() != vad.EnergyBased {
		t.Error("destroyed detector should report EnergyBased")
	}
	if err := d.Init(context.Background()); err == nil {
		t.Error("Init after Destroy should fail")
	}
}

func TestDetector_LoadFailureFallsBackToEnergy(t *testing.T) {
	t.Parallel()

	loader := &mock.Loader{LoadErr: errors.New("no onnx runtime")}
	d := vad.New(vad.Config{}, vad.WithLoader(loader), vad.WithClock(newFakeClock()))
	if err := d.Init(context.Background()); err != nil {
		t.Fatalf("Init must not fail on load error: %v", err)
	}
	if d.Kind() != vad.EnergyBased {
		t.Errorf("Kind = %v, want energy", d.Kind())
	}
	if len(loader.LoadCalls) != 1 || loader.LoadCalls[0].FrameSamples != vad.DefaultFrameSamples {
		t.Errorf("unexpected load calls %+v", loader.LoadCalls)
	}
}

func TestDetector_ModelErrorScoresByEnergy(t *testing.T) {
	t.Parallel()
	d, m, _, rec := newScripted(t)
	m.SetErr(errors.New("inference failed"))

	loud := make([]float32, frameSamples)
	for i := range loud {
		loud[i] = 0.5
	}
	d.Process(loud)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.frames) != 1 || !rec.frames[0].IsSpeech || rec.frames[0].Probability != 1 {
		t.Errorf("frames = %+v, want one speech frame with p=1", rec.frames)
	}
}

func TestDetector_EnergyBasedEndToEnd(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	d := vad.New(vad.Config{FrameSamples: frameSamples, SilenceDuration: 300 * time.Millisecond}, vad.WithClock(clk))
	_ = d.Init(context.Background())
	if d.Kind() != vad.EnergyBased {
		t.Fatalf("Kind = %v, want energy without loader", d.Kind())
	}
	rec := &recorder{}
	d.SetHandlers(rec.handlers())

	loud := make([]float32, frameSamples)
	for i := range loud {
		if i%2 == 0 {
			loud[i] = 0.2
		} else {
			loud[i] = -0.2
		}
	}
	for range 40 {
		d.Process(loud)
		clk.Advance(frameDur)
	}
	for range 40 {
		d.Process(make([]float32, frameSamples))
		clk.Advance(frameDur)
	}
	starts, ends, _ := rec.counts()
	if starts != 1 || ends != 1 {
		t.Errorf("starts=%d ends=%d, want 1 and 1", starts, ends)
	}
}

func TestEnergyProbability(t *testing.T) {
	t.Parallel()

	constant := func(v float32) []float32 {
		f := make([]float32, 100)
		for i := range f {
			f[i] = v
		}
		return f
	}
	tests := []struct {
		name  string
		frame []float32
		want  float64
	}{
		{"empty", nil, 0},
		{"silence", constant(0), 0},
		{"below floor", constant(0.004), 0},
		{"mid", constant(0.03), 0.5},
		{"saturated", constant(0.5), 1},
	}
	for _, tt := range tests {
		got := vad.EnergyProbability(tt.frame)
		if diff := got - tt.want; diff < -1e-6 || diff > 1e-6 {
			t.Errorf("%s: EnergyProbability = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestDetector_LateCallbackFromInterruptedSilence(t *testing.T) {
	t.Parallel()
	d, m, clk, rec := newScripted(t)

	feed(d, m, clk, 0.9, 30) // started
	feed(d, m, clk, 0.1, 5)  // first silence window opens
	feed(d, m, clk, 0.9, 5)  // speech interrupts it
	feed(d, m, clk, 0.1, 1)  // second window opens

	stale := clk.cancelled()
	if len(stale) != 1 {
		t.Fatalf("cancelled timers = %d, want the interrupted silence window", len(stale))
	}
	// The interrupted window's callback runs after the lock was released.
	stale[0]()
	if _, ends, _ := rec.counts(); ends != 0 {
		t.Fatalf("stale silence callback ended the utterance")
	}
	if !d.IsSpeaking() {
		t.Fatal("detector stopped speaking on a stale callback")
	}

	clk.Advance(1500 * time.Millisecond)
	if starts, ends, _ := rec.counts(); starts != 1 || ends != 1 {
		t.Errorf("starts=%d ends=%d, want 1 and 1 after the second window", starts, ends)
	}
}
