package dictation

import (
	"time"

	"github.com/MrWong99/dictoxa/internal/textproc"
	"github.com/MrWong99/dictoxa/internal/vad"
	"github.com/MrWong99/dictoxa/pkg/provider/stt"
)

// State is the pipeline's position in the recording state machine.
type State int

const (
	StateIdle State = iota
	StateRecording
	StateProcessing
	StateError
)

// String returns the wire name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateProcessing:
		return "processing"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Mode selects how a recording session ends and what its transcript is for.
type Mode string

const (
	// ModePushToTalk records until the caller stops it.
	ModePushToTalk Mode = "push-to-talk"
	// ModeHandsFree stops automatically after sustained silence.
	ModeHandsFree Mode = "hands-free"
	// ModeCommand records a spoken instruction for ExecuteCommand. It never
	// opens a live stream.
	ModeCommand Mode = "command"
)

// IsValid reports whether m is a recognised mode.
func (m Mode) IsValid() bool {
	switch m {
	case ModePushToTalk, ModeHandsFree, ModeCommand:
		return true
	}
	return false
}

// Formality selects the register of the LLM cleanup prompt.
type Formality string

const (
	FormalityCasual  Formality = "casual"
	FormalityNeutral Formality = "neutral"
	FormalityFormal  Formality = "formal"
)

// IsValid reports whether f is a recognised formality.
func (f Formality) IsValid() bool {
	switch f {
	case FormalityCasual, FormalityNeutral, FormalityFormal:
		return true
	}
	return false
}

// Config holds the pipeline's audio and processing parameters.
type Config struct {
	// InputSampleRate and InputChannels describe the PCM handed to
	// ProcessAudio. Defaults: 16000 Hz mono.
	InputSampleRate int
	InputChannels   int

	// TargetSampleRate is the mono rate audio is resampled to before it is
	// buffered and sent to STT. Default: 16000.
	TargetSampleRate int

	// STTModel, Language, Prompt and Keywords are passed to the STT backend.
	STTModel string
	Language string
	Prompt   string
	Keywords []stt.KeywordBoost

	// Cleanup enables the LLM cleanup pass when an LLM is configured.
	Cleanup bool

	// Formality selects the cleanup prompt. Default: neutral.
	Formality Formality

	// LLMModel overrides the LLM provider's default model.
	LLMModel string

	// VAD configures hands-free end-of-speech detection.
	VAD vad.Config

	// RingSeconds is the length of the live capture window exposed by
	// Snapshot. Default: 30.
	RingSeconds float64

	// MaxSessionDuration is the captured length after which a single warning
	// is logged. Zero disables the warning.
	MaxSessionDuration time.Duration
}

// Defaults for zero-valued Config fields.
const (
	DefaultSampleRate  = 16000
	DefaultRingSeconds = 30
)

func (c *Config) applyDefaults() {
	if c.InputSampleRate <= 0 {
		c.InputSampleRate = DefaultSampleRate
	}
	if c.InputChannels <= 0 {
		c.InputChannels = 1
	}
	if c.TargetSampleRate <= 0 {
		c.TargetSampleRate = DefaultSampleRate
	}
	if c.Formality == "" {
		c.Formality = FormalityNeutral
	}
	if c.RingSeconds <= 0 {
		c.RingSeconds = DefaultRingSeconds
	}
	c.VAD.SampleRate = c.TargetSampleRate
}

// Result is the outcome of one dictation session.
type Result struct {
	SessionID string `json:"session_id"`

	// Text is the final text after dictionary, snippets and cleanup.
	Text string `json:"text"`

	// RawText is the transcript as returned by STT.
	RawText string `json:"raw_text"`

	Language   string  `json:"language,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Mode       Mode    `json:"mode"`

	// Snippets are the triggers found in the dictionary-corrected
	// transcript before expansion. Offsets refer to that text.
	Snippets []textproc.Match `json:"snippets,omitempty"`

	// Duration is the audio length reported by the transcriber, or the
	// captured length when it reports none.
	Duration time.Duration `json:"duration"`

	// STTTime, LLMTime and TotalTime are stage latencies measured from the
	// stop of recording. LLMTime is zero when cleanup did not run.
	STTTime   time.Duration `json:"stt_time"`
	LLMTime   time.Duration `json:"llm_time"`
	TotalTime time.Duration `json:"total_time"`
}

// Events are the pipeline's outbound notifications. Any field may be nil.
// Callbacks run on the goroutine that caused the event, which may be a
// timer or stream goroutine, and must not call back into the Pipeline
// synchronously except through a new goroutine.
type Events struct {
	OnStateChange       func(s State)
	OnPartialTranscript func(text string)
	OnResult            func(r *Result)
	OnError             func(err error)
	OnAudioLevel        func(level float64)
}
