package server

import (
	"github.com/MrWong99/dictoxa/internal/dictation"
	"github.com/MrWong99/dictoxa/internal/textproc"
)

// Control frame types sent by the client as WebSocket text messages. Binary
// messages carry 16-bit little-endian PCM in the format announced by the
// last "config" frame (16 kHz mono by default). A "snapshot" frame asks for
// the live capture window, answered with 16-bit mono PCM at the target rate.
const (
	msgStart    = "start"
	msgStop     = "stop"
	msgCancel   = "cancel"
	msgCommand  = "command"
	msgConfig   = "config"
	msgSnapshot = "snapshot"
)

// Event frame types sent by the server.
const (
	evReady    = "ready"
	evState    = "state"
	evPartial  = "partial"
	evLevel    = "level"
	evResult   = "result"
	evCommand  = "command_result"
	evError    = "error"
	evSnapshot = "snapshot"
)

// clientMessage is the union of all control frames.
type clientMessage struct {
	Type string `json:"type"`

	// start
	Mode string `json:"mode,omitempty"`

	// command
	Selected    string `json:"selected,omitempty"`
	Instruction string `json:"instruction,omitempty"`

	// config
	SampleRate int `json:"sample_rate,omitempty"`
	Channels   int `json:"channels,omitempty"`
}

// event is the union of all server frames. Only the fields relevant to Type
// are set.
type event struct {
	Type string `json:"type"`

	SessionID string            `json:"session_id,omitempty"`
	State     string            `json:"state,omitempty"`
	Text      string            `json:"text,omitempty"`
	Level     *float64          `json:"level,omitempty"`
	Result    *dictation.Result `json:"result,omitempty"`
	Error     string            `json:"error,omitempty"`

	// snapshot
	Audio []byte `json:"audio,omitempty"`

	// ready; snapshot also sets the format fields
	Mode       string `json:"mode,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
}

// learnRequest is the body of POST /v1/dictionary/suggestions.
type learnRequest struct {
	Transcript string `json:"transcript"`
	Edited     string `json:"edited"`
}

type learnResponse struct {
	Suggestions []textproc.Entry `json:"suggestions"`
}

type entriesResponse struct {
	Entries  []textproc.Entry   `json:"entries"`
	Snippets []textproc.Snippet `json:"snippets"`
}

type errorResponse struct {
	Error string `json:"error"`
}
