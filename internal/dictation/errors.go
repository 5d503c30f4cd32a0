package dictation

import (
	"errors"
	"fmt"
)

var (
	// ErrNoTranscriber is returned by StartRecording when the pipeline was
	// built without an STT backend.
	ErrNoTranscriber = errors.New("dictation: no STT provider configured")

	// ErrNoLLM is returned by ExecuteCommand when the pipeline was built
	// without an LLM backend.
	ErrNoLLM = errors.New("dictation: no LLM provider configured")

	// ErrDestroyed is returned by operations on a destroyed pipeline.
	ErrDestroyed = errors.New("dictation: pipeline destroyed")
)

// TranscriptionError reports a failed STT call. It ends the session in
// StateError.
type TranscriptionError struct {
	SessionID string
	Err       error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("dictation: transcription failed (session %s): %v", e.SessionID, e.Err)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }
