package audio

// Accumulator is an unbounded, append-only byte store holding the audio of
// one utterance. Every written chunk is copied, so callers may reuse their
// buffers after Write returns.
//
// There is no upper bound: an arbitrarily long hands-free session grows the
// accumulator without limit. Callers that care watch Len.
//
// Accumulator is not safe for concurrent use.
type Accumulator struct {
	chunks [][]byte
	total  int
}

// NewAccumulator returns an empty Accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Write appends a copy of data.
func (a *Accumulator) Write(data []byte) {
	if len(data) == 0 {
		return
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	a.chunks = append(a.chunks, cp)
	a.total += len(cp)
}

// Bytes returns the concatenation of all written chunks. The accumulator is
// left unchanged.
func (a *Accumulator) Bytes() []byte {
	out := make([]byte, 0, a.total)
	for _, c := range a.chunks {
		out = append(out, c...)
	}
	return out
}

// Drain returns the concatenated audio and clears the accumulator.
func (a *Accumulator) Drain() []byte {
	out := a.Bytes()
	a.Clear()
	return out
}

// Clear discards all chunks.
func (a *Accumulator) Clear() {
	a.chunks = nil
	a.total = 0
}

// Len returns the total number of buffered bytes.
func (a *Accumulator) Len() int { return a.total }

// DurationSeconds returns the playback duration of the buffered bytes for
// the given PCM layout.
func (a *Accumulator) DurationSeconds(sampleRate, bytesPerSample, channels int) float64 {
	return durationSeconds(a.total, sampleRate, bytesPerSample, channels)
}
