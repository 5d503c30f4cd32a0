package audio

// RingBuffer is a fixed-capacity circular byte store for captured PCM.
//
// When a write would exceed the capacity the oldest bytes are overwritten;
// they are permanently lost. This is the only backpressure policy of the
// capture path. When Len equals Cap, the read cursor coincides with the
// write cursor and the next write overwrites the oldest byte.
//
// RingBuffer is not safe for concurrent use; the owning pipeline serialises
// access.
type RingBuffer struct {
	buf      []byte
	writePos int
	readPos  int
	length   int
}

// NewRingBuffer returns an empty RingBuffer holding at most capacity bytes.
// A non-positive capacity yields a buffer that discards every write.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity < 0 {
		capacity = 0
	}
	return &RingBuffer{buf: make([]byte, capacity)}
}

// Cap returns the fixed capacity in bytes.
func (r *RingBuffer) Cap() int { return len(r.buf) }

// Len returns the number of buffered bytes.
func (r *RingBuffer) Len() int { return r.length }

// IsFull reports whether the buffer holds Cap bytes.
func (r *RingBuffer) IsFull() bool { return r.length == len(r.buf) }

// IsEmpty reports whether the buffer holds no bytes.
func (r *RingBuffer) IsEmpty() bool { return r.length == 0 }

// Write copies data into the buffer, overwriting the oldest bytes on
// overflow. If data is longer than the capacity only its trailing Cap bytes
// are kept.
func (r *RingBuffer) Write(data []byte) {
	capacity := len(r.buf)
	n := len(data)
	if n == 0 || capacity == 0 {
		return
	}

	if n > capacity {
		copy(r.buf, data[n-capacity:])
		r.writePos = 0
		r.readPos = 0
		r.length = capacity
		return
	}

	remaining := capacity - r.writePos
	if n <= remaining {
		copy(r.buf[r.writePos:], data)
	} else {
		copy(r.buf[r.writePos:], data[:remaining])
		copy(r.buf, data[remaining:])
	}

	r.writePos = (r.writePos + n) % capacity
	r.length = min(r.length+n, capacity)
	if r.length == capacity {
		r.readPos = r.writePos
	}
}

// Read returns a copy of the buffered bytes in logical (oldest first) order
// without consuming them.
func (r *RingBuffer) Read() []byte {
	if r.length == 0 {
		return []byte{}
	}
	out := make([]byte, r.length)
	first := min(len(r.buf)-r.readPos, r.length)
	copy(out, r.buf[r.readPos:r.readPos+first])
	if first < r.length {
		copy(out[first:], r.buf[:r.length-first])
	}
	return out
}

// Drain returns the buffered bytes and clears the buffer.
func (r *RingBuffer) Drain() []byte {
	out := r.Read()
	r.Clear()
	return out
}

// Clear discards all buffered bytes. The capacity is retained.
func (r *RingBuffer) Clear() {
	r.writePos = 0
	r.readPos = 0
	r.length = 0
}

// DurationSeconds returns the playback duration of the buffered bytes for
// the given PCM layout.
func (r *RingBuffer) DurationSeconds(sampleRate, bytesPerSample, channels int) float64 {
	return durationSeconds(r.length, sampleRate, bytesPerSample, channels)
}

// durationSeconds converts a PCM byte count into seconds. Returns 0 for an
// invalid layout.
func durationSeconds(n, sampleRate, bytesPerSample, channels int) float64 {
	bytesPerSecond := sampleRate * bytesPerSample * channels
	if bytesPerSecond <= 0 {
		return 0
	}
	return float64(n) / float64(bytesPerSecond)
}
