// Package mock provides test doubles for the vad package interfaces.
//
// Use Loader to verify the Config a detector requests and to inject load
// failures. Use Model to script the probabilities returned per frame and
// inspect the frames that were scored.
//
// Example:
//
//	m := &mock.Model{Probabilities: []float64{0.1, 0.9, 0.9}}
//	l := &mock.Loader{Model: m}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/dictoxa/pkg/provider/vad"
)

// Loader is a mock implementation of vad.Loader.
type Loader struct {
	mu sync.Mutex

	// Model is returned by Load. If nil, a new default Model is returned.
	Model *Model

	// LoadErr, if non-nil, is returned as the error from Load.
	LoadErr error

	// LoadCalls records the Config of every Load call in order.
	LoadCalls []vad.Config
}

// Load records the call and returns Model, LoadErr.
func (l *Loader) Load(_ context.Context, cfg vad.Config) (vad.Model, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.LoadCalls = append(l.LoadCalls, cfg)
	if l.LoadErr != nil {
		return nil, l.LoadErr
	}
	if l.Model == nil {
		l.Model = &Model{}
	}
	return l.Model, nil
}

// Model is a mock implementation of vad.Model.
type Model struct {
	mu sync.Mutex

	// Probabilities is consumed one value per Probability call. Once
	// exhausted, Default is returned.
	Probabilities []float64

	// Default is returned when Probabilities is exhausted.
	Default float64

	// Err, if non-nil, is returned by every Probability call.
	Err error

	// --- Call records ---

	// FrameLens records the length of every scored frame.
	FrameLens []int

	// ResetCount is the number of times Reset was called.
	ResetCount int

	// CloseCount is the number of times Close was called.
	CloseCount int
}

// Probability returns the next scripted probability.
func (m *Model) Probability(frame []float32) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FrameLens = append(m.FrameLens, len(frame))
	if m.Err != nil {
		return 0, m.Err
	}
	if len(m.Probabilities) == 0 {
		return m.Default, nil
	}
	p := m.Probabilities[0]
	m.Probabilities = m.Probabilities[1:]
	return p, nil
}

// Reset increments ResetCount.
func (m *Model) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ResetCount++
}

// Close increments CloseCount.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CloseCount++
	return nil
}

// SetDefault changes Default. Thread-safe.
func (m *Model) SetDefault(p float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Default = p
}

// SetErr changes Err. Thread-safe.
func (m *Model) SetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Err = err
}

// FrameLengths returns a copy of FrameLens. Thread-safe.
func (m *Model) FrameLengths() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.FrameLens...)
}

// Counts returns the number of scored frames, resets and closes. Thread-safe.
func (m *Model) Counts() (frames, resets, closes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.FrameLens), m.ResetCount, m.CloseCount
}

// Ensure the mocks implement the vad interfaces at compile time.
var (
	_ vad.Loader = (*Loader)(nil)
	_ vad.Model  = (*Model)(nil)
)
