package audio_test

import (
	"encoding/binary"
	"math"
	"slices"
	"testing"

	"github.com/MrWong99/dictoxa/pkg/audio"
)

func TestInt16Bytes_RoundTrip(t *testing.T) {
	t.Parallel()

	samples := []int16{0, 1, -1, math.MaxInt16, math.MinInt16, 12345}
	pcm := audio.Int16ToBytes(samples)
	if len(pcm) != 2*len(samples) {
		t.Fatalf("len = %d, want %d", len(pcm), 2*len(samples))
	}
	if got := binary.LittleEndian.Uint16(pcm[2:]); got != 1 {
		t.Errorf("second sample bytes = %#x, want little-endian 1", got)
	}
	if got := audio.BytesToInt16(pcm); !slices.Equal(got, samples) {
		t.Errorf("BytesToInt16 = %v, want %v", got, samples)
	}
}

func TestBytesToInt16_IgnoresTrailingByte(t *testing.T) {
	t.Parallel()

	if got := audio.BytesToInt16([]byte{0x01, 0x00, 0x7f}); !slices.Equal(got, []int16{1}) {
		t.Errorf("BytesToInt16 = %v, want [1]", got)
	}
}

func TestFloat32ToInt16(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   float32
		want int16
	}{
		{0, 0},
		{1, math.MaxInt16},
		{-1, math.MinInt16},
		{2, math.MaxInt16},
		{-3, math.MinInt16},
		{0.5, 16383},
		{-0.5, -16384},
	}
	for _, tt := range tests {
		if got := audio.Float32ToInt16([]float32{tt.in})[0]; got != tt.want {
			t.Errorf("Float32ToInt16(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestInt16ToFloat32(t *testing.T) {
	t.Parallel()

	got := audio.Int16ToFloat32([]int16{math.MinInt16, 0, 16384})
	want := []float32{-1, 0, 0.5}
	if !slices.Equal(got, want) {
		t.Errorf("Int16ToFloat32 = %v, want %v", got, want)
	}
	if f := audio.PCMToFloat32(audio.Int16ToBytes([]int16{16384})); f[0] != 0.5 {
		t.Errorf("PCMToFloat32 = %v, want 0.5", f[0])
	}
}

func TestPCMRoundTrip(t *testing.T) {
	t.Parallel()

	// Truncation plus the 32767/32768 scale asymmetry on the positive side.
	const step = 2.0 / 32768
	for i := -1000; i <= 1000; i++ {
		x := float32(i) / 1000
		back := audio.Int16ToFloat32(audio.Float32ToInt16([]float32{x}))[0]
		if diff := math.Abs(float64(back - x)); diff > step {
			t.Fatalf("x=%v: round trip %v differs by %v", x, back, diff)
		}
	}
}

func TestRMSAndLevel(t *testing.T) {
	t.Parallel()

	if got := audio.RMS(nil); got != 0 {
		t.Errorf("RMS(nil) = %v, want 0", got)
	}
	if got := audio.Level(audio.Int16ToBytes(make([]int16, 160))); got != 0 {
		t.Errorf("silence level = %v, want 0", got)
	}
	// A constant 0.1 full scale signal has RMS 0.1 and level 0.5.
	s := make([]int16, 100)
	for i := range s {
		s[i] = 3277
	}
	if got := audio.RMS(s); math.Abs(got-0.1) > 1e-3 {
		t.Errorf("RMS = %v, want ~0.1", got)
	}
	if got := audio.Level(audio.Int16ToBytes(s)); math.Abs(got-0.5) > 1e-2 {
		t.Errorf("Level = %v, want ~0.5", got)
	}
	for i := range s {
		s[i] = math.MaxInt16
	}
	if got := audio.Level(audio.Int16ToBytes(s)); got != 1 {
		t.Errorf("Level(full scale) = %v, want 1", got)
	}
}
