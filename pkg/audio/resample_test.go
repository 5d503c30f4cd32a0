package audio_test

import (
	"testing"

	"github.com/MrWong99/dictoxa/pkg/audio"
)

func TestResampler_PassThrough(t *testing.T) {
	t.Parallel()

	r := audio.NewResampler(16000, 16000, 1)
	pcm := audio.Int16ToBytes([]int16{1, 2, 3})
	out := r.Resample(pcm)
	if &out[0] != &pcm[0] {
		t.Error("pass-through should return the input slice unchanged")
	}
}

func TestResampler_LengthLaw(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, out, n int
	}{
		{48000, 16000, 960},
		{44100, 16000, 441},
		{44100, 16000, 1000},
		{8000, 16000, 160},
		{22050, 16000, 7},
		{16000, 48000, 3},
	}
	for _, tt := range tests {
		r := audio.NewResampler(tt.in, tt.out, 1)
		got := len(r.Resample(make([]byte, tt.n*2))) / 2
		want := tt.n * tt.out / tt.in
		if got != want {
			t.Errorf("%d→%d with %d samples: got %d samples, want %d", tt.in, tt.out, tt.n, got, want)
		}
	}
}

func TestResampleLinear_Interpolates(t *testing.T) {
	t.Parallel()

	got := audio.ResampleLinear([]int16{0, 100, 200, 300}, 8000, 16000)
	want := []int16{0, 50, 100, 150, 200, 250, 300, 300}
	if len(got) != len(want) {
		t.Fatalf("length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestDownmixMono(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		in       []int16
		channels int
		want     []int16
	}{
		{"stereo average", []int16{100, 200, -100, -200}, 2, []int16{150, -150}},
		{"rounds half up", []int16{1, 2}, 2, []int16{2}},
		{"no overflow", []int16{32767, 32767}, 2, []int16{32767}},
		{"three channels", []int16{3, 6, 9}, 3, []int16{6}},
		{"drops partial frame", []int16{10, 20, 30}, 2, []int16{15}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := audio.DownmixMono(tt.in, tt.channels)
			if len(got) != len(tt.want) {
				t.Fatalf("length = %d, want %d", len(got), len(tt.want))
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("sample %d: got %d, want %d", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestResampler_StereoDownmixAndRate(t *testing.T) {
	t.Parallel()

	// 6 stereo frames at 48 kHz → 2 mono samples at 16 kHz.
	in := audio.Int16ToBytes([]int16{
		100, 300, 0, 0, 0, 0,
		-100, -300, 0, 0, 0, 0,
	})
	r := audio.NewResampler(48000, 16000, 2)
	got := audio.BytesToInt16(r.Resample(in))
	want := []int16{200, -200}
	if len(got) != len(want) {
		t.Fatalf("length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}
