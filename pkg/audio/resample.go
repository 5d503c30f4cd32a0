package audio

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns a human-readable form such as "48000Hz stereo".
func (f Format) String() string {
	return formatString(f.SampleRate, f.Channels)
}

// Resampler converts interleaved 16-bit PCM at a fixed input format to mono
// PCM at the output rate. It is rebuilt, not mutated, whenever the capture
// format changes.
//
// Down-mixing averages all channels of a frame; rate conversion uses linear
// interpolation. Both steps clamp to the int16 range.
type Resampler struct {
	inputRate  int
	outputRate int
	channels   int

	warnedCorrupt sync.Once
}

// NewResampler returns a Resampler for the given input rate, output rate and
// input channel count. Non-positive values are treated as 16 kHz mono.
func NewResampler(inputRate, outputRate, channels int) *Resampler {
	if inputRate <= 0 {
		inputRate = 16000
	}
	if outputRate <= 0 {
		outputRate = 16000
	}
	if channels <= 0 {
		channels = 1
	}
	if inputRate != outputRate || channels != 1 {
		slog.Debug("resampler: converting",
			"from", formatString(inputRate, channels),
			"to", formatString(outputRate, 1),
		)
	}
	return &Resampler{inputRate: inputRate, outputRate: outputRate, channels: channels}
}

// Input returns the input format.
func (r *Resampler) Input() Format { return Format{SampleRate: r.inputRate, Channels: r.channels} }

// OutputRate returns the output sample rate. Output is always mono.
func (r *Resampler) OutputRate() int { return r.outputRate }

// Resample converts pcm (little-endian int16, interleaved) to mono at the
// output rate. When the input is already mono at the output rate, pcm is
// returned unchanged (same slice, no allocation).
func (r *Resampler) Resample(pcm []byte) []byte {
	if r.inputRate == r.outputRate && r.channels == 1 {
		return pcm
	}

	frameBytes := 2 * r.channels
	if len(pcm)%frameBytes != 0 {
		r.warnedCorrupt.Do(func() {
			slog.Warn("resampler: PCM length is not a whole number of frames, truncating",
				"bytes", len(pcm),
				"channels", r.channels,
			)
		})
	}

	samples := BytesToInt16(pcm)
	if r.channels > 1 {
		samples = DownmixMono(samples, r.channels)
	}
	if r.inputRate != r.outputRate {
		samples = ResampleLinear(samples, r.inputRate, r.outputRate)
	}
	return Int16ToBytes(samples)
}

// DownmixMono averages each interleaved frame of channels samples into one
// mono sample, rounding half up and clamping to the int16 range. A trailing
// partial frame is dropped.
func DownmixMono(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]int16, frames)
	for i := range frames {
		var sum int32
		for c := range channels {
			sum += int32(samples[i*channels+c])
		}
		avg := math.Floor(float64(sum)/float64(channels) + 0.5)
		out[i] = clampInt16(avg)
	}
	return out
}

// ResampleLinear resamples mono samples from srcRate to dstRate using linear
// interpolation. The output holds floor(len(samples) * dstRate / srcRate)
// samples. If the rates are equal, samples is returned unchanged.
func ResampleLinear(samples []int16, srcRate, dstRate int) []int16 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate {
		return samples
	}
	n := len(samples)
	outLen := int(int64(n) * int64(dstRate) / int64(srcRate))
	if outLen == 0 {
		return []int16{}
	}

	out := make([]int16, outLen)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range outLen {
		srcPos := float64(i) * ratio
		idx := int(srcPos)
		frac := srcPos - float64(idx)

		s0 := float64(samples[idx])
		s1 := s0
		if idx+1 < n {
			s1 = float64(samples[idx+1])
		}
		out[i] = clampInt16(math.Round(s0 + (s1-s0)*frac))
	}
	return out
}

func clampInt16(v float64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
