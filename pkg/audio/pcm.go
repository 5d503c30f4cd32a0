package audio

import (
	"encoding/binary"
	"math"
)

// BytesToInt16 decodes little-endian 16-bit PCM into samples. A trailing odd
// byte is ignored.
func BytesToInt16(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return samples
}

// Int16ToBytes encodes samples as little-endian 16-bit PCM.
func Int16ToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// Float32ToInt16 converts normalised float samples in [-1, 1] to int16.
// Negative values scale by 32768 and non-negative values by 32767, so both
// ends of the range map exactly. Out-of-range input is clamped.
func Float32ToInt16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		s = max(-1, min(1, s))
		if s < 0 {
			out[i] = int16(s * 32768)
		} else {
			out[i] = int16(s * 32767)
		}
	}
	return out
}

// Int16ToFloat32 converts int16 samples to floats by dividing by 32768.
func Int16ToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768
	}
	return out
}

// PCMToFloat32 decodes little-endian 16-bit PCM straight into normalised
// float samples.
func PCMToFloat32(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768
	}
	return out
}

// RMS returns the root-mean-square of samples normalised to [0, 1].
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// levelGain amplifies speech-range RMS so it fills a meter.
const levelGain = 5

// Level returns a visualisation level in [0, 1] for a little-endian 16-bit
// PCM chunk: the normalised RMS amplified five-fold and clamped to 1.
func Level(pcm []byte) float64 {
	return min(1, RMS(BytesToInt16(pcm))*levelGain)
}
