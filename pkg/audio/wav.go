package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/go-audio/wav"
)

// WAVHeaderSize is the size of the canonical RIFF/WAVE header written by
// [CreateWAVHeader].
const WAVHeaderSize = 44

// ErrInvalidWAV is returned by [ParseWAV] when the input is not a readable
// RIFF/WAVE PCM file.
var ErrInvalidWAV = errors.New("audio: invalid WAV data")

// CreateWAVHeader returns pcm wrapped in a canonical 44-byte RIFF/WAVE
// container. A non-positive bitsPerSample defaults to 16 and a non-positive
// channels to 1.
//
// Layout: "RIFF", 36+dataSize, "WAVE", "fmt " (16, PCM=1, channels,
// sampleRate, byteRate, blockAlign, bitsPerSample), "data", dataSize, pcm.
func CreateWAVHeader(pcm []byte, sampleRate, bitsPerSample, channels int) []byte {
	if bitsPerSample <= 0 {
		bitsPerSample = 16
	}
	if channels <= 0 {
		channels = 1
	}
	dataSize := uint32(len(pcm))
	byteRate := uint32(sampleRate * channels * bitsPerSample / 8)
	blockAlign := uint16(channels * bitsPerSample / 8)

	var buf bytes.Buffer
	buf.Grow(WAVHeaderSize + len(pcm))

	// RIFF chunk descriptor.
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36)+dataSize)
	buf.WriteString("WAVE")

	// fmt sub-chunk.
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(channels))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, byteRate)
	_ = binary.Write(&buf, binary.LittleEndian, blockAlign)
	_ = binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSample))

	// data sub-chunk.
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, dataSize)
	buf.Write(pcm)

	return buf.Bytes()
}

// Clip is decoded PCM audio with its format.
type Clip struct {
	// PCM is little-endian 16-bit interleaved audio.
	PCM    []byte
	Format Format
}

// ParseWAV decodes a RIFF/WAVE file holding integer PCM into 16-bit
// little-endian samples. 8, 24 and 32-bit integer input is rescaled to 16
// bits.
func ParseWAV(data []byte) (*Clip, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, ErrInvalidWAV
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("audio: decode WAV: %w", err)
	}
	if buf == nil || buf.Format == nil {
		return nil, ErrInvalidWAV
	}

	depth := int(dec.BitDepth)
	samples := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		switch {
		case depth == 8:
			// 8-bit WAV is unsigned.
			samples[i] = int16((v - 128) << 8)
		case depth > 16:
			samples[i] = int16(v >> (depth - 16))
		default:
			samples[i] = int16(v)
		}
	}

	return &Clip{
		PCM: Int16ToBytes(samples),
		Format: Format{
			SampleRate: buf.Format.SampleRate,
			Channels:   buf.Format.NumChannels,
		},
	}, nil
}
