package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

const (
	// WAVHeaderSize is the size of the canonical PCM header.
	WAVHeaderSize = 44

	bitsPerSample  = 16
	bytesPerSample = bitsPerSample / 8
	formatPCM      = 1
)

// WAVHeader represents the header structure of a WAV file
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16  // Number of channels
	SampleRate    uint32  // Sample rate
	ByteRate      uint32  // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16  // NumChannels * BitsPerSample / 8
	BitsPerSample uint16  // Bits per sample
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

func newPCMHeader(channels, sampleRate, dataSize int) WAVHeader {
	return WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + uint32(dataSize),
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   formatPCM,
		NumChannels:   uint16(channels),
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * channels * bytesPerSample),
		BlockAlign:    uint16(channels * bytesPerSample),
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: uint32(dataSize),
	}
}

// EncodeWAV encodes decoded float audio as a 16-bit PCM WAV file.
//
// Channels are interleaved frame by frame. Every channel must hold the same
// number of samples; callers check this with Validate before encoding.
func EncodeWAV(d *DecodedAudio) []byte {
	channels := d.NumChannels()
	frames := d.Frames()
	dataSize := frames * channels * bytesPerSample

	buf := bytes.NewBuffer(make([]byte, 0, WAVHeaderSize+dataSize))

	// Writing a fixed-size struct into a bytes.Buffer cannot fail.
	_ = binary.Write(buf, binary.LittleEndian, newPCMHeader(channels, d.SampleRate, dataSize))

	payload := make([]byte, dataSize)
	off := 0
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			binary.LittleEndian.PutUint16(payload[off:], uint16(FloatToPCM16(d.Channels[ch][i])))
			off += bytesPerSample
		}
	}
	buf.Write(payload)

	return buf.Bytes()
}

// FloatToPCM16 converts one sample. The value is clamped to [-1, 1]; negative
// values scale by 32768 and the rest by 32767, truncating toward zero.
func FloatToPCM16(s float32) int16 {
	v := float64(s)
	if math.IsNaN(v) {
		return 0
	}
	v = math.Max(-1, math.Min(1, v))
	if v < 0 {
		return int16(v * 32768)
	}
	return int16(v * 32767)
}

// ValidateWAV validates a 16-bit PCM WAV file without decoding the audio data
func ValidateWAV(data []byte) error {
	if len(data) < WAVHeaderSize {
		return fmt.Errorf("WAV data too short: need at least %d bytes, got %d", WAVHeaderSize, len(data))
	}

	if string(data[0:4]) != "RIFF" {
		return fmt.Errorf("invalid WAV file: missing RIFF header")
	}

	if string(data[8:12]) != "WAVE" {
		return fmt.Errorf("invalid WAV file: missing WAVE format")
	}

	if string(data[12:16]) != "fmt " {
		return fmt.Errorf("invalid WAV file: missing fmt chunk")
	}

	if string(data[36:40]) != "data" {
		return fmt.Errorf("invalid WAV file: missing data chunk")
	}

	if format := binary.LittleEndian.Uint16(data[20:22]); format != formatPCM {
		return fmt.Errorf("unsupported audio format: %d (only PCM is supported)", format)
	}

	if channels := binary.LittleEndian.Uint16(data[22:24]); channels == 0 {
		return fmt.Errorf("invalid channel count: 0")
	}

	if bits := binary.LittleEndian.Uint16(data[34:36]); bits != bitsPerSample {
		return fmt.Errorf("unsupported bit depth: %d (only 16-bit is supported)", bits)
	}

	dataSize := binary.LittleEndian.Uint32(data[40:44])
	if int64(dataSize) > int64(len(data)-WAVHeaderSize) {
		return fmt.Errorf("data chunk declares %d bytes, only %d present", dataSize, len(data)-WAVHeaderSize)
	}

	return nil
}

// WAVInfo is basic information about a WAV file
type WAVInfo struct {
	SampleRate    uint32        `json:"sample_rate"`
	Channels      uint16        `json:"channels"`
	BitsPerSample uint16        `json:"bits_per_sample"`
	Duration      time.Duration `json:"duration"`
	DataSize      uint32        `json:"data_size_bytes"`
	NumFrames     uint32        `json:"num_frames"`
}

// GetWAVInfo extracts metadata from a WAV file
func GetWAVInfo(data []byte) (*WAVInfo, error) {
	if err := ValidateWAV(data); err != nil {
		return nil, err
	}

	var header WAVHeader
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to read WAV header: %w", err)
	}

	if header.SampleRate == 0 {
		return nil, fmt.Errorf("invalid sample rate: 0")
	}

	numFrames := header.Subchunk2Size / (uint32(header.NumChannels) * bytesPerSample)
	duration := time.Duration(numFrames) * time.Second / time.Duration(header.SampleRate)

	return &WAVInfo{
		SampleRate:    header.SampleRate,
		Channels:      header.NumChannels,
		BitsPerSample: header.BitsPerSample,
		Duration:      duration,
		DataSize:      header.Subchunk2Size,
		NumFrames:     numFrames,
	}, nil
}
