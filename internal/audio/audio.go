package audio

import (
	"fmt"
	"mime"
	"strings"
	"time"
)

// Chunk is one piece of encoded audio as delivered by a capture device.
// Chunks are treated as immutable once produced.
type Chunk struct {
	Data        []byte
	ContentType string
}

// Len returns the number of bytes in the chunk.
func (c Chunk) Len() int {
	return len(c.Data)
}

// MediaType returns the content type without parameters, lowercased.
func (c Chunk) MediaType() string {
	return MediaType(c.ContentType)
}

// MediaType strips parameters from a MIME content type.
func MediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt, _, _ = strings.Cut(contentType, ";")
	}
	return strings.ToLower(strings.TrimSpace(mt))
}

// Concat joins chunks in order into one blob. The content type is taken from
// the first chunk that declares one.
func Concat(chunks []Chunk) Chunk {
	total := 0
	contentType := ""
	for _, c := range chunks {
		total += len(c.Data)
		if contentType == "" {
			contentType = c.ContentType
		}
	}

	data := make([]byte, 0, total)
	for _, c := range chunks {
		data = append(data, c.Data...)
	}

	return Chunk{Data: data, ContentType: contentType}
}

// DecodedAudio is a matrix of float samples, one slice per channel. Samples
// are nominally in [-1, 1]. Every channel must have the same length.
type DecodedAudio struct {
	SampleRate int
	Channels   [][]float32
}

// NumChannels returns the channel count.
func (d *DecodedAudio) NumChannels() int {
	return len(d.Channels)
}

// Frames returns the number of samples per channel.
func (d *DecodedAudio) Frames() int {
	if len(d.Channels) == 0 {
		return 0
	}
	return len(d.Channels[0])
}

// Duration returns the playback length.
func (d *DecodedAudio) Duration() time.Duration {
	if d.SampleRate <= 0 {
		return 0
	}
	return time.Duration(d.Frames()) * time.Second / time.Duration(d.SampleRate)
}

// Validate checks the shape EncodeWAV relies on.
func (d *DecodedAudio) Validate() error {
	if d.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", d.SampleRate)
	}
	if len(d.Channels) == 0 {
		return fmt.Errorf("decoded audio has no channels")
	}
	frames := len(d.Channels[0])
	for i, ch := range d.Channels[1:] {
		if len(ch) != frames {
			return fmt.Errorf("channel %d has %d samples, channel 0 has %d", i+1, len(ch), frames)
		}
	}
	return nil
}

// Deinterleave splits frame-interleaved samples into per-channel slices.
// Trailing samples that do not fill a whole frame are dropped.
func Deinterleave(samples []float32, channels, sampleRate int) *DecodedAudio {
	if channels <= 0 {
		channels = 1
	}
	frames := len(samples) / channels
	out := &DecodedAudio{
		SampleRate: sampleRate,
		Channels:   make([][]float32, channels),
	}
	for ch := range out.Channels {
		out.Channels[ch] = make([]float32, frames)
	}
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			out.Channels[ch][i] = samples[i*channels+ch]
		}
	}
	return out
}

// MixDown averages all channels into one.
func (d *DecodedAudio) MixDown() []float32 {
	frames := d.Frames()
	mono := make([]float32, frames)
	if len(d.Channels) == 1 {
		copy(mono, d.Channels[0])
		return mono
	}
	n := float32(len(d.Channels))
	for i := 0; i < frames; i++ {
		var sum float32
		for _, ch := range d.Channels {
			sum += ch[i]
		}
		mono[i] = sum / n
	}
	return mono
}
