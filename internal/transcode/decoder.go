package transcode

import (
	"context"
	"sync"

	goaudio "github.com/go-audio/audio"

	"github.com/skypro1111/voice-intent-client/internal/audio"
)

// Decoder is a scoped decoding resource. Close must be called exactly once
// when the caller is done, whether or not Decode succeeded.
type Decoder interface {
	Decode(ctx context.Context, data []byte) (*audio.DecodedAudio, error)
	Close() error
}

// Opener acquires a Decoder able to handle the given content type.
type Opener interface {
	Open(ctx context.Context, contentType string) (Decoder, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(ctx context.Context, contentType string) (Decoder, error)

// Open calls f.
func (f OpenerFunc) Open(ctx context.Context, contentType string) (Decoder, error) {
	return f(ctx, contentType)
}

// MuxOpener picks an Opener by media type and falls back to a default one.
type MuxOpener struct {
	fallback Opener
	byType   map[string]Opener
	mu       sync.RWMutex
}

// NewMuxOpener creates a mux that sends unknown media types to fallback.
func NewMuxOpener(fallback Opener) *MuxOpener {
	return &MuxOpener{
		fallback: fallback,
		byType:   make(map[string]Opener),
	}
}

// Register routes a media type (without parameters) to an opener.
func (m *MuxOpener) Register(mediaType string, o Opener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byType[audio.MediaType(mediaType)] = o
}

// Open implements Opener.
func (m *MuxOpener) Open(ctx context.Context, contentType string) (Decoder, error) {
	m.mu.RLock()
	o, ok := m.byType[audio.MediaType(contentType)]
	m.mu.RUnlock()

	if !ok {
		o = m.fallback
	}
	if o == nil {
		return nil, &DecodeError{Stage: "open", ContentType: contentType, Err: errUnsupported}
	}
	return o.Open(ctx, contentType)
}

// intBufferToDecoded converts integer PCM to floats. Negative values are
// divided by 2^(depth-1) and the rest by 2^(depth-1)-1, the inverse of
// audio.FloatToPCM16 at 16 bits.
func intBufferToDecoded(buf *goaudio.IntBuffer, depth int) *audio.DecodedAudio {
	if depth <= 0 {
		depth = 16
	}
	negScale := float64(int64(1) << (depth - 1))
	posScale := negScale - 1

	flat := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		if v < 0 {
			flat[i] = float32(float64(v) / negScale)
		} else {
			flat[i] = float32(float64(v) / posScale)
		}
	}

	return audio.Deinterleave(flat, buf.Format.NumChannels, buf.Format.SampleRate)
}
