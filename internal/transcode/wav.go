package transcode

import (
	"bytes"
	"context"
	"fmt"

	"github.com/go-audio/wav"

	"github.com/skypro1111/voice-intent-client/internal/audio"
)

// WAVOpener decodes RIFF/WAVE PCM input.
type WAVOpener struct{}

// Open implements Opener.
func (WAVOpener) Open(ctx context.Context, contentType string) (Decoder, error) {
	return &wavDecoder{}, nil
}

type wavDecoder struct {
	closed bool
}

func (d *wavDecoder) Decode(ctx context.Context, data []byte) (*audio.DecodedAudio, error) {
	if d.closed {
		return nil, fmt.Errorf("decoder is closed")
	}

	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("invalid WAV file")
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to read PCM data: %w", err)
	}

	if buf.Format == nil {
		return nil, fmt.Errorf("WAV file has no format chunk")
	}

	return intBufferToDecoded(buf, int(dec.BitDepth)), nil
}

func (d *wavDecoder) Close() error {
	d.closed = true
	return nil
}
