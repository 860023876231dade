package transcode

import (
	"context"
	"encoding/binary"
	"fmt"
	"mime"
	"strconv"

	goaudio "github.com/go-audio/audio"

	"github.com/skypro1111/voice-intent-client/internal/audio"
)

// RawPCMOpener decodes headerless signed 16-bit little-endian PCM, as
// produced by the PortAudio device. The rate and channels parameters of the
// content type (audio/L16;rate=16000;channels=1) override the defaults.
type RawPCMOpener struct {
	SampleRate int
	Channels   int
}

// Open implements Opener.
func (o RawPCMOpener) Open(ctx context.Context, contentType string) (Decoder, error) {
	rate, channels := o.SampleRate, o.Channels
	if _, params, err := mime.ParseMediaType(contentType); err == nil {
		if v, err := strconv.Atoi(params["rate"]); err == nil {
			rate = v
		}
		if v, err := strconv.Atoi(params["channels"]); err == nil {
			channels = v
		}
	}

	if rate <= 0 {
		return nil, fmt.Errorf("raw PCM needs a positive sample rate, got %d", rate)
	}
	if channels <= 0 {
		channels = 1
	}

	return &pcmDecoder{sampleRate: rate, channels: channels}, nil
}

type pcmDecoder struct {
	sampleRate int
	channels   int
}

func (d *pcmDecoder) Decode(ctx context.Context, data []byte) (*audio.DecodedAudio, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("audio data length must be even (got %d bytes)", len(data))
	}

	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: d.channels,
			SampleRate:  d.sampleRate,
		},
		Data:           make([]int, len(data)/2),
		SourceBitDepth: 16,
	}
	for i := range buf.Data {
		buf.Data[i] = int(int16(binary.LittleEndian.Uint16(data[i*2:])))
	}

	return intBufferToDecoded(buf, buf.SourceBitDepth), nil
}

func (d *pcmDecoder) Close() error {
	return nil
}
