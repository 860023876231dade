package device

import (
	"context"

	"github.com/skypro1111/voice-intent-client/internal/audio"
	"github.com/skypro1111/voice-intent-client/internal/transcode"
)

// transcoderFunc records the concatenated input and returns a silent WAV.
type transcoderFunc func(data []byte)

func (f transcoderFunc) Transcode(ctx context.Context, chunks []audio.Chunk) (*transcode.Result, error) {
	f(audio.Concat(chunks).Data)
	wav := audio.EncodeWAV(&audio.DecodedAudio{SampleRate: 16000, Channels: [][]float32{{0}}})
	info, err := audio.GetWAVInfo(wav)
	if err != nil {
		return nil, err
	}
	return &transcode.Result{WAV: wav, Info: info}, nil
}
