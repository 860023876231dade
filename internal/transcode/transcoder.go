package transcode

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/skypro1111/voice-intent-client/internal/audio"
	"github.com/skypro1111/voice-intent-client/internal/metrics"
	"github.com/skypro1111/voice-intent-client/internal/vad"
)

// Result is the output of one transcode call.
type Result struct {
	WAV      []byte
	Info     *audio.WAVInfo
	Activity vad.Activity
}

// Stats represents transcoder statistics
type Stats struct {
	Transcodes    uint64        `json:"transcodes"`
	Failures      uint64        `json:"failures"`
	BytesIn       uint64        `json:"bytes_in"`
	BytesOut      uint64        `json:"bytes_out"`
	LastElapsed   time.Duration `json:"last_elapsed"`
	LastRecording time.Duration `json:"last_recording"`
}

// Transcoder decodes captured chunks and re-encodes them as 16-bit PCM WAV.
type Transcoder struct {
	opener   Opener
	analyzer *vad.Processor
	metrics  *metrics.Metrics
	logger   *slog.Logger

	stats Stats
	mu    sync.RWMutex
}

// NewTranscoder creates a transcoder. analyzer and m may be nil.
func NewTranscoder(opener Opener, analyzer *vad.Processor, m *metrics.Metrics, logger *slog.Logger) *Transcoder {
	return &Transcoder{
		opener:   opener,
		analyzer: analyzer,
		metrics:  m,
		logger:   logger,
	}
}

// Transcode concatenates chunks, decodes them with a freshly opened Decoder
// and encodes the result as WAV. The decoder is closed before Transcode
// returns, on every path. Failures are *DecodeError.
func (t *Transcoder) Transcode(ctx context.Context, chunks []audio.Chunk) (*Result, error) {
	start := time.Now()
	blob := audio.Concat(chunks)

	if len(blob.Data) == 0 {
		return nil, t.fail(start, &DecodeError{Stage: "input", ContentType: blob.ContentType, Err: ErrEmptyInput})
	}

	dec, err := t.opener.Open(ctx, blob.ContentType)
	if err != nil {
		return nil, t.fail(start, asDecodeError("open", blob.ContentType, err))
	}
	defer func() {
		if cerr := dec.Close(); cerr != nil {
			t.logger.Warn("Failed to release decoder",
				slog.String("content_type", blob.ContentType),
				slog.Any("error", cerr))
		}
	}()

	decoded, err := dec.Decode(ctx, blob.Data)
	if err != nil {
		return nil, t.fail(start, asDecodeError("decode", blob.ContentType, err))
	}

	if err := decoded.Validate(); err != nil {
		return nil, t.fail(start, &DecodeError{Stage: "validate", ContentType: blob.ContentType, Err: err})
	}

	if decoded.Frames() == 0 {
		return nil, t.fail(start, &DecodeError{Stage: "decode", ContentType: blob.ContentType, Err: ErrNoAudio})
	}

	wav := audio.EncodeWAV(decoded)
	info, err := audio.GetWAVInfo(wav)
	if err != nil {
		return nil, t.fail(start, &DecodeError{Stage: "validate", ContentType: blob.ContentType, Err: err})
	}

	result := &Result{WAV: wav, Info: info}
	if t.analyzer != nil {
		act, err := t.analyzer.Analyze(decoded)
		if err != nil {
			t.logger.Warn("Voice activity analysis failed", slog.Any("error", err))
		} else {
			result.Activity = act
			t.metrics.RecordVAD(act.Windows, act.VoiceWindows, act.SpeechRatio)
		}
	}

	elapsed := time.Since(start)
	t.mu.Lock()
	t.stats.Transcodes++
	t.stats.BytesIn += uint64(len(blob.Data))
	t.stats.BytesOut += uint64(len(wav))
	t.stats.LastElapsed = elapsed
	t.stats.LastRecording = info.Duration
	t.mu.Unlock()

	t.metrics.RecordTranscode(elapsed, info.Duration, len(wav))

	t.logger.Info("Transcoded recording",
		slog.String("content_type", blob.ContentType),
		slog.Int("chunks", len(chunks)),
		slog.Int("input_bytes", len(blob.Data)),
		slog.Int("output_bytes", len(wav)),
		slog.Int("channels", int(info.Channels)),
		slog.Int("sample_rate", int(info.SampleRate)),
		slog.Duration("recording", info.Duration),
		slog.Float64("speech_ratio", result.Activity.SpeechRatio),
		slog.Duration("elapsed", elapsed))

	return result, nil
}

func (t *Transcoder) fail(start time.Time, err *DecodeError) error {
	t.mu.Lock()
	t.stats.Failures++
	t.mu.Unlock()

	t.metrics.RecordTranscodeFailure(err.Stage, time.Since(start))
	t.logger.Error("Transcode failed",
		slog.String("stage", err.Stage),
		slog.String("content_type", err.ContentType),
		slog.Any("error", err.Err))
	return err
}

func asDecodeError(stage, contentType string, err error) *DecodeError {
	var de *DecodeError
	if errors.As(err, &de) {
		return de
	}
	return &DecodeError{Stage: stage, ContentType: contentType, Err: err}
}

// GetStats returns transcoder statistics
func (t *Transcoder) GetStats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.stats
}
