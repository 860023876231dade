package transcode

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/skypro1111/voice-intent-client/internal/audio"
)

// FFmpegOpener decodes any container ffmpeg understands into float PCM at a
// fixed rate and channel count.
type FFmpegOpener struct {
	Binary     string
	TempDir    string
	SampleRate int
	Channels   int
	Logger     *slog.Logger
}

// Open creates a per-call working directory that the decoder removes on Close.
func (o *FFmpegOpener) Open(ctx context.Context, contentType string) (Decoder, error) {
	if o.SampleRate <= 0 || o.Channels <= 0 {
		return nil, fmt.Errorf("ffmpeg decoder needs positive sample rate and channels, got %d/%d", o.SampleRate, o.Channels)
	}

	bin := o.Binary
	if bin == "" {
		bin = "ffmpeg"
	}
	path, err := exec.LookPath(bin)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}

	base := o.TempDir
	if base == "" {
		base = os.TempDir()
	}
	dir := filepath.Join(base, "voice-decode-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create decode dir: %w", err)
	}

	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &ffmpegDecoder{
		binary:      path,
		dir:         dir,
		contentType: contentType,
		sampleRate:  o.SampleRate,
		channels:    o.Channels,
		logger:      logger,
	}, nil
}

type ffmpegDecoder struct {
	binary      string
	dir         string
	contentType string
	sampleRate  int
	channels    int
	logger      *slog.Logger
	closed      bool
}

func (d *ffmpegDecoder) Decode(ctx context.Context, data []byte) (*audio.DecodedAudio, error) {
	if d.closed {
		return nil, fmt.Errorf("decoder is closed")
	}

	input := filepath.Join(d.dir, "input."+extensionFor(d.contentType))
	if err := os.WriteFile(input, data, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write decoder input: %w", err)
	}

	args := []string{
		"-hide_banner", "-loglevel", "error", "-nostdin",
		"-i", input,
		"-vn",
		"-ac", strconv.Itoa(d.channels),
		"-ar", strconv.Itoa(d.sampleRate),
		"-f", "f32le", "-acodec", "pcm_f32le",
		"pipe:1",
	}

	d.logger.Debug("Running ffmpeg decode",
		slog.String("binary", d.binary),
		slog.String("args", strings.Join(args, " ")),
		slog.Int("input_bytes", len(data)))

	cmd := exec.CommandContext(ctx, d.binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	return decodeF32LE(stdout.Bytes(), d.channels, d.sampleRate), nil
}

func (d *ffmpegDecoder) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	if err := os.RemoveAll(d.dir); err != nil {
		return fmt.Errorf("failed to remove decode dir %s: %w", d.dir, err)
	}
	return nil
}

func decodeF32LE(raw []byte, channels, sampleRate int) *audio.DecodedAudio {
	flat := make([]float32, len(raw)/4)
	for i := range flat {
		flat[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return audio.Deinterleave(flat, channels, sampleRate)
}

// extensionFor gives ffmpeg a hint for probing; it still sniffs the content.
func extensionFor(contentType string) string {
	switch audio.MediaType(contentType) {
	case "audio/webm", "video/webm":
		return "webm"
	case "audio/ogg", "audio/opus":
		return "ogg"
	case "audio/mp4", "audio/m4a", "audio/x-m4a":
		return "m4a"
	case "audio/mpeg", "audio/mp3":
		return "mp3"
	case "audio/flac", "audio/x-flac":
		return "flac"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return "wav"
	default:
		return "bin"
	}
}
