package transcode

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/voice-intent-client/internal/audio"
	"github.com/skypro1111/voice-intent-client/internal/vad"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeDecoder struct {
	decoded *audio.DecodedAudio
	err     error
	input   []byte
	closed  int
}

func (d *fakeDecoder) Decode(ctx context.Context, data []byte) (*audio.DecodedAudio, error) {
	d.input = data
	return d.decoded, d.err
}

func (d *fakeDecoder) Close() error {
	d.closed++
	return nil
}

type fakeOpener struct {
	dec         *fakeDecoder
	opened      int
	contentType string
}

func (o *fakeOpener) Open(ctx context.Context, contentType string) (Decoder, error) {
	o.opened++
	o.contentType = contentType
	return o.dec, nil
}

// --- Transcoder ---

func TestTranscodeSuccess(t *testing.T) {
	decoded := &audio.DecodedAudio{SampleRate: 16000, Channels: [][]float32{{0, 1, -1, 0.5}}}
	opener := &fakeOpener{dec: &fakeDecoder{decoded: decoded}}
	tr := NewTranscoder(opener, nil, nil, testLogger())

	res, err := tr.Transcode(context.Background(), []audio.Chunk{
		{Data: []byte("ab"), ContentType: "audio/webm;codecs=opus"},
		{Data: []byte("cd"), ContentType: "audio/webm;codecs=opus"},
	})
	require.NoError(t, err)

	assert.Equal(t, "abcd", string(opener.dec.input))
	assert.Equal(t, "audio/webm;codecs=opus", opener.contentType)
	assert.Equal(t, 1, opener.dec.closed)
	assert.Equal(t, audio.EncodeWAV(decoded), res.WAV)
	assert.Equal(t, []byte{0x00, 0x00, 0xFF, 0x7F, 0x00, 0x80, 0xFF, 0x3F}, res.WAV[44:])
	assert.Equal(t, uint32(16000), res.Info.SampleRate)

	stats := tr.GetStats()
	assert.Equal(t, uint64(1), stats.Transcodes)
	assert.Equal(t, uint64(4), stats.BytesIn)
}

func TestTranscodeEmptyInput(t *testing.T) {
	opener := &fakeOpener{dec: &fakeDecoder{}}
	tr := NewTranscoder(opener, nil, nil, testLogger())

	_, err := tr.Transcode(context.Background(), []audio.Chunk{{ContentType: "audio/webm"}})
	require.Error(t, err)

	assert.ErrorIs(t, err, ErrDecode)
	assert.ErrorIs(t, err, ErrEmptyInput)
	assert.Equal(t, 0, opener.opened)
	assert.Equal(t, uint64(1), tr.GetStats().Failures)
}

func TestTranscodeDecodeFailureReleasesDecoder(t *testing.T) {
	boom := errors.New("malformed container")
	opener := &fakeOpener{dec: &fakeDecoder{err: boom}}
	tr := NewTranscoder(opener, nil, nil, testLogger())

	_, err := tr.Transcode(context.Background(), []audio.Chunk{{Data: []byte{1}, ContentType: "audio/webm"}})
	require.Error(t, err)

	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "decode", de.Stage)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, opener.dec.closed)
}

func TestTranscodeRejectsUnequalChannels(t *testing.T) {
	decoded := &audio.DecodedAudio{SampleRate: 16000, Channels: [][]float32{{0, 0}, {0}}}
	opener := &fakeOpener{dec: &fakeDecoder{decoded: decoded}}
	tr := NewTranscoder(opener, nil, nil, testLogger())

	_, err := tr.Transcode(context.Background(), []audio.Chunk{{Data: []byte{1}}})

	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "validate", de.Stage)
	assert.Equal(t, 1, opener.dec.closed)
}

func TestTranscodeNoFrames(t *testing.T) {
	decoded := &audio.DecodedAudio{SampleRate: 16000, Channels: [][]float32{{}}}
	opener := &fakeOpener{dec: &fakeDecoder{decoded: decoded}}
	tr := NewTranscoder(opener, nil, nil, testLogger())

	_, err := tr.Transcode(context.Background(), []audio.Chunk{{Data: []byte{1}}})
	assert.ErrorIs(t, err, ErrNoAudio)
}

func TestTranscodeRunsVoiceActivity(t *testing.T) {
	samples := make([]float32, 16000)
	for i := range samples {
		samples[i] = float32(0.5 * math.Sin(2*math.Pi*200*float64(i)/16000))
	}
	analyzer, err := vad.NewProcessor(0.5, 30*time.Millisecond, 0.1)
	require.NoError(t, err)

	opener := &fakeOpener{dec: &fakeDecoder{decoded: &audio.DecodedAudio{SampleRate: 16000, Channels: [][]float32{samples}}}}
	tr := NewTranscoder(opener, analyzer, nil, testLogger())

	res, err := tr.Transcode(context.Background(), []audio.Chunk{{Data: []byte{1}}})
	require.NoError(t, err)

	assert.True(t, res.Activity.HasSpeech())
	assert.Greater(t, res.Activity.SpeechRatio, 0.9)
}

// --- Decoders ---

func writeTestWAV(t *testing.T, samples []int, rate, channels int) []byte {
	t.Helper()

	path := filepath.Join(t.TempDir(), "in.wav")
	f, err := os.Create(path)
	require.NoError(t, err)

	enc := wav.NewEncoder(f, rate, 16, channels, 1)
	require.NoError(t, enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: rate},
		Data:           samples,
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

func TestWAVOpenerRoundTrip(t *testing.T) {
	in := []int{0, 32767, -32768, -16384, -100, -1}
	data := writeTestWAV(t, in, 8000, 2)

	tr := NewTranscoder(WAVOpener{}, nil, nil, testLogger())
	res, err := tr.Transcode(context.Background(), []audio.Chunk{{Data: data, ContentType: "audio/wav"}})
	require.NoError(t, err)

	assert.Equal(t, uint16(2), res.Info.Channels)
	assert.Equal(t, uint32(8000), res.Info.SampleRate)
	require.Len(t, res.WAV, 44+len(in)*2)

	for i, want := range in {
		got := int16(binary.LittleEndian.Uint16(res.WAV[44+i*2:]))
		assert.Equal(t, int16(want), got, "sample %d", i)
	}
}

func TestWAVOpenerRejectsGarbage(t *testing.T) {
	tr := NewTranscoder(WAVOpener{}, nil, nil, testLogger())

	_, err := tr.Transcode(context.Background(), []audio.Chunk{{Data: []byte("definitely not a wav file"), ContentType: "audio/wav"}})
	assert.ErrorIs(t, err, ErrDecode)
}

func TestRawPCMOpenerUsesContentTypeParams(t *testing.T) {
	in := []int16{-32768, 0, 32767, -2}
	data := make([]byte, len(in)*2)
	for i, v := range in {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(v))
	}

	tr := NewTranscoder(RawPCMOpener{SampleRate: 16000, Channels: 1}, nil, nil, testLogger())
	res, err := tr.Transcode(context.Background(), []audio.Chunk{
		{Data: data[:4], ContentType: "audio/L16;rate=8000;channels=2"},
		{Data: data[4:], ContentType: "audio/L16;rate=8000;channels=2"},
	})
	require.NoError(t, err)

	assert.Equal(t, uint32(8000), res.Info.SampleRate)
	assert.Equal(t, uint16(2), res.Info.Channels)
	assert.Equal(t, data, res.WAV[44:])
}

func TestRawPCMOpenerOddLength(t *testing.T) {
	tr := NewTranscoder(RawPCMOpener{SampleRate: 16000, Channels: 1}, nil, nil, testLogger())

	_, err := tr.Transcode(context.Background(), []audio.Chunk{{Data: []byte{1, 2, 3}, ContentType: "audio/L16"}})
	assert.ErrorIs(t, err, ErrDecode)
}

func TestMuxOpener(t *testing.T) {
	wavDec := &fakeDecoder{}
	fallbackDec := &fakeDecoder{}

	mux := NewMuxOpener(&fakeOpener{dec: fallbackDec})
	mux.Register("audio/wav", &fakeOpener{dec: wavDec})

	dec, err := mux.Open(context.Background(), "audio/WAV; charset=binary")
	require.NoError(t, err)
	assert.Same(t, wavDec, dec)

	dec, err = mux.Open(context.Background(), "audio/webm;codecs=opus")
	require.NoError(t, err)
	assert.Same(t, fallbackDec, dec)

	_, err = NewMuxOpener(nil).Open(context.Background(), "audio/ogg")
	assert.ErrorIs(t, err, ErrDecode)
}

func TestDecodeF32LE(t *testing.T) {
	raw := make([]byte, 0, 16)
	for _, v := range []float32{0.25, -0.25, 1, -1} {
		raw = binary.LittleEndian.AppendUint32(raw, math.Float32bits(v))
	}

	d := decodeF32LE(raw, 2, 48000)
	require.Equal(t, 2, d.NumChannels())
	assert.Equal(t, []float32{0.25, 1}, d.Channels[0])
	assert.Equal(t, []float32{-0.25, -1}, d.Channels[1])
}

func TestExtensionFor(t *testing.T) {
	assert.Equal(t, "webm", extensionFor("audio/webm;codecs=opus"))
	assert.Equal(t, "ogg", extensionFor("audio/ogg"))
	assert.Equal(t, "bin", extensionFor(""))
}

func TestFFmpegOpenerMissingBinary(t *testing.T) {
	opener := &FFmpegOpener{Binary: "definitely-not-ffmpeg-xyz", SampleRate: 16000, Channels: 1}
	tr := NewTranscoder(opener, nil, nil, testLogger())

	_, err := tr.Transcode(context.Background(), []audio.Chunk{{Data: []byte{1}, ContentType: "audio/webm"}})

	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "open", de.Stage)
}

func TestFFmpegDecodeWAV(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}

	data := writeTestWAV(t, make([]int, 1600), 16000, 1)
	tmp := t.TempDir()
	opener := &FFmpegOpener{TempDir: tmp, SampleRate: 16000, Channels: 1, Logger: testLogger()}
	tr := NewTranscoder(opener, nil, nil, testLogger())

	res, err := tr.Transcode(context.Background(), []audio.Chunk{{Data: data, ContentType: "audio/wav"}})
	require.NoError(t, err)
	assert.Equal(t, uint32(1600), res.Info.NumFrames)

	entries, err := os.ReadDir(tmp)
	require.NoError(t, err)
	assert.Empty(t, entries, "decode dir should be removed")
}

func TestFFmpegDecodeGarbage(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}

	tmp := t.TempDir()
	opener := &FFmpegOpener{TempDir: tmp, SampleRate: 16000, Channels: 1, Logger: testLogger()}
	tr := NewTranscoder(opener, nil, nil, testLogger())

	_, err := tr.Transcode(context.Background(), []audio.Chunk{{Data: []byte("garbage"), ContentType: "audio/webm"}})
	assert.ErrorIs(t, err, ErrDecode)

	entries, err := os.ReadDir(tmp)
	require.NoError(t, err)
	assert.Empty(t, entries, "decode dir should be removed")
}
