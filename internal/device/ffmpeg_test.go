package device

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/voice-intent-client/internal/capture"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeFFmpeg writes an executable shell script standing in for ffmpeg.
func fakeFFmpeg(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script stand-in requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
	return path
}

func testDevice(bin string) *FFmpegDevice {
	return &FFmpegDevice{
		Binary:       bin,
		Format:       "pulse",
		Input:        "default",
		Codec:        "libopus",
		Container:    "webm",
		ContentType:  "audio/webm;codecs=opus",
		StartupGrace: 50 * time.Millisecond,
		FlushTimeout: time.Second,
		Logger:       testLogger(),
	}
}

func drain(t *testing.T, events <-chan capture.Event) (data string, last capture.Event) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return data, last
			}
			if ev.Kind == capture.EventChunk {
				data += string(ev.Chunk.Data)
			}
			last = ev
		case <-timeout:
			t.Fatal("timed out draining events")
		}
	}
}

func TestFFmpegDeviceFlush(t *testing.T) {
	bin := fakeFFmpeg(t, "printf 'chunk-one'\nread -r line\nprintf 'tail'\nexit 0\n")

	track, err := testDevice(bin).Acquire(context.Background(), capture.Constraints{Timeslice: 20 * time.Millisecond})
	require.NoError(t, err)

	require.NoError(t, track.RequestFlush())
	require.NoError(t, track.ReleaseAllTracks())

	data, last := drain(t, track.Events())
	assert.Equal(t, "chunk-onetail", data)
	assert.Equal(t, capture.EventFlushed, last.Kind)
}

func TestFFmpegDeviceEarlyExit(t *testing.T) {
	bin := fakeFFmpeg(t, "echo 'no such device' >&2\nexit 1\n")

	_, err := testDevice(bin).Acquire(context.Background(), capture.Constraints{Timeslice: 20 * time.Millisecond})
	require.Error(t, err)
	assert.ErrorIs(t, err, capture.ErrDeviceUnavailable)
	assert.Contains(t, err.Error(), "no such device")
}

func TestFFmpegDeviceMissingBinary(t *testing.T) {
	_, err := testDevice(filepath.Join(t.TempDir(), "missing")).Acquire(context.Background(), capture.Constraints{})
	assert.ErrorIs(t, err, capture.ErrDeviceUnavailable)
}

func TestFFmpegDeviceUnexpectedExit(t *testing.T) {
	bin := fakeFFmpeg(t, "printf 'abc'\nsleep 0.2\necho 'device lost' >&2\nexit 3\n")

	track, err := testDevice(bin).Acquire(context.Background(), capture.Constraints{Timeslice: 20 * time.Millisecond})
	require.NoError(t, err)

	data, last := drain(t, track.Events())
	assert.Equal(t, "abc", data)
	require.Equal(t, capture.EventError, last.Kind)
	assert.Contains(t, last.Err.Error(), "device lost")
}

func TestFFmpegDeviceWithSession(t *testing.T) {
	bin := fakeFFmpeg(t, "printf 'RIFF'\nread -r line\nexit 0\n")

	done := make(chan error, 1)
	var got []byte
	tr := transcoderFunc(func(chunks []byte) { got = chunks })
	s := capture.NewSession(testDevice(bin), tr, capture.Options{
		Constraints: capture.Constraints{Timeslice: 20 * time.Millisecond},
		OnComplete:  func(_ *capture.Recording, err error) { done <- err },
	}, testLogger())

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for completion")
	}
	s.Wait()
	assert.Equal(t, "RIFF", string(got))
	assert.Equal(t, capture.StateIdle, s.State())
}
