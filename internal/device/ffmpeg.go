package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skypro1111/voice-intent-client/internal/audio"
	"github.com/skypro1111/voice-intent-client/internal/capture"
)

// FFmpegDevice captures through an ffmpeg child process. Format and Input
// select the OS input (pulse/default, alsa/hw:0, avfoundation/:0,
// dshow/audio=Microphone).
type FFmpegDevice struct {
	Binary       string
	Format       string
	Input        string
	Codec        string // e.g. libopus
	Container    string // e.g. webm
	ContentType  string // reported on chunks
	Bitrate      string
	StartupGrace time.Duration // process must survive this long
	FlushTimeout time.Duration // kill deadline after release
	Logger       *slog.Logger
}

// Acquire starts ffmpeg. A missing binary or an early exit is reported as
// capture.ErrDeviceUnavailable.
func (d *FFmpegDevice) Acquire(ctx context.Context, c capture.Constraints) (capture.Track, error) {
	bin := d.Binary
	if bin == "" {
		bin = "ffmpeg"
	}
	path, err := exec.LookPath(bin)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", capture.ErrDeviceUnavailable, err)
	}

	args := []string{"-hide_banner", "-loglevel", "error", "-f", d.Format, "-i", d.Input}
	if c.Channels > 0 {
		args = append(args, "-ac", strconv.Itoa(c.Channels))
	}
	if c.SampleRate > 0 {
		args = append(args, "-ar", strconv.Itoa(c.SampleRate))
	}
	args = append(args, "-c:a", d.Codec)
	if d.Bitrate != "" {
		args = append(args, "-b:a", d.Bitrate)
	}
	args = append(args, "-f", d.Container, "-flush_packets", "1", "pipe:1")

	cmd := exec.Command(path, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open ffmpeg stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open ffmpeg stdout: %w", err)
	}

	t := &ffmpegTrack{
		cmd:          cmd,
		stdin:        stdin,
		stdout:       stdout,
		contentType:  d.ContentType,
		timeslice:    c.Timeslice,
		flushTimeout: d.FlushTimeout,
		events:       make(chan capture.Event, 16),
		exited:       make(chan struct{}),
		logger:       d.logger(),
	}
	cmd.Stderr = &t.stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: failed to start ffmpeg: %w", capture.ErrDeviceUnavailable, err)
	}

	t.logger.Debug("ffmpeg capture started",
		slog.Int("pid", cmd.Process.Pid),
		slog.String("format", d.Format),
		slog.String("input", d.Input))

	go t.pump()

	grace := d.StartupGrace
	if grace <= 0 {
		grace = 300 * time.Millisecond
	}
	select {
	case <-t.exited:
		return nil, fmt.Errorf("%w: ffmpeg exited: %s", capture.ErrDeviceUnavailable, t.stderrText())
	case <-time.After(grace):
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		return nil, ctx.Err()
	}

	return t, nil
}

func (d *FFmpegDevice) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

type ffmpegTrack struct {
	cmd          *exec.Cmd
	stdin        io.WriteCloser
	stdout       io.ReadCloser
	contentType  string
	timeslice    time.Duration
	flushTimeout time.Duration
	logger       *slog.Logger

	events chan capture.Event
	exited chan struct{}

	stderr  lockedBuffer
	pending []byte
	pmu     sync.Mutex

	flushRequested atomic.Bool
	flushOnce      sync.Once
	releaseOnce    sync.Once
}

func (t *ffmpegTrack) Events() <-chan capture.Event {
	return t.events
}

// RequestFlush asks ffmpeg to finish the container and exit.
func (t *ffmpegTrack) RequestFlush() error {
	var err error
	t.flushOnce.Do(func() {
		t.flushRequested.Store(true)
		if _, werr := t.stdin.Write([]byte("q")); werr != nil && !errors.Is(werr, io.ErrClosedPipe) {
			err = fmt.Errorf("failed to signal ffmpeg: %w", werr)
		}
		_ = t.stdin.Close()
	})
	return err
}

// ReleaseAllTracks kills ffmpeg if it has not exited within the flush timeout.
func (t *ffmpegTrack) ReleaseAllTracks() error {
	t.releaseOnce.Do(func() {
		timeout := t.flushTimeout
		if timeout <= 0 {
			timeout = 3 * time.Second
		}
		go func() {
			select {
			case <-t.exited:
			case <-time.After(timeout):
				t.logger.Warn("ffmpeg did not exit after flush, killing", slog.Int("pid", t.cmd.Process.Pid))
				_ = t.cmd.Process.Kill()
			}
		}()
	})
	return nil
}

func (t *ffmpegTrack) pump() {
	defer close(t.events)

	readDone := make(chan error, 1)
	go func() {
		buf := make([]byte, 32*1024)
		for {
			n, err := t.stdout.Read(buf)
			if n > 0 {
				t.pmu.Lock()
				t.pending = append(t.pending, buf[:n]...)
				t.pmu.Unlock()
			}
			if err != nil {
				readDone <- err
				return
			}
		}
	}()

	timeslice := t.timeslice
	if timeslice <= 0 {
		timeslice = 250 * time.Millisecond
	}
	ticker := time.NewTicker(timeslice)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.emitPending()
		case rerr := <-readDone:
			t.emitPending()
			werr := t.cmd.Wait()
			close(t.exited)

			if t.flushRequested.Load() {
				t.events <- capture.Event{Kind: capture.EventFlushed}
				return
			}
			if werr == nil && !errors.Is(rerr, io.EOF) {
				werr = rerr
			}
			t.events <- capture.Event{
				Kind: capture.EventError,
				Err:  fmt.Errorf("ffmpeg capture ended: %v: %s", werr, t.stderrText()),
			}
			return
		}
	}
}

func (t *ffmpegTrack) emitPending() {
	t.pmu.Lock()
	data := t.pending
	t.pending = nil
	t.pmu.Unlock()

	// Empty slices are still delivered; the session drops them.
	t.events <- capture.Event{
		Kind:  capture.EventChunk,
		Chunk: audio.Chunk{Data: data, ContentType: t.contentType},
	}
}

func (t *ffmpegTrack) stderrText() string {
	return string(bytes.TrimSpace(t.stderr.Bytes()))
}

// lockedBuffer is a bytes.Buffer safe for concurrent Write and Bytes.
type lockedBuffer struct {
	buf bytes.Buffer
	mu  sync.Mutex
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}
