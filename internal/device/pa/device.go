package pa

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/skypro1111/voice-intent-client/internal/audio"
	"github.com/skypro1111/voice-intent-client/internal/capture"
)

// Device captures signed 16-bit PCM from the default input device.
// Chunks are tagged audio/L16 with rate and channels parameters.
type Device struct {
	FramesPerBuffer int
	MaxReadErrors   int // consecutive read failures tolerated before giving up
	FlushTimeout    time.Duration
	Logger          *slog.Logger
}

// Acquire opens and starts the default input stream.
func (d *Device) Acquire(ctx context.Context, c capture.Constraints) (capture.Track, error) {
	if c.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate must be positive, got %d", capture.ErrDeviceUnavailable, c.SampleRate)
	}
	channels := c.Channels
	if channels <= 0 {
		channels = 1
	}
	frames := d.FramesPerBuffer
	if frames <= 0 {
		frames = 1024
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: portaudio init failed: %w", capture.ErrDeviceUnavailable, err)
	}

	in := make([]int16, frames*channels)
	stream, err := portaudio.OpenDefaultStream(channels, 0, float64(c.SampleRate), frames, in)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("%w: open stream failed: %w", capture.ErrDeviceUnavailable, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("%w: start stream failed: %w", capture.ErrDeviceUnavailable, err)
	}

	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	t := &track{
		stream:        stream,
		in:            in,
		contentType:   fmt.Sprintf("audio/L16;rate=%d;channels=%d", c.SampleRate, channels),
		timeslice:     c.Timeslice,
		maxReadErrors: d.MaxReadErrors,
		flushTimeout:  d.FlushTimeout,
		events:        make(chan capture.Event, 16),
		done:          make(chan struct{}),
		logger:        logger,
	}
	if t.timeslice <= 0 {
		t.timeslice = 250 * time.Millisecond
	}
	if t.maxReadErrors <= 0 {
		t.maxReadErrors = 20
	}

	go t.pump()
	return t, nil
}

type track struct {
	stream        *portaudio.Stream
	in            []int16
	contentType   string
	timeslice     time.Duration
	maxReadErrors int
	flushTimeout  time.Duration
	logger        *slog.Logger

	events chan capture.Event
	done   chan struct{}

	stopping atomic.Bool
	once     sync.Once
}

func (t *track) Events() <-chan capture.Event {
	return t.events
}

// RequestFlush makes the read loop deliver what it has and finish.
func (t *track) RequestFlush() error {
	t.stopping.Store(true)
	return nil
}

// ReleaseAllTracks stops the read loop and waits for the stream to close.
func (t *track) ReleaseAllTracks() error {
	var err error
	t.once.Do(func() {
		t.stopping.Store(true)
		timeout := t.flushTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		select {
		case <-t.done:
		case <-time.After(timeout):
			err = fmt.Errorf("portaudio stream did not stop within %v", timeout)
		}
	})
	return err
}

func (t *track) pump() {
	defer close(t.done)
	defer close(t.events)
	defer func() {
		_ = t.stream.Stop()
		_ = t.stream.Close()
		_ = portaudio.Terminate()
	}()

	pending := make([]byte, 0, 64*1024)
	lastEmit := time.Now()
	readErrors := 0

	emit := func() {
		t.events <- capture.Event{
			Kind:  capture.EventChunk,
			Chunk: audio.Chunk{Data: pending, ContentType: t.contentType},
		}
		pending = make([]byte, 0, cap(pending))
		lastEmit = time.Now()
	}

	for !t.stopping.Load() {
		if err := t.stream.Read(); err != nil {
			readErrors++
			t.logger.Debug("portaudio read error", slog.Int("consecutive", readErrors), slog.Any("error", err))
			if readErrors >= t.maxReadErrors {
				if len(pending) > 0 {
					emit()
				}
				t.events <- capture.Event{Kind: capture.EventError, Err: fmt.Errorf("portaudio read failed: %w", err)}
				return
			}
			continue
		}
		readErrors = 0

		for _, s := range t.in {
			pending = binary.LittleEndian.AppendUint16(pending, uint16(s))
		}
		if time.Since(lastEmit) >= t.timeslice {
			emit()
		}
	}

	if len(pending) > 0 {
		emit()
	}
	t.events <- capture.Event{Kind: capture.EventFlushed}
}
