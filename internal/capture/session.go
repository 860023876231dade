package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/voice-intent-client/internal/audio"
	"github.com/skypro1111/voice-intent-client/internal/metrics"
	"github.com/skypro1111/voice-intent-client/internal/transcode"
	"github.com/skypro1111/voice-intent-client/internal/vad"
)

// State is the capture session state.
type State int

const (
	StateIdle State = iota
	StateRecording
	StateFinalizing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateFinalizing:
		return "finalizing"
	default:
		return "unknown"
	}
}

var errTrackEnded = errors.New("track ended unexpectedly")

// Transcoder turns the captured chunk sequence into a WAV container.
type Transcoder interface {
	Transcode(ctx context.Context, chunks []audio.Chunk) (*transcode.Result, error)
}

// Recording is a finished capture.
type Recording struct {
	ID        string
	WAV       []byte
	Info      *audio.WAVInfo
	Activity  vad.Activity
	Chunks    int
	StartedAt time.Time
	StoppedAt time.Time
}

// Options configures a Session. All callbacks are optional. OnComplete and
// OnError run on the session's event goroutine, never concurrently.
type Options struct {
	Constraints Constraints

	// OnComplete receives the recording, or the transcode error.
	OnComplete func(*Recording, error)
	// OnError receives device failures during recording.
	OnError func(error)
	// OnStateChange is called after every transition.
	OnStateChange func(State)

	Metrics *metrics.Metrics
}

// SessionStats represents capture statistics for diagnostics
type SessionStats struct {
	State           string    `json:"state"`
	Recordings      uint64    `json:"recordings"`
	Failures        uint64    `json:"failures"`
	DeviceErrors    uint64    `json:"device_errors"`
	PendingChunks   int       `json:"pending_chunks"`
	PendingBytes    int       `json:"pending_bytes"`
	CurrentID       string    `json:"current_id,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	LastRecordingID string    `json:"last_recording_id,omitempty"`
}

// Session records from one device at a time.
type Session struct {
	device     Device
	transcoder Transcoder
	opts       Options
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	state     State
	acquiring bool
	track     Track
	chunks    *audio.ChunkBuffer
	currentID string
	startedAt time.Time
	stoppedAt time.Time

	recordings   uint64
	failures     uint64
	deviceErrors uint64
	lastID       string

	wg sync.WaitGroup
	mu sync.Mutex
}

// NewSession creates an idle session.
func NewSession(device Device, transcoder Transcoder, opts Options, logger *slog.Logger) *Session {
	if opts.Constraints.Timeslice <= 0 {
		opts.Constraints.Timeslice = 250 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Session{
		device:     device,
		transcoder: transcoder,
		opts:       opts,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		chunks:     audio.NewChunkBuffer(),
	}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start acquires the device and begins recording. It does nothing unless the
// session is idle. On failure the session stays idle and the error matches
// ErrDeviceUnavailable.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle || s.acquiring || s.ctx.Err() != nil {
		s.mu.Unlock()
		return nil
	}
	s.acquiring = true
	s.mu.Unlock()

	track, err := s.device.Acquire(ctx, s.opts.Constraints)

	s.mu.Lock()
	s.acquiring = false
	if err != nil {
		s.failures++
		s.mu.Unlock()

		if !errors.Is(err, ErrDeviceUnavailable) {
			err = fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
		}
		s.opts.Metrics.RecordCaptureFailure("device_unavailable")
		s.logger.Error("Failed to acquire capture device", slog.Any("error", err))
		return err
	}

	id := uuid.NewString()
	s.chunks.Reset()
	s.track = track
	s.currentID = id
	s.startedAt = time.Now()
	s.state = StateRecording
	s.wg.Add(1)
	s.mu.Unlock()

	s.opts.Metrics.RecordCaptureStarted()
	s.notifyState(StateRecording)
	s.logger.Info("Recording started",
		slog.String("recording_id", id),
		slog.Duration("timeslice", s.opts.Constraints.Timeslice))

	go s.run(track, id)
	return nil
}

// Stop asks the device to flush and releases it. The recording is finished
// asynchronously; OnComplete fires once the flush completes. Stop does
// nothing unless the session is recording.
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.state != StateRecording {
		s.mu.Unlock()
		return nil
	}
	track := s.track
	id := s.currentID
	s.stoppedAt = time.Now()
	s.state = StateFinalizing
	s.mu.Unlock()

	s.notifyState(StateFinalizing)
	s.logger.Info("Recording stopping", slog.String("recording_id", id))

	var errs []error
	if err := track.RequestFlush(); err != nil {
		errs = append(errs, fmt.Errorf("failed to request flush: %w", err))
	}
	if err := track.ReleaseAllTracks(); err != nil {
		errs = append(errs, fmt.Errorf("failed to release tracks: %w", err))
	}
	return errors.Join(errs...)
}

// Wait blocks until the current recording, if any, has been finalized.
func (s *Session) Wait() {
	s.wg.Wait()
}

// Close stops any recording, waits for it to finish and makes the session
// refuse further starts.
func (s *Session) Close() error {
	err := s.Stop()
	s.wg.Wait()
	s.cancel()
	return err
}

func (s *Session) run(track Track, id string) {
	defer s.wg.Done()

	for ev := range track.Events() {
		switch ev.Kind {
		case EventChunk:
			if s.chunks.Append(ev.Chunk) {
				s.opts.Metrics.RecordChunk(ev.Chunk.Len())
			}
		case EventFlushed:
			s.finalize(id)
			return
		case EventError:
			if s.State() == StateFinalizing {
				s.logger.Warn("Device error while finalizing, keeping captured audio",
					slog.String("recording_id", id),
					slog.Any("error", ev.Err))
				s.finalize(id)
				return
			}
			s.deviceError(track, id, ev.Err)
			return
		}
	}

	if s.State() == StateFinalizing {
		s.finalize(id)
		return
	}
	s.deviceError(track, id, errTrackEnded)
}

func (s *Session) finalize(id string) {
	s.mu.Lock()
	chunks := s.chunks.Snapshot()
	startedAt, stoppedAt := s.startedAt, s.stoppedAt
	s.mu.Unlock()

	res, err := s.transcoder.Transcode(s.ctx, chunks)

	var rec *Recording
	if err != nil {
		s.opts.Metrics.RecordCaptureFailure("transcode")
		s.logger.Error("Recording could not be transcoded",
			slog.String("recording_id", id),
			slog.Int("chunks", len(chunks)),
			slog.Any("error", err))
	} else {
		rec = &Recording{
			ID:        id,
			WAV:       res.WAV,
			Info:      res.Info,
			Activity:  res.Activity,
			Chunks:    len(chunks),
			StartedAt: startedAt,
			StoppedAt: stoppedAt,
		}
		s.logger.Info("Recording finished",
			slog.String("recording_id", id),
			slog.Int("chunks", len(chunks)),
			slog.Int("wav_bytes", len(res.WAV)),
			slog.Duration("duration", res.Info.Duration))
	}

	if s.opts.OnComplete != nil {
		s.opts.OnComplete(rec, err)
	}

	s.mu.Lock()
	if err != nil {
		s.failures++
	} else {
		s.recordings++
		s.lastID = id
	}
	s.reset()
	s.mu.Unlock()

	s.notifyState(StateIdle)
}

func (s *Session) deviceError(track Track, id string, cause error) {
	s.mu.Lock()
	s.deviceErrors++
	s.reset()
	s.mu.Unlock()

	if err := track.ReleaseAllTracks(); err != nil {
		s.logger.Warn("Failed to release tracks after device error",
			slog.String("recording_id", id),
			slog.Any("error", err))
	}

	s.opts.Metrics.RecordCaptureFailure("device")
	s.logger.Error("Capture device failed",
		slog.String("recording_id", id),
		slog.Any("error", cause))

	s.notifyState(StateIdle)
	if s.opts.OnError != nil {
		s.opts.OnError(fmt.Errorf("recording %s: %w", id, cause))
	}
}

// reset returns the session to idle; s.mu must be held.
func (s *Session) reset() {
	s.state = StateIdle
	s.track = nil
	s.currentID = ""
	s.chunks.Reset()
}

func (s *Session) notifyState(st State) {
	s.opts.Metrics.SetCaptureState(int(st))
	if s.opts.OnStateChange != nil {
		s.opts.OnStateChange(st)
	}
}

// GetStats returns capture statistics
func (s *Session) GetStats() SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := s.chunks.GetStats()
	return SessionStats{
		State:           s.state.String(),
		Recordings:      s.recordings,
		Failures:        s.failures,
		DeviceErrors:    s.deviceErrors,
		PendingChunks:   buf.Chunks,
		PendingBytes:    buf.Bytes,
		CurrentID:       s.currentID,
		StartedAt:       s.startedAt,
		LastRecordingID: s.lastID,
	}
}
