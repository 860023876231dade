package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/skypro1111/voice-intent-client/internal/capture"
	"github.com/skypro1111/voice-intent-client/internal/store"
	"github.com/skypro1111/voice-intent-client/internal/stream"
	"github.com/skypro1111/voice-intent-client/internal/transcription"
	"github.com/skypro1111/voice-intent-client/internal/verify"
)

// ErrNoPendingInput is returned by Submit when no human input was requested.
var ErrNoPendingInput = errors.New("no human input pending")

// ErrClosed is returned after Close.
var ErrClosed = errors.New("assistant closed")

// Transcriber turns a WAV recording into text.
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte) (*transcription.Response, error)
}

// Verifier checks the speaker. Its result never stops a turn.
type Verifier interface {
	Verify(ctx context.Context, wav []byte) verify.Result
}

// IntentStreamer sends a prompt and streams the answer.
type IntentStreamer interface {
	Stream(ctx context.Context, prompt string, onIncrement func(string)) (string, error)
	SubmitInput(ctx context.Context, interactionID, response string) error
}

// Config holds assistant configuration
type Config struct {
	EventBuffer int
	// WarnOnSilence publishes a warning for recordings without detected speech.
	WarnOnSilence bool
}

// Turn is the outcome of one recording or prompt.
type Turn struct {
	ID           string
	Transcript   string
	Verification verify.Result
	Answer       string
	StartedAt    time.Time
	Duration     time.Duration
}

// Stats represents assistant statistics
type Stats struct {
	Turns          uint64    `json:"turns"`
	Completed      uint64    `json:"completed"`
	Failed         uint64    `json:"failed"`
	EmptyTurns     uint64    `json:"empty_turns"`
	Canceled       uint64    `json:"canceled"`
	Verified       uint64    `json:"verified"`
	HumanInputs    uint64    `json:"human_inputs"`
	Busy           bool      `json:"busy"`
	PendingInput   string    `json:"pending_input,omitempty"`
	LastTurnID     string    `json:"last_turn_id,omitempty"`
	LastTranscript string    `json:"last_transcript,omitempty"`
	LastTurnAt     time.Time `json:"last_turn_at"`
}

// Assistant runs turns one at a time; a new turn cancels the one in flight.
type Assistant struct {
	config      Config
	transcriber Transcriber
	verifier    Verifier
	intent      IntentStreamer
	store       store.Store
	logger      *slog.Logger

	events    chan Event
	pubMu     sync.RWMutex
	pubClosed bool
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	mu         sync.Mutex
	turnCancel context.CancelFunc
	turnID     string
	pending    *stream.HumanInputRequest
	closed     bool
	stats      Stats
}

// New creates an assistant. verifier and st may be nil.
func New(config Config, transcriber Transcriber, verifier Verifier, intent IntentStreamer, st store.Store, logger *slog.Logger) *Assistant {
	if config.EventBuffer <= 0 {
		config.EventBuffer = 64
	}
	if st == nil {
		st = store.NewMemory(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Assistant{
		config:      config,
		transcriber: transcriber,
		verifier:    verifier,
		intent:      intent,
		store:       st,
		logger:      logger.With(slog.String("component", "assistant")),
		events:      make(chan Event, config.EventBuffer),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Events returns the notification channel. It is closed by Close.
func (a *Assistant) Events() <-chan Event {
	return a.events
}

// OnStateChange publishes capture state transitions.
func (a *Assistant) OnStateChange(st capture.State) {
	a.publish(Event{Kind: EventState, State: st})
}

// OnDeviceError publishes a capture device failure.
func (a *Assistant) OnDeviceError(err error) {
	a.logger.Error("Capture device failed", slog.Any("error", err))
	a.publish(Event{Kind: EventError, Err: fmt.Errorf("microphone error: %w", err)})
}

// OnRecording receives a finished capture and runs the turn in the
// background so the capture session can accept the next recording.
func (a *Assistant) OnRecording(rec *capture.Recording, err error) {
	if err != nil {
		a.logger.Warn("Recording could not be transcoded", slog.Any("error", err))
		a.publish(Event{Kind: EventError, Err: fmt.Errorf("failed to process recording: %w", err)})
		return
	}

	ctx, id, ok := a.beginTurn(rec.ID)
	if !ok {
		return
	}

	a.publish(Event{Kind: EventRecording, TurnID: id, Recording: rec})
	if a.config.WarnOnSilence && rec.Activity.Windows > 0 && !rec.Activity.HasSpeech() {
		a.publish(Event{Kind: EventWarning, TurnID: id, Text: "no speech detected in recording"})
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.endTurn(id)
		_, _ = a.process(ctx, id, rec.WAV)
	}()
}

// Process runs a full turn for wav and waits for it.
func (a *Assistant) Process(ctx context.Context, wav []byte) (*Turn, error) {
	turnCtx, id, ok := a.beginTurn("")
	if !ok {
		return nil, ErrClosed
	}
	defer a.endTurn(id)

	ctx, stop := mergeCancel(ctx, turnCtx)
	defer stop()

	return a.process(ctx, id, wav)
}

// Ask sends prompt directly, skipping capture and transcription.
func (a *Assistant) Ask(ctx context.Context, prompt string) (*Turn, error) {
	turnCtx, id, ok := a.beginTurn("")
	if !ok {
		return nil, ErrClosed
	}
	defer a.endTurn(id)

	ctx, stop := mergeCancel(ctx, turnCtx)
	defer stop()

	turn := &Turn{ID: id, Transcript: prompt, StartedAt: time.Now()}
	err := a.answer(ctx, turn)
	a.finish(turn, err)
	return turn, err
}

func (a *Assistant) process(ctx context.Context, id string, wav []byte) (*Turn, error) {
	turn := &Turn{ID: id, StartedAt: time.Now()}

	a.logger.Info("Processing recording",
		slog.String("turn_id", id),
		slog.Int("wav_bytes", len(wav)))

	transcript, verification, err := a.transcribe(ctx, wav)
	turn.Verification = verification
	if err != nil {
		err = fmt.Errorf("failed to transcribe recording: %w", err)
		a.finish(turn, err)
		return turn, err
	}

	a.publish(Event{Kind: EventVerification, TurnID: id, Verification: verification})
	if verification.Verified() {
		a.mu.Lock()
		a.stats.Verified++
		a.mu.Unlock()
	}

	turn.Transcript = transcript
	a.publish(Event{Kind: EventTranscript, TurnID: id, Text: transcript})

	if transcript == "" {
		a.logger.Info("Empty transcript, skipping intent", slog.String("turn_id", id))
		a.mu.Lock()
		a.stats.EmptyTurns++
		a.mu.Unlock()
		a.finish(turn, nil)
		return turn, nil
	}

	a.remember(ctx, store.KeyLastTranscript, transcript)

	err = a.answer(ctx, turn)
	a.finish(turn, err)
	return turn, err
}

// transcribe runs transcription and verification together. Only a
// transcription failure is an error.
func (a *Assistant) transcribe(ctx context.Context, wav []byte) (string, verify.Result, error) {
	var (
		resp         *transcription.Response
		verification = verify.Result{Outcome: verify.OutcomeSkipped}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r, err := a.transcriber.Transcribe(gctx, wav)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if a.verifier != nil {
		g.Go(func() error {
			verification = a.verifier.Verify(gctx, wav)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return "", verification, err
	}
	return resp.Text, verification, nil
}

func (a *Assistant) answer(ctx context.Context, turn *Turn) error {
	text, err := a.intent.Stream(ctx, turn.Transcript, func(cumulative string) {
		a.publish(Event{Kind: EventAnswer, TurnID: turn.ID, Text: cumulative})
	})
	turn.Answer = text
	if err != nil {
		return fmt.Errorf("failed to stream answer: %w", err)
	}

	a.publish(Event{Kind: EventAnswerDone, TurnID: turn.ID, Text: text})
	a.remember(ctx, store.KeyLastAnswer, text)
	return nil
}

// HandleHumanInput is the stream reader hook for human-input requests.
func (a *Assistant) HandleHumanInput(req stream.HumanInputRequest) {
	a.mu.Lock()
	a.pending = &req
	a.stats.HumanInputs++
	id := a.turnID
	a.mu.Unlock()

	a.logger.Info("Human input requested",
		slog.String("interaction_id", req.InteractionID),
		slog.String("question", req.Question))
	a.publish(Event{Kind: EventHumanInput, TurnID: id, HumanInput: &req})
}

// PendingInput returns the open human-input request, if any.
func (a *Assistant) PendingInput() (stream.HumanInputRequest, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pending == nil {
		return stream.HumanInputRequest{}, false
	}
	return *a.pending, true
}

// Submit answers the pending human-input request.
func (a *Assistant) Submit(ctx context.Context, response string) error {
	a.mu.Lock()
	pending := a.pending
	a.mu.Unlock()
	if pending == nil {
		return ErrNoPendingInput
	}

	if err := a.intent.SubmitInput(ctx, pending.InteractionID, response); err != nil {
		return fmt.Errorf("failed to submit input: %w", err)
	}

	a.mu.Lock()
	if a.pending == pending {
		a.pending = nil
	}
	a.mu.Unlock()
	return nil
}

// Cancel stops the turn in flight, if any.
func (a *Assistant) Cancel() {
	a.mu.Lock()
	cancel := a.turnCancel
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Close cancels any turn, waits for background work and closes Events.
func (a *Assistant) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	a.cancel()
	a.wg.Wait()

	a.pubMu.Lock()
	a.pubClosed = true
	close(a.events)
	a.pubMu.Unlock()
	return nil
}

// GetStats returns current statistics
func (a *Assistant) GetStats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	stats := a.stats
	stats.Busy = a.turnCancel != nil
	if a.pending != nil {
		stats.PendingInput = a.pending.InteractionID
	}
	return stats
}

func (a *Assistant) beginTurn(id string) (context.Context, string, bool) {
	if id == "" {
		id = uuid.NewString()
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, "", false
	}
	if a.turnCancel != nil {
		a.logger.Info("Canceling previous turn", slog.String("turn_id", a.turnID))
		a.turnCancel()
	}

	ctx, cancel := context.WithCancel(a.ctx)
	a.turnCancel = cancel
	a.turnID = id
	a.pending = nil
	a.stats.Turns++
	a.stats.LastTurnID = id
	a.stats.LastTurnAt = time.Now()
	return ctx, id, true
}

func (a *Assistant) endTurn(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.turnID != id {
		return
	}
	if a.turnCancel != nil {
		a.turnCancel()
	}
	a.turnCancel = nil
}

func (a *Assistant) finish(turn *Turn, err error) {
	turn.Duration = time.Since(turn.StartedAt)

	a.mu.Lock()
	switch {
	case err == nil:
		a.stats.Completed++
	case errors.Is(err, context.Canceled):
		a.stats.Canceled++
	default:
		a.stats.Failed++
	}
	if turn.Transcript != "" {
		a.stats.LastTranscript = turn.Transcript
	}
	a.mu.Unlock()

	if err != nil {
		if errors.Is(err, context.Canceled) {
			a.logger.Info("Turn canceled", slog.String("turn_id", turn.ID))
		} else {
			a.logger.Error("Turn failed",
				slog.String("turn_id", turn.ID),
				slog.Int("answer_length", len(turn.Answer)),
				slog.Any("error", err))
		}
		a.publish(Event{Kind: EventError, TurnID: turn.ID, Text: turn.Answer, Err: err})
		return
	}

	a.logger.Info("Turn completed",
		slog.String("turn_id", turn.ID),
		slog.Int("transcript_length", len(turn.Transcript)),
		slog.Int("answer_length", len(turn.Answer)),
		slog.String("verification", string(turn.Verification.Outcome)),
		slog.Duration("duration", turn.Duration))
}

func (a *Assistant) remember(ctx context.Context, key, value string) {
	if err := a.store.Set(ctx, key, value); err != nil {
		a.logger.Warn("Failed to write session storage",
			slog.String("key", key),
			slog.Any("error", err))
	}
}

// publish delivers e unless the assistant is shutting down.
func (a *Assistant) publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	a.pubMu.RLock()
	defer a.pubMu.RUnlock()
	if a.pubClosed {
		return
	}
	select {
	case a.events <- e:
	case <-a.ctx.Done():
	}
}

// mergeCancel returns a context canceled when either parent is.
func mergeCancel(ctx, other context.Context) (context.Context, context.CancelFunc) {
	merged, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(other, cancel)
	return merged, func() {
		stop()
		cancel()
	}
}
