package assistant

import (
	"time"

	"github.com/skypro1111/voice-intent-client/internal/capture"
	"github.com/skypro1111/voice-intent-client/internal/stream"
	"github.com/skypro1111/voice-intent-client/internal/verify"
)

// EventKind tags an Event.
type EventKind int

const (
	EventState EventKind = iota
	EventRecording
	EventTranscript
	EventVerification
	EventAnswer
	EventAnswerDone
	EventHumanInput
	EventWarning
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventState:
		return "state"
	case EventRecording:
		return "recording"
	case EventTranscript:
		return "transcript"
	case EventVerification:
		return "verification"
	case EventAnswer:
		return "answer"
	case EventAnswerDone:
		return "answer_done"
	case EventHumanInput:
		return "human_input"
	case EventWarning:
		return "warning"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one UI notification. Only the fields relevant to Kind are set.
type Event struct {
	Kind   EventKind
	TurnID string
	Time   time.Time

	State        capture.State
	Recording    *capture.Recording
	Text         string // transcript, cumulative answer or warning
	Verification verify.Result
	HumanInput   *stream.HumanInputRequest
	Err          error
}
