package capture

import (
	"context"
	"errors"
	"time"

	"github.com/skypro1111/voice-intent-client/internal/audio"
)

// ErrDeviceUnavailable is returned when no input device can be opened,
// whether because it is missing or access was denied.
var ErrDeviceUnavailable = errors.New("capture device unavailable")

// Constraints describe what the session asks of a device.
type Constraints struct {
	Timeslice  time.Duration // chunk cadence
	SampleRate int
	Channels   int
}

// EventKind tags a device Event.
type EventKind int

const (
	EventChunk EventKind = iota
	EventFlushed
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventChunk:
		return "chunk"
	case EventFlushed:
		return "flushed"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is delivered by a Track. Chunk is set for EventChunk, Err for EventError.
type Event struct {
	Kind  EventKind
	Chunk audio.Chunk
	Err   error
}

// Device opens live input tracks.
type Device interface {
	// Acquire starts capturing. Errors should wrap ErrDeviceUnavailable.
	Acquire(ctx context.Context, c Constraints) (Track, error)
}

// Track is an acquired input. Events delivers chunks at the requested
// cadence. After RequestFlush the track delivers any buffered audio, then one
// EventFlushed. The channel is closed once the track is released and its last
// event has been sent.
type Track interface {
	Events() <-chan Event
	RequestFlush() error
	ReleaseAllTracks() error
}
