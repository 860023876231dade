package stream

import "strings"

// DoneSentinel marks the end of a stream; it carries no content.
const DoneSentinel = "[DONE]"

// FrameKind tags a classified line.
type FrameKind int

const (
	// FrameIgnore covers blank lines, comments and id/event/retry fields.
	FrameIgnore FrameKind = iota
	// FrameSentinel is a data line carrying DoneSentinel.
	FrameSentinel
	// FramePayload is a data line; Payload holds the text after the marker.
	FramePayload
	// FrameRaw is any other line; Payload holds it unchanged.
	FrameRaw
)

func (k FrameKind) String() string {
	switch k {
	case FrameIgnore:
		return "ignore"
	case FrameSentinel:
		return "sentinel"
	case FramePayload:
		return "payload"
	case FrameRaw:
		return "raw"
	default:
		return "unknown"
	}
}

// Frame is one classified line.
type Frame struct {
	Kind    FrameKind
	Payload string
}

var controlPrefixes = []string{"id:", "event:", "retry:", ":"}

// Classify assigns a line (without its newline) to a FrameKind.
func Classify(line string) Frame {
	line = strings.TrimSuffix(line, "\r")
	trimmed := strings.TrimLeft(line, " \t")

	if strings.TrimSpace(trimmed) == "" {
		return Frame{Kind: FrameIgnore}
	}

	if rest, ok := strings.CutPrefix(trimmed, "data:"); ok {
		payload := strings.TrimSpace(rest)
		if payload == DoneSentinel {
			return Frame{Kind: FrameSentinel}
		}
		return Frame{Kind: FramePayload, Payload: payload}
	}

	for _, p := range controlPrefixes {
		if strings.HasPrefix(trimmed, p) {
			return Frame{Kind: FrameIgnore}
		}
	}

	return Frame{Kind: FrameRaw, Payload: line}
}
