package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Frame
	}{
		{name: "empty", line: "", want: Frame{Kind: FrameIgnore}},
		{name: "whitespace", line: " \t \r", want: Frame{Kind: FrameIgnore}},
		{name: "data json", line: `data: {"text":"hi"}`, want: Frame{Kind: FramePayload, Payload: `{"text":"hi"}`}},
		{name: "data no space", line: `data:plain`, want: Frame{Kind: FramePayload, Payload: "plain"}},
		{name: "data crlf", line: "data: plain\r", want: Frame{Kind: FramePayload, Payload: "plain"}},
		{name: "sentinel", line: "data: [DONE]", want: Frame{Kind: FrameSentinel}},
		{name: "sentinel padded", line: "data:  [DONE]  ", want: Frame{Kind: FrameSentinel}},
		{name: "id", line: "id: 42", want: Frame{Kind: FrameIgnore}},
		{name: "event", line: "event: message", want: Frame{Kind: FrameIgnore}},
		{name: "retry", line: "retry: 3000", want: Frame{Kind: FrameIgnore}},
		{name: "comment", line: ": keep-alive", want: Frame{Kind: FrameIgnore}},
		{name: "raw", line: "just text", want: Frame{Kind: FrameRaw, Payload: "just text"}},
		{name: "raw keeps spacing", line: "  indented ", want: Frame{Kind: FrameRaw, Payload: "  indented "}},
		{name: "raw json", line: `{"text":"not sse"}`, want: Frame{Kind: FrameRaw, Payload: `{"text":"not sse"}`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.line))
		})
	}
}

func TestFrameKindString(t *testing.T) {
	assert.Equal(t, "payload", FramePayload.String())
	assert.Equal(t, "unknown", FrameKind(99).String())
}
