package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/skypro1111/voice-intent-client/internal/metrics"
)

// DefaultFields is the order in which JSON payload fields are tried.
var DefaultFields = []string{"text", "delta", "content"}

const humanInputType = "HUMAN_INPUT_REQUIRED"

// StreamError is returned when a stream fails before it ends normally. Text
// holds everything accumulated up to the failure.
type StreamError struct {
	Text string
	Err  error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream failed after %d bytes of text: %v", len(e.Text), e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

// HumanInputRequest is a server request for a typed answer.
type HumanInputRequest struct {
	InteractionID string
	Question      string
	Raw           string
}

// Config holds reader configuration
type Config struct {
	// Fields are gjson paths tried in order on JSON payloads.
	Fields []string
	// ReadSize is the size of each Read call on the body.
	ReadSize int
	// OnHumanInput, when set, receives HUMAN_INPUT_REQUIRED payloads instead
	// of having them appended to the text.
	OnHumanInput func(HumanInputRequest)
}

// Reader parses streaming responses. It keeps no per-stream state, so one
// Reader may serve any number of sequential or concurrent Consume calls.
type Reader struct {
	fields       []string
	readSize     int
	onHumanInput func(HumanInputRequest)
	metrics      *metrics.Metrics
}

// NewReader creates a reader. m may be nil.
func NewReader(cfg Config, m *metrics.Metrics) *Reader {
	fields := cfg.Fields
	if len(fields) == 0 {
		fields = DefaultFields
	}
	readSize := cfg.ReadSize
	if readSize <= 0 {
		readSize = 4096
	}
	return &Reader{
		fields:       fields,
		readSize:     readSize,
		onHumanInput: cfg.OnHumanInput,
		metrics:      m,
	}
}

// Consume reads body to the end. Every fragment is appended to the running
// text and onIncrement receives the whole text so far. At EOF the final text
// is returned. Any other read failure, or ctx ending, returns the text so far
// together with a *StreamError carrying the same text.
func (r *Reader) Consume(ctx context.Context, body io.Reader, onIncrement func(string)) (string, error) {
	var (
		acc     strings.Builder
		pending []byte
	)
	buf := make([]byte, r.readSize)

	fail := func(err error) (string, error) {
		text := acc.String()
		return text, &StreamError{Text: text, Err: err}
	}

	for {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}

		n, err := body.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			consumed := 0
			for {
				i := bytes.IndexByte(pending[consumed:], '\n')
				if i < 0 {
					break
				}
				r.handleLine(string(pending[consumed:consumed+i]), &acc, onIncrement)
				consumed += i + 1
			}
			if consumed > 0 {
				pending = append(pending[:0], pending[consumed:]...)
			}
		}

		if errors.Is(err, io.EOF) {
			if len(pending) > 0 {
				r.handleLine(string(pending), &acc, onIncrement)
			}
			return acc.String(), nil
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = fmt.Errorf("%w: %w", ctxErr, err)
			}
			return fail(err)
		}
	}
}

func (r *Reader) handleLine(line string, acc *strings.Builder, onIncrement func(string)) {
	line = strings.ToValidUTF8(line, "\uFFFD")

	var fragment string
	switch f := Classify(line); f.Kind {
	case FrameIgnore, FrameSentinel:
		return
	case FramePayload:
		fragment = r.extract(f.Payload)
	case FrameRaw:
		fragment = f.Payload
	}

	if fragment == "" {
		return
	}

	acc.WriteString(fragment)
	r.metrics.RecordStreamFragment()
	if onIncrement != nil {
		onIncrement(acc.String())
	}
}

// extract returns the text fragment carried by a data payload. Payloads that
// are not JSON objects are used verbatim.
func (r *Reader) extract(payload string) string {
	if !gjson.Valid(payload) {
		return payload
	}
	obj := gjson.Parse(payload)
	if !obj.IsObject() {
		return payload
	}

	if r.onHumanInput != nil && obj.Get("type").String() == humanInputType {
		r.onHumanInput(HumanInputRequest{
			InteractionID: obj.Get("data.interaction_id").String(),
			Question:      obj.Get("data.question").String(),
			Raw:           payload,
		})
		return ""
	}

	if text, ok := r.pick(obj, 1); ok {
		return text
	}
	return payload
}

// pick returns the first present field. Object values are searched once more
// with the same field list so {"delta":{"content":"x"}} yields "x".
func (r *Reader) pick(obj gjson.Result, depth int) (string, bool) {
	for _, field := range r.fields {
		v := obj.Get(field)
		if !v.Exists() || v.Type == gjson.Null {
			continue
		}
		switch {
		case v.Type == gjson.String:
			return v.Str, true
		case v.IsObject() && depth > 0:
			if text, ok := r.pick(v, depth-1); ok {
				return text, true
			}
			return v.Raw, true
		default:
			return v.Raw, true
		}
	}
	return "", false
}
