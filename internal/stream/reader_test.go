package stream

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/voice-intent-client/internal/metrics"
)

// chunkReader returns each chunk from one Read call, then err (io.EOF if nil).
type chunkReader struct {
	chunks []string
	err    error
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	if n < len(r.chunks[0]) {
		r.chunks[0] = r.chunks[0][n:]
	} else {
		r.chunks = r.chunks[1:]
	}
	return n, nil
}

type recorder struct {
	calls []string
}

func (r *recorder) onIncrement(text string) {
	r.calls = append(r.calls, text)
}

func consume(t *testing.T, body io.Reader) (string, []string, error) {
	t.Helper()
	rec := &recorder{}
	text, err := NewReader(Config{}, nil).Consume(context.Background(), body, rec.onIncrement)
	return text, rec.calls, err
}

func TestConsumeReassemblesSplitLine(t *testing.T) {
	text, calls, err := consume(t, &chunkReader{chunks: []string{`data: {"text":"he`, "llo\"}\n"}})
	require.NoError(t, err)

	assert.Equal(t, "hello", text)
	assert.Equal(t, []string{"hello"}, calls)
}

func TestConsumeSentinelIsIgnored(t *testing.T) {
	text, calls, err := consume(t, strings.NewReader("data: {\"text\":\"a\"}\ndata: [DONE]\n"))
	require.NoError(t, err)

	assert.Equal(t, "a", text)
	assert.Equal(t, []string{"a"}, calls)
}

func TestConsumeOnlySentinel(t *testing.T) {
	text, calls, err := consume(t, strings.NewReader("data: [DONE]\n"))
	require.NoError(t, err)

	assert.Empty(t, text)
	assert.Empty(t, calls)
}

func TestConsumePlainTextPayload(t *testing.T) {
	text, calls, err := consume(t, strings.NewReader("data: {\"text\":\"x \"}\ndata: plain text\n"))
	require.NoError(t, err)

	assert.Equal(t, "x plain text", text)
	assert.Equal(t, []string{"x ", "x plain text"}, calls)
}

func TestConsumeErrorCarriesPartialText(t *testing.T) {
	boom := errors.New("connection reset")
	body := &chunkReader{chunks: []string{"data: ab\n", "data: cd\n"}, err: boom}

	text, calls, err := consume(t, body)
	require.Error(t, err)

	var se *StreamError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "abcd", se.Text)
	assert.Equal(t, "abcd", text)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"ab", "abcd"}, calls)
}

func TestConsumeFieldPriority(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{name: "text wins", payload: `{"content":"c","delta":"d","text":"t"}`, want: "t"},
		{name: "delta before content", payload: `{"content":"c","delta":"d"}`, want: "d"},
		{name: "content", payload: `{"content":"c"}`, want: "c"},
		{name: "null skipped", payload: `{"text":null,"content":"c"}`, want: "c"},
		{name: "nested delta", payload: `{"delta":{"content":"nested"}}`, want: "nested"},
		{name: "nested without fields", payload: `{"delta":{"role":"assistant"}}`, want: `{"role":"assistant"}`},
		{name: "number", payload: `{"text":42}`, want: "42"},
		{name: "no known field", payload: `{"status":"ok"}`, want: `{"status":"ok"}`},
		{name: "json array", payload: `["a","b"]`, want: `["a","b"]`},
		{name: "json string", payload: `"quoted"`, want: `"quoted"`},
		{name: "broken json", payload: `{"text":`, want: `{"text":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, _, err := consume(t, strings.NewReader("data: "+tt.payload+"\n"))
			require.NoError(t, err)
			assert.Equal(t, tt.want, text)
		})
	}
}

func TestConsumeCustomFields(t *testing.T) {
	r := NewReader(Config{Fields: []string{"choices.0.delta.content"}}, nil)

	text, err := r.Consume(context.Background(),
		strings.NewReader(`data: {"choices":[{"delta":{"content":"hi"}}]}`+"\n"), nil)
	require.NoError(t, err)
	assert.Equal(t, "hi", text)
}

func TestConsumeIgnoresControlLines(t *testing.T) {
	body := "id: 1\nevent: message\nretry: 1000\n: ping\n\n   \ndata: ok\n"

	text, calls, err := consume(t, strings.NewReader(body))
	require.NoError(t, err)

	assert.Equal(t, "ok", text)
	assert.Len(t, calls, 1)
}

func TestConsumeRawLines(t *testing.T) {
	text, calls, err := consume(t, strings.NewReader("Hello, \r\nworld\n"))
	require.NoError(t, err)

	assert.Equal(t, "Hello, world", text)
	assert.Equal(t, []string{"Hello, ", "Hello, world"}, calls)
}

func TestConsumeFinalLineWithoutNewline(t *testing.T) {
	text, _, err := consume(t, strings.NewReader("data: a\ndata: b"))
	require.NoError(t, err)
	assert.Equal(t, "ab", text)
}

func TestConsumeOneByteReads(t *testing.T) {
	body := "data: {\"text\":\"café \"}\nevent: x\ndata: {\"delta\":\"über\"}\n"

	text, calls, err := consume(t, iotest.OneByteReader(strings.NewReader(body)))
	require.NoError(t, err)

	assert.Equal(t, "café über", text)
	assert.Equal(t, []string{"café ", "café über"}, calls)
}

func TestConsumeInvalidUTF8IsReplaced(t *testing.T) {
	text, _, err := consume(t, strings.NewReader("data: a\xffb\n"))
	require.NoError(t, err)
	assert.Equal(t, "a\uFFFDb", text)
}

func TestConsumeCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewReader(Config{}, nil).Consume(ctx, strings.NewReader("data: a\n"), nil)

	var se *StreamError
	require.ErrorAs(t, err, &se)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, se.Text)
}

func TestConsumeHumanInput(t *testing.T) {
	var got []HumanInputRequest
	r := NewReader(Config{OnHumanInput: func(req HumanInputRequest) { got = append(got, req) }}, nil)

	body := `data: {"type":"HUMAN_INPUT_REQUIRED","data":{"interaction_id":"abc","question":"Which account?"}}` + "\n" +
		`data: {"text":"thanks"}` + "\n"
	text, err := r.Consume(context.Background(), strings.NewReader(body), nil)
	require.NoError(t, err)

	assert.Equal(t, "thanks", text)
	require.Len(t, got, 1)
	assert.Equal(t, "abc", got[0].InteractionID)
	assert.Equal(t, "Which account?", got[0].Question)
}

func TestConsumeHumanInputWithoutHookIsText(t *testing.T) {
	payload := `{"type":"HUMAN_INPUT_REQUIRED","data":{"interaction_id":"abc"}}`

	text, _, err := consume(t, strings.NewReader("data: "+payload+"\n"))
	require.NoError(t, err)
	assert.Equal(t, payload, text)
}

func TestConsumeRecordsFragments(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	r := NewReader(Config{}, m)

	_, err := r.Consume(context.Background(), strings.NewReader("data: a\ndata: [DONE]\nb\n"), nil)
	require.NoError(t, err)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.StreamFragments))
}
