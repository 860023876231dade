package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/voice-intent-client/internal/assistant"
	"github.com/skypro1111/voice-intent-client/internal/config"
	"github.com/skypro1111/voice-intent-client/internal/stream"
	"github.com/skypro1111/voice-intent-client/internal/verify"
)

func newTestUI(out io.Writer) *ui {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return newUI(config.UIConfig{}, nil, "", out, logger)
}

func TestAnswerPrintedIncrementally(t *testing.T) {
	var out bytes.Buffer
	u := newTestUI(&out)

	u.handle(assistant.Event{Kind: assistant.EventTranscript, TurnID: "t1", Text: "hi"})
	u.handle(assistant.Event{Kind: assistant.EventAnswer, TurnID: "t1", Text: "Hel"})
	u.handle(assistant.Event{Kind: assistant.EventAnswer, TurnID: "t1", Text: "Hello"})
	u.handle(assistant.Event{Kind: assistant.EventAnswerDone, TurnID: "t1", Text: "Hello"})

	assert.Equal(t, "You: hi\nAssistant: Hello\n", out.String())
}

func TestAnswerResumesAfterQuestion(t *testing.T) {
	var out bytes.Buffer
	u := newTestUI(&out)

	u.handle(assistant.Event{Kind: assistant.EventAnswer, TurnID: "t1", Text: "Sure"})
	u.handle(assistant.Event{Kind: assistant.EventHumanInput, TurnID: "t1",
		HumanInput: &stream.HumanInputRequest{InteractionID: "i1", Question: "Which city?"}})
	u.handle(assistant.Event{Kind: assistant.EventAnswer, TurnID: "t1", Text: "Sure, Kyiv"})
	u.handle(assistant.Event{Kind: assistant.EventAnswerDone, TurnID: "t1", Text: "Sure, Kyiv"})

	assert.Equal(t,
		"Assistant: Sure\nQuestion: Which city?\nType your answer and press Enter.\nAssistant: , Kyiv\n",
		out.String())
}

func TestErrorEvents(t *testing.T) {
	var out bytes.Buffer
	u := newTestUI(&out)

	u.handle(assistant.Event{Kind: assistant.EventAnswer, TurnID: "t1", Text: "ab"})
	u.handle(assistant.Event{Kind: assistant.EventError, TurnID: "t1", Err: errors.New("connection reset")})
	u.handle(assistant.Event{Kind: assistant.EventError, TurnID: "t2", Err: context.Canceled})

	assert.Equal(t, "Assistant: ab\nError: connection reset\nCanceled.\n", out.String())
}

func TestVerificationEvent(t *testing.T) {
	var out bytes.Buffer
	u := newTestUI(&out)

	u.handle(assistant.Event{Kind: assistant.EventVerification,
		Verification: verify.Result{Outcome: verify.OutcomeSkipped}})

	assert.Equal(t, "Voice verification: skipped\n", out.String())
}

func TestContentTypeFor(t *testing.T) {
	tests := map[string]string{
		"a.wav":     "audio/wav",
		"a.WEBM":    "audio/webm",
		"a.opus":    "audio/ogg",
		"a.mp3":     "audio/mpeg",
		"a.unknown": "application/octet-stream",
	}
	for path, want := range tests {
		assert.Equal(t, want, contentTypeFor(path), path)
	}
}

func TestInitLoggerFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.log")

	logger, closeLog := initLogger(config.LoggingConfig{
		Level:     "debug",
		Format:    "json",
		Output:    path,
		MaxSizeMB: 1,
	})
	logger.Info("hello", slog.String("k", "v"))
	closeLog()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
	assert.Contains(t, string(data), `"k":"v"`)
}

func TestRunReleasesComponentsOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend down", http.StatusBadGateway)
	}))
	defer srv.Close()

	dir := t.TempDir()
	logPath := filepath.Join(dir, "client.log")
	cfgPath := filepath.Join(dir, "config.yaml")
	cfgYAML := fmt.Sprintf(`
vad:
  enabled: false
verify:
  enabled: false
intent:
  base_url: %q
logging:
  level: info
  format: json
  output: %q
ui:
  notifications: false
`, srv.URL, logPath)
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfgYAML), 0o644))

	var stdout, stderr bytes.Buffer
	code := run([]string{
		"-config", cfgPath,
		"-env", filepath.Join(dir, "missing.env"),
		"-prompt", "hi",
	}, strings.NewReader(""), &stdout, &stderr)

	assert.Equal(t, 1, code)
	assert.Contains(t, stdout.String(), "Error:")

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	logs := string(data)
	failed := strings.Index(logs, "Client failed")
	final := strings.Index(logs, "Final statistics")
	require.NotEqual(t, -1, failed)
	require.NotEqual(t, -1, final, "components must be closed before exiting")
	assert.Greater(t, final, failed)
}

func TestRunBadFlag(t *testing.T) {
	var stderr bytes.Buffer
	assert.Equal(t, 2, run([]string{"-nope"}, strings.NewReader(""), io.Discard, &stderr))
	assert.Contains(t, stderr.String(), "-nope")
}
