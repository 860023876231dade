package transcription

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/voice-intent-client/internal/metrics"
	"github.com/skypro1111/voice-intent-client/internal/transport"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func newTestClient(t *testing.T, cfg Config, m *metrics.Metrics) *Client {
	t.Helper()
	c, err := NewClient(cfg, nil, m, testLogger)
	require.NoError(t, err)
	return c
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Config{}, nil, nil, testLogger)
	assert.Error(t, err)

	c := newTestClient(t, Config{Endpoint: "http://localhost/stt"}, nil)
	assert.Equal(t, 30*time.Second, c.config.Timeout)
	assert.Equal(t, 2, c.config.MaxConcurrent)
	assert.Equal(t, "audio.wav", c.config.FileName)
}

func TestTranscribeUploadsWAV(t *testing.T) {
	wav := []byte("RIFF....WAVE")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		file, header, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		defer file.Close()
		assert.Equal(t, "audio.wav", header.Filename)
		assert.Equal(t, "audio/wav", header.Header.Get("Content-Type"))
		got, _ := io.ReadAll(file)
		assert.Equal(t, wav, got)
		assert.Equal(t, "uk", r.FormValue("language"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": "  turn on the lights \n"})
	}))
	defer srv.Close()

	m := metrics.NewMetrics(prometheus.NewRegistry())
	c := newTestClient(t, Config{Endpoint: srv.URL, APIKey: "secret", Language: "uk"}, m)

	resp, err := c.Transcribe(context.Background(), wav)
	require.NoError(t, err)
	assert.Equal(t, "turn on the lights", resp.Text)

	stats := c.GetStats()
	assert.Equal(t, uint64(1), stats.TotalRequests)
	assert.Equal(t, uint64(1), stats.SuccessRequests)
	assert.Equal(t, float64(100), stats.SuccessRate)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.TranscriptionSuccesses))
}

func TestTranscribeWithoutKeySendsNoAuthorization(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `{"text":""}`)
	}))
	defer srv.Close()

	resp, err := newTestClient(t, Config{Endpoint: srv.URL}, nil).Transcribe(context.Background(), []byte("x"))
	require.NoError(t, err)
	assert.Empty(t, resp.Text)
}

func TestTranscribeHTTPError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	m := metrics.NewMetrics(prometheus.NewRegistry())
	c := newTestClient(t, Config{Endpoint: srv.URL}, m)

	_, err := c.Transcribe(context.Background(), []byte("x"))

	var te *transport.Error
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusServiceUnavailable, te.StatusCode)
	assert.Equal(t, "model overloaded", te.Body)
	assert.Equal(t, "transcribe", te.Op)
	assert.Equal(t, int32(1), calls.Load(), "failed requests are not retried")
	assert.Equal(t, uint64(1), c.GetStats().FailedRequests)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.TranscriptionFailures))
}

func TestTranscribeBadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "<html>")
	}))
	defer srv.Close()

	_, err := newTestClient(t, Config{Endpoint: srv.URL}, nil).Transcribe(context.Background(), []byte("x"))

	var te *transport.Error
	require.ErrorAs(t, err, &te)
	assert.Zero(t, te.StatusCode)
	assert.Contains(t, err.Error(), "failed to parse response JSON")
}

func TestTranscribeConnectionFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newTestClient(t, Config{Endpoint: url}, nil).Transcribe(context.Background(), []byte("x"))

	var te *transport.Error
	require.ErrorAs(t, err, &te)
	assert.Equal(t, url, te.URL)
}

func TestTranscribeTimeoutWithSharedClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	shared := &http.Client{}
	c, err := NewClient(Config{Endpoint: srv.URL, Timeout: 100 * time.Millisecond}, shared, nil, testLogger)
	require.NoError(t, err)

	start := time.Now()
	_, err = c.Transcribe(context.Background(), []byte("RIFF"))

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, uint64(1), c.GetStats().FailedRequests)
	assert.Zero(t, shared.Timeout)
}

func TestTranscribeWaitsForSemaphore(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		entered <- struct{}{}
		<-release
		_, _ = io.WriteString(w, `{"text":"ok"}`)
	}))
	defer srv.Close()

	c := newTestClient(t, Config{Endpoint: srv.URL, MaxConcurrent: 1}, nil)

	done := make(chan error, 1)
	go func() {
		_, err := c.Transcribe(context.Background(), []byte("x"))
		done <- err
	}()
	<-entered
	assert.Equal(t, 1, c.GetStats().ActiveRequests)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Transcribe(ctx, []byte("y"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.NoError(t, <-done)
}

func TestClose(t *testing.T) {
	c := newTestClient(t, Config{Endpoint: "http://localhost/stt"}, nil)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err := c.Transcribe(context.Background(), []byte("x"))
	assert.ErrorIs(t, err, ErrClosed)
}
