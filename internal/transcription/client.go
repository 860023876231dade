package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skypro1111/voice-intent-client/internal/metrics"
	"github.com/skypro1111/voice-intent-client/internal/transport"
)

// ErrClosed is returned by Transcribe after Close.
var ErrClosed = errors.New("transcription client closed")

const op = "transcribe"

// Client provides HTTP client functionality for transcription API requests
type Client struct {
	config     Config
	httpClient *http.Client
	semaphore  chan struct{} // Rate limiting semaphore
	metrics    *metrics.Metrics
	logger     *slog.Logger

	stats  requestStats
	closed bool
	mu     sync.RWMutex
}

// requestStats counts finished uploads. The average covers successes only.
type requestStats struct {
	total   atomic.Uint64
	success atomic.Uint64
	failed  atomic.Uint64
	elapsed atomic.Int64 // summed over successes, nanoseconds
}

// Config contains transcription client configuration
type Config struct {
	Endpoint      string
	APIKey        string // optional bearer key
	Timeout       time.Duration
	MaxConcurrent int
	FileName      string
	Language      string
}

// Response represents the response from the transcription API
type Response struct {
	Text     string  `json:"text"`
	Language string  `json:"language,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

// ClientStats represents client statistics
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	ActiveRequests  int           `json:"active_requests"`
}

// NewClient creates a new transcription HTTP client. When httpClient is nil
// a pooled client with config.Timeout is built.
func NewClient(config Config, httpClient *http.Client, m *metrics.Metrics, logger *slog.Logger) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 2
	}

	if config.FileName == "" {
		config.FileName = "audio.wav"
	}

	if httpClient == nil {
		var err error
		httpClient, err = transport.NewHTTPClient(transport.Config{Timeout: config.Timeout})
		if err != nil {
			return nil, err
		}
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		semaphore:  make(chan struct{}, config.MaxConcurrent),
		metrics:    m,
		logger:     logger.With(slog.String("component", "transcription")),
	}, nil
}

// Transcribe uploads a WAV recording and returns the trimmed transcript.
// Failures are returned as *transport.Error.
func (c *Client) Transcribe(ctx context.Context, wav []byte) (*Response, error) {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}

	// Acquire semaphore for rate limiting
	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	startTime := time.Now()
	c.stats.total.Add(1)
	c.metrics.RecordTranscriptionRequest()

	reqCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	response, err := c.doRequest(reqCtx, wav)
	cancel()
	elapsed := time.Since(startTime)
	if err != nil {
		c.stats.failed.Add(1)
		c.metrics.RecordTranscriptionFailure(elapsed.Seconds())
		c.logger.Warn("Transcription failed",
			slog.Int("wav_bytes", len(wav)),
			slog.Duration("elapsed", elapsed),
			slog.Any("error", err))
		return nil, err
	}

	c.stats.success.Add(1)
	c.stats.elapsed.Add(int64(elapsed))
	c.metrics.RecordTranscriptionSuccess(elapsed.Seconds())
	c.logger.Debug("Transcription received",
		slog.Int("wav_bytes", len(wav)),
		slog.Int("text_length", len(response.Text)),
		slog.Duration("elapsed", elapsed))

	return response, nil
}

// doRequest performs a single HTTP request to the transcription API
func (c *Client) doRequest(ctx context.Context, wav []byte) (*Response, error) {
	body, contentType, err := c.createMultipartRequest(wav)
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, transport.Wrap(op, c.config.Endpoint, err)
	}
	defer resp.Body.Close()

	if err := transport.CheckResponse(op, resp); err != nil {
		return nil, err
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transport.Wrap(op, c.config.Endpoint, fmt.Errorf("failed to read response body: %w", err))
	}

	var result Response
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, transport.Wrap(op, c.config.Endpoint, fmt.Errorf("failed to parse response JSON: %w", err))
	}
	result.Text = strings.TrimSpace(result.Text)

	return &result, nil
}

// createMultipartRequest creates a multipart/form-data request body
func (c *Client) createMultipartRequest(wav []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, c.config.FileName))
	header.Set("Content-Type", "audio/wav")
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(wav); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	if c.config.Language != "" {
		if err := writer.WriteField("language", c.config.Language); err != nil {
			return nil, "", fmt.Errorf("failed to write field language: %w", err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	stats := ClientStats{
		TotalRequests:   c.stats.total.Load(),
		SuccessRequests: c.stats.success.Load(),
		FailedRequests:  c.stats.failed.Load(),
		ActiveRequests:  len(c.semaphore),
	}
	if stats.TotalRequests > 0 {
		stats.SuccessRate = float64(stats.SuccessRequests) / float64(stats.TotalRequests) * 100
	}
	if stats.SuccessRequests > 0 {
		stats.AvgResponseTime = time.Duration(c.stats.elapsed.Load() / int64(stats.SuccessRequests))
	}
	return stats
}

// Close waits for active requests to complete. Later Transcribe calls fail
// with ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	for i := 0; i < c.config.MaxConcurrent; i++ {
		c.semaphore <- struct{}{}
	}
	for i := 0; i < c.config.MaxConcurrent; i++ {
		<-c.semaphore
	}
	return nil
}
