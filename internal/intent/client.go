package intent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/skypro1111/voice-intent-client/internal/metrics"
	"github.com/skypro1111/voice-intent-client/internal/stream"
	"github.com/skypro1111/voice-intent-client/internal/transport"
)

// ErrEmptyPrompt is returned by Stream for a blank prompt.
var ErrEmptyPrompt = errors.New("prompt is empty")

// Config contains intent client configuration
type Config struct {
	BaseURL    string
	StreamPath string
	SubmitPath string
	// StreamTimeout bounds a whole stream; zero means no bound beyond ctx.
	StreamTimeout time.Duration
	SubmitTimeout time.Duration
	APIKey        string
}

type intentRequest struct {
	Intent string `json:"intent"`
}

type submitRequest struct {
	InteractionID string `json:"interaction_id"`
	Response      string `json:"response"`
}

// Client talks to the incremental-response endpoint.
type Client struct {
	config     Config
	httpClient *http.Client
	reader     *stream.Reader
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewClient creates an intent client. httpClient must not carry a client-wide
// timeout or long replies will be cut off; nil builds one without.
func NewClient(config Config, httpClient *http.Client, reader *stream.Reader, m *metrics.Metrics, logger *slog.Logger) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("base_url cannot be empty")
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.StreamPath == "" {
		config.StreamPath = "/llm/stream"
	}
	if config.SubmitPath == "" {
		config.SubmitPath = "/llm/submit-input"
	}
	if config.SubmitTimeout <= 0 {
		config.SubmitTimeout = 10 * time.Second
	}
	if httpClient == nil {
		var err error
		httpClient, err = transport.NewHTTPClient(transport.Config{})
		if err != nil {
			return nil, err
		}
	}
	if reader == nil {
		reader = stream.NewReader(stream.Config{}, m)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		reader:     reader,
		metrics:    m,
		logger:     logger.With(slog.String("component", "intent")),
	}, nil
}

// StreamURL returns the full stream endpoint.
func (c *Client) StreamURL() string {
	return c.config.BaseURL + c.config.StreamPath
}

// Stream posts prompt and consumes the reply. onIncrement receives the
// cumulative answer after every fragment. Any failure, including a non-2xx
// reply, is a *stream.StreamError carrying the text received so far; for
// HTTP failures it wraps a *transport.Error.
func (c *Client) Stream(ctx context.Context, prompt string, onIncrement func(string)) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", ErrEmptyPrompt
	}

	if c.config.StreamTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.StreamTimeout)
		defer cancel()
	}

	startTime := time.Now()
	c.metrics.RecordStreamRequest()

	text, err := c.stream(ctx, prompt, onIncrement)
	elapsed := time.Since(startTime)
	c.metrics.RecordStreamDone(elapsed, len(text), failureKind(err))

	if err != nil {
		c.logger.Warn("Intent stream failed",
			slog.Int("text_length", len(text)),
			slog.Duration("elapsed", elapsed),
			slog.Any("error", err))
		return text, err
	}

	c.logger.Info("Intent stream finished",
		slog.Int("text_length", len(text)),
		slog.Duration("elapsed", elapsed))
	return text, nil
}

func (c *Client) stream(ctx context.Context, prompt string, onIncrement func(string)) (string, error) {
	url := c.StreamURL()

	payload, err := json.Marshal(intentRequest{Intent: prompt})
	if err != nil {
		return "", &stream.StreamError{Err: fmt.Errorf("failed to encode intent: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", &stream.StreamError{Err: fmt.Errorf("failed to create HTTP request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &stream.StreamError{Err: transport.Wrap("stream", url, err)}
	}
	defer resp.Body.Close()

	if err := transport.CheckResponse("stream", resp); err != nil {
		return "", &stream.StreamError{Err: err}
	}

	c.logger.Debug("Intent stream opened",
		slog.Int("status", resp.StatusCode),
		slog.String("content_type", resp.Header.Get("Content-Type")))

	return c.reader.Consume(ctx, resp.Body, onIncrement)
}

// SubmitInput answers a human-input request raised during a stream.
func (c *Client) SubmitInput(ctx context.Context, interactionID, response string) error {
	if interactionID == "" {
		return fmt.Errorf("interaction id cannot be empty")
	}
	url := c.config.BaseURL + c.config.SubmitPath

	ctx, cancel := context.WithTimeout(ctx, c.config.SubmitTimeout)
	defer cancel()

	payload, err := json.Marshal(submitRequest{InteractionID: interactionID, Response: response})
	if err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transport.Wrap("submit", url, err)
	}
	defer resp.Body.Close()

	if err := transport.CheckResponse("submit", resp); err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	c.logger.Info("Submitted human input", slog.String("interaction_id", interactionID))
	return nil
}

// failureKind labels a stream error for metrics; empty on success.
func failureKind(err error) string {
	if err == nil {
		return ""
	}
	var te *transport.Error
	switch {
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &te) && te.StatusCode != 0:
		return "status"
	case errors.As(err, &te):
		return "transport"
	default:
		return "read"
	}
}
