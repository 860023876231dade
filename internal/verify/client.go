package verify

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/skypro1111/voice-intent-client/internal/metrics"
	"github.com/skypro1111/voice-intent-client/internal/store"
	"github.com/skypro1111/voice-intent-client/internal/transport"
)

const op = "verify"

// Outcome of one verification.
type Outcome string

const (
	OutcomeVerified Outcome = "verified"
	OutcomeRejected Outcome = "rejected"
	// OutcomeSkipped means no request was made: verification is disabled or
	// there is no access token.
	OutcomeSkipped Outcome = "skipped"
	OutcomeError   Outcome = "error"
)

// Result of Verify. Err is set only for OutcomeError.
type Result struct {
	Outcome Outcome
	Err     error
}

// Verified reports whether the voice was accepted.
func (r Result) Verified() bool {
	return r.Outcome == OutcomeVerified
}

// Config contains verification client configuration
type Config struct {
	Enabled  bool
	Endpoint string
	Timeout  time.Duration
	FileName string
	TokenKey string
}

type verifyResponse struct {
	Verified bool `json:"verified"`
}

// Client calls the voice verification endpoint.
type Client struct {
	config  Config
	http    *resty.Client
	tokens  store.Store
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewClient creates a verification client. The bearer token is read from
// tokens on every call so a token written after startup is picked up.
func NewClient(config Config, httpClient *http.Client, tokens store.Store, m *metrics.Metrics, logger *slog.Logger) (*Client, error) {
	if config.Enabled && config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	if config.FileName == "" {
		config.FileName = "voice_verify.wav"
	}
	if config.TokenKey == "" {
		config.TokenKey = store.KeyAccessToken
	}
	if tokens == nil {
		tokens = store.NewMemory(nil)
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

	// httpClient may be shared; the timeout is applied per request instead.
	rc := resty.NewWithClient(httpClient).
		SetHeader("Accept", "application/json")

	return &Client{
		config:  config,
		http:    rc,
		tokens:  tokens,
		metrics: m,
		logger:  logger.With(slog.String("component", "verify")),
	}, nil
}

// Verify uploads wav and reports the outcome.
func (c *Client) Verify(ctx context.Context, wav []byte) Result {
	res := c.verify(ctx, wav)
	c.metrics.RecordVerification(string(res.Outcome))
	if res.Err != nil {
		c.logger.Warn("Voice verification failed", slog.Any("error", res.Err))
	} else {
		c.logger.Debug("Voice verification finished", slog.String("outcome", string(res.Outcome)))
	}
	return res
}

func (c *Client) verify(ctx context.Context, wav []byte) Result {
	if !c.config.Enabled {
		return Result{Outcome: OutcomeSkipped}
	}

	token, err := store.GetOptional(ctx, c.tokens, c.config.TokenKey)
	if err != nil {
		return Result{Outcome: OutcomeError, Err: fmt.Errorf("failed to read access token: %w", err)}
	}
	if token == "" {
		return Result{Outcome: OutcomeSkipped}
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	var body verifyResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetMultipartField("file", c.config.FileName, "audio/wav", bytes.NewReader(wav)).
		SetResult(&body).
		Post(c.config.Endpoint)
	if err != nil {
		return Result{Outcome: OutcomeError, Err: transport.Wrap(op, c.config.Endpoint, err)}
	}
	if resp.IsError() {
		return Result{Outcome: OutcomeError, Err: &transport.Error{
			Op:         op,
			URL:        c.config.Endpoint,
			StatusCode: resp.StatusCode(),
			Body:       resp.String(),
			Err:        transport.ErrStatus,
		}}
	}

	if body.Verified {
		return Result{Outcome: OutcomeVerified}
	}
	return Result{Outcome: OutcomeRejected}
}
