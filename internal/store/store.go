package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Well-known keys.
const (
	KeyAccessToken    = "access_token"
	KeyLastTranscript = "last_transcript"
	KeyLastAnswer     = "last_answer"
)

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("key not found")

// Store gets and sets string values by key.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Backend  string // "memory" or "redis"
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
	// Seed values are written to a memory store at creation.
	Seed map[string]string
}

// Open creates the backend named by cfg.Backend. Redis connections are
// checked with PING before returning.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemory(cfg.Seed), nil
	case "redis":
		return DialRedis(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// Memory is an in-process Store.
type Memory struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemory returns a Memory store holding a copy of seed.
func NewMemory(seed map[string]string) *Memory {
	values := make(map[string]string, len(seed))
	for k, v := range seed {
		values[k] = v
	}
	return &Memory{values: values}
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *Memory) Close() error { return nil }

// GetOptional returns the value for key, or "" when it is missing.
func GetOptional(ctx context.Context, s Store, key string) (string, error) {
	v, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return v, err
}
