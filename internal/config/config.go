package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the complete client configuration
type Config struct {
	Capture       CaptureConfig       `yaml:"capture"`
	Decoder       DecoderConfig       `yaml:"decoder"`
	VAD           VADConfig           `yaml:"vad"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Verify        VerifyConfig        `yaml:"verify"`
	Intent        IntentConfig        `yaml:"intent"`
	Stream        StreamConfig        `yaml:"stream"`
	Transport     TransportConfig     `yaml:"transport"`
	Store         StoreConfig         `yaml:"store"`
	HTTP          HTTPConfig          `yaml:"http"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	Logging       LoggingConfig       `yaml:"logging"`
	UI            UIConfig            `yaml:"ui"`
}

// CaptureConfig selects the capture device and its parameters
type CaptureConfig struct {
	Device       string `yaml:"device" validate:"oneof=ffmpeg portaudio"`
	TimesliceMs  int    `yaml:"timeslice_ms" validate:"min=20,max=10000"`
	SampleRate   int    `yaml:"sample_rate" validate:"min=8000,max=192000"`
	Channels     int    `yaml:"channels" validate:"min=1,max=2"`
	FFmpegBinary string `yaml:"ffmpeg_binary"`
	InputFormat  string `yaml:"input_format"` // pulse, alsa, avfoundation, dshow
	Input        string `yaml:"input"`
	Codec        string `yaml:"codec"`
	Container    string `yaml:"container"`
	ContentType  string `yaml:"content_type"`
	Bitrate      string `yaml:"bitrate"`
	// StartupGraceMs is how long ffmpeg must stay up before capture counts as started.
	StartupGraceMs  int `yaml:"startup_grace_ms" validate:"min=0"`
	FlushTimeoutMs  int `yaml:"flush_timeout_ms" validate:"min=0"`
	FramesPerBuffer int `yaml:"frames_per_buffer" validate:"min=0"`
}

// DecoderConfig configures the container decoder
type DecoderConfig struct {
	FFmpegBinary string `yaml:"ffmpeg_binary"`
	TempDir      string `yaml:"temp_dir"`
	SampleRate   int    `yaml:"sample_rate" validate:"min=8000,max=192000"`
	Channels     int    `yaml:"channels" validate:"min=1,max=2"`
}

// VADConfig contains voice activity analysis configuration
type VADConfig struct {
	Enabled        bool    `yaml:"enabled"`
	Threshold      float32 `yaml:"threshold" validate:"gte=0,lte=1"`
	WindowMs       int     `yaml:"window_ms" validate:"min=5,max=1000"`
	ReferenceLevel float64 `yaml:"reference_level" validate:"gt=0,lte=1"`
}

// TranscriptionConfig contains transcription API configuration
type TranscriptionConfig struct {
	Endpoint      string `yaml:"endpoint" validate:"required,url"`
	APIKey        string `yaml:"api_key"`
	Timeout       int    `yaml:"timeout" validate:"min=1"` // seconds
	MaxConcurrent int    `yaml:"max_concurrent" validate:"min=1"`
	Language      string `yaml:"language"`
}

// VerifyConfig contains voice verification configuration
type VerifyConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint" validate:"required_if=Enabled true,omitempty,url"`
	Timeout  int    `yaml:"timeout" validate:"min=1"` // seconds
	TokenKey string `yaml:"token_key"`
}

// IntentConfig contains incremental-response endpoint configuration
type IntentConfig struct {
	BaseURL       string `yaml:"base_url" validate:"required,url"`
	StreamPath    string `yaml:"stream_path" validate:"startswith=/"`
	SubmitPath    string `yaml:"submit_path" validate:"startswith=/"`
	StreamTimeout int    `yaml:"stream_timeout" validate:"min=0"` // seconds, 0 = unbounded
	SubmitTimeout int    `yaml:"submit_timeout" validate:"min=1"` // seconds
	APIKey        string `yaml:"api_key"`
}

// StreamConfig configures the stream reader
type StreamConfig struct {
	Fields   []string `yaml:"fields" validate:"dive,required"`
	ReadSize int      `yaml:"read_size" validate:"min=0"`
}

// TransportConfig configures the shared HTTP client
type TransportConfig struct {
	EnableHTTP2        bool `yaml:"enable_http2"`
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
	MaxIdleConns       int  `yaml:"max_idle_conns" validate:"min=0"`
	IdleConnTimeout    int  `yaml:"idle_conn_timeout" validate:"min=0"` // seconds
}

// StoreConfig configures session storage
type StoreConfig struct {
	Backend     string `yaml:"backend" validate:"oneof=memory redis"`
	Addr        string `yaml:"addr" validate:"required_if=Backend redis"`
	Password    string `yaml:"password"`
	DB          int    `yaml:"db" validate:"min=0"`
	Prefix      string `yaml:"prefix"`
	TTL         int    `yaml:"ttl" validate:"min=0"` // seconds, 0 = no expiry
	AccessToken string `yaml:"access_token"`         // seeds the memory backend
}

// HTTPConfig contains diagnostics server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// MetricsConfig controls Prometheus exposure
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path" validate:"startswith=/"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	MaxSizeMB  int    `yaml:"max_size_mb" validate:"min=0"`
	MaxBackups int    `yaml:"max_backups" validate:"min=0"`
	MaxAgeDays int    `yaml:"max_age_days" validate:"min=0"`
	Compress   bool   `yaml:"compress"`
}

// UIConfig controls the terminal front end
type UIConfig struct {
	Notifications   bool `yaml:"notifications"`
	CopyToClipboard bool `yaml:"copy_to_clipboard"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// checkTags runs the struct tag rules on one section.
func checkTags(section any) error {
	err := validate.Struct(section)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fe := verrs[0]
	rule := fe.Tag()
	if fe.Param() != "" {
		rule += "=" + fe.Param()
	}
	return fmt.Errorf("%s must satisfy %s, got '%v'", fe.Field(), rule, fe.Value())
}

// Default returns a complete configuration for a local setup.
func Default() *Config {
	return &Config{
		Capture: CaptureConfig{
			Device:          "ffmpeg",
			TimesliceMs:     250,
			SampleRate:      48000,
			Channels:        1,
			FFmpegBinary:    "ffmpeg",
			InputFormat:     "pulse",
			Input:           "default",
			Codec:           "libopus",
			Container:       "webm",
			ContentType:     "audio/webm;codecs=opus",
			Bitrate:         "32k",
			StartupGraceMs:  300,
			FlushTimeoutMs:  3000,
			FramesPerBuffer: 1024,
		},
		Decoder: DecoderConfig{
			FFmpegBinary: "ffmpeg",
			SampleRate:   16000,
			Channels:     1,
		},
		VAD: VADConfig{
			Enabled:        true,
			Threshold:      0.5,
			WindowMs:       30,
			ReferenceLevel: 0.05,
		},
		Transcription: TranscriptionConfig{
			Endpoint:      "http://localhost:8080/stt",
			Timeout:       60,
			MaxConcurrent: 2,
		},
		Verify: VerifyConfig{
			Enabled:  true,
			Endpoint: "http://localhost:8000/verify_voice",
			Timeout:  15,
			TokenKey: "access_token",
		},
		Intent: IntentConfig{
			BaseURL:       "http://localhost:8080",
			StreamPath:    "/llm/stream",
			SubmitPath:    "/llm/submit-input",
			StreamTimeout: 300,
			SubmitTimeout: 10,
		},
		Stream: StreamConfig{
			Fields:   []string{"text", "delta", "content"},
			ReadSize: 4096,
		},
		Transport: TransportConfig{
			EnableHTTP2:     true,
			MaxIdleConns:    100,
			IdleConnTimeout: 90,
		},
		Store: StoreConfig{
			Backend: "memory",
			Prefix:  "voice:",
		},
		HTTP: HTTPConfig{
			Port:    9091,
			Address: "127.0.0.1",
			Enabled: false,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			MaxSizeMB:  20,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
		UI: UIConfig{
			Notifications:   true,
			CopyToClipboard: false,
		},
	}
}

// Load reads and parses the configuration file. ${VAR} references are
// expanded from the environment and unset keys keep their Default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	sections := []struct {
		name string
		fn   func() error
	}{
		{"capture", c.Capture.Validate},
		{"decoder", c.Decoder.Validate},
		{"vad", c.VAD.Validate},
		{"transcription", c.Transcription.Validate},
		{"verify", c.Verify.Validate},
		{"intent", c.Intent.Validate},
		{"stream", c.Stream.Validate},
		{"transport", c.Transport.Validate},
		{"store", c.Store.Validate},
		{"http", c.HTTP.Validate},
		{"metrics", c.Metrics.Validate},
		{"logging", c.Logging.Validate},
	}
	for _, s := range sections {
		if err := s.fn(); err != nil {
			return fmt.Errorf("%s config: %w", s.name, err)
		}
	}
	return nil
}

// Validate validates capture configuration
func (c *CaptureConfig) Validate() error {
	if err := checkTags(c); err != nil {
		return err
	}

	if c.Device == "ffmpeg" {
		if c.InputFormat == "" || c.Input == "" {
			return fmt.Errorf("input_format and input are required for the ffmpeg device")
		}
		if c.Codec == "" || c.Container == "" {
			return fmt.Errorf("codec and container are required for the ffmpeg device")
		}
		if c.ContentType == "" {
			return fmt.Errorf("content_type cannot be empty for the ffmpeg device")
		}
	}

	return nil
}

// Validate validates decoder configuration
func (d *DecoderConfig) Validate() error {
	return checkTags(d)
}

// Validate validates VAD configuration
func (v *VADConfig) Validate() error {
	if !v.Enabled {
		return nil
	}
	return checkTags(v)
}

// Validate validates transcription configuration
func (t *TranscriptionConfig) Validate() error {
	return checkTags(t)
}

// Validate validates verification configuration
func (v *VerifyConfig) Validate() error {
	return checkTags(v)
}

// Validate validates intent configuration
func (i *IntentConfig) Validate() error {
	if err := checkTags(i); err != nil {
		return err
	}

	if i.StreamPath == i.SubmitPath {
		return fmt.Errorf("stream_path and submit_path must differ, both are '%s'", i.StreamPath)
	}

	return nil
}

// Validate validates stream reader configuration
func (s *StreamConfig) Validate() error {
	return checkTags(s)
}

// Validate validates transport configuration
func (t *TransportConfig) Validate() error {
	return checkTags(t)
}

// Validate validates store configuration
func (s *StoreConfig) Validate() error {
	return checkTags(s)
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates metrics configuration
func (m *MetricsConfig) Validate() error {
	if !m.Enabled {
		return nil
	}
	return checkTags(m)
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	if err := checkTags(l); err != nil {
		return err
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// Anything other than stdout/stderr is a file path
	if strings.TrimSpace(l.Output) == "" {
		return fmt.Errorf("output cannot be empty")
	}

	return nil
}

// IsFile reports whether logs go to a rotated file.
func (l *LoggingConfig) IsFile() bool {
	return l.Output != "stdout" && l.Output != "stderr"
}

// GetTimesliceDuration returns the chunk cadence as a time.Duration
func (c *CaptureConfig) GetTimesliceDuration() time.Duration {
	return time.Duration(c.TimesliceMs) * time.Millisecond
}

// GetStartupGraceDuration returns the device startup grace as a time.Duration
func (c *CaptureConfig) GetStartupGraceDuration() time.Duration {
	return time.Duration(c.StartupGraceMs) * time.Millisecond
}

// GetFlushTimeoutDuration returns the device flush timeout as a time.Duration
func (c *CaptureConfig) GetFlushTimeoutDuration() time.Duration {
	return time.Duration(c.FlushTimeoutMs) * time.Millisecond
}

// GetWindowDuration returns the analysis window as a time.Duration
func (v *VADConfig) GetWindowDuration() time.Duration {
	return time.Duration(v.WindowMs) * time.Millisecond
}

// GetTimeoutDuration returns the transcription timeout as a time.Duration
func (t *TranscriptionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// GetTimeoutDuration returns the verification timeout as a time.Duration
func (v *VerifyConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(v.Timeout) * time.Second
}

// GetStreamTimeoutDuration returns the stream timeout as a time.Duration
func (i *IntentConfig) GetStreamTimeoutDuration() time.Duration {
	return time.Duration(i.StreamTimeout) * time.Second
}

// GetSubmitTimeoutDuration returns the submit timeout as a time.Duration
func (i *IntentConfig) GetSubmitTimeoutDuration() time.Duration {
	return time.Duration(i.SubmitTimeout) * time.Second
}

// GetIdleConnTimeoutDuration returns the idle connection timeout as a time.Duration
func (t *TransportConfig) GetIdleConnTimeoutDuration() time.Duration {
	return time.Duration(t.IdleConnTimeout) * time.Second
}

// GetTTLDuration returns the key expiry as a time.Duration
func (s *StoreConfig) GetTTLDuration() time.Duration {
	return time.Duration(s.TTL) * time.Second
}

// Sanitized returns a copy with secrets masked, for diagnostics output.
func (c *Config) Sanitized() Config {
	out := *c
	out.Stream.Fields = append([]string(nil), c.Stream.Fields...)
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "***"
	}
	out.Transcription.APIKey = mask(c.Transcription.APIKey)
	out.Intent.APIKey = mask(c.Intent.APIKey)
	out.Store.Password = mask(c.Store.Password)
	out.Store.AccessToken = mask(c.Store.AccessToken)
	return out
}
