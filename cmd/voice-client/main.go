package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/skypro1111/voice-intent-client/internal/assistant"
	"github.com/skypro1111/voice-intent-client/internal/audio"
	"github.com/skypro1111/voice-intent-client/internal/capture"
	"github.com/skypro1111/voice-intent-client/internal/config"
	"github.com/skypro1111/voice-intent-client/internal/device"
	"github.com/skypro1111/voice-intent-client/internal/device/pa"
	"github.com/skypro1111/voice-intent-client/internal/intent"
	"github.com/skypro1111/voice-intent-client/internal/metrics"
	"github.com/skypro1111/voice-intent-client/internal/server"
	"github.com/skypro1111/voice-intent-client/internal/store"
	"github.com/skypro1111/voice-intent-client/internal/stream"
	"github.com/skypro1111/voice-intent-client/internal/transcode"
	"github.com/skypro1111/voice-intent-client/internal/transcription"
	"github.com/skypro1111/voice-intent-client/internal/transport"
	"github.com/skypro1111/voice-intent-client/internal/verify"
	"github.com/skypro1111/voice-intent-client/internal/vad"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "voice-intent-client"
	serviceVersion    = "1.0.0"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run is the whole client; it returns the process exit code so that every
// deferred cleanup has run before main exits.
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	// Parse command line flags
	flags := flag.NewFlagSet(serviceName, flag.ContinueOnError)
	flags.SetOutput(stderr)
	configPath := flags.String("config", defaultConfigPath, "Path to configuration file")
	envPath := flags.String("env", ".env", "Optional dotenv file loaded before the configuration")
	prompt := flags.String("prompt", "", "Send a text prompt and exit")
	inputFile := flags.String("file", "", "Transcode and process an audio file, then exit")
	outPath := flags.String("out", "", "Write each produced WAV to this path")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	// A missing .env is normal
	if err := godotenv.Load(*envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(stderr, "Failed to load %s: %v\n", *envPath, err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load configuration: %v\n", err)
		return 1
	}

	logger, closeLog := initLogger(cfg.Logging)
	defer closeLog()

	logger.Info("Client starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.String("capture_device", cfg.Capture.Device),
		slog.Duration("timeslice", cfg.Capture.GetTimesliceDuration()),
		slog.Int("sample_rate", cfg.Capture.SampleRate),
		slog.Bool("vad_enabled", cfg.VAD.Enabled),
		slog.String("transcription_endpoint", cfg.Transcription.Endpoint),
		slog.Bool("verify_enabled", cfg.Verify.Enabled),
		slog.String("intent_base_url", cfg.Intent.BaseURL),
		slog.String("store_backend", cfg.Store.Backend),
		slog.String("log_level", cfg.Logging.Level),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize Prometheus metrics on a private registry
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	appMetrics := metrics.NewMetrics(reg)

	app, err := newApp(ctx, cfg, appMetrics, logger)
	if err != nil {
		logger.Error("Failed to initialize client", slog.Any("error", err))
		return 1
	}
	defer app.close()

	ui := newUI(cfg.UI, app.assistant, *outPath, stdout, logger)

	switch {
	case *prompt != "":
		err = runOnce(ui, app.assistant, func() error {
			_, err := app.assistant.Ask(ctx, *prompt)
			return err
		})
	case *inputFile != "":
		err = runOnce(ui, app.assistant, func() error {
			return app.processFile(ctx, *inputFile, *outPath)
		})
	default:
		err = app.runInteractive(ctx, cfg, ui, reg, stdin)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Client failed", slog.Any("error", err))
		return 1
	}

	logger.Info("Client stopped")
	return 0
}

// loadConfig reads path. The default path may be absent, in which case the
// built-in defaults are used.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if path == defaultConfigPath && errors.Is(err, fs.ErrNotExist) {
		cfg = config.Default()
		return cfg, cfg.Validate()
	}
	return nil, err
}

// app holds the wired components.
type app struct {
	logger      *slog.Logger
	metrics     *metrics.Metrics
	store       store.Store
	transcriber *transcription.Client
	transcoder  *transcode.Transcoder
	analyzer    *vad.Processor // nil when VAD is disabled
	assistant   *assistant.Assistant
	session     *capture.Session // nil outside interactive mode
}

func newApp(ctx context.Context, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (*app, error) {
	var seed map[string]string
	if cfg.Store.AccessToken != "" {
		seed = map[string]string{store.KeyAccessToken: cfg.Store.AccessToken}
	}
	st, err := store.Open(ctx, store.Config{
		Backend:  cfg.Store.Backend,
		Addr:     cfg.Store.Addr,
		Password: cfg.Store.Password,
		DB:       cfg.Store.DB,
		Prefix:   cfg.Store.Prefix,
		TTL:      cfg.Store.GetTTLDuration(),
		Seed:     seed,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	// One pooled client for every endpoint; per-call timeouts come from each
	// client's config or context.
	httpClient, err := transport.NewHTTPClient(transport.Config{
		EnableHTTP2:        cfg.Transport.EnableHTTP2,
		InsecureSkipVerify: cfg.Transport.InsecureSkipVerify,
		MaxIdleConns:       cfg.Transport.MaxIdleConns,
		IdleConnTimeout:    cfg.Transport.GetIdleConnTimeoutDuration(),
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}

	transcriber, err := transcription.NewClient(transcription.Config{
		Endpoint:      cfg.Transcription.Endpoint,
		APIKey:        cfg.Transcription.APIKey,
		Timeout:       cfg.Transcription.GetTimeoutDuration(),
		MaxConcurrent: cfg.Transcription.MaxConcurrent,
		Language:      cfg.Transcription.Language,
	}, httpClient, m, logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to create transcription client: %w", err)
	}

	verifier, err := verify.NewClient(verify.Config{
		Enabled:  cfg.Verify.Enabled,
		Endpoint: cfg.Verify.Endpoint,
		Timeout:  cfg.Verify.GetTimeoutDuration(),
		TokenKey: cfg.Verify.TokenKey,
	}, httpClient, st, m, logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to create verification client: %w", err)
	}

	// The reader hook needs the assistant, which needs the intent client.
	var asst *assistant.Assistant
	reader := stream.NewReader(stream.Config{
		Fields:   cfg.Stream.Fields,
		ReadSize: cfg.Stream.ReadSize,
		OnHumanInput: func(req stream.HumanInputRequest) {
			asst.HandleHumanInput(req)
		},
	}, m)

	intentClient, err := intent.NewClient(intent.Config{
		BaseURL:       cfg.Intent.BaseURL,
		StreamPath:    cfg.Intent.StreamPath,
		SubmitPath:    cfg.Intent.SubmitPath,
		StreamTimeout: cfg.Intent.GetStreamTimeoutDuration(),
		SubmitTimeout: cfg.Intent.GetSubmitTimeoutDuration(),
		APIKey:        cfg.Intent.APIKey,
	}, httpClient, reader, m, logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to create intent client: %w", err)
	}

	asst = assistant.New(assistant.Config{WarnOnSilence: cfg.VAD.Enabled},
		transcriber, verifier, intentClient, st, logger)

	var analyzer *vad.Processor
	if cfg.VAD.Enabled {
		analyzer, err = vad.NewProcessor(cfg.VAD.Threshold, cfg.VAD.GetWindowDuration(), cfg.VAD.ReferenceLevel)
		if err != nil {
			asst.Close()
			st.Close()
			return nil, fmt.Errorf("failed to create VAD processor: %w", err)
		}
	}

	opener := transcode.NewMuxOpener(&transcode.FFmpegOpener{
		Binary:     cfg.Decoder.FFmpegBinary,
		TempDir:    cfg.Decoder.TempDir,
		SampleRate: cfg.Decoder.SampleRate,
		Channels:   cfg.Decoder.Channels,
		Logger:     logger,
	})
	opener.Register("audio/wav", transcode.WAVOpener{})
	opener.Register("audio/x-wav", transcode.WAVOpener{})
	opener.Register("audio/L16", transcode.RawPCMOpener{
		SampleRate: cfg.Capture.SampleRate,
		Channels:   cfg.Capture.Channels,
	})

	logger.Info("Components initialized",
		slog.String("stream_url", intentClient.StreamURL()),
		slog.Bool("vad_enabled", analyzer != nil),
	)

	return &app{
		logger:      logger,
		metrics:     m,
		store:       st,
		transcriber: transcriber,
		transcoder:  transcode.NewTranscoder(opener, analyzer, m, logger),
		analyzer:    analyzer,
		assistant:   asst,
	}, nil
}

// newDevice builds the configured capture device.
func newDevice(cfg config.CaptureConfig, logger *slog.Logger) capture.Device {
	if cfg.Device == "portaudio" {
		return &pa.Device{
			FramesPerBuffer: cfg.FramesPerBuffer,
			FlushTimeout:    cfg.GetFlushTimeoutDuration(),
			Logger:          logger,
		}
	}
	return &device.FFmpegDevice{
		Binary:       cfg.FFmpegBinary,
		Format:       cfg.InputFormat,
		Input:        cfg.Input,
		Codec:        cfg.Codec,
		Container:    cfg.Container,
		ContentType:  cfg.ContentType,
		Bitrate:      cfg.Bitrate,
		StartupGrace: cfg.GetStartupGraceDuration(),
		FlushTimeout: cfg.GetFlushTimeoutDuration(),
		Logger:       logger,
	}
}

// runInteractive records from the microphone until ctx ends or the user quits.
func (a *app) runInteractive(ctx context.Context, cfg *config.Config, ui *ui, reg *prometheus.Registry, in io.Reader) error {
	a.session = capture.NewSession(newDevice(cfg.Capture, a.logger), a.transcoder, capture.Options{
		Constraints: capture.Constraints{
			Timeslice:  cfg.Capture.GetTimesliceDuration(),
			SampleRate: cfg.Capture.SampleRate,
			Channels:   cfg.Capture.Channels,
		},
		OnComplete:    a.assistant.OnRecording,
		OnError:       a.assistant.OnDeviceError,
		OnStateChange: a.assistant.OnStateChange,
		Metrics:       a.metrics,
	}, a.logger)

	// Initialize diagnostics server (if enabled)
	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		metricsPath := ""
		if cfg.Metrics.Enabled {
			metricsPath = cfg.Metrics.Path
		}
		sources := server.Sources{
			Recorder:      a.session,
			Assistant:     a.assistant,
			Transcription: a.transcriber,
			Transcoder:    a.transcoder,
		}
		if a.analyzer != nil {
			sources.VAD = a.analyzer
		}
		httpServer = server.NewHTTPServer(server.HTTPServerConfig{
			Port:        cfg.HTTP.Port,
			Address:     cfg.HTTP.Address,
			MetricsPath: metricsPath,
		}, a.logger, cfg, sources, a.metrics, reg)

		if err := httpServer.Start(); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpServer.Stop(shutdownCtx); err != nil {
				a.logger.Error("Error stopping HTTP server", slog.Any("error", err))
			}
		}()
	}

	return ui.Run(ctx, a.session, in)
}

// processFile transcodes an existing recording and runs one turn with it.
func (a *app) processFile(ctx context.Context, path, outPath string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	res, err := a.transcoder.Transcode(ctx, []audio.Chunk{{Data: data, ContentType: contentTypeFor(path)}})
	if err != nil {
		return err
	}

	a.logger.Info("File transcoded",
		slog.String("path", path),
		slog.Duration("duration", res.Info.Duration),
		slog.Float64("speech_ratio", res.Activity.SpeechRatio),
	)

	if outPath != "" {
		if err := os.WriteFile(outPath, res.WAV, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", outPath, err)
		}
	}

	_, err = a.assistant.Process(ctx, res.WAV)
	return err
}

func contentTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return "audio/wav"
	case ".webm":
		return "audio/webm"
	case ".ogg", ".opus":
		return "audio/ogg"
	case ".mp3":
		return "audio/mpeg"
	case ".m4a", ".mp4":
		return "audio/mp4"
	default:
		return "application/octet-stream"
	}
}

// runOnce runs fn while the UI prints the events it produces. Closing the
// assistant ends the event stream once every queued event is delivered.
func runOnce(u *ui, asst *assistant.Assistant, fn func() error) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		u.PrintEvents()
	}()

	err := fn()
	_ = asst.Close()
	<-done
	return err
}

func (a *app) close() {
	if a.session != nil {
		if err := a.session.Close(); err != nil {
			a.logger.Warn("Error closing capture session", slog.Any("error", err))
		}
	}
	if err := a.assistant.Close(); err != nil {
		a.logger.Warn("Error closing assistant", slog.Any("error", err))
	}
	if err := a.transcriber.Close(); err != nil {
		a.logger.Warn("Error closing transcription client", slog.Any("error", err))
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("Error closing store", slog.Any("error", err))
	}

	stats := a.assistant.GetStats()
	a.logger.Info("Final statistics",
		slog.Uint64("turns", stats.Turns),
		slog.Uint64("completed", stats.Completed),
		slog.Uint64("failed", stats.Failed),
		slog.Uint64("canceled", stats.Canceled),
	)
}

// initLogger creates and configures the structured logger based on
// configuration. The returned func closes a log file, if one was opened.
func initLogger(cfg config.LoggingConfig) (*slog.Logger, func()) {
	// Parse log level
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo // default fallback
	}

	// Configure handler options
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	// Determine output destination
	var output io.Writer
	closeFn := func() {}
	switch {
	case cfg.Output == "stderr":
		output = os.Stderr
	case cfg.Output == "stdout" || cfg.Output == "":
		output = os.Stdout
	case cfg.IsFile():
		// Rotated file output
		lj := &lumberjack.Logger{
			Filename:   cfg.Output,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		output = lj
		closeFn = func() { _ = lj.Close() }
	default:
		output = os.Stderr
	}

	// Create handler based on format
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler), closeFn
}
