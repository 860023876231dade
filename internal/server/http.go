package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v3"

	"github.com/skypro1111/voice-intent-client/internal/assistant"
	"github.com/skypro1111/voice-intent-client/internal/capture"
	"github.com/skypro1111/voice-intent-client/internal/config"
	"github.com/skypro1111/voice-intent-client/internal/metrics"
	"github.com/skypro1111/voice-intent-client/internal/transcode"
	"github.com/skypro1111/voice-intent-client/internal/transcription"
	"github.com/skypro1111/voice-intent-client/internal/vad"
)

const (
	serviceName    = "voice-intent-client"
	serviceVersion = "1.0.0"
)

// Recorder is the capture session as seen by the server.
type Recorder interface {
	Start(ctx context.Context) error
	Stop() error
	State() capture.State
	GetStats() capture.SessionStats
}

// VoiceActivity is the VAD processor as seen by the server.
type VoiceActivity interface {
	GetStats() vad.ProcessorStats
	GetThreshold() float32
	GetWindow() time.Duration
	UpdateThreshold(threshold float32) error
	Reset()
}

// Sources are the components the server reports on. Any may be nil.
type Sources struct {
	Recorder      Recorder
	Assistant     interface{ GetStats() assistant.Stats }
	Transcription interface{ GetStats() transcription.ClientStats }
	Transcoder    interface{ GetStats() transcode.Stats }
	VAD           VoiceActivity
}

// HTTPServer provides local endpoints for monitoring and remote control
type HTTPServer struct {
	server   *http.Server
	logger   *slog.Logger
	config   *config.Config
	sources  Sources
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer

	// Server state
	startTime time.Time
}

// HTTPServerConfig contains HTTP server configuration
type HTTPServerConfig struct {
	Port        int
	Address     string
	MetricsPath string // empty disables /metrics
}

// NewHTTPServer creates a new diagnostics server. gatherer backs the
// metrics endpoint; nil uses the default registry.
func NewHTTPServer(cfg HTTPServerConfig, logger *slog.Logger, appConfig *config.Config,
	sources Sources, m *metrics.Metrics, gatherer prometheus.Gatherer) *HTTPServer {

	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		sources:   sources,
		metrics:   m,
		gatherer:  gatherer,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux, cfg.MetricsPath)

	h.server = &http.Server{
		Addr:         net.JoinHostPort(cfg.Address, fmt.Sprint(cfg.Port)),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// Handler returns the route multiplexer.
func (h *HTTPServer) Handler() http.Handler {
	return h.server.Handler
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux, metricsPath string) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	// Capture session state and control
	mux.HandleFunc("/session", h.withMetrics("/session", h.handleSession))
	mux.HandleFunc("/session/start", h.withMetrics("/session/start", h.handleSessionStart))
	mux.HandleFunc("/session/stop", h.withMetrics("/session/stop", h.handleSessionStop))

	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// Voice activity analysis
	mux.HandleFunc("/vad", h.withMetrics("/vad", h.handleVAD))
	mux.HandleFunc("/vad/reset", h.withMetrics("/vad/reset", h.handleVADReset))

	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))
	mux.HandleFunc("/stats/transcription", h.withMetrics("/stats/transcription", h.handleTranscriptionStats))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	if metricsPath != "" {
		mux.Handle(metricsPath, promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		h.metrics.RecordHTTPRequest(r.Method, endpoint, ww.statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server. The listener is bound before Start returns
// so a busy port is reported to the caller.
func (h *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.server.Addr, err)
	}

	h.logger.Info("Starting diagnostics server",
		slog.String("address", ln.Addr().String()),
	)

	go func() {
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.Any("error", err))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping diagnostics server...")

	return h.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func methodAllowed(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !methodAllowed(w, r, http.MethodGet) {
		return
	}

	components := map[string]any{}
	if h.sources.Recorder != nil {
		components["capture"] = map[string]any{
			"status": "running",
			"state":  h.sources.Recorder.State().String(),
		}
	}
	if h.sources.Transcription != nil {
		stats := h.sources.Transcription.GetStats()
		components["transcription"] = map[string]any{
			"status":          "running",
			"total_requests":  stats.TotalRequests,
			"success_rate":    stats.SuccessRate,
			"active_requests": stats.ActiveRequests,
		}
	}
	if h.sources.Assistant != nil {
		stats := h.sources.Assistant.GetStats()
		components["assistant"] = map[string]any{
			"status": "running",
			"busy":   stats.Busy,
			"turns":  stats.Turns,
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]any{
			"name":    serviceName,
			"version": serviceVersion,
		},
		"components": components,
	})
}

// handleSession implements the /session endpoint
func (h *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
	if !methodAllowed(w, r, http.MethodGet) {
		return
	}
	if h.sources.Recorder == nil {
		http.Error(w, "Capture is not available", http.StatusServiceUnavailable)
		return
	}

	response := map[string]any{
		"capture":   h.sources.Recorder.GetStats(),
		"timestamp": time.Now().UTC(),
	}
	if h.sources.Assistant != nil {
		response["assistant"] = h.sources.Assistant.GetStats()
	}
	writeJSON(w, http.StatusOK, response)
}

// handleSessionStart implements POST /session/start
func (h *HTTPServer) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, "start", func() error {
		// the recording outlives this request
		return h.sources.Recorder.Start(context.WithoutCancel(r.Context()))
	})
}

// handleSessionStop implements POST /session/stop
func (h *HTTPServer) handleSessionStop(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, "stop", h.sources.stop)
}

func (s Sources) stop() error {
	return s.Recorder.Stop()
}

func (h *HTTPServer) control(w http.ResponseWriter, r *http.Request, action string, fn func() error) {
	if !methodAllowed(w, r, http.MethodPost) {
		return
	}
	if h.sources.Recorder == nil {
		http.Error(w, "Capture is not available", http.StatusServiceUnavailable)
		return
	}

	if err := fn(); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, capture.ErrDeviceUnavailable) {
			status = http.StatusServiceUnavailable
		}
		h.logger.Warn("Session control failed",
			slog.String("action", action),
			slog.Any("error", err))
		writeJSON(w, status, map[string]any{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"action": action,
		"state":  h.sources.Recorder.State().String(),
	})
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if !methodAllowed(w, r, http.MethodGet) {
		return
	}

	writeJSON(w, http.StatusOK, configView(h.config.Sanitized()))
}

// configView converts cfg to a generic map keyed by its yaml names.
func configView(cfg config.Config) map[string]any {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return map[string]any{"error": err.Error()}
	}
	view := map[string]any{}
	if err := yaml.Unmarshal(raw, &view); err != nil {
		return map[string]any{"error": err.Error()}
	}
	return view
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if !methodAllowed(w, r, http.MethodGet) {
		return
	}

	stats := map[string]any{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
	}
	if h.sources.Recorder != nil {
		stats["capture"] = h.sources.Recorder.GetStats()
	}
	if h.sources.Transcoder != nil {
		stats["transcode"] = h.sources.Transcoder.GetStats()
	}
	if h.sources.Transcription != nil {
		stats["transcription"] = h.sources.Transcription.GetStats()
	}
	if h.sources.Assistant != nil {
		stats["assistant"] = h.sources.Assistant.GetStats()
	}
	if h.sources.VAD != nil {
		stats["vad"] = h.sources.VAD.GetStats()
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleVAD implements GET and PUT /vad. PUT takes {"threshold": 0.5}.
func (h *HTTPServer) handleVAD(w http.ResponseWriter, r *http.Request) {
	if h.sources.VAD == nil {
		http.Error(w, "Voice activity analysis is disabled", http.StatusServiceUnavailable)
		return
	}

	switch r.Method {
	case http.MethodGet:
	case http.MethodPut:
		var req struct {
			Threshold *float32 `json:"threshold"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Threshold == nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if err := h.sources.VAD.UpdateThreshold(*req.Threshold); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		h.logger.Info("VAD threshold updated", slog.Float64("threshold", float64(*req.Threshold)))
	default:
		w.Header().Set("Allow", "GET, PUT")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, h.vadView())
}

// handleVADReset implements POST /vad/reset
func (h *HTTPServer) handleVADReset(w http.ResponseWriter, r *http.Request) {
	if !methodAllowed(w, r, http.MethodPost) {
		return
	}
	if h.sources.VAD == nil {
		http.Error(w, "Voice activity analysis is disabled", http.StatusServiceUnavailable)
		return
	}

	h.sources.VAD.Reset()
	writeJSON(w, http.StatusOK, h.vadView())
}

func (h *HTTPServer) vadView() map[string]any {
	return map[string]any{
		"threshold": h.sources.VAD.GetThreshold(),
		"window_ms": h.sources.VAD.GetWindow().Milliseconds(),
		"stats":     h.sources.VAD.GetStats(),
	}
}

// handleTranscriptionStats implements the /stats/transcription endpoint
func (h *HTTPServer) handleTranscriptionStats(w http.ResponseWriter, r *http.Request) {
	if !methodAllowed(w, r, http.MethodGet) {
		return
	}
	if h.sources.Transcription == nil {
		http.Error(w, "Transcription is not available", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusOK, h.sources.Transcription.GetStats())
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if !methodAllowed(w, r, http.MethodGet) {
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"service": "Voice Intent Client",
		"version": serviceVersion,
		"endpoints": map[string]any{
			"GET /":                    "API documentation",
			"GET /health":              "Client health check",
			"GET /session":             "Capture session and assistant state",
			"POST /session/start":      "Start recording",
			"POST /session/stop":       "Stop recording and process it",
			"GET /config":              "Client configuration with secrets masked",
			"GET /vad":                 "Voice activity threshold, window and statistics",
			"PUT /vad":                 "Update the voice activity threshold",
			"POST /vad/reset":          "Reset voice activity statistics",
			"GET /stats":               "Component statistics",
			"GET /stats/transcription": "Transcription client statistics",
			"GET /metrics":             "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	})
}
