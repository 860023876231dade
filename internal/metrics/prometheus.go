package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the voice client.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Capture metrics
	CapturesStarted   prometheus.Counter
	CapturesCompleted prometheus.Counter
	CaptureFailures   *prometheus.CounterVec
	CaptureState      prometheus.Gauge
	ChunksCaptured    prometheus.Counter
	ChunkSize         prometheus.Histogram
	RecordingDuration prometheus.Histogram

	// VAD metrics
	VADWindowsProcessed prometheus.Counter
	VADVoiceDetected    prometheus.Counter
	VADSpeechRatio      prometheus.Histogram

	// Transcode metrics
	TranscodeDuration prometheus.Histogram
	TranscodeFailures *prometheus.CounterVec
	TranscodeSize     prometheus.Histogram

	// Transcription metrics
	TranscriptionRequests  prometheus.Counter
	TranscriptionSuccesses prometheus.Counter
	TranscriptionFailures  prometheus.Counter
	TranscriptionDuration  prometheus.Histogram

	// Verification metrics
	VerificationResults *prometheus.CounterVec

	// Intent stream metrics
	StreamRequests  prometheus.Counter
	StreamFragments prometheus.Counter
	StreamFailures  *prometheus.CounterVec
	StreamDuration  prometheus.Histogram
	StreamTextSize  prometheus.Histogram

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg. A nil
// registerer leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Capture metrics
		CapturesStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_captures_started_total",
			Help: "Total number of capture sessions started",
		}),
		CapturesCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_captures_completed_total",
			Help: "Total number of captures that produced a WAV container",
		}),
		CaptureFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_capture_failures_total",
			Help: "Total number of failed captures by reason",
		}, []string{"reason"}),
		CaptureState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voice_capture_state",
			Help: "Current capture state (0 idle, 1 recording, 2 finalizing)",
		}),
		ChunksCaptured: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_chunks_captured_total",
			Help: "Total number of non-empty chunks received from the capture device",
		}),
		ChunkSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voice_chunk_size_bytes",
			Help:    "Size of captured chunks in bytes",
			Buckets: prometheus.ExponentialBuckets(256, 2, 10), // 256B to ~128KB
		}),
		RecordingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voice_recording_duration_seconds",
			Help:    "Duration of transcoded recordings",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2 minutes
		}),

		// VAD metrics
		VADWindowsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_vad_windows_processed_total",
			Help: "Total number of VAD windows processed",
		}),
		VADVoiceDetected: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_vad_voice_detected_total",
			Help: "Total number of VAD windows with voice detected",
		}),
		VADSpeechRatio: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voice_vad_speech_ratio",
			Help:    "Fraction of each recording classified as speech",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11), // 0.0 to 1.0
		}),

		// Transcode metrics
		TranscodeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voice_transcode_duration_seconds",
			Help:    "Time spent decoding and re-encoding recordings",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~5s
		}),
		TranscodeFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_transcode_failures_total",
			Help: "Total number of transcode failures by stage",
		}, []string{"stage"}),
		TranscodeSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voice_transcode_output_bytes",
			Help:    "Size of produced WAV containers",
			Buckets: prometheus.ExponentialBuckets(16*1024, 2, 10), // 16KB to ~8MB
		}),

		// Transcription metrics
		TranscriptionRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_transcription_requests_total",
			Help: "Total number of transcription requests sent",
		}),
		TranscriptionSuccesses: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_transcription_successes_total",
			Help: "Total number of successful transcription requests",
		}),
		TranscriptionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_transcription_failures_total",
			Help: "Total number of failed transcription requests",
		}),
		TranscriptionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voice_transcription_duration_seconds",
			Help:    "Duration of transcription requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),

		// Verification metrics
		VerificationResults: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_verification_results_total",
			Help: "Voice verification outcomes",
		}, []string{"result"}),

		// Intent stream metrics
		StreamRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_stream_requests_total",
			Help: "Total number of intent stream requests",
		}),
		StreamFragments: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_stream_fragments_total",
			Help: "Total number of text fragments appended from response streams",
		}),
		StreamFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_stream_failures_total",
			Help: "Total number of failed response streams by kind",
		}, []string{"kind"}),
		StreamDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voice_stream_duration_seconds",
			Help:    "Duration of response streams from request to last byte",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		StreamTextSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voice_stream_text_bytes",
			Help:    "Size of accumulated answers",
			Buckets: prometheus.ExponentialBuckets(16, 2, 12), // 16B to ~32KB
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voice_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordCaptureStarted increments the captures started counter
func (m *Metrics) RecordCaptureStarted() {
	if m == nil {
		return
	}
	m.CapturesStarted.Inc()
}

// RecordCaptureFailure counts a capture that ended without a container
func (m *Metrics) RecordCaptureFailure(reason string) {
	if m == nil {
		return
	}
	m.CaptureFailures.WithLabelValues(reason).Inc()
}

// SetCaptureState publishes the session state as a number
func (m *Metrics) SetCaptureState(state int) {
	if m == nil {
		return
	}
	m.CaptureState.Set(float64(state))
}

// RecordChunk records one captured chunk
func (m *Metrics) RecordChunk(sizeBytes int) {
	if m == nil {
		return
	}
	m.ChunksCaptured.Inc()
	m.ChunkSize.Observe(float64(sizeBytes))
}

// RecordTranscode records a successful transcode
func (m *Metrics) RecordTranscode(elapsed, recording time.Duration, sizeBytes int) {
	if m == nil {
		return
	}
	m.CapturesCompleted.Inc()
	m.TranscodeDuration.Observe(elapsed.Seconds())
	m.RecordingDuration.Observe(recording.Seconds())
	m.TranscodeSize.Observe(float64(sizeBytes))
}

// RecordTranscodeFailure records a failed transcode
func (m *Metrics) RecordTranscodeFailure(stage string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.TranscodeFailures.WithLabelValues(stage).Inc()
	m.TranscodeDuration.Observe(elapsed.Seconds())
}

// RecordVAD records voice activity for one recording
func (m *Metrics) RecordVAD(windows, voiced int, speechRatio float64) {
	if m == nil {
		return
	}
	m.VADWindowsProcessed.Add(float64(windows))
	m.VADVoiceDetected.Add(float64(voiced))
	m.VADSpeechRatio.Observe(speechRatio)
}

// RecordTranscriptionRequest increments transcription requests counter
func (m *Metrics) RecordTranscriptionRequest() {
	if m == nil {
		return
	}
	m.TranscriptionRequests.Inc()
}

// RecordTranscriptionSuccess records a successful transcription
func (m *Metrics) RecordTranscriptionSuccess(durationSeconds float64) {
	if m == nil {
		return
	}
	m.TranscriptionSuccesses.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionFailure records a failed transcription
func (m *Metrics) RecordTranscriptionFailure(durationSeconds float64) {
	if m == nil {
		return
	}
	m.TranscriptionFailures.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordVerification records a verification outcome: verified, rejected, skipped or error
func (m *Metrics) RecordVerification(result string) {
	if m == nil {
		return
	}
	m.VerificationResults.WithLabelValues(result).Inc()
}

// RecordStreamRequest increments the intent stream request counter
func (m *Metrics) RecordStreamRequest() {
	if m == nil {
		return
	}
	m.StreamRequests.Inc()
}

// RecordStreamFragment counts one appended fragment
func (m *Metrics) RecordStreamFragment() {
	if m == nil {
		return
	}
	m.StreamFragments.Inc()
}

// RecordStreamDone records a finished stream; kind is empty on success
func (m *Metrics) RecordStreamDone(elapsed time.Duration, textBytes int, kind string) {
	if m == nil {
		return
	}
	m.StreamDuration.Observe(elapsed.Seconds())
	m.StreamTextSize.Observe(float64(textBytes))
	if kind != "" {
		m.StreamFailures.WithLabelValues(kind).Inc()
	}
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint string, statusCode int, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
