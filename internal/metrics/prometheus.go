package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the speech-to-text service
type Metrics struct {
	// Session metrics
	ActiveSessions   prometheus.Gauge
	SessionsCreated  prometheus.Counter
	SessionsClosed   prometheus.Counter
	SessionDuration  prometheus.Histogram

	// Link metrics
	LinkConnects        prometheus.Counter
	LinkConnectFailures prometheus.Counter
	LinkHardCloses      prometheus.Counter

	// Audio metrics
	AudioChunks prometheus.Counter
	AudioBytes  prometheus.Counter

	// Event metrics
	EventsDecoded   *prometheus.CounterVec
	EventsDelivered prometheus.Counter
	EventsDropped   prometheus.Counter

	// Batch transcription metrics
	BatchRequests  prometheus.Counter
	BatchSuccesses prometheus.Counter
	BatchFailures  prometheus.Counter
	BatchDuration  prometheus.Histogram

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		// Session metrics
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "stt_active_sessions",
			Help: "Current number of active transcription sessions",
		}),
		SessionsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stt_sessions_created_total",
			Help: "Total number of transcription sessions created",
		}),
		SessionsClosed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stt_sessions_closed_total",
			Help: "Total number of transcription sessions closed",
		}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "stt_session_duration_seconds",
			Help:    "Duration of transcription sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1 hour
		}),

		// Link metrics
		LinkConnects: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stt_link_connects_total",
			Help: "Total number of remote link connections opened",
		}),
		LinkConnectFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stt_link_connect_failures_total",
			Help: "Total number of remote link connection failures",
		}),
		LinkHardCloses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stt_link_hard_closes_total",
			Help: "Total number of links force-closed after the grace period expired",
		}),

		// Audio metrics
		AudioChunks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stt_audio_chunks_total",
			Help: "Total number of audio chunks forwarded to the remote endpoint",
		}),
		AudioBytes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stt_audio_bytes_total",
			Help: "Total audio bytes forwarded to the remote endpoint",
		}),

		// Event metrics
		EventsDecoded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stt_events_decoded_total",
			Help: "Total number of inbound frames decoded, by event kind",
		}, []string{"kind"}),
		EventsDelivered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stt_events_delivered_total",
			Help: "Total number of transcript events delivered to subscribers",
		}),
		EventsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stt_events_dropped_total",
			Help: "Total number of transcript events dropped from full pending buffers",
		}),

		// Batch transcription metrics
		BatchRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stt_batch_requests_total",
			Help: "Total number of batch transcription requests",
		}),
		BatchSuccesses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stt_batch_successes_total",
			Help: "Total number of successful batch transcriptions",
		}),
		BatchFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stt_batch_failures_total",
			Help: "Total number of failed batch transcriptions",
		}),
		BatchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "stt_batch_duration_seconds",
			Help:    "End-to-end duration of batch transcriptions",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~8 minutes
		}),

		// HTTP API metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stt_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stt_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stt_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordSessionCreated increments session creation counters
func (m *Metrics) RecordSessionCreated() {
	if m == nil {
		return
	}
	m.SessionsCreated.Inc()
}

// RecordSessionClosed records a closed session and its duration
func (m *Metrics) RecordSessionClosed(durationSeconds float64) {
	if m == nil {
		return
	}
	m.SessionsClosed.Inc()
	m.SessionDuration.Observe(durationSeconds)
}

// SetActiveSessions sets the active session gauge
func (m *Metrics) SetActiveSessions(count int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(count))
}

// RecordLinkConnect increments the link connect counter
func (m *Metrics) RecordLinkConnect() {
	if m == nil {
		return
	}
	m.LinkConnects.Inc()
}

// RecordLinkConnectFailure increments the link connect failure counter
func (m *Metrics) RecordLinkConnectFailure() {
	if m == nil {
		return
	}
	m.LinkConnectFailures.Inc()
}

// RecordLinkHardClose increments the hard close counter
func (m *Metrics) RecordLinkHardClose() {
	if m == nil {
		return
	}
	m.LinkHardCloses.Inc()
}

// RecordAudioChunk records a forwarded audio chunk
func (m *Metrics) RecordAudioChunk(sizeBytes int) {
	if m == nil {
		return
	}
	m.AudioChunks.Inc()
	m.AudioBytes.Add(float64(sizeBytes))
}

// RecordEventDecoded records a decoded inbound frame by kind
func (m *Metrics) RecordEventDecoded(kind string) {
	if m == nil {
		return
	}
	m.EventsDecoded.WithLabelValues(kind).Inc()
}

// RecordEventDelivered increments the delivered events counter
func (m *Metrics) RecordEventDelivered() {
	if m == nil {
		return
	}
	m.EventsDelivered.Inc()
}

// RecordEventDropped increments the dropped events counter
func (m *Metrics) RecordEventDropped() {
	if m == nil {
		return
	}
	m.EventsDropped.Inc()
}

// RecordBatchRequest increments the batch requests counter
func (m *Metrics) RecordBatchRequest() {
	if m == nil {
		return
	}
	m.BatchRequests.Inc()
}

// RecordBatchSuccess records a successful batch transcription
func (m *Metrics) RecordBatchSuccess(durationSeconds float64) {
	if m == nil {
		return
	}
	m.BatchSuccesses.Inc()
	m.BatchDuration.Observe(durationSeconds)
}

// RecordBatchFailure records a failed batch transcription
func (m *Metrics) RecordBatchFailure(durationSeconds float64) {
	if m == nil {
		return
	}
	m.BatchFailures.Inc()
	m.BatchDuration.Observe(durationSeconds)
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
