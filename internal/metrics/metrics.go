package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the gateway.
type Metrics struct {
	// Frame metrics
	FramesReceived *prometheus.CounterVec
	FramesSent     *prometheus.CounterVec
	ParseErrors    prometheus.Counter
	UnknownTypes   prometheus.Counter

	// Binary capture metrics
	BinaryBytes    prometheus.Counter
	OrphanedBinary prometheus.Counter

	// Session metrics
	ActiveSessions  prometheus.Gauge
	SessionsCreated prometheus.Counter
	SessionsClosed  prometheus.Counter
	SessionDuration prometheus.Histogram

	// Playback / DTMF metrics
	DTMFCommands prometheus.Counter
	PromptPushes prometheus.Counter
	ReplayPushes prometheus.Counter

	// Transcode metrics
	TranscodeSuccesses prometheus.Counter
	TranscodeFailures  prometheus.Counter
	TranscodeDuration  prometheus.Histogram

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics on the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates all metrics on a caller-supplied registry.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		FramesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "audiohook_frames_received_total",
			Help: "Total number of control frames received, by type",
		}, []string{"type"}),
		FramesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "audiohook_frames_sent_total",
			Help: "Total number of control frames sent, by type",
		}, []string{"type"}),
		ParseErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "audiohook_parse_errors_total",
			Help: "Total number of malformed control frames",
		}),
		UnknownTypes: factory.NewCounter(prometheus.CounterOpts{
			Name: "audiohook_unknown_types_total",
			Help: "Total number of frames with an unrecognized type",
		}),

		BinaryBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "audiohook_binary_bytes_total",
			Help: "Total number of binary audio bytes captured",
		}),
		OrphanedBinary: factory.NewCounter(prometheus.CounterOpts{
			Name: "audiohook_orphaned_binary_total",
			Help: "Total number of binary frames dropped for lack of a session",
		}),

		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "audiohook_active_sessions",
			Help: "Current number of active sessions",
		}),
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "audiohook_sessions_created_total",
			Help: "Total number of sessions created",
		}),
		SessionsClosed: factory.NewCounter(prometheus.CounterOpts{
			Name: "audiohook_sessions_closed_total",
			Help: "Total number of sessions closed or disconnected",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "audiohook_session_duration_seconds",
			Help:    "Duration of sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~17 minutes
		}),

		DTMFCommands: factory.NewCounter(prometheus.CounterOpts{
			Name: "audiohook_dtmf_commands_total",
			Help: "Total number of DTMF commands executed",
		}),
		PromptPushes: factory.NewCounter(prometheus.CounterOpts{
			Name: "audiohook_prompt_pushes_total",
			Help: "Total number of prompt audio payloads pushed to peers",
		}),
		ReplayPushes: factory.NewCounter(prometheus.CounterOpts{
			Name: "audiohook_replay_pushes_total",
			Help: "Total number of finalized containers pushed back to peers",
		}),

		TranscodeSuccesses: factory.NewCounter(prometheus.CounterOpts{
			Name: "audiohook_transcode_successes_total",
			Help: "Total number of successful RAW to WAV conversions",
		}),
		TranscodeFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "audiohook_transcode_failures_total",
			Help: "Total number of failed RAW to WAV conversions",
		}),
		TranscodeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "audiohook_transcode_duration_seconds",
			Help:    "Duration of RAW to WAV conversions",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~10s
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "audiohook_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "audiohook_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}
}

// RecordFrameReceived counts an inbound control frame.
func (m *Metrics) RecordFrameReceived(frameType string) {
	m.FramesReceived.WithLabelValues(frameType).Inc()
}

// RecordFrameSent counts an outbound control frame.
func (m *Metrics) RecordFrameSent(frameType string) {
	m.FramesSent.WithLabelValues(frameType).Inc()
}

// RecordParseError counts a malformed frame.
func (m *Metrics) RecordParseError() {
	m.ParseErrors.Inc()
}

// RecordUnknownType counts a frame with an unrecognized type.
func (m *Metrics) RecordUnknownType() {
	m.UnknownTypes.Inc()
}

// RecordBinary counts captured binary audio bytes.
func (m *Metrics) RecordBinary(bytes int) {
	m.BinaryBytes.Add(float64(bytes))
}

// RecordOrphanedBinary counts a binary frame dropped for lack of a session.
func (m *Metrics) RecordOrphanedBinary() {
	m.OrphanedBinary.Inc()
}

// RecordSessionCreated counts a new session and updates the active gauge.
func (m *Metrics) RecordSessionCreated(active int) {
	m.SessionsCreated.Inc()
	m.ActiveSessions.Set(float64(active))
}

// RecordSessionClosed counts a terminated session and its duration.
func (m *Metrics) RecordSessionClosed(active int, durationSeconds float64) {
	m.SessionsClosed.Inc()
	m.SessionDuration.Observe(durationSeconds)
	m.ActiveSessions.Set(float64(active))
}

// RecordDTMF counts an executed DTMF command.
func (m *Metrics) RecordDTMF() {
	m.DTMFCommands.Inc()
}

// RecordPromptPush counts a prompt audio push.
func (m *Metrics) RecordPromptPush() {
	m.PromptPushes.Inc()
}

// RecordReplayPush counts a finalized-container push.
func (m *Metrics) RecordReplayPush() {
	m.ReplayPushes.Inc()
}

// RecordTranscode records the outcome and duration of one conversion.
func (m *Metrics) RecordTranscode(success bool, durationSeconds float64) {
	if success {
		m.TranscodeSuccesses.Inc()
	} else {
		m.TranscodeFailures.Inc()
	}
	m.TranscodeDuration.Observe(durationSeconds)
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}
