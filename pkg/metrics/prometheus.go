package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the call agent
type Metrics struct {
	// HTTP Request Metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// Call Metrics
	callsStartedTotal *prometheus.CounterVec
	callsEndedTotal   *prometheus.CounterVec
	callConnectSecs   prometheus.Histogram
	callActive        prometheus.Gauge

	// Signaling Metrics
	envelopesPublishedTotal *prometheus.CounterVec
	envelopesReceivedTotal  *prometheus.CounterVec
	envelopesDuplicateTotal prometheus.Counter
	envelopesDroppedTotal   *prometheus.CounterVec
	candidatesBuffered      prometheus.Gauge

	// Presence Metrics
	presencePeersTracked prometheus.Gauge
	heartbeatsSentTotal  prometheus.Counter

	// Upload Metrics
	uploadsTotal      *prometheus.CounterVec
	uploadBytesTotal  prometheus.Counter
	uploadDurationSec prometheus.Histogram
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(serviceName string) *Metrics {
	labels := prometheus.Labels{"service": serviceName}

	return &Metrics{
		httpRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "http_requests_total",
				Help:        "Total number of HTTP requests",
				ConstLabels: labels,
			},
			[]string{"method", "endpoint", "status"},
		),
		httpRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "http_request_duration_seconds",
				Help:        "HTTP request latency in seconds",
				ConstLabels: labels,
				Buckets:     prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		httpRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name:        "http_requests_in_flight",
				Help:        "Number of HTTP requests currently being processed",
				ConstLabels: labels,
			},
		),

		callsStartedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "calls_started_total",
				Help:        "Call sessions created, by direction and media kind",
				ConstLabels: labels,
			},
			[]string{"direction", "media"},
		),
		callsEndedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "calls_ended_total",
				Help:        "Call sessions ended, by reason",
				ConstLabels: labels,
			},
			[]string{"reason"},
		),
		callConnectSecs: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:        "call_connect_seconds",
				Help:        "Time from session creation to connected",
				ConstLabels: labels,
				Buckets:     []float64{0.5, 1, 2, 5, 10, 20, 30},
			},
		),
		callActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name:        "call_active",
				Help:        "1 while a non-ended call session exists",
				ConstLabels: labels,
			},
		),

		envelopesPublishedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "signaling_envelopes_published_total",
				Help:        "Envelopes published on the signaling bus, by kind",
				ConstLabels: labels,
			},
			[]string{"kind"},
		),
		envelopesReceivedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "signaling_envelopes_received_total",
				Help:        "Envelopes consumed from the signaling bus, by kind",
				ConstLabels: labels,
			},
			[]string{"kind"},
		),
		envelopesDuplicateTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name:        "signaling_envelopes_duplicate_total",
				Help:        "Envelopes ignored as duplicates",
				ConstLabels: labels,
			},
		),
		envelopesDroppedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "signaling_envelopes_dropped_total",
				Help:        "Envelopes dropped, by reason (unknown_call, ended_call, decode)",
				ConstLabels: labels,
			},
			[]string{"reason"},
		),
		candidatesBuffered: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name:        "signaling_candidates_buffered",
				Help:        "ICE candidates held while awaiting the remote description",
				ConstLabels: labels,
			},
		),

		presencePeersTracked: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name:        "presence_peers_tracked",
				Help:        "Peers with a live presence record",
				ConstLabels: labels,
			},
		),
		heartbeatsSentTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name:        "presence_heartbeats_sent_total",
				Help:        "Local presence heartbeats published",
				ConstLabels: labels,
			},
		),

		uploadsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "attachment_uploads_total",
				Help:        "Attachment uploads, by outcome",
				ConstLabels: labels,
			},
			[]string{"outcome"},
		),
		uploadBytesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name:        "attachment_upload_bytes_total",
				Help:        "Bytes successfully uploaded to the object store",
				ConstLabels: labels,
			},
		),
		uploadDurationSec: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:        "attachment_upload_duration_seconds",
				Help:        "Attachment upload latency in seconds",
				ConstLabels: labels,
				Buckets:     prometheus.DefBuckets,
			},
		),
	}
}

// RecordHTTPRequest records an HTTP request with its outcome
func (m *Metrics) RecordHTTPRequest(method, endpoint string, status int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// HTTPInFlight returns the in-flight requests gauge
func (m *Metrics) HTTPInFlight() prometheus.Gauge {
	return m.httpRequestsInFlight
}

// CallStarted records a new call session
func (m *Metrics) CallStarted(direction, media string) {
	m.callsStartedTotal.WithLabelValues(direction, media).Inc()
	m.callActive.Set(1)
}

// CallConnected records the signaling-to-connected latency
func (m *Metrics) CallConnected(sinceStart time.Duration) {
	m.callConnectSecs.Observe(sinceStart.Seconds())
}

// CallEnded records a finished session
func (m *Metrics) CallEnded(reason string) {
	m.callsEndedTotal.WithLabelValues(reason).Inc()
	m.callActive.Set(0)
}

// EnvelopePublished counts an outbound signaling envelope
func (m *Metrics) EnvelopePublished(kind string) {
	m.envelopesPublishedTotal.WithLabelValues(kind).Inc()
}

// EnvelopeReceived counts an inbound signaling envelope
func (m *Metrics) EnvelopeReceived(kind string) {
	m.envelopesReceivedTotal.WithLabelValues(kind).Inc()
}

// EnvelopeDuplicate counts an idempotently ignored envelope
func (m *Metrics) EnvelopeDuplicate() {
	m.envelopesDuplicateTotal.Inc()
}

// EnvelopeDropped counts an envelope dropped before dispatch
func (m *Metrics) EnvelopeDropped(reason string) {
	m.envelopesDroppedTotal.WithLabelValues(reason).Inc()
}

// CandidatesBuffered sets the current ICE buffer depth
func (m *Metrics) CandidatesBuffered(n int) {
	m.candidatesBuffered.Set(float64(n))
}

// PresencePeers sets the tracked-peer gauge
func (m *Metrics) PresencePeers(n int) {
	m.presencePeersTracked.Set(float64(n))
}

// HeartbeatSent counts a published heartbeat
func (m *Metrics) HeartbeatSent() {
	m.heartbeatsSentTotal.Inc()
}

// UploadFinished records an upload outcome; bytes are counted on success only
func (m *Metrics) UploadFinished(outcome string, bytes int64, duration time.Duration) {
	m.uploadsTotal.WithLabelValues(outcome).Inc()
	if outcome == "success" {
		m.uploadBytesTotal.Add(float64(bytes))
	}
	m.uploadDurationSec.Observe(duration.Seconds())
}
