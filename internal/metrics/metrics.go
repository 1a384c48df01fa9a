package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus instruments for the service. A nil
// *Metrics is valid; every Record helper is a no-op on nil, which keeps
// instrumented components testable without a registry.
type Metrics struct {
	// Connection metrics
	ConnectionsActive prometheus.Gauge
	ListenersActive   prometheus.Gauge

	// Translation metrics
	TranslationRequests prometheus.Counter
	TranslationFailures prometheus.Counter
	TranslationDuration prometheus.Histogram

	// Synthesis metrics
	SynthesisRequests prometheus.Counter
	SynthesisFailures prometheus.Counter
	SynthesisDuration prometheus.Histogram

	// Delivery metrics
	Deliveries        *prometheus.CounterVec
	DeliveryAttempts  prometheus.Histogram
	BroadcastDuration prometheus.Histogram

	// Lifecycle metrics
	SessionsReaped *prometheus.CounterVec
	CodesEvicted   prometheus.Counter
}

// New creates and registers all instruments on the default registry.
func New() *Metrics {
	return &Metrics{
		ConnectionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "lectern_connections_active",
			Help: "Current number of open WebSocket connections",
		}),
		ListenersActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "lectern_listeners_active",
			Help: "Current number of registered listener connections",
		}),

		TranslationRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lectern_translation_requests_total",
			Help: "Total number of translation provider calls",
		}),
		TranslationFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lectern_translation_failures_total",
			Help: "Total number of translation calls that fell back to the original text",
		}),
		TranslationDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "lectern_translation_duration_seconds",
			Help:    "Wall-clock duration of the parallel translation phase",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		}),

		SynthesisRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lectern_synthesis_requests_total",
			Help: "Total number of speech synthesis provider calls",
		}),
		SynthesisFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lectern_synthesis_failures_total",
			Help: "Total number of synthesis calls that degraded to audio-less delivery",
		}),
		SynthesisDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "lectern_synthesis_duration_seconds",
			Help:    "Duration of speech synthesis calls",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),

		Deliveries: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lectern_deliveries_total",
			Help: "Total number of per-listener delivery outcomes",
		}, []string{"result"}),
		DeliveryAttempts: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "lectern_delivery_attempts",
			Help:    "Send attempts consumed per listener delivery",
			Buckets: prometheus.LinearBuckets(1, 1, 3),
		}),
		BroadcastDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "lectern_broadcast_duration_seconds",
			Help:    "End-to-end duration of one transcription broadcast",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),

		SessionsReaped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lectern_sessions_reaped_total",
			Help: "Total number of sessions ended by the lifecycle reaper",
		}, []string{"quality"}),
		CodesEvicted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lectern_classroom_codes_evicted_total",
			Help: "Total number of expired classroom codes evicted",
		}),
	}
}

// ConnectionOpened increments the active connection gauge.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.ConnectionsActive.Inc()
}

// ConnectionClosed decrements the active connection gauge.
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.ConnectionsActive.Dec()
}

// SetListeners sets the active listener gauge.
func (m *Metrics) SetListeners(n int) {
	if m == nil {
		return
	}
	m.ListenersActive.Set(float64(n))
}

// RecordTranslation records one provider call and whether it fell back.
func (m *Metrics) RecordTranslation(failed bool) {
	if m == nil {
		return
	}
	m.TranslationRequests.Inc()
	if failed {
		m.TranslationFailures.Inc()
	}
}

// RecordTranslationPhase records the parallel phase duration in seconds.
func (m *Metrics) RecordTranslationPhase(seconds float64) {
	if m == nil {
		return
	}
	m.TranslationDuration.Observe(seconds)
}

// RecordSynthesis records one synthesis call.
func (m *Metrics) RecordSynthesis(failed bool, seconds float64) {
	if m == nil {
		return
	}
	m.SynthesisRequests.Inc()
	if failed {
		m.SynthesisFailures.Inc()
	}
	m.SynthesisDuration.Observe(seconds)
}

// RecordDelivery records one per-listener outcome.
func (m *Metrics) RecordDelivery(delivered bool, attempts int) {
	if m == nil {
		return
	}
	result := "delivered"
	if !delivered {
		result = "failed"
	}
	m.Deliveries.WithLabelValues(result).Inc()
	m.DeliveryAttempts.Observe(float64(attempts))
}

// RecordBroadcast records the end-to-end broadcast duration in seconds.
func (m *Metrics) RecordBroadcast(seconds float64) {
	if m == nil {
		return
	}
	m.BroadcastDuration.Observe(seconds)
}

// RecordReap records one session ended by the reaper.
func (m *Metrics) RecordReap(quality string) {
	if m == nil {
		return
	}
	m.SessionsReaped.WithLabelValues(quality).Inc()
}

// RecordCodesEvicted adds to the evicted-code counter.
func (m *Metrics) RecordCodesEvicted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.CodesEvicted.Add(float64(n))
}
