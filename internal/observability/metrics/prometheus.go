// Package metrics provides Prometheus metrics for the front-desk services.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	PrescriptionsCreated    prometheus.Counter
	PDFRendered             prometheus.Counter
	PDFRenderDuration       prometheus.Histogram
	SmsDispatches           *prometheus.CounterVec
	ArtifactCleanupFailures prometheus.Counter
	ArtifactsSwept          prometheus.Counter
	OutboxPending           prometheus.Gauge
	DeliveryTasks           *prometheus.CounterVec
	CircuitBreakerState     *prometheus.GaugeVec
	TranscriptionSessions   prometheus.Gauge
}

// New creates all metrics and registers them with the default registry
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer creates all metrics on reg
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PrescriptionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prescriptions_created_total",
			Help: "Total prescriptions created",
		}),
		PDFRendered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prescription_pdfs_rendered_total",
			Help: "Total prescription PDFs rendered",
		}),
		PDFRenderDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "prescription_pdf_render_duration_seconds",
			Help:    "Prescription PDF render duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		SmsDispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prescription_sms_dispatches_total",
			Help: "Prescription SMS dispatch attempts by result",
		}, []string{"result"}),
		ArtifactCleanupFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "artifact_cleanup_failures_total",
			Help: "Hosted PDF deletions that failed and were left for the sweeper",
		}),
		ArtifactsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "artifacts_swept_total",
			Help: "Stale hosted PDFs removed by the sweeper",
		}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_pending_entries",
			Help: "Pending outbox entries",
		}),
		DeliveryTasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "delivery_tasks_total",
			Help: "Automatic delivery tasks by outcome",
		}, []string{"outcome"}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
		TranscriptionSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "transcription_sessions_active",
			Help: "Open live transcription sessions",
		}),
	}

	reg.MustRegister(
		m.PrescriptionsCreated,
		m.PDFRendered,
		m.PDFRenderDuration,
		m.SmsDispatches,
		m.ArtifactCleanupFailures,
		m.ArtifactsSwept,
		m.OutboxPending,
		m.DeliveryTasks,
		m.CircuitBreakerState,
		m.TranscriptionSessions,
	)

	return m
}

// PrescriptionCreated counts a stored prescription
func (m *Metrics) PrescriptionCreated() {
	if m == nil {
		return
	}
	m.PrescriptionsCreated.Inc()
}

// RenderObserved records one PDF render
func (m *Metrics) RenderObserved(d time.Duration) {
	if m == nil {
		return
	}
	m.PDFRendered.Inc()
	m.PDFRenderDuration.Observe(d.Seconds())
}

// SmsDispatch counts a dispatch attempt with result sent, rejected or failed
func (m *Metrics) SmsDispatch(result string) {
	if m == nil {
		return
	}
	m.SmsDispatches.WithLabelValues(result).Inc()
}

// CleanupFailed counts an artifact that could not be deleted
func (m *Metrics) CleanupFailed() {
	if m == nil {
		return
	}
	m.ArtifactCleanupFailures.Inc()
}

// Swept counts artifacts removed by the sweeper
func (m *Metrics) Swept(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ArtifactsSwept.Add(float64(n))
}

// SetOutboxPending publishes the outbox backlog
func (m *Metrics) SetOutboxPending(n int64) {
	if m == nil {
		return
	}
	m.OutboxPending.Set(float64(n))
}

// DeliveryTask counts a delivery-service task outcome
func (m *Metrics) DeliveryTask(outcome string) {
	if m == nil {
		return
	}
	m.DeliveryTasks.WithLabelValues(outcome).Inc()
}

// BreakerState publishes a breaker state as 0, 1 or 2
func (m *Metrics) BreakerState(name string, state float64) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(state)
}

// SessionOpened and SessionClosed track live transcription sessions
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.TranscriptionSessions.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.TranscriptionSessions.Dec()
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
