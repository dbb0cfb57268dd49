package metrics

import (
	"github.com/openpodcast/episode-ingest-worker/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Enabled lets the metrics sink be globally disabled (§2, Metrics sink).
// When false, every emitter below is a no-op.
var Enabled = true

type SemaphoreMetrics struct {
	InFlight   *prometheus.GaugeVec
	QueueDepth *prometheus.GaugeVec
	Success    *prometheus.CounterVec
	Failure    *prometheus.CounterVec
	LatencySum *prometheus.CounterVec
}

type IngestMetrics struct {
	Version prometheus.Counter

	JobsInFlight         prometheus.Gauge
	HTTPRequestsInFlight prometheus.Gauge

	StepSuccess        *prometheus.CounterVec
	StepFailure        *prometheus.CounterVec
	StepDurationMillis *prometheus.HistogramVec

	Semaphores SemaphoreMetrics

	ProtectionActive prometheus.Gauge
	ProtectionRenews prometheus.Counter

	IntegrityScanErrors   prometheus.Counter
	IntegrityScanWarnings prometheus.Counter
	IntegrityScanTotal    prometheus.Counter
	IntegrityScanFailed   prometheus.Gauge
}

func NewMetrics() *IngestMetrics {
	m := &IngestMetrics{
		Version: promauto.NewCounter(prometheus.CounterOpts{
			Name: "version",
			Help: "Incremented once on app startup to identify the running build.",
		}),
		JobsInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "jobs_in_flight",
			Help: "Number of pipeline jobs currently being processed.",
		}),
		HTTPRequestsInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being served.",
		}),
		StepSuccess: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "step_success_total",
			Help: "Count of successful withStep-wrapped operations.",
		}, []string{"step"}),
		StepFailure: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "step_failure_total",
			Help: "Count of failed withStep-wrapped operations.",
		}, []string{"step", "error_name"}),
		StepDurationMillis: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "step_duration_milliseconds",
			Help:    "Wall time of withStep-wrapped operations.",
			Buckets: []float64{10, 50, 100, 500, 1000, 5000, 15000, 60000, 300000, 900000},
		}, []string{"step"}),
		Semaphores: SemaphoreMetrics{
			InFlight: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "semaphore_in_flight",
				Help: "Number of goroutines currently holding a semaphore permit.",
			}, []string{"label"}),
			QueueDepth: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "semaphore_queue_depth",
				Help: "Number of goroutines waiting for a semaphore permit.",
			}, []string{"label"}),
			Success: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "semaphore_success_total",
				Help: "Count of semaphore-wrapped operations that completed without error.",
			}, []string{"label"}),
			Failure: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "semaphore_failure_total",
				Help: "Count of semaphore-wrapped operations that returned an error.",
			}, []string{"label"}),
			LatencySum: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "semaphore_latency_seconds_total",
				Help: "Cumulative wall time spent inside semaphore-wrapped operations.",
			}, []string{"label"}),
		},
		ProtectionActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "platform_protection_active",
			Help: "1 when this instance currently holds scale-in protection.",
		}),
		ProtectionRenews: promauto.NewCounter(prometheus.CounterOpts{
			Name: "platform_protection_renewals_total",
			Help: "Count of successful scale-in protection renewals.",
		}),
		IntegrityScanErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "integrity_scan_errors_total",
			Help: "Count of hard integrity violations found by the validator.",
		}),
		IntegrityScanWarnings: promauto.NewCounter(prometheus.CounterOpts{
			Name: "integrity_scan_warnings_total",
			Help: "Count of soft integrity warnings found by the validator.",
		}),
		IntegrityScanTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "integrity_scan_total",
			Help: "Count of episodes audited by the validator.",
		}),
		IntegrityScanFailed: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "integrity_scan_failed",
			Help: "1 if the most recent batch validator run found any errors, else 0.",
		}),
	}

	m.Version.Inc()
	return m
}

var Metrics = NewMetrics()

func StepSuccess(step string) {
	if !Enabled {
		return
	}
	Metrics.StepSuccess.WithLabelValues(step).Inc()
}

func StepFailure(step, errorName string) {
	if !Enabled {
		return
	}
	Metrics.StepFailure.WithLabelValues(step, errorName).Inc()
}

func StepDuration(step string, seconds float64) {
	if !Enabled {
		return
	}
	Metrics.StepDurationMillis.WithLabelValues(step).Observe(seconds * 1000)
}
