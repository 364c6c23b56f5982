package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics exported by apollod.
type Metrics struct {
	RegionExecutionsTotal  *prometheus.CounterVec
	RegionActiveCount      *prometheus.GaugeVec
	MeasurementDuration    *prometheus.HistogramVec
	ModelSwapsTotal        *prometheus.CounterVec
	ReductionDuration      prometheus.Histogram
	ReductionFailuresTotal prometheus.Counter
	IngestFailuresTotal    *prometheus.CounterVec
	TelemetryUnavailable   prometheus.Counter
}

// NewMetrics creates and registers every Prometheus collector.
func NewMetrics() *Metrics {
	return &Metrics{
		RegionExecutionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apollo_region_executions_total",
				Help: "Total number of region End() calls, by region and policy",
			},
			[]string{"region", "policy"},
		),

		RegionActiveCount: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "apollo_region_active",
				Help: "1 if the region is currently between Begin() and End(), else 0",
			},
			[]string{"region"},
		),

		MeasurementDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "apollo_measurement_duration_seconds",
				Help:    "Observed duration of one region iteration",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"region", "policy"},
		),

		ModelSwapsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apollo_model_swaps_total",
				Help: "Total number of successful model-package attachments, by region and model kind",
			},
			[]string{"region", "kind"},
		),

		ReductionDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "apollo_reduction_duration_seconds",
				Help:    "Duration of a full local+collective best-policy flush",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
		),

		ReductionFailuresTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "apollo_reduction_failures_total",
				Help: "Total number of failed collective flushes",
			},
		),

		IngestFailuresTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apollo_ingest_failures_total",
				Help: "Total number of model-package dispatch failures, by reason",
			},
			[]string{"reason"},
		),

		TelemetryUnavailable: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "apollo_telemetry_daemon_unavailable_total",
				Help: "Total number of flush cycles that found the telemetry daemon unavailable, including when none is configured",
			},
		),
	}
}

func (m *Metrics) RecordRegionExecution(region, policy string) {
	m.RegionExecutionsTotal.WithLabelValues(region, policy).Inc()
}

func (m *Metrics) SetRegionActive(region string, active bool) {
	v := 0.0
	if active {
		v = 1.0
	}
	m.RegionActiveCount.WithLabelValues(region).Set(v)
}

func (m *Metrics) ObserveMeasurement(region, policy string, seconds float64) {
	m.MeasurementDuration.WithLabelValues(region, policy).Observe(seconds)
}

func (m *Metrics) RecordModelSwap(region, kind string) {
	m.ModelSwapsTotal.WithLabelValues(region, kind).Inc()
}

func (m *Metrics) ObserveReduction(seconds float64) {
	m.ReductionDuration.Observe(seconds)
}

func (m *Metrics) RecordReductionFailure() {
	m.ReductionFailuresTotal.Inc()
}

func (m *Metrics) RecordIngestFailure(reason string) {
	m.IngestFailuresTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordTelemetryUnavailable() {
	m.TelemetryUnavailable.Inc()
}
