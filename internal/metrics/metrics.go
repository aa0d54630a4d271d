// Package metrics exposes indexing counters for Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the indexing metrics. A nil *Metrics records nothing.
type Metrics struct {
	OutcomesTotal      *prometheus.CounterVec
	DegradedPartsTotal prometheus.Counter
	BytesRead          prometheus.Counter
	PrepareDuration    prometheus.Histogram
	AdmitDuration      prometheus.Histogram
}

// New creates the metrics and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		OutcomesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailidx_records_total",
				Help: "Total number of source records by outcome",
			},
			[]string{"status"},
		),

		DegradedPartsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mailidx_degraded_parts_total",
				Help: "Total number of stored parts marked degraded",
			},
		),

		BytesRead: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mailidx_source_bytes_total",
				Help: "Total number of raw message bytes read from the store",
			},
		),

		PrepareDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mailidx_prepare_duration_seconds",
				Help:    "Time spent parsing, normalizing and tokenizing one message",
				Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
			},
		),

		AdmitDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mailidx_admit_duration_seconds",
				Help:    "Time spent in one admission transaction",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
}

// RecordOutcome counts one record outcome.
func (m *Metrics) RecordOutcome(status string, degradedParts int) {
	if m == nil {
		return
	}
	m.OutcomesTotal.WithLabelValues(status).Inc()
	m.DegradedPartsTotal.Add(float64(degradedParts))
}

// RecordRead counts raw bytes read.
func (m *Metrics) RecordRead(n int) {
	if m == nil {
		return
	}
	m.BytesRead.Add(float64(n))
}

// ObservePrepare records the preparation time of one message.
func (m *Metrics) ObservePrepare(d time.Duration) {
	if m == nil {
		return
	}
	m.PrepareDuration.Observe(d.Seconds())
}

// ObserveAdmit records the duration of one admission.
func (m *Metrics) ObserveAdmit(d time.Duration) {
	if m == nil {
		return
	}
	m.AdmitDuration.Observe(d.Seconds())
}
