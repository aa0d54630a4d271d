package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRecordOutcome tests outcome and degraded counters
func TestRecordOutcome(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordOutcome("admitted", 2)
	m.RecordOutcome("admitted", 0)
	m.RecordOutcome("unreadable", 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.OutcomesTotal.WithLabelValues("admitted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OutcomesTotal.WithLabelValues("unreadable")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.DegradedPartsTotal))
}

// TestObserve tests that durations and bytes are collected
func TestObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordRead(512)
	m.ObservePrepare(3 * time.Millisecond)
	m.ObserveAdmit(time.Millisecond)

	assert.Equal(t, 512.0, testutil.ToFloat64(m.BytesRead))

	count, err := testutil.GatherAndCount(reg, "mailidx_prepare_duration_seconds", "mailidx_admit_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

// TestNilMetrics tests that a nil collector is a no-op
func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordOutcome("admitted", 1)
		m.RecordRead(1)
		m.ObservePrepare(time.Second)
		m.ObserveAdmit(time.Second)
	})
}

// TestNew_DuplicateRegistration tests that registering twice on one registry panics
func TestNew_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
