package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	m := New()

	m.CycleFinished(10 * time.Millisecond)
	m.CycleFinished(20 * time.Millisecond)
	m.CycleSkipped()
	m.TickError("CONNECTION_FATAL")
	m.JobStarted("Saving entity")
	m.JobFinished("Saving entity", false, time.Second)
	m.SetOpenWindows(2)
	m.SetConnections(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.tickCycles))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tickSkipped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tickErrors.WithLabelValues("CONNECTION_FATAL")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsFinished.WithLabelValues("Saving entity", "error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.openWindows))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.connections))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.CycleFinished(time.Second)
		m.CycleSkipped()
		m.TickError("x")
		m.JobStarted("x")
		m.JobFinished("x", true, time.Second)
		m.SetOpenWindows(1)
		m.SetConnections(1)
	})
}
