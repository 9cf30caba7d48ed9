package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsRegistersAllCollectors(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	m.RecordOperation("submit", "success")
	m.RecordChunkOutcome("COMPLETED")
	m.RecordDispatchThrottled(true)
	m.RecordArchiveAppendLatency(0.01)
	m.RecordAuditAppendFailure()

	assert.Equal(t, float64(1), testutil.ToFloat64(m.operationsTotal.WithLabelValues("submit", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.chunkOutcomesTotal.WithLabelValues("COMPLETED")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.dispatchThrottled))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.auditAppendFailures))
}

func TestNewMetricsFailsOnDuplicateRegistration(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	_, err := NewMetrics(reg)
	require.NoError(t, err)

	_, err = NewMetrics(reg)
	assert.Error(t, err)
}

func TestTestRecorderTracksDispatchTransitions(t *testing.T) {
	t.Parallel()
	r := NewTestRecorder()
	r.RecordDispatchThrottled(true)
	r.RecordDispatchThrottled(true)
	r.RecordDispatchThrottled(false)

	throttled, resumed := r.GetThrottledResumedCounts()
	assert.Equal(t, 2, throttled)
	assert.Equal(t, 1, resumed)
}

func TestTimerRecordsElapsedDuration(t *testing.T) {
	t.Parallel()
	r := NewTestRecorder()
	stop := Timer(r, "chunk_process")
	stop()

	durations := r.GetDurations("chunk_process")
	require.Len(t, durations, 1)
	assert.GreaterOrEqual(t, durations[0], 0.0)
}
