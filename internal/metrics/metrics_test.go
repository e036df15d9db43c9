package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordIterationCountsSuccessAndFailure(t *testing.T) {
	m := New()
	m.RecordIteration(time.Millisecond, false)
	m.RecordIteration(time.Millisecond, true)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.IterationsTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.IterationsFailed))
}

func TestSetFanInQueueDepthPerSource(t *testing.T) {
	m := New()
	m.SetFanInQueueDepth("sensor-a", 3)
	assert.Equal(t, float64(3), testutil.ToFloat64(m.FanInQueueDepth.WithLabelValues("sensor-a")))
}

func TestRecordOutputSendFailure(t *testing.T) {
	m := New()
	m.RecordOutputSendFailure("downstream-1")
	m.RecordOutputSendFailure("downstream-1")
	assert.Equal(t, float64(2), testutil.ToFloat64(m.OutputSendFailures.WithLabelValues("downstream-1")))
}
