package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordJobTransition("transcode", "running")
		m.IncrementJobsActive()
		m.RecordPublishAttempt("published")
		m.IncrementPollErrors()
	})
}

func TestRecordJobTransition(t *testing.T) {
	m := NewWithRegistry(prometheus.NewRegistry())

	m.RecordJobTransition("transcode", "completed")
	m.RecordJobTransition("transcode", "completed")
	m.RecordJobTransition("thumbnail", "failed")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.jobTransitions.WithLabelValues("transcode", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobTransitions.WithLabelValues("thumbnail", "failed")))
}

func TestSetJobsByStatusReplacesCounts(t *testing.T) {
	m := NewWithRegistry(prometheus.NewRegistry())

	m.SetJobsByStatus(map[string]int{"queued": 3, "running": 1})
	m.SetJobsByStatus(map[string]int{"running": 2})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.jobsByStatus.WithLabelValues("running")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.jobsByStatus))
}
