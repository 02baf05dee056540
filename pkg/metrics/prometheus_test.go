package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewPrometheus(reg).(*promRecorder)

	r.CacheHit(TierMemory)
	r.CacheHit(TierMemory)
	r.CacheMiss(TierDisk)
	r.DownloadBytes(1024)
	r.DownloadBytes(0)
	r.MemoryUsage(2048, 3)
	r.TaskFinished(OutcomeDelivered, 20*time.Millisecond)
	r.QueueDepth(4)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.lookups.WithLabelValues(TierMemory, "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.lookups.WithLabelValues(TierDisk, "miss")))
	assert.Equal(t, 1024.0, testutil.ToFloat64(r.downloaded))
	assert.Equal(t, 2048.0, testutil.ToFloat64(r.memoryBytes))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.memoryEntries))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.tasks.WithLabelValues(OutcomeDelivered)))
	assert.Equal(t, 4.0, testutil.ToFloat64(r.queueDepth))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
	for _, mf := range families {
		if mf.GetName() == "imgload_task_duration_milliseconds" {
			assert.Equal(t, "Time from the load request to the task outcome", mf.GetHelp())
			assert.Equal(t, uint64(1), mf.GetMetric()[0].GetHistogram().GetSampleCount())
		}
	}
}

func TestOrNop(t *testing.T) {
	assert.Equal(t, Nop{}, OrNop(nil))
	reg := prometheus.NewRegistry()
	r := NewPrometheus(reg)
	assert.Same(t, r, OrNop(r))
}
