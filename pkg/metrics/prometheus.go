package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type promRecorder struct {
	lookups       *prometheus.CounterVec
	evictions     *prometheus.CounterVec
	memoryBytes   prometheus.Gauge
	memoryEntries prometheus.Gauge
	downloaded    prometheus.Counter
	tasks         *prometheus.CounterVec
	taskDuration  *prometheus.HistogramVec
	queueDepth    prometheus.Gauge
}

// NewPrometheus registers the imgload collectors with reg.
func NewPrometheus(reg prometheus.Registerer) Recorder {
	f := promauto.With(reg)
	return &promRecorder{
		lookups: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "imgload_cache_lookups_total",
				Help: "Cache lookups by tier and result",
			},
			[]string{"tier", "result"}, // result: "hit", "miss"
		),
		evictions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "imgload_cache_evictions_total",
				Help: "Entries evicted to stay within budget",
			},
			[]string{"tier"},
		),
		memoryBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "imgload_memory_cache_bytes",
			Help: "Bytes held by the memory tier",
		}),
		memoryEntries: f.NewGauge(prometheus.GaugeOpts{
			Name: "imgload_memory_cache_entries",
			Help: "Entries held by the memory tier",
		}),
		downloaded: f.NewCounter(prometheus.CounterOpts{
			Name: "imgload_download_bytes_total",
			Help: "Bytes received from remote sources",
		}),
		tasks: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "imgload_tasks_total",
				Help: "Finished load tasks by outcome",
			},
			[]string{"outcome"},
		),
		taskDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "imgload_task_duration_milliseconds",
				Help:    "Time from the load request to the task outcome",
				Buckets: []float64{1, 10, 50, 100, 500, 1000, 5000, 30000},
			},
			[]string{"outcome"},
		),
		queueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "imgload_queue_depth",
			Help: "Tasks waiting for a worker",
		}),
	}
}

func (m *promRecorder) CacheHit(tier string) {
	m.lookups.WithLabelValues(tier, "hit").Inc()
}

func (m *promRecorder) CacheMiss(tier string) {
	m.lookups.WithLabelValues(tier, "miss").Inc()
}

func (m *promRecorder) MemoryUsage(bytes int64, entries int) {
	m.memoryBytes.Set(float64(bytes))
	m.memoryEntries.Set(float64(entries))
}

func (m *promRecorder) Evicted(tier string) {
	m.evictions.WithLabelValues(tier).Inc()
}

func (m *promRecorder) DownloadBytes(n int64) {
	if n > 0 {
		m.downloaded.Add(float64(n))
	}
}

func (m *promRecorder) TaskFinished(outcome string, elapsed time.Duration) {
	m.tasks.WithLabelValues(outcome).Inc()
	m.taskDuration.WithLabelValues(outcome).Observe(elapsed.Seconds() * 1000)
}

func (m *promRecorder) QueueDepth(n int) {
	m.queueDepth.Set(float64(n))
}
