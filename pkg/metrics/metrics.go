package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Commit metrics
	CommitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tarn_commits_total",
			Help: "Total number of commit attempts by result",
		},
		[]string{"result"},
	)

	CommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tarn_commit_duration_seconds",
			Help:    "End-to-end commit duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	CommitRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tarn_commit_cas_retries_total",
			Help: "Total number of commit restarts caused by reference CAS mismatches",
		},
	)

	MergesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tarn_merges_total",
			Help: "Total number of merge and transplant attempts by result",
		},
		[]string{"kind", "result"},
	)

	ConflictsDetected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tarn_conflicts_detected_total",
			Help: "Total number of per-key conflicts detected during commits and merges",
		},
	)

	// Key-index metrics
	IndexSegmentReads = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tarn_index_segment_reads_total",
			Help: "Total number of key-index segments loaded from storage",
		},
	)

	IndexSegmentWrites = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tarn_index_segment_writes_total",
			Help: "Total number of key-index segments written to storage",
		},
	)

	// Storage metrics
	StorageOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tarn_storage_op_duration_seconds",
			Help:    "Storage adapter operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	StorageRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tarn_storage_retries_total",
			Help: "Total number of retried storage calls after backend unavailability",
		},
	)

	// Task cache metrics
	TaskCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tarn_task_cache_hits_total",
			Help: "Total number of task-cache lookups answered without computing",
		},
	)

	TaskCacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tarn_task_cache_misses_total",
			Help: "Total number of task-cache lookups that started a computation",
		},
	)

	TaskCacheDeduped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tarn_task_cache_deduped_total",
			Help: "Total number of callers attached to an already-running task",
		},
	)

	TaskCacheRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tarn_task_cache_rejections_total",
			Help: "Total number of tasks rejected because the worker queue was full",
		},
	)

	TasksRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tarn_tasks_running",
			Help: "Number of task computations currently in flight",
		},
	)

	SnapshotMaterializeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tarn_snapshot_materialize_duration_seconds",
			Help:    "Time to materialize a derived snapshot from its metadata file",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(CommitsTotal)
	prometheus.MustRegister(CommitDuration)
	prometheus.MustRegister(CommitRetries)
	prometheus.MustRegister(MergesTotal)
	prometheus.MustRegister(ConflictsDetected)
	prometheus.MustRegister(IndexSegmentReads)
	prometheus.MustRegister(IndexSegmentWrites)
	prometheus.MustRegister(StorageOpDuration)
	prometheus.MustRegister(StorageRetries)
	prometheus.MustRegister(TaskCacheHits)
	prometheus.MustRegister(TaskCacheMisses)
	prometheus.MustRegister(TaskCacheDeduped)
	prometheus.MustRegister(TaskCacheRejections)
	prometheus.MustRegister(TasksRunning)
	prometheus.MustRegister(SnapshotMaterializeDuration)
}

// ObserveStorageOp records one storage adapter call.
func ObserveStorageOp(op string, seconds float64) {
	StorageOpDuration.WithLabelValues(op).Observe(seconds)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures a duration for histogram observation
type Timer struct {
	start time.Time
}

// NewTimer starts a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time on a histogram
func (t *Timer) ObserveDuration(obs prometheus.Observer) {
	obs.Observe(t.Duration().Seconds())
}

// ObserveDurationVec records the elapsed time on a labeled histogram
func (t *Timer) ObserveDurationVec(vec *prometheus.HistogramVec, labels ...string) {
	vec.WithLabelValues(labels...).Observe(t.Duration().Seconds())
}
