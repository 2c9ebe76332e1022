/*
Package metrics provides Prometheus metrics collection and exposition for tarn.

The metrics package defines and registers all tarn metrics using the
Prometheus client library, providing observability into commit throughput,
conflict rates, key-index traffic, storage latency and task-cache behavior.
Metrics are registered on the default registry at package init; embedders
expose them by mounting Handler() wherever they serve HTTP.

# Metric Groups

Commit path:
  - tarn_commits_total{result}: success / conflict / error outcomes
  - tarn_commit_duration_seconds: end-to-end commit latency
  - tarn_commit_cas_retries_total: restarts after reference CAS mismatches
  - tarn_merges_total{kind,result}: merge and transplant outcomes
  - tarn_conflicts_detected_total: per-key conflicts found

Key index:
  - tarn_index_segment_reads_total / tarn_index_segment_writes_total

Storage adapter:
  - tarn_storage_op_duration_seconds{op}: per-operation latency
  - tarn_storage_retries_total: retries after backend unavailability

Task cache:
  - tarn_task_cache_hits_total / misses / deduped / rejections
  - tarn_tasks_running: computations in flight
  - tarn_snapshot_materialize_duration_seconds

# Usage

Record a duration with a Timer:

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.CommitDuration)

Expose metrics from an embedding process:

	http.Handle("/metrics", metrics.Handler())

# See Also

  - Prometheus client: https://github.com/prometheus/client_golang
  - Naming practices: https://prometheus.io/docs/practices/naming/
*/
package metrics
