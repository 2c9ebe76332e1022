/*
Package tasks deduplicates expensive derived computations behind a keyed
cache with a bounded worker pool.

A task id is the hash of everything that determines the result, so two
callers asking for the same materialization attach to one computation
instead of racing it. Results outlive the waiters: a computation runs on
the cache's own context, and a caller whose deadline expires simply
detaches while the work completes for everyone else.

# Architecture

	┌───────────────────── TASK CACHE ─────────────────────┐
	│                                                      │
	│   Get(id) ──► running? ──► attach (dedup)            │
	│                 │                                    │
	│              done LRU? ──► fresh? ──► hit            │
	│                 │                                    │
	│              admit ──► bounded queue ──► workers     │
	│                            │ full           │        │
	│                         ErrBusy      persisted value │
	│                                       or compute     │
	│                                                      │
	│   janitor: TTL sweep (success 1h, failure 30s)       │
	│                                                      │
	└──────────────────────────────────────────────────────┘

Successful values are written to the task_results bucket best-effort and
asynchronously; workers consult it before computing, so a restarted
process or another node sharing the backend reuses prior work. Failures
are replayed to callers for a short backoff window, then the task may be
attempted again.

# Integration Points

  - pkg/storage: task_results bucket for persisted values
  - pkg/catalog: snapshot materialization runs through this cache
  - pkg/metrics: hit, miss, dedup and rejection counters

# See Also

  - pkg/catalog for how ErrBusy surfaces as a retryable unavailable error
*/
package tasks
