/*
Package storage defines the typed-bucket adapter contract every tarn backend
implements, plus the two built-in adapters and a retry decorator.

The versioned store never talks to a database directly: it addresses
immutable objects by (repo, bucket, id) through the Adapter interface and
relies on the adapter's compare-and-swap for every reference mutation. That
keeps the engine free of in-process locks, because a lock held here would be
invisible to other processes sharing the same backend.

# Architecture

	┌───────────────────── STORAGE LAYER ─────────────────────┐
	│                                                         │
	│  ┌───────────────────────────────────────────┐          │
	│  │            Adapter interface              │          │
	│  │  Get / GetMany / Put / Delete             │          │
	│  │  CompareAndSwap (refs, repo_desc)         │          │
	│  │  Scan (commits only)                      │          │
	│  └─────────┬─────────────────┬───────────────┘          │
	│            │                 │                          │
	│  ┌─────────▼──────┐  ┌───────▼────────┐                 │
	│  │     Memory     │  │      Bolt      │                 │
	│  │  map + RWMutex │  │  bbolt, file   │                 │
	│  │  tests, embeds │  │  single-writer │                 │
	│  └────────────────┘  └────────────────┘                 │
	│            ▲                                            │
	│  ┌─────────┴─────────────────────────────────┐          │
	│  │         Retrying (decorator)              │          │
	│  │  capped exponential backoff + jitter      │          │
	│  │  on ErrUnavailable only                   │          │
	│  └───────────────────────────────────────────┘          │
	│                                                         │
	└─────────────────────────────────────────────────────────┘

# Bucket Structure

Six typed buckets partition one repository's objects:

	commits         immutable commit records, canonical bytes
	index_segments  key-index roots and segments (content-addressed)
	refs            named reference slots, CAS-updated
	ref_names       paginated name registry for listing
	repo_desc       repository descriptor singleton, CAS-updated
	attachments     content payloads and materialized snapshots

Commits, index segments and attachments are content-addressed: the id is
the hash of the stored bytes, so a Put of identical bytes is an idempotent
success and a Put of different bytes under the same id is corruption and
fails ErrAlreadyExists. Reference slots and the descriptor are the only
mutable cells, and they change exclusively through CompareAndSwap.

# Failure Contract

Adapters fail with exactly one of the sentinels:

	ErrNotFound       object absent
	ErrAlreadyExists  create hit an existing, different object
	ErrCasMismatch    CompareAndSwap lost the race
	ErrUnavailable    transient backend failure, retry may help
	ErrFatal          corruption or programmer error, do not retry

Callers match sentinels with errors.Is; the layers above translate them
into the coded errors of pkg/types at the service boundary.

# Usage

Open the embedded backend and wrap it with retries:

	inner, err := storage.NewBolt("/var/lib/tarn/tarn.db")
	if err != nil {
		return err
	}
	adapter := storage.NewRetrying(inner, storage.DefaultRetryConfig(), clock.NewClock())
	defer adapter.Close()

Atomically advance a reference:

	err = adapter.CompareAndSwap(ctx, repo, storage.BucketRefs, slot, oldBytes, newBytes)
	if errors.Is(err, storage.ErrCasMismatch) {
		// reload and retry, or surface a reference conflict
	}

# Performance

Bolt serializes writers per database file; reads run concurrently via MVCC.
GetMany batches all lookups of one call inside a single read transaction.
Scan walks ids in lexicographic order, which the commit-prefix resolution
in the CLI depends on. The Memory adapter copies bytes both ways, so
benchmarks reflect allocation behavior comparable to real backends.

# Integration Points

  - pkg/dag and pkg/index store commits and segments here
  - pkg/refs performs every head move through CompareAndSwap
  - pkg/tasks persists materialized snapshots into attachments
  - cmd/tarn opens Bolt directly for local administration

# See Also

  - pkg/codec for the canonical bytes stored in each bucket
  - bbolt: https://github.com/etcd-io/bbolt
*/
package storage
