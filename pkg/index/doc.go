/*
Package index maintains the paginated key index reachable from each commit:
the mapping from a content key to its content id, type and payload address,
materialized so that reads never replay the commit log.

Every index object is content-addressed and immutable. A commit's index root
either embeds the whole entry list (small repositories, one get per lookup)
or points at a sorted list of stripes, each covering a key range and naming
one stored segment. Commits that change three keys rewrite the root and the
touched segments only; every other segment is shared byte-for-byte with the
parent commit.

# Architecture

	┌────────────────────── KEY INDEX ──────────────────────┐
	│                                                       │
	│   root (embedded)          root (striped)             │
	│   ┌──────────────┐         ┌─────────────────────┐    │
	│   │ e1 e2 e3 ... │         │ [a..f]→S1 [g..p]→S2 │    │
	│   └──────────────┘         │ [q..z]→S3           │    │
	│                            └───┬───────┬─────┬───┘    │
	│                                │       │     │        │
	│                             ┌──▼─┐  ┌──▼─┐ ┌─▼──┐     │
	│                             │ S1 │  │ S2 │ │ S3 │     │
	│                             └────┘  └────┘ └────┘     │
	│                                                       │
	│   segments split at 64 KiB, shared across commits     │
	└───────────────────────────────────────────────────────┘

# Operations

Apply folds a commit's operations into a parent root and returns the child
root id, rewriting only the stripes the operations touch. Lookup resolves
one key in at most two gets. Scan streams a key-ordered, prefix-filtered
page with a resumable cursor that stays stable for one immutable root. Diff
walks two roots in key order and skips stripe pairs whose segment ids match,
which makes the cost proportional to what actually changed.

# Integration Points

  - pkg/storage: all objects live in the index_segments bucket
  - pkg/codec: segment and root layouts use the canonical writer
  - pkg/dag: commit writing stores segments before the commit itself
  - pkg/metrics: segment reads and writes are counted

# See Also

  - pkg/dag for commit construction around Apply
  - pkg/versioned for the key semantics carried by entries
*/
package index
