/*
Package dag writes and walks the immutable commit graph: append-only commit
records, the content blobs they seal and the key indexes that make each
commit's state readable without replaying history.

Everything here is content-addressed. A commit id is the hash of the
commit's canonical bytes, so identical writes collapse into one object and a
write can be retried blindly. Records are stored children-last (payloads,
then index segments, then the commit), which means any commit that can be
fetched is complete; there is no partially visible state to repair.

# Architecture

	┌─────────────────────── COMMIT DAG ───────────────────────┐
	│                                                          │
	│   Write ──► seal puts ──► fold index ──► store commit    │
	│               │                │              │          │
	│          attachments     index_segments    commits       │
	│                                                          │
	│   Fetch / FetchMany ◄── LRU (commits, contents)          │
	│   Log / ValueAt / EntriesAt / DiffCommits                │
	│   MergeBase: Seq-guided frontier walk                    │
	│                                                          │
	└──────────────────────────────────────────────────────────┘

Seq is the generation number of a commit: zero at a root, one above the
highest parent elsewhere. MergeBase leans on it to pop frontier nodes
highest-first, which bounds the ancestor walk to commits newer than the
answer instead of the whole history.

# Integration Points

  - pkg/storage: commits, attachments and index_segments buckets
  - pkg/index: per-commit key index maintenance
  - pkg/codec: canonical commit and content bytes
  - pkg/refs, pkg/versioned: reference heads point at commit ids written here

# See Also

  - pkg/versioned for the commit retry loop built on top of Write
*/
package dag
