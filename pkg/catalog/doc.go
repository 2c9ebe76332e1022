/*
Package catalog is the Iceberg-aware layer over the versioned store: it
turns update-and-requirement batches into metadata files plus a single
guarded commit, and turns stored contents back into downloadable
metadata documents.

A catalog commit reads every targeted key at one resolved head, replays
each operation's updates against the metadata behind its current
content, writes the resulting metadata files to the object store and
lands all keys in one versioned commit. The head it read guards the
commit, so a branch that moved in the meantime surfaces as a reference
conflict instead of a lost update.

# Architecture

	┌──────────────────────── CATALOG COMMIT ────────────────────────┐
	│                                                                │
	│  GetContents @ head ──► per key: requirements ► updates        │
	│         │                        │                             │
	│         │                 TableState / ViewState               │
	│         │                        │                             │
	│         │                 ObjectIO.Write(metadata.json)        │
	│         │                        │                             │
	│         └────► versioned.Commit(ExpectedHead=head, Put × n)    │
	│                                  │                             │
	│                       warm task cache ► responses              │
	│                                                                │
	└────────────────────────────────────────────────────────────────┘

Retrieval is the inverse: contents resolve to deterministic snapshot
ids, the task cache materializes each metadata file at most once across
concurrent callers, and the bytes are wrapped either as the bare
Iceberg file or as the native reference-and-snapshot document. Both
shapes carry pass-through properties naming the content, snapshot and
commit they came from.

Operations that leave their entity unchanged are skipped; a commit in
which every operation reduces to its current state mints no commit at
all and reports the head it read.

# Integration Points

  - pkg/versioned: consistent multi-key reads and the guarded commit
  - pkg/iceberg: the metadata state machines updates replay against
  - pkg/objio: metadata file reads and writes under the warehouse root
  - pkg/tasks: deduplicated, cached snapshot materialization

# See Also

  - pkg/iceberg for update and requirement semantics
  - pkg/tasks for the materialization cache
*/
package catalog
