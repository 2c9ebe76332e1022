/*
Package iceberg models Apache Iceberg table and view metadata and applies
commit update batches to it.

A commit against a table or view arrives as requirements plus updates, the
same shape the Iceberg REST protocol uses. Requirements assert what the
client believed the state to be when it read; updates describe the new
state. The state machines here replay both against the stored metadata and
report whether anything actually changed, so a replayed commit produces no
new version.

# Architecture

	┌──────────────── METADATA STATE MACHINE ────────────────┐
	│                                                        │
	│   prior metadata ──► NewTableState / NewViewState      │
	│                            │                           │
	│               CheckRequirements(asserts)               │
	│                            │                           │
	│                 ApplyUpdates(batch)                    │
	│                    │            │                      │
	│               Changed()     Metadata()                 │
	│                                                        │
	└────────────────────────────────────────────────────────┘

Adding an already-present schema, spec, sort order or view version reuses
the existing id instead of growing the list. Id -1 in a set-current or
set-default update selects whatever the same batch added last.

Schemas reuse the Apache iceberg-go schema type directly, so field types
and JSON encoding stay interoperable with standard Iceberg tooling.

# Integration Points

  - pkg/catalog: drives the state machines during multi-table commits
  - pkg/objio: stores the metadata files this package encodes

# See Also

  - pkg/catalog for how rejected updates and failed requirements map to
    API error codes
*/
package iceberg
