/*
Package types defines the core data structures used throughout tarn.

This package contains the fundamental types of the versioned catalog's
domain model: object IDs, hierarchical content keys, typed content
payloads, immutable commits, named references, the repository descriptor,
and the coded error shape every service surfaces. All other packages build
on these definitions for storage, version logic and the catalog layer.

# Architecture

The types package is the foundation of the object model. It defines:

  - Object identity (ID, Hash, Hasher for derived IDs)
  - Content keys (Key: namespace path + leaf name, with size limits)
  - Content payloads (Content: tables, views, namespaces, UDFs)
  - Version history (Commit, Operation, OperationKind)
  - Named pointers (Reference, RefKind, RepositoryDescriptor)
  - Failure taxonomy (Error, ErrorCode, Conflict, ConflictKind)

All types are designed to be:
  - Canonically serializable (fixed field order, see pkg/codec)
  - Immutable once stored (commits and contents never change)
  - Self-documenting (clear field names and comments)
  - Validated (Validate helpers, constants for enums)

# Core Types

Object identity:
  - ID: 32-byte SHA-256 content hash, lower-hex externally
  - Hash: ID from a domain tag plus canonical bytes
  - Hasher: derived IDs from ordered field values (snapshot IDs,
    reference slots) without serializing a whole object

Version history:
  - Commit: parents, generation number, operations, key-index root
  - Operation: Put (with payload), Delete, or Unchanged per key
  - Reference: branch (CAS-movable), tag, or detached hash

Failure taxonomy:
  - Error: {code, status, reason, message, conflicts}
  - ErrorCode: NOT_FOUND, REFERENCE_CONFLICT, CONTENT_CONFLICT,
    ALREADY_EXISTS, INVALID_ARGUMENT, UNAVAILABLE, INTERNAL,
    DEADLINE_EXCEEDED
  - Conflict: per-key violation; always aggregated, never first-only

# Usage

Building a commit operation:

	content := types.NewTableContent("", "s3://wh/db/t1/metadata/v1.json", 1, 0, 0, 1)
	op := types.Put(types.NewKey("db", "t1"), content)

Deriving a stable snapshot ID from content fields:

	id := types.NewHasher("ContentSnapshot").
		Str(content.MetadataLocation).
		Int64(content.SnapshotID).
		Generate()

Inspecting failures across wrapped chains:

	if types.IsReferenceConflict(err) {
		for _, c := range types.ConflictsOf(err) {
			fmt.Println(c.Key, c.Kind)
		}
	}

# Integration Points

  - pkg/codec: canonical byte encoding of every type defined here
  - pkg/storage: buckets addressed by ID
  - pkg/versioned: commit and merge semantics over these types
  - pkg/catalog: derived snapshot IDs via Hasher

# See Also

  - pkg/codec for the canonical serialization rules
  - pkg/storage for the adapter failure sentinels these errors wrap
*/
package types
