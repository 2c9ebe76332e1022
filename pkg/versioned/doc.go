/*
Package versioned is the transactional surface of the catalog engine:
commits with per-key requirements, three-way merges, transplants and
read-consistent lookups, all scoped to one repository.

The store holds no locks. Every mutation loads a branch head, builds the
commit it wants and advances the head with a storage compare-and-swap;
losing the swap restarts the attempt with a fresh head, a bounded number of
times. Losing attempts leave only content-addressed objects behind, which
are inert until something references them.

# Architecture

	┌───────────────────────── VERSIONED STORE ─────────────────────────┐
	│                                                                   │
	│   Commit ───► requirements @ head ──► dag.Write ──► CAS head      │
	│                    │                                   │          │
	│               Conflict{key,kind}            retry on lost swap    │
	│                                                                   │
	│   Merge ────► LCA ──► changes(L→S) × changes(L→T) ──► strategy    │
	│   Transplant ► per-step value checks, one CAS for the chain       │
	│                                                                   │
	│   Resolve("name" | "name@hash" | hash) ──► one commit per read    │
	│                                                                   │
	└───────────────────────────────────────────────────────────────────┘

A requirement violation or an explicit expected-head mismatch is never
retried: the caller's picture of the branch is stale and only the caller
can refresh it. Only a lost swap, where nothing about the request itself is
wrong, restarts the loop.

# Usage

	store, err := versioned.NewStore(adapter, "prod", versioned.Config{})
	if err != nil {
	    ...
	}
	if _, err := store.Initialize(ctx, nil); err != nil {
	    ...
	}
	result, err := store.Commit(ctx, versioned.CommitParams{
	    Branch:  "main",
	    Author:  "etl@example.com",
	    Message: "create sales.orders",
	    Operations: []types.Operation{
	        types.Put(types.NewKey("sales", "orders"), content),
	    },
	    Requirements: map[string]versioned.Requirement{
	        "sales.orders": {Kind: versioned.MustNotExist},
	    },
	})

# Integration Points

  - pkg/dag: commit construction, history walks, merge-base computation
  - pkg/refs: named heads, the only mutable state in the system
  - pkg/storage: descriptor singleton and commit-prefix scans
  - pkg/events: one event per successful mutation
  - pkg/catalog: drives Commit with Iceberg-derived operations

# See Also

  - pkg/catalog for the Iceberg-aware layer on top of this package
*/
package versioned
