/*
Package refs manages the mutable edge of the repository: named branch and
tag references pointing at immutable commits.

Reference slots are the only objects in the store that change in place.
Every mutation is a compare-and-swap against the exact bytes the caller read,
which makes the backend the single coordinator for concurrent writers; there
are no in-process locks to hold and nothing to leak across processes. A
loser of the race sees storage.ErrCasMismatch and decides whether to reload
and try again.

Listing is served by a small name registry: numbered segments of sorted
names under a counting root, updated best-effort after create and delete.
The registry is allowed to lag; List re-verifies every candidate against the
refs bucket and drops names that no longer resolve. The refs bucket is
authoritative, always.

Tags are immutable pointers by default; Update on a tag fails unless the
manager was configured with AllowTagReassign.

# See Also

  - pkg/versioned for the commit retry loop driving Update
  - pkg/storage for the compare-and-swap contract
*/
package refs
