/*
Package objio is the object-store boundary of the catalog layer: whole
objects read and written by URI, nothing else. The versioned storage engine
never touches it; only metadata-file emission and snapshot materialization
do.

Two implementations ship with the repository. Memory backs tests and counts
its calls so dedup behavior can be asserted. Local maps a URI prefix onto a
directory for the admin CLI and development setups. Real object-store
clients plug in behind the same three-method interface.

# Integration Points

  - pkg/catalog: writes Iceberg metadata JSON, reads it back during
    snapshot materialization
  - cmd/tarn: serves a file-backed warehouse

# See Also

  - pkg/catalog for warehouse location validation built on IsValidURI
*/
package objio
