/*
Package codec implements the canonical binary serialization that object
hashing depends on.

Canonical means deterministic: fixed field order, big-endian fixed-width
integers, length-prefixed strings, and maps emitted in sorted key order so
no Go map iteration order ever leaks into stored bytes. Every stream opens
with a one-byte object kind and a format version, which keeps different
object types from hashing alike and leaves room for layout evolution.

An object's ID is SHA-256 over a domain tag plus exactly these bytes, so
serialize-deserialize must be identity and two processes encoding the same
logical object must produce the same bytes. Decoders reject truncated
input, unknown kinds and trailing garbage.

The Writer / Reader primitives are also used by pkg/index and pkg/refs for
their segment encodings; this package itself only knows the types shared
across the whole store (commits, contents, references, the repository
descriptor).
*/
package codec
