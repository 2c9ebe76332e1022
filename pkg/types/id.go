package types

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
)

// IDLen is the size of an object ID in bytes.
const IDLen = 32

// ID is a 256-bit content hash addressing an immutable object. The zero
// value means "no object" and is never a valid address.
type ID [IDLen]byte

// Hash computes the ID of an object from its domain tag and canonical
// serialized bytes.
func Hash(domainTag string, canonical []byte) ID {
	h := sha256.New()
	h.Write([]byte(domainTag))
	h.Write(canonical)
	var id ID
	copy(id[:], h.Sum(nil))
	return id
}

// IDFromBytes converts a raw 32-byte slice into an ID.
func IDFromBytes(b []byte) (ID, error) {
	var id ID
	if len(b) != IDLen {
		return id, fmt.Errorf("invalid id length %d, want %d", len(b), IDLen)
	}
	copy(id[:], b)
	return id, nil
}

// ParseID parses a lower-case hex string into an ID.
func ParseID(s string) (ID, error) {
	var id ID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("invalid id %q: %w", s, err)
	}
	return IDFromBytes(b)
}

// String returns the lower-case hex form used in external APIs.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether the ID is the zero value.
func (id ID) IsZero() bool {
	return id == ID{}
}

// Compare orders IDs lexicographically on their raw bytes.
func (id ID) Compare(other ID) int {
	for i := 0; i < IDLen; i++ {
		if id[i] != other[i] {
			if id[i] < other[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// Hasher derives stable IDs from a domain tag and an ordered sequence of
// typed fields. Every field is length-delimited or fixed-width, so two
// different field sequences can never produce the same input stream.
type Hasher struct {
	h hash.Hash
}

// NewHasher starts a derived-ID computation for the given domain tag.
func NewHasher(domainTag string) *Hasher {
	h := &Hasher{h: sha256.New()}
	h.writeLen(len(domainTag))
	h.h.Write([]byte(domainTag))
	return h
}

// Str mixes a string field into the hash.
func (h *Hasher) Str(s string) *Hasher {
	h.writeLen(len(s))
	h.h.Write([]byte(s))
	return h
}

// Int64 mixes a 64-bit integer field into the hash.
func (h *Hasher) Int64(v int64) *Hasher {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))
	h.h.Write(buf[:])
	return h
}

// Bytes mixes a raw byte field into the hash.
func (h *Hasher) Bytes(b []byte) *Hasher {
	h.writeLen(len(b))
	h.h.Write(b)
	return h
}

// Generate finishes the computation and returns the derived ID.
func (h *Hasher) Generate() ID {
	var id ID
	copy(id[:], h.h.Sum(nil))
	return id
}

func (h *Hasher) writeLen(n int) {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(n))
	h.h.Write(buf[:])
}
