package types

import (
	"fmt"
	"strings"
)

// Key size limits enforced before a key reaches storage.
const (
	MaxKeyElements   = 20
	MaxKeyElementLen = 100
	MaxKeyTotalLen   = 500
)

// Key is the ordered, case-sensitive path of a catalog entity: namespace
// elements followed by a leaf name.
type Key []string

// NewKey builds a key from path elements.
func NewKey(elements ...string) Key {
	return Key(elements)
}

// ParseKey splits a dotted key string into its elements.
func ParseKey(s string) (Key, error) {
	if s == "" {
		return nil, fmt.Errorf("empty key")
	}
	k := Key(strings.Split(s, "."))
	if err := k.Validate(); err != nil {
		return nil, err
	}
	return k, nil
}

// String renders the canonical dotted form.
func (k Key) String() string {
	return strings.Join(k, ".")
}

// Elements returns the raw path elements.
func (k Key) Elements() []string {
	return k
}

// Name returns the leaf element, or "" for an empty key.
func (k Key) Name() string {
	if len(k) == 0 {
		return ""
	}
	return k[len(k)-1]
}

// Namespace returns everything but the leaf element.
func (k Key) Namespace() Key {
	if len(k) <= 1 {
		return nil
	}
	return k[:len(k)-1]
}

// Equal reports element-wise equality.
func (k Key) Equal(other Key) bool {
	return k.Compare(other) == 0
}

// Compare orders keys element-wise, shorter-prefix first.
func (k Key) Compare(other Key) int {
	for i := 0; i < len(k) && i < len(other); i++ {
		if c := strings.Compare(k[i], other[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(k) < len(other):
		return -1
	case len(k) > len(other):
		return 1
	default:
		return 0
	}
}

// HasPrefix reports whether the key starts with all elements of prefix.
func (k Key) HasPrefix(prefix Key) bool {
	if len(prefix) > len(k) {
		return false
	}
	for i, e := range prefix {
		if k[i] != e {
			return false
		}
	}
	return true
}

// Validate checks the key against the size and character limits.
func (k Key) Validate() error {
	if len(k) == 0 {
		return fmt.Errorf("key must have at least one element")
	}
	if len(k) > MaxKeyElements {
		return fmt.Errorf("key has %d elements, max %d", len(k), MaxKeyElements)
	}
	total := 0
	for i, e := range k {
		if e == "" {
			return fmt.Errorf("key element %d is empty", i)
		}
		if len(e) > MaxKeyElementLen {
			return fmt.Errorf("key element %d is %d bytes, max %d", i, len(e), MaxKeyElementLen)
		}
		total += len(e)
		for _, r := range e {
			if r < 0x20 || r == 0x7f {
				return fmt.Errorf("key element %d contains control character %q", i, r)
			}
		}
	}
	if total > MaxKeyTotalLen {
		return fmt.Errorf("key is %d bytes, max %d", total, MaxKeyTotalLen)
	}
	return nil
}
