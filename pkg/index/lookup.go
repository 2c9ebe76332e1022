package index

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/tarnlabs/tarn/pkg/types"
)

// Lookup resolves a single key under the given root. A zero root or an
// absent key yields (nil, nil). The cost is one get for embedded roots and
// two for striped ones.
func (ix *Index) Lookup(ctx context.Context, rootID types.ID, key types.Key) (*Entry, error) {
	if rootID.IsZero() {
		return nil, nil
	}
	rt, err := ix.loadRoot(ctx, rootID)
	if err != nil {
		return nil, err
	}
	if rt.embedded {
		return findEntry(rt.entries, key), nil
	}
	i := routeStripe(rt.stripes, key)
	st := rt.stripes[i]
	if key.Compare(st.First) < 0 || key.Compare(st.Last) > 0 {
		return nil, nil
	}
	entries, err := ix.loadSegment(ctx, st.Segment)
	if err != nil {
		return nil, err
	}
	return findEntry(entries, key), nil
}

// Cursor resumes a Scan. It addresses a position inside one immutable root
// and is meaningless against any other root.
type Cursor struct {
	Stripe int
	Offset int
}

// Token renders the cursor as an opaque paging token.
func (c Cursor) Token() string {
	return strconv.Itoa(c.Stripe) + ":" + strconv.Itoa(c.Offset)
}

// ParseCursor parses a token produced by Token.
func ParseCursor(tok string) (Cursor, error) {
	s, o, ok := strings.Cut(tok, ":")
	if !ok {
		return Cursor{}, fmt.Errorf("malformed paging token %q", tok)
	}
	si, err := strconv.Atoi(s)
	if err != nil || si < 0 {
		return Cursor{}, fmt.Errorf("malformed paging token %q", tok)
	}
	off, err := strconv.Atoi(o)
	if err != nil || off < 0 {
		return Cursor{}, fmt.Errorf("malformed paging token %q", tok)
	}
	return Cursor{Stripe: si, Offset: off}, nil
}

// Scan streams entries under root in key order, filtered to keys having
// prefix (an empty prefix matches everything), starting at cursor when one
// is given. It returns at most limit entries and a cursor for the next page;
// a nil next cursor means the scan is exhausted. Segments whose range cannot
// contain the prefix are never loaded.
func (ix *Index) Scan(ctx context.Context, rootID types.ID, prefix types.Key, cursor *Cursor, limit int) ([]Entry, *Cursor, error) {
	if limit <= 0 {
		limit = DefaultScanLimit
	}
	if rootID.IsZero() {
		return nil, nil, nil
	}
	rt, err := ix.loadRoot(ctx, rootID)
	if err != nil {
		return nil, nil, err
	}

	si, off := 0, 0
	if cursor != nil {
		si, off = cursor.Stripe, cursor.Offset
	}

	var out []Entry
	scan := func(stripe int, entries []Entry, from int) (bool, *Cursor) {
		for i := from; i < len(entries); i++ {
			e := entries[i]
			if len(prefix) > 0 && !e.Key.HasPrefix(prefix) {
				if e.Key.Compare(prefix) > 0 {
					return true, nil // past the prefix run
				}
				continue
			}
			if len(out) == limit {
				return true, &Cursor{Stripe: stripe, Offset: i}
			}
			out = append(out, e)
		}
		return false, nil
	}

	if rt.embedded {
		if si > 0 {
			return nil, nil, nil
		}
		_, next := scan(0, rt.entries, off)
		return out, next, nil
	}

	for ; si < len(rt.stripes); si++ {
		st := rt.stripes[si]
		if len(prefix) > 0 {
			if st.Last.Compare(prefix) < 0 {
				off = 0
				continue // entirely before the prefix run
			}
			if st.First.Compare(prefix) > 0 && !st.First.HasPrefix(prefix) {
				return out, nil, nil // entirely past it
			}
		}
		entries, err := ix.loadSegment(ctx, st.Segment)
		if err != nil {
			return nil, nil, err
		}
		done, next := scan(si, entries, off)
		if done {
			return out, next, nil
		}
		off = 0
	}
	return out, nil, nil
}
