package index

import (
	"context"
	"fmt"
	"sort"

	"github.com/tarnlabs/tarn/pkg/types"
)

// Apply folds operations into the index rooted at base and returns the new
// root id. Operations take effect in listed order; a later operation on the
// same key wins. Only segments whose entries change are rewritten, untouched
// stripes keep their segment ids. An index left empty collapses to a zero
// root id and writes nothing.
//
// Put operations must be sealed (non-zero Payload) before they reach the
// index; Apply rejects unsealed puts.
func (ix *Index) Apply(ctx context.Context, base types.ID, ops []types.Operation) (types.ID, error) {
	if len(ops) == 0 {
		return base, nil
	}

	if base.IsZero() {
		entries, err := applyOps(nil, ops)
		if err != nil {
			return types.ID{}, err
		}
		return ix.writeAll(ctx, entries)
	}

	rt, err := ix.loadRoot(ctx, base)
	if err != nil {
		return types.ID{}, err
	}

	if rt.embedded {
		entries, err := applyOps(rt.entries, ops)
		if err != nil {
			return types.ID{}, err
		}
		return ix.writeAll(ctx, entries)
	}

	groups := make(map[int][]types.Operation)
	for _, op := range ops {
		i := routeStripe(rt.stripes, op.Key)
		groups[i] = append(groups[i], op)
	}

	// With every stripe touched the whole index is in memory anyway, so
	// rebuild it globally; that is also the only point where a shrunken
	// index folds back into an embedded root.
	if len(groups) == len(rt.stripes) {
		var all []Entry
		for i, st := range rt.stripes {
			entries, err := ix.loadSegment(ctx, st.Segment)
			if err != nil {
				return types.ID{}, err
			}
			entries, err = applyOps(entries, groups[i])
			if err != nil {
				return types.ID{}, err
			}
			all = append(all, entries...)
		}
		return ix.writeAll(ctx, all)
	}

	out := make([]stripe, 0, len(rt.stripes))
	for i, st := range rt.stripes {
		gops, touched := groups[i]
		if !touched {
			out = append(out, st)
			continue
		}
		entries, err := ix.loadSegment(ctx, st.Segment)
		if err != nil {
			return types.ID{}, err
		}
		entries, err = applyOps(entries, gops)
		if err != nil {
			return types.ID{}, err
		}
		if len(entries) == 0 {
			continue // stripe emptied, drop it
		}
		stripes, err := ix.writeChunks(ctx, entries)
		if err != nil {
			return types.ID{}, err
		}
		out = append(out, stripes...)
	}
	if len(out) == 0 {
		return types.ID{}, nil
	}
	return ix.writeRoot(ctx, &root{stripes: out})
}

// writeAll persists a fully materialized entry list: embedded root when it
// fits the segment budget, split stripes otherwise, zero id when empty.
func (ix *Index) writeAll(ctx context.Context, entries []Entry) (types.ID, error) {
	if len(entries) == 0 {
		return types.ID{}, nil
	}
	if segmentSize(entries) <= ix.target() {
		return ix.writeRoot(ctx, &root{embedded: true, entries: entries})
	}
	stripes, err := ix.writeChunks(ctx, entries)
	if err != nil {
		return types.ID{}, err
	}
	return ix.writeRoot(ctx, &root{stripes: stripes})
}

// writeChunks splits sorted entries at the segment budget, stores each chunk
// and returns the covering stripes.
func (ix *Index) writeChunks(ctx context.Context, entries []Entry) ([]stripe, error) {
	var stripes []stripe
	target := ix.target()
	start, size := 0, 6
	flush := func(end int) error {
		chunk := entries[start:end]
		id, err := ix.writeSegment(ctx, chunk)
		if err != nil {
			return err
		}
		stripes = append(stripes, stripe{
			First:   chunk[0].Key,
			Last:    chunk[len(chunk)-1].Key,
			Segment: id,
		})
		return nil
	}
	for i, e := range entries {
		sz := entrySize(e)
		if size+sz > target && i > start {
			if err := flush(i); err != nil {
				return nil, err
			}
			start, size = i, 6
		}
		size += sz
	}
	if err := flush(len(entries)); err != nil {
		return nil, err
	}
	return stripes, nil
}

// applyOps folds operations into a sorted entry list and returns a new list;
// the input is never mutated.
func applyOps(entries []Entry, ops []types.Operation) ([]Entry, error) {
	out := make([]Entry, len(entries))
	copy(out, entries)
	for _, op := range ops {
		i, found := searchEntry(out, op.Key)
		switch op.Kind {
		case types.OpPut:
			if op.Payload.IsZero() {
				return nil, fmt.Errorf("unsealed put for key %s", op.Key)
			}
			e := Entry{
				Key:         op.Key,
				ContentID:   op.ContentID,
				ContentType: op.ContentType,
				Payload:     op.Payload,
			}
			if found {
				out[i] = e
			} else {
				out = append(out, Entry{})
				copy(out[i+1:], out[i:])
				out[i] = e
			}
		case types.OpDelete:
			if found {
				out = append(out[:i], out[i+1:]...)
			}
		case types.OpUnchanged:
			// read assertion only, no index effect
		default:
			return nil, fmt.Errorf("unknown operation kind %q", op.Kind)
		}
	}
	return out, nil
}

func searchEntry(entries []Entry, key types.Key) (int, bool) {
	i := sort.Search(len(entries), func(i int) bool {
		return entries[i].Key.Compare(key) >= 0
	})
	return i, i < len(entries) && entries[i].Key.Equal(key)
}
