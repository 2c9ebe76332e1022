package index

import (
	"context"
	"fmt"
	"sort"

	"github.com/tarnlabs/tarn/pkg/codec"
	"github.com/tarnlabs/tarn/pkg/metrics"
	"github.com/tarnlabs/tarn/pkg/storage"
	"github.com/tarnlabs/tarn/pkg/types"
)

const (
	// DefaultTargetSegmentBytes is the encoded size at which a segment
	// splits. Segments are a target, not a cap: a single oversized entry
	// still fits alone.
	DefaultTargetSegmentBytes = 64 * 1024

	// DefaultScanLimit bounds a Scan page when the caller passes no limit.
	DefaultScanLimit = 500
)

// Entry is one key binding reachable from a commit: the key, the stable
// content id, the content type and the address of the stored content bytes.
type Entry struct {
	Key         types.Key
	ContentID   string
	ContentType types.ContentType
	Payload     types.ID
}

func entryEqual(a, b Entry) bool {
	return a.Key.Equal(b.Key) &&
		a.ContentID == b.ContentID &&
		a.ContentType == b.ContentType &&
		a.Payload == b.Payload
}

// stripe points at one stored segment and the key range it covers. Stripes
// in a root are sorted and non-overlapping.
type stripe struct {
	First   types.Key
	Last    types.Key
	Segment types.ID
}

// root is the decoded form of an index root object. Small indexes embed
// their entries directly so a lookup costs a single get; larger ones carry
// a sorted stripe list.
type root struct {
	embedded bool
	entries  []Entry
	stripes  []stripe
}

// Index reads and writes the paginated key index of one repository. The
// zero value is not usable; construct with New. Safe for concurrent use as
// long as TargetSegmentBytes is not changed after construction.
type Index struct {
	store storage.Adapter
	repo  string

	// TargetSegmentBytes is the split threshold for stored segments.
	// Tests lower it to exercise pagination with small data.
	TargetSegmentBytes int
}

// New returns an Index over the given repository.
func New(store storage.Adapter, repo string) *Index {
	return &Index{
		store:              store,
		repo:               repo,
		TargetSegmentBytes: DefaultTargetSegmentBytes,
	}
}

func (ix *Index) target() int {
	if ix.TargetSegmentBytes > 0 {
		return ix.TargetSegmentBytes
	}
	return DefaultTargetSegmentBytes
}

// Root object layout discriminator.
const (
	rootEmbedded byte = 0x00
	rootStriped  byte = 0x01
)

func writeEntries(w *codec.Writer, entries []Entry) {
	w.Uint32(uint32(len(entries)))
	for _, e := range entries {
		w.Key(e.Key)
		w.String(e.ContentID)
		w.String(string(e.ContentType))
		w.ID(e.Payload)
	}
}

func readEntries(r *codec.Reader) []Entry {
	n := r.Uint32()
	if r.Err() != nil {
		return nil
	}
	hint := int(n)
	if hint > 4096 {
		hint = 4096
	}
	entries := make([]Entry, 0, hint)
	for i := uint32(0); i < n; i++ {
		var e Entry
		e.Key = r.Key()
		e.ContentID = r.String()
		e.ContentType = types.ContentType(r.String())
		e.Payload = r.ID()
		if r.Err() != nil {
			return nil
		}
		entries = append(entries, e)
	}
	return entries
}

func encodeSegment(entries []Entry) []byte {
	w := codec.NewWriter(codec.KindIndexSegment)
	writeEntries(w, entries)
	return w.Finish()
}

func decodeSegment(data []byte) ([]Entry, error) {
	r, err := codec.NewReader(data, codec.KindIndexSegment)
	if err != nil {
		return nil, err
	}
	entries := readEntries(r)
	if err := r.Done(); err != nil {
		return nil, err
	}
	return entries, nil
}

func encodeRoot(rt *root) []byte {
	w := codec.NewWriter(codec.KindIndexRoot)
	if rt.embedded {
		w.Byte(rootEmbedded)
		writeEntries(w, rt.entries)
		return w.Finish()
	}
	w.Byte(rootStriped)
	w.Uint32(uint32(len(rt.stripes)))
	for _, st := range rt.stripes {
		w.Key(st.First)
		w.Key(st.Last)
		w.ID(st.Segment)
	}
	return w.Finish()
}

func decodeRoot(data []byte) (*root, error) {
	r, err := codec.NewReader(data, codec.KindIndexRoot)
	if err != nil {
		return nil, err
	}
	rt := &root{}
	switch mode := r.Byte(); mode {
	case rootEmbedded:
		rt.embedded = true
		rt.entries = readEntries(r)
	case rootStriped:
		n := r.Uint32()
		if r.Err() != nil {
			return nil, r.Err()
		}
		hint := int(n)
		if hint > 4096 {
			hint = 4096
		}
		rt.stripes = make([]stripe, 0, hint)
		for i := uint32(0); i < n; i++ {
			var st stripe
			st.First = r.Key()
			st.Last = r.Key()
			st.Segment = r.ID()
			if r.Err() != nil {
				return nil, r.Err()
			}
			rt.stripes = append(rt.stripes, st)
		}
	default:
		if r.Err() == nil {
			return nil, fmt.Errorf("unknown index root layout 0x%02x", mode)
		}
	}
	if err := r.Done(); err != nil {
		return nil, err
	}
	return rt, nil
}

func (ix *Index) loadRoot(ctx context.Context, id types.ID) (*root, error) {
	data, err := ix.store.Get(ctx, ix.repo, storage.BucketIndexSegments, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load index root %s: %w", id, err)
	}
	metrics.IndexSegmentReads.Inc()
	rt, err := decodeRoot(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode index root %s: %w", id, err)
	}
	return rt, nil
}

func (ix *Index) loadSegment(ctx context.Context, id types.ID) ([]Entry, error) {
	data, err := ix.store.Get(ctx, ix.repo, storage.BucketIndexSegments, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load index segment %s: %w", id, err)
	}
	metrics.IndexSegmentReads.Inc()
	entries, err := decodeSegment(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode index segment %s: %w", id, err)
	}
	return entries, nil
}

func (ix *Index) writeSegment(ctx context.Context, entries []Entry) (types.ID, error) {
	data := encodeSegment(entries)
	id := types.Hash(codec.TagIndexSegment, data)
	if err := ix.store.Put(ctx, ix.repo, storage.BucketIndexSegments, id, data); err != nil {
		return types.ID{}, fmt.Errorf("failed to write index segment %s: %w", id, err)
	}
	metrics.IndexSegmentWrites.Inc()
	return id, nil
}

func (ix *Index) writeRoot(ctx context.Context, rt *root) (types.ID, error) {
	data := encodeRoot(rt)
	id := types.Hash(codec.TagIndexRoot, data)
	if err := ix.store.Put(ctx, ix.repo, storage.BucketIndexSegments, id, data); err != nil {
		return types.ID{}, fmt.Errorf("failed to write index root %s: %w", id, err)
	}
	metrics.IndexSegmentWrites.Inc()
	return id, nil
}

// entrySize mirrors the encoded layout of one entry.
func entrySize(e Entry) int {
	n := 4 // element count
	for _, el := range e.Key {
		n += 4 + len(el)
	}
	n += 4 + len(e.ContentID)
	n += 4 + len(e.ContentType)
	n += types.IDLen
	return n
}

// segmentSize is the encoded size of a whole segment holding entries.
func segmentSize(entries []Entry) int {
	n := 6 // envelope plus entry count
	for _, e := range entries {
		n += entrySize(e)
	}
	return n
}

// findEntry binary-searches sorted entries and returns a copy, or nil when
// the key is absent.
func findEntry(entries []Entry, key types.Key) *Entry {
	if i, found := searchEntry(entries, key); found {
		e := entries[i]
		return &e
	}
	return nil
}

// routeStripe picks the stripe an operation on key lands in: the first
// stripe whose Last is not below the key, or the final stripe for keys
// beyond every range.
func routeStripe(stripes []stripe, key types.Key) int {
	i := sort.Search(len(stripes), func(i int) bool {
		return stripes[i].Last.Compare(key) >= 0
	})
	if i == len(stripes) {
		return len(stripes) - 1
	}
	return i
}
