package index

import (
	"context"
	"errors"

	"github.com/tarnlabs/tarn/pkg/types"
)

// ErrStop aborts a Diff walk early without reporting an error.
var ErrStop = errors.New("stop iteration")

// DiffEntry is one keyed difference between two roots. From is nil for keys
// only present on the to side, To is nil for keys only present on the from
// side; both are set when the binding changed.
type DiffEntry struct {
	Key  types.Key
	From *Entry
	To   *Entry
}

// Diff walks the differences between two index roots in key order and calls
// fn for each. Stripes carrying the same segment id on both sides are
// skipped without loading, so the cost is proportional to the changed
// segments, not the index size. fn may return ErrStop to end the walk.
func (ix *Index) Diff(ctx context.Context, fromRoot, toRoot types.ID, fn func(DiffEntry) error) error {
	if fromRoot == toRoot {
		return nil
	}
	a, err := ix.newStream(ctx, fromRoot)
	if err != nil {
		return err
	}
	b, err := ix.newStream(ctx, toRoot)
	if err != nil {
		return err
	}

	for {
		// Content addressing makes equal segment ids equal entry runs,
		// and sorted consumption means both sides reach a shared
		// segment at the same time. Skip the pair wholesale.
		if a.atUnloadedStripe() && b.atUnloadedStripe() {
			if id := a.stripeID(); !id.IsZero() && id == b.stripeID() {
				a.skipStripe()
				b.skipStripe()
				continue
			}
		}

		ea, err := a.peek(ctx)
		if err != nil {
			return err
		}
		eb, err := b.peek(ctx)
		if err != nil {
			return err
		}
		if ea == nil && eb == nil {
			return nil
		}

		var d DiffEntry
		switch {
		case eb == nil || (ea != nil && ea.Key.Compare(eb.Key) < 0):
			d = DiffEntry{Key: ea.Key, From: ea}
			a.advance()
		case ea == nil || eb.Key.Compare(ea.Key) < 0:
			d = DiffEntry{Key: eb.Key, To: eb}
			b.advance()
		default:
			if entryEqual(*ea, *eb) {
				a.advance()
				b.advance()
				continue
			}
			d = DiffEntry{Key: ea.Key, From: ea, To: eb}
			a.advance()
			b.advance()
		}
		if err := fn(d); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
	}
}

// stream yields the entries under one root in key order, loading segments
// lazily so Diff can skip shared stripes before they are fetched.
type stream struct {
	ix      *Index
	stripes []stripe
	entries []Entry // current stripe, nil until loaded
	si      int
	ei      int
}

func (ix *Index) newStream(ctx context.Context, rootID types.ID) (*stream, error) {
	s := &stream{ix: ix}
	if rootID.IsZero() {
		return s, nil
	}
	rt, err := ix.loadRoot(ctx, rootID)
	if err != nil {
		return nil, err
	}
	if rt.embedded {
		// One preloaded pseudo stripe; its zero segment id never
		// matches a stored one, so it is never skipped.
		s.stripes = []stripe{{}}
		s.entries = rt.entries
		return s, nil
	}
	s.stripes = rt.stripes
	return s, nil
}

func (s *stream) atUnloadedStripe() bool {
	return s.si < len(s.stripes) && s.entries == nil
}

func (s *stream) stripeID() types.ID {
	return s.stripes[s.si].Segment
}

func (s *stream) skipStripe() {
	s.si++
	s.entries = nil
	s.ei = 0
}

func (s *stream) peek(ctx context.Context) (*Entry, error) {
	for {
		if s.si >= len(s.stripes) {
			return nil, nil
		}
		if s.entries == nil {
			entries, err := s.ix.loadSegment(ctx, s.stripes[s.si].Segment)
			if err != nil {
				return nil, err
			}
			s.entries = entries
			s.ei = 0
		}
		if s.ei < len(s.entries) {
			return &s.entries[s.ei], nil
		}
		s.skipStripe()
	}
}

func (s *stream) advance() {
	s.ei++
	if s.entries != nil && s.ei >= len(s.entries) {
		s.skipStripe()
	}
}
