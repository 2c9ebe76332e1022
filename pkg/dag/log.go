package dag

import (
	"context"
	"errors"

	"github.com/tarnlabs/tarn/pkg/index"
	"github.com/tarnlabs/tarn/pkg/types"
)

// ErrStop aborts a Log walk early without reporting an error.
var ErrStop = errors.New("stop iteration")

// Log walks the commit log newest-first from the given commit, following
// each commit's logical predecessor, and calls fn until the root commit is
// passed or fn returns ErrStop. Pagination falls out of the addressing: a
// next page is a Log starting at the last seen commit's predecessor.
func (s *Store) Log(ctx context.Context, from types.ID, fn func(*types.Commit) error) error {
	for id := from; !id.IsZero(); {
		if err := ctx.Err(); err != nil {
			return err
		}
		c, err := s.Fetch(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(c); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
		id = c.ParentID()
	}
	return nil
}

// ValueAt resolves one key in the index reachable from a commit; nil when
// the key is unbound there.
func (s *Store) ValueAt(ctx context.Context, commit *types.Commit, key types.Key) (*index.Entry, error) {
	return s.index.Lookup(ctx, commit.IndexRoot, key)
}

// EntriesAt streams a page of the key index reachable from a commit.
func (s *Store) EntriesAt(ctx context.Context, commit *types.Commit, prefix types.Key, cursor *index.Cursor, limit int) ([]index.Entry, *index.Cursor, error) {
	return s.index.Scan(ctx, commit.IndexRoot, prefix, cursor, limit)
}

// DiffCommits walks the keyed differences between the indexes of two
// commits in key order.
func (s *Store) DiffCommits(ctx context.Context, from, to *types.Commit, fn func(index.DiffEntry) error) error {
	return s.index.Diff(ctx, from.IndexRoot, to.IndexRoot, fn)
}
