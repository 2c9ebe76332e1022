package dag

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/tarnlabs/tarn/pkg/codec"
	"github.com/tarnlabs/tarn/pkg/index"
	"github.com/tarnlabs/tarn/pkg/storage"
	"github.com/tarnlabs/tarn/pkg/types"
)

// DefaultCacheSize is the number of decoded commits and contents kept in
// memory. Objects are immutable, so cached entries never go stale.
const DefaultCacheSize = 1024

// Store reads and writes the commit DAG of one repository: commit records,
// their key indexes and the content blobs commits point at. All objects are
// content-addressed and written at most once.
//
// Cached commits and contents are shared; callers must treat them as
// read-only.
type Store struct {
	store storage.Adapter
	repo  string
	index *index.Index

	commits  *lru.Cache[types.ID, *types.Commit]
	contents *lru.Cache[types.ID, *types.Content]
}

// NewStore builds a Store over one repository.
func NewStore(adapter storage.Adapter, repo string) (*Store, error) {
	commits, err := lru.New[types.ID, *types.Commit](DefaultCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to build commit cache: %w", err)
	}
	contents, err := lru.New[types.ID, *types.Content](DefaultCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to build content cache: %w", err)
	}
	return &Store{
		store:    adapter,
		repo:     repo,
		index:    index.New(adapter, repo),
		commits:  commits,
		contents: contents,
	}, nil
}

// Repo returns the repository this store is bound to.
func (s *Store) Repo() string { return s.repo }

// Index exposes the key-index engine sharing this store's backing adapter.
func (s *Store) Index() *index.Index { return s.index }

// Fetch loads one commit, from cache when possible. A missing commit is a
// storage.ErrNotFound.
func (s *Store) Fetch(ctx context.Context, id types.ID) (*types.Commit, error) {
	if c, ok := s.commits.Get(id); ok {
		return c, nil
	}
	data, err := s.store.Get(ctx, s.repo, storage.BucketCommits, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load commit %s: %w", id, err)
	}
	c, err := codec.DecodeCommit(id, data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode commit %s: %w", id, err)
	}
	s.commits.Add(id, c)
	return c, nil
}

// FetchMany loads a batch of commits in order, with nil holes for ids that
// do not exist. It fails only on backend or decode errors.
func (s *Store) FetchMany(ctx context.Context, ids []types.ID) ([]*types.Commit, error) {
	out := make([]*types.Commit, len(ids))
	var missing []types.ID
	var slots []int
	for i, id := range ids {
		if c, ok := s.commits.Get(id); ok {
			out[i] = c
			continue
		}
		missing = append(missing, id)
		slots = append(slots, i)
	}
	if len(missing) == 0 {
		return out, nil
	}
	rows, err := s.store.GetMany(ctx, s.repo, storage.BucketCommits, missing)
	if err != nil {
		return nil, fmt.Errorf("failed to load commits: %w", err)
	}
	for i, data := range rows {
		if data == nil {
			continue
		}
		c, err := codec.DecodeCommit(missing[i], data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode commit %s: %w", missing[i], err)
		}
		s.commits.Add(missing[i], c)
		out[slots[i]] = c
	}
	return out, nil
}
