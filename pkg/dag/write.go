package dag

import (
	"context"
	"fmt"
	"time"

	"github.com/tarnlabs/tarn/pkg/codec"
	"github.com/tarnlabs/tarn/pkg/storage"
	"github.com/tarnlabs/tarn/pkg/types"
)

// WriteRequest describes one commit to append. Parents is empty for a root
// commit; element 0 is the logical predecessor whose index the operations
// fold into, further elements record merge sources.
type WriteRequest struct {
	Parents    []types.ID
	Author     string
	Committer  string
	Message    string
	CommitTime time.Time
	Operations []types.Operation
	Metadata   map[string]string
}

// Write seals the request's operations, folds them into the parent's key
// index and stores the resulting commit. The write order is attachments,
// then index segments, then the commit record itself, so a commit that
// exists is always complete. Content addressing makes the whole sequence
// idempotent: writing the same request twice yields the same commit id.
func (s *Store) Write(ctx context.Context, req WriteRequest) (*types.Commit, error) {
	for _, p := range req.Parents {
		if p.IsZero() {
			return nil, fmt.Errorf("zero parent id in commit request")
		}
	}

	var seq int64
	var baseRoot types.ID
	if len(req.Parents) > 0 {
		parents, err := s.FetchMany(ctx, req.Parents)
		if err != nil {
			return nil, err
		}
		for i, p := range parents {
			if p == nil {
				return nil, fmt.Errorf("parent commit %s: %w", req.Parents[i], storage.ErrNotFound)
			}
			if p.Seq >= seq {
				seq = p.Seq + 1
			}
		}
		baseRoot = parents[0].IndexRoot
	}

	ops, err := s.sealOperations(ctx, req.Operations)
	if err != nil {
		return nil, err
	}

	indexRoot, err := s.index.Apply(ctx, baseRoot, ops)
	if err != nil {
		return nil, fmt.Errorf("failed to update key index: %w", err)
	}

	commit := &types.Commit{
		Parents:    req.Parents,
		Seq:        seq,
		Author:     req.Author,
		Committer:  req.Committer,
		Message:    req.Message,
		CommitTime: req.CommitTime,
		Operations: ops,
		IndexRoot:  indexRoot,
		Metadata:   req.Metadata,
	}
	id, data, err := codec.HashCommit(commit)
	if err != nil {
		return nil, fmt.Errorf("failed to encode commit: %w", err)
	}
	commit.ID = id
	if err := s.store.Put(ctx, s.repo, storage.BucketCommits, id, data); err != nil {
		return nil, fmt.Errorf("failed to store commit %s: %w", id, err)
	}
	s.commits.Add(id, commit)
	return commit, nil
}

// sealOperations stores every put payload and returns operations carrying
// only addressable state. Already sealed puts pass through untouched, so
// operations replayed from an existing commit need no payload reload.
func (s *Store) sealOperations(ctx context.Context, ops []types.Operation) ([]types.Operation, error) {
	out := make([]types.Operation, len(ops))
	for i, op := range ops {
		sealed := op
		sealed.Content = nil
		if op.Kind == types.OpPut {
			if op.Content != nil {
				if op.Content.ContentID == "" {
					return nil, fmt.Errorf("put for key %s carries no content id", op.Key)
				}
				payload, err := s.PutContent(ctx, op.Content)
				if err != nil {
					return nil, fmt.Errorf("failed to seal put for key %s: %w", op.Key, err)
				}
				sealed.ContentID = op.Content.ContentID
				sealed.ContentType = op.Content.Type
				sealed.Payload = payload
			}
			if sealed.Payload.IsZero() {
				return nil, fmt.Errorf("put for key %s carries no content", op.Key)
			}
			if sealed.ContentID == "" {
				return nil, fmt.Errorf("put for key %s carries no content id", op.Key)
			}
		}
		out[i] = sealed
	}
	return out, nil
}
