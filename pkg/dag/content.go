package dag

import (
	"context"
	"fmt"

	"github.com/tarnlabs/tarn/pkg/codec"
	"github.com/tarnlabs/tarn/pkg/storage"
	"github.com/tarnlabs/tarn/pkg/types"
)

// PutContent stores a content blob in the attachments bucket and returns its
// payload address. Storing the same content twice is an idempotent success.
func (s *Store) PutContent(ctx context.Context, c *types.Content) (types.ID, error) {
	if err := c.Validate(); err != nil {
		return types.ID{}, fmt.Errorf("invalid content: %w", err)
	}
	id, data := codec.HashContent(c)
	if err := s.store.Put(ctx, s.repo, storage.BucketAttachments, id, data); err != nil {
		return types.ID{}, fmt.Errorf("failed to store content %s: %w", id, err)
	}
	s.contents.Add(id, c)
	return id, nil
}

// GetContent loads a content blob by its payload address.
func (s *Store) GetContent(ctx context.Context, id types.ID) (*types.Content, error) {
	if c, ok := s.contents.Get(id); ok {
		return c, nil
	}
	data, err := s.store.Get(ctx, s.repo, storage.BucketAttachments, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load content %s: %w", id, err)
	}
	c, err := codec.DecodeContent(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode content %s: %w", id, err)
	}
	s.contents.Add(id, c)
	return c, nil
}

// GetContents resolves a batch of payload addresses in order, with nil holes
// for missing blobs.
func (s *Store) GetContents(ctx context.Context, ids []types.ID) ([]*types.Content, error) {
	out := make([]*types.Content, len(ids))
	var missing []types.ID
	var slots []int
	for i, id := range ids {
		if c, ok := s.contents.Get(id); ok {
			out[i] = c
			continue
		}
		missing = append(missing, id)
		slots = append(slots, i)
	}
	if len(missing) == 0 {
		return out, nil
	}
	rows, err := s.store.GetMany(ctx, s.repo, storage.BucketAttachments, missing)
	if err != nil {
		return nil, fmt.Errorf("failed to load contents: %w", err)
	}
	for i, data := range rows {
		if data == nil {
			continue
		}
		c, err := codec.DecodeContent(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode content %s: %w", missing[i], err)
		}
		s.contents.Add(missing[i], c)
		out[slots[i]] = c
	}
	return out, nil
}
