package versioned

import (
	"context"
	"encoding/hex"
	"errors"

	"github.com/tarnlabs/tarn/pkg/codec"
	"github.com/tarnlabs/tarn/pkg/events"
	"github.com/tarnlabs/tarn/pkg/storage"
	"github.com/tarnlabs/tarn/pkg/types"
)

// descriptorSlot is the fixed address of the repository descriptor
// singleton inside the repo_desc bucket.
var descriptorSlot = types.NewHasher("RepoDescriptor").Generate()

// Initialize creates the repository descriptor and the default branch.
// Both steps are idempotent: running Initialize against an existing
// repository returns its stored descriptor unchanged.
func (s *Store) Initialize(ctx context.Context, properties map[string]string) (*types.RepositoryDescriptor, error) {
	desc := &types.RepositoryDescriptor{
		RepoID:        s.repo,
		DefaultBranch: s.cfg.DefaultBranch,
		CreatedAt:     s.clock.Now().UTC(),
		Properties:    properties,
	}
	created := true
	err := s.adapter.CompareAndSwap(ctx, s.repo, storage.BucketRepoDesc, descriptorSlot, nil, codec.EncodeRepoDescriptor(desc))
	switch {
	case errors.Is(err, storage.ErrAlreadyExists) || errors.Is(err, storage.ErrCasMismatch):
		existing, derr := s.Descriptor(ctx)
		if derr != nil {
			return nil, derr
		}
		desc = existing
		created = false
	case err != nil:
		return nil, s.coded(err, "repository descriptor")
	}

	branch := &types.Reference{
		Name:      desc.DefaultBranch,
		Kind:      types.RefKindBranch,
		CreatedAt: s.clock.Now().UTC(),
	}
	if err := s.refs.Create(ctx, branch); err != nil && !errors.Is(err, storage.ErrAlreadyExists) {
		return nil, s.coded(err, "default branch %q", desc.DefaultBranch)
	}

	if created {
		s.logger.Info().
			Str("default_branch", desc.DefaultBranch).
			Msg("Repository initialized")
		s.publish(&events.Event{Type: events.EventRepoCreated, Ref: desc.DefaultBranch})
	}
	return desc, nil
}

// Descriptor loads the repository descriptor.
func (s *Store) Descriptor(ctx context.Context) (*types.RepositoryDescriptor, error) {
	data, err := s.adapter.Get(ctx, s.repo, storage.BucketRepoDesc, descriptorSlot)
	if err != nil {
		return nil, s.coded(err, "repository descriptor")
	}
	desc, err := codec.DecodeRepoDescriptor(data)
	if err != nil {
		return nil, types.WrapError(types.CodeInternal, err, "repository descriptor")
	}
	return desc, nil
}

// UpdateDescriptor applies mutate to the stored descriptor under a swap
// loop. The repo id is pinned; mutate errors abort without retrying.
func (s *Store) UpdateDescriptor(ctx context.Context, mutate func(*types.RepositoryDescriptor) error) (*types.RepositoryDescriptor, error) {
	for attempt := 0; attempt < s.cfg.MaxCommitRetries; attempt++ {
		raw, err := s.adapter.Get(ctx, s.repo, storage.BucketRepoDesc, descriptorSlot)
		if err != nil {
			return nil, s.coded(err, "repository descriptor")
		}
		desc, err := codec.DecodeRepoDescriptor(raw)
		if err != nil {
			return nil, types.WrapError(types.CodeInternal, err, "repository descriptor")
		}
		if err := mutate(desc); err != nil {
			return nil, err
		}
		desc.RepoID = s.repo
		err = s.adapter.CompareAndSwap(ctx, s.repo, storage.BucketRepoDesc, descriptorSlot, raw, codec.EncodeRepoDescriptor(desc))
		if errors.Is(err, storage.ErrCasMismatch) {
			continue
		}
		if err != nil {
			return nil, s.coded(err, "repository descriptor")
		}
		return desc, nil
	}
	return nil, types.NewError(types.CodeReferenceConflict,
		"descriptor update lost %d races, giving up", s.cfg.MaxCommitRetries).
		WithReason("RETRY_EXHAUSTED")
}

// CreateBranch creates a branch at the given commit; a zero id creates an
// empty branch.
func (s *Store) CreateBranch(ctx context.Context, name string, at types.ID) (*types.Reference, error) {
	return s.createRef(ctx, name, types.RefKindBranch, at)
}

// CreateTag creates a tag. Tags always point at a commit.
func (s *Store) CreateTag(ctx context.Context, name string, at types.ID) (*types.Reference, error) {
	if at.IsZero() {
		return nil, types.NewError(types.CodeInvalidArgument, "tag %q needs a commit to point at", name)
	}
	return s.createRef(ctx, name, types.RefKindTag, at)
}

func (s *Store) createRef(ctx context.Context, name string, kind types.RefKind, at types.ID) (*types.Reference, error) {
	if !at.IsZero() {
		if _, err := s.dag.Fetch(ctx, at); err != nil {
			return nil, s.coded(err, "commit %s", at)
		}
	}
	ref := &types.Reference{
		Name:      name,
		Kind:      kind,
		Head:      at,
		CreatedAt: s.clock.Now().UTC(),
	}
	if err := s.refs.Create(ctx, ref); err != nil {
		return nil, s.coded(err, "reference %q", name)
	}
	s.logger.Info().
		Str("name", name).
		Str("kind", string(kind)).
		Str("hash", hexOrEmpty(at)).
		Msg("Reference created")
	s.publish(&events.Event{Type: events.EventRefCreated, Ref: name, Hash: hexOrEmpty(at)})
	return ref, nil
}

// GetReference loads one reference by name.
func (s *Store) GetReference(ctx context.Context, name string) (*types.Reference, error) {
	ref, err := s.refs.Get(ctx, name)
	if err != nil {
		return nil, s.coded(err, "reference %q", name)
	}
	return ref, nil
}

// ListReferences pages through references sorted by name, optionally
// filtered to a name prefix.
func (s *Store) ListReferences(ctx context.Context, filter, pageToken string, limit int) ([]*types.Reference, string, error) {
	refs, next, err := s.refs.List(ctx, filter, pageToken, limit)
	if err != nil {
		return nil, "", s.coded(err, "reference list")
	}
	return refs, next, nil
}

// AssignReference moves a reference to an existing commit, subject to the
// expected head. Tags move only when reassignment is enabled.
func (s *Store) AssignReference(ctx context.Context, name string, expectedHead, to types.ID) (*types.Reference, error) {
	if to.IsZero() {
		return nil, types.NewError(types.CodeInvalidArgument, "cannot assign %q to an empty hash", name)
	}
	if _, err := s.dag.Fetch(ctx, to); err != nil {
		return nil, s.coded(err, "commit %s", to)
	}
	ref, err := s.refs.Update(ctx, name, expectedHead, to)
	if err != nil {
		return nil, s.coded(err, "reference %q", name)
	}
	s.logger.Info().
		Str("name", name).
		Str("hash", to.String()).
		Msg("Reference reassigned")
	s.publish(&events.Event{
		Type:         events.EventRefReassigned,
		Ref:          name,
		Hash:         to.String(),
		PreviousHash: hexOrEmpty(expectedHead),
	})
	return ref, nil
}

// DeleteReference removes a reference, subject to the expected head. The
// default branch cannot be deleted.
func (s *Store) DeleteReference(ctx context.Context, name string, expectedHead types.ID) error {
	if name == s.cfg.DefaultBranch {
		return types.NewError(types.CodeInvalidArgument, "cannot delete the default branch %q", name)
	}
	if err := s.refs.Delete(ctx, name, expectedHead); err != nil {
		return s.coded(err, "reference %q", name)
	}
	s.logger.Info().Str("name", name).Msg("Reference deleted")
	s.publish(&events.Event{
		Type:         events.EventRefDeleted,
		Ref:          name,
		PreviousHash: hexOrEmpty(expectedHead),
	})
	return nil
}

// ResolveCommitPrefix expands an abbreviated commit hash to the one commit
// it identifies. Prefixes are lower hex with an even number of digits,
// four at minimum; ambiguous prefixes are rejected.
func (s *Store) ResolveCommitPrefix(ctx context.Context, prefix string) (types.ID, error) {
	if len(prefix) == 64 {
		id, err := types.ParseID(prefix)
		if err != nil {
			return types.ID{}, types.WrapError(types.CodeInvalidArgument, err, "invalid commit hash %q", prefix)
		}
		if _, err := s.dag.Fetch(ctx, id); err != nil {
			return types.ID{}, s.coded(err, "commit %s", id)
		}
		return id, nil
	}
	if len(prefix) < 4 || len(prefix)%2 != 0 {
		return types.ID{}, types.NewError(types.CodeInvalidArgument,
			"commit prefix %q must be 4 to 64 hex digits with even length", prefix)
	}
	raw, err := hex.DecodeString(prefix)
	if err != nil {
		return types.ID{}, types.WrapError(types.CodeInvalidArgument, err, "invalid commit prefix %q", prefix)
	}
	found, err := s.adapter.Scan(ctx, s.repo, storage.BucketCommits, raw, nil, 2)
	if err != nil {
		return types.ID{}, s.coded(err, "commit prefix %q", prefix)
	}
	switch len(found) {
	case 0:
		return types.ID{}, types.NewError(types.CodeNotFound, "no commit matches prefix %q", prefix)
	case 1:
		return found[0].ID, nil
	default:
		return types.ID{}, types.NewError(types.CodeInvalidArgument, "commit prefix %q is ambiguous", prefix)
	}
}
