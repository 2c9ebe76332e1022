package versioned

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/tarnlabs/tarn/pkg/dag"
	"github.com/tarnlabs/tarn/pkg/events"
	"github.com/tarnlabs/tarn/pkg/index"
	"github.com/tarnlabs/tarn/pkg/metrics"
	"github.com/tarnlabs/tarn/pkg/storage"
	"github.com/tarnlabs/tarn/pkg/types"
)

// RequirementKind selects the per-key assertion a commit demands.
type RequirementKind string

const (
	MustNotExist RequirementKind = "MUST_NOT_EXIST"
	MustExist    RequirementKind = "MUST_EXIST"
	HeadMatches  RequirementKind = "HEAD_MATCHES"
)

// Requirement asserts the state of one key at the branch head the commit
// builds on. HeadMatches compares the stored payload address and, when
// ContentID is set, the content id.
type Requirement struct {
	Kind      RequirementKind
	Payload   types.ID
	ContentID string
}

// CommitParams describes one commit attempt against a branch.
//
// Requirements is keyed by the dotted key string. An Unchanged operation is
// an inline requirement: it asserts that its key still carries the payload
// and content id recorded on the operation (or merely exists, when neither
// is set) and has no other effect.
type CommitParams struct {
	Branch       string
	ExpectedHead *types.ID
	Author       string
	Message      string
	Operations   []types.Operation
	Requirements map[string]Requirement
	Metadata     map[string]string
}

// CommitResult reports the stored commit, the advanced branch and the
// content ids assigned to puts that arrived without one, keyed by the
// dotted key string.
type CommitResult struct {
	Commit        *types.Commit
	Ref           *types.Reference
	AddedContents map[string]string
}

// Commit appends one commit to a branch. The branch head is reloaded and
// the swap retried on concurrent movement, up to MaxCommitRetries; an
// ExpectedHead mismatch and requirement violations fail without retrying,
// since reloading cannot repair either.
func (s *Store) Commit(ctx context.Context, params CommitParams) (*CommitResult, error) {
	if params.Branch == "" {
		return nil, types.NewError(types.CodeInvalidArgument, "empty branch name")
	}
	if err := validateOperations(params.Operations); err != nil {
		return nil, err
	}
	effective := 0
	for _, op := range params.Operations {
		if op.Kind == types.OpPut || op.Kind == types.OpDelete {
			effective++
		}
	}
	if effective == 0 && !s.cfg.AllowEmptyCommit {
		return nil, types.NewError(types.CodeInvalidArgument, "commit on %q changes no keys", params.Branch)
	}

	ops, added := prepareOperations(params.Operations)

	timer := metrics.NewTimer()
	for attempt := 0; attempt < s.cfg.MaxCommitRetries; attempt++ {
		ref, err := s.refs.Get(ctx, params.Branch)
		if err != nil {
			return nil, s.coded(err, "reference %q", params.Branch)
		}
		if ref.Kind != types.RefKindBranch {
			return nil, types.NewError(types.CodeInvalidArgument, "cannot commit to %s %q", ref.Kind, ref.Name)
		}
		head := ref.Head
		if params.ExpectedHead != nil && *params.ExpectedHead != head {
			metrics.CommitsTotal.WithLabelValues("conflict").Inc()
			return nil, types.NewError(types.CodeReferenceConflict,
				"branch %q is at %s, expected %s", params.Branch, hexOrEmpty(head), hexOrEmpty(*params.ExpectedHead)).
				WithReason("EXPECTED_HEAD")
		}

		conflicts, err := s.checkRequirements(ctx, head, &params)
		if err != nil {
			return nil, err
		}
		if len(conflicts) > 0 {
			metrics.CommitsTotal.WithLabelValues("conflict").Inc()
			metrics.ConflictsDetected.Add(float64(len(conflicts)))
			return nil, types.NewError(types.CodeContentConflict,
				"commit on %q violates %d requirement(s)", params.Branch, len(conflicts)).
				WithConflicts(conflicts...)
		}

		var parents []types.ID
		if !head.IsZero() {
			parents = []types.ID{head}
		}
		commit, err := s.dag.Write(ctx, dag.WriteRequest{
			Parents:    parents,
			Author:     params.Author,
			Committer:  params.Author,
			Message:    params.Message,
			CommitTime: s.clock.Now().UTC(),
			Operations: ops,
			Metadata:   params.Metadata,
		})
		if err != nil {
			return nil, s.coded(err, "commit on %q", params.Branch)
		}

		updated, err := s.refs.Update(ctx, params.Branch, head, commit.ID)
		if errors.Is(err, storage.ErrCasMismatch) {
			metrics.CommitRetries.Inc()
			s.logger.Debug().
				Str("branch", params.Branch).
				Int("attempt", attempt+1).
				Msg("Branch head moved, restarting commit")
			continue
		}
		if err != nil {
			return nil, s.coded(err, "reference %q", params.Branch)
		}

		metrics.CommitsTotal.WithLabelValues("success").Inc()
		timer.ObserveDuration(metrics.CommitDuration)
		s.logger.Info().
			Str("branch", params.Branch).
			Str("hash", commit.ID.String()).
			Int("operations", effective).
			Msg("Commit applied")
		s.publish(&events.Event{
			Type:         events.EventCommit,
			Ref:          params.Branch,
			Hash:         commit.ID.String(),
			PreviousHash: hexOrEmpty(head),
			Keys:         keysOf(ops),
		})
		return &CommitResult{Commit: commit, Ref: updated, AddedContents: added}, nil
	}

	metrics.CommitsTotal.WithLabelValues("conflict").Inc()
	return nil, types.NewError(types.CodeReferenceConflict,
		"commit on %q lost %d head races, giving up", params.Branch, s.cfg.MaxCommitRetries).
		WithReason("RETRY_EXHAUSTED")
}

// validateOperations rejects malformed keys, unknown kinds and more than
// one operation per key.
func validateOperations(ops []types.Operation) error {
	seen := make(map[string]struct{}, len(ops))
	for _, op := range ops {
		if err := op.Key.Validate(); err != nil {
			return types.WrapError(types.CodeInvalidArgument, err, "invalid key in commit")
		}
		keyStr := op.Key.String()
		if _, dup := seen[keyStr]; dup {
			return types.NewError(types.CodeInvalidArgument, "duplicate operation for key %s", op.Key)
		}
		seen[keyStr] = struct{}{}
		switch op.Kind {
		case types.OpPut:
			if op.Content == nil && op.Payload.IsZero() {
				return types.NewError(types.CodeInvalidArgument, "put for key %s carries no content", op.Key)
			}
		case types.OpDelete, types.OpUnchanged:
		default:
			return types.NewError(types.CodeInvalidArgument, "unknown operation kind %q for key %s", op.Kind, op.Key)
		}
	}
	return nil
}

// prepareOperations assigns a fresh content id to every put whose content
// arrived without one. The affected contents are cloned, so the caller's
// values stay untouched and every retry of the swap loop reuses the same
// ids.
func prepareOperations(ops []types.Operation) ([]types.Operation, map[string]string) {
	out := make([]types.Operation, len(ops))
	added := make(map[string]string)
	for i, op := range ops {
		if op.Kind == types.OpPut && op.Content != nil && op.Content.ContentID == "" {
			content := *op.Content
			content.ContentID = uuid.NewString()
			op.Content = &content
			added[op.Key.String()] = content.ContentID
		}
		out[i] = op
	}
	return out, added
}

// checkRequirements evaluates every keyed requirement, explicit and inline,
// against the branch head and returns the violations. Keys are checked in
// sorted order so the aggregate error is deterministic.
func (s *Store) checkRequirements(ctx context.Context, head types.ID, params *CommitParams) ([]types.Conflict, error) {
	type assertion struct {
		key types.Key
		req Requirement
	}
	asserts := make([]assertion, 0, len(params.Requirements))
	for keyStr, req := range params.Requirements {
		key, err := types.ParseKey(keyStr)
		if err != nil {
			return nil, types.WrapError(types.CodeInvalidArgument, err, "invalid requirement key %q", keyStr)
		}
		asserts = append(asserts, assertion{key: key, req: req})
	}
	for _, op := range params.Operations {
		if op.Kind != types.OpUnchanged {
			continue
		}
		req := Requirement{Kind: HeadMatches, Payload: op.Payload, ContentID: op.ContentID}
		if op.Payload.IsZero() && op.ContentID == "" {
			req = Requirement{Kind: MustExist}
		}
		asserts = append(asserts, assertion{key: op.Key, req: req})
	}
	if len(asserts) == 0 {
		return nil, nil
	}
	sort.Slice(asserts, func(i, j int) bool { return asserts[i].key.Compare(asserts[j].key) < 0 })

	var commit *types.Commit
	if !head.IsZero() {
		c, err := s.dag.Fetch(ctx, head)
		if err != nil {
			return nil, s.coded(err, "commit %s", head)
		}
		commit = c
	}

	var conflicts []types.Conflict
	for _, a := range asserts {
		var entry *index.Entry
		if commit != nil {
			e, err := s.dag.ValueAt(ctx, commit, a.key)
			if err != nil {
				return nil, s.coded(err, "lookup of key %s at %s", a.key, head)
			}
			entry = e
		}
		switch a.req.Kind {
		case MustNotExist:
			if entry != nil {
				conflicts = append(conflicts, types.Conflict{
					Key:     a.key,
					Kind:    types.ConflictKeyExists,
					Message: fmt.Sprintf("key %s already exists", a.key),
				})
			}
		case MustExist:
			if entry == nil {
				conflicts = append(conflicts, types.Conflict{
					Key:     a.key,
					Kind:    types.ConflictKeyDoesNotExist,
					Message: fmt.Sprintf("key %s does not exist", a.key),
				})
			}
		case HeadMatches:
			switch {
			case entry == nil:
				conflicts = append(conflicts, types.Conflict{
					Key:     a.key,
					Kind:    types.ConflictKeyDoesNotExist,
					Message: fmt.Sprintf("key %s does not exist", a.key),
				})
			case !a.req.Payload.IsZero() && entry.Payload != a.req.Payload:
				conflicts = append(conflicts, types.Conflict{
					Key:     a.key,
					Kind:    types.ConflictPayloadDiffers,
					Message: fmt.Sprintf("payload for key %s is %s, expected %s", a.key, entry.Payload, a.req.Payload),
				})
			case a.req.ContentID != "" && entry.ContentID != a.req.ContentID:
				conflicts = append(conflicts, types.Conflict{
					Key:     a.key,
					Kind:    types.ConflictValueDiffers,
					Message: fmt.Sprintf("content id for key %s is %s, expected %s", a.key, entry.ContentID, a.req.ContentID),
				})
			}
		default:
			return nil, types.NewError(types.CodeInvalidArgument,
				"unknown requirement kind %q for key %s", a.req.Kind, a.key)
		}
	}
	return conflicts, nil
}
