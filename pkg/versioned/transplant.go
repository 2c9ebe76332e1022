package versioned

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/tarnlabs/tarn/pkg/dag"
	"github.com/tarnlabs/tarn/pkg/events"
	"github.com/tarnlabs/tarn/pkg/index"
	"github.com/tarnlabs/tarn/pkg/metrics"
	"github.com/tarnlabs/tarn/pkg/storage"
	"github.com/tarnlabs/tarn/pkg/types"
)

// TransplantParams describes a cherry-pick of source commits, oldest first,
// onto IntoBranch. Squash collapses all picked changes into one commit;
// otherwise each source commit is replayed as its own commit, keeping its
// message, author and metadata.
type TransplantParams struct {
	Commits         []types.ID
	IntoBranch      string
	ExpectedHead    *types.ID
	Author          string
	Message         string
	DefaultStrategy MergeStrategy
	KeyStrategies   map[string]MergeStrategy
	Squash          bool
	DryRun          bool
	Metadata        map[string]string
}

func (p *TransplantParams) strategyFor(key string) MergeStrategy {
	if st, ok := p.KeyStrategies[key]; ok {
		return st
	}
	if p.DefaultStrategy != "" {
		return p.DefaultStrategy
	}
	return MergeNormal
}

// TransplantResult reports the outcome. Commits lists the synthesized
// commits, newest last; it is empty for squashless no-ops and dry runs.
type TransplantResult struct {
	Head         types.ID
	Commits      []*types.Commit
	Unchanged    bool
	EffectiveOps []types.Operation
	Conflicts    []types.Conflict
}

// Transplant replays the given source commits onto a branch. A key changes
// cleanly when the target still holds the value the source commit's parent
// held, or already holds the picked value; anything else is resolved by the
// configured strategy, with the same rules as Merge. The branch head moves
// once, after the whole chain is built, so the transplant becomes visible
// atomically.
func (s *Store) Transplant(ctx context.Context, params TransplantParams) (*TransplantResult, error) {
	if params.IntoBranch == "" {
		return nil, types.NewError(types.CodeInvalidArgument, "empty branch name")
	}
	if len(params.Commits) == 0 {
		return nil, types.NewError(types.CodeInvalidArgument, "no source commits to transplant")
	}
	mp := MergeParams{DefaultStrategy: params.DefaultStrategy, KeyStrategies: params.KeyStrategies}
	if err := mp.validateStrategies(); err != nil {
		return nil, err
	}

	sources, err := s.dag.FetchMany(ctx, params.Commits)
	if err != nil {
		return nil, s.coded(err, "source commits")
	}
	for i, c := range sources {
		if c == nil {
			return nil, types.NewError(types.CodeNotFound, "source commit %s not found", params.Commits[i])
		}
	}

	for attempt := 0; attempt < s.cfg.MaxCommitRetries; attempt++ {
		ref, err := s.refs.Get(ctx, params.IntoBranch)
		if err != nil {
			return nil, s.coded(err, "reference %q", params.IntoBranch)
		}
		if ref.Kind != types.RefKindBranch {
			return nil, types.NewError(types.CodeInvalidArgument, "cannot transplant onto %s %q", ref.Kind, ref.Name)
		}
		targetHead := ref.Head
		if params.ExpectedHead != nil && *params.ExpectedHead != targetHead {
			metrics.MergesTotal.WithLabelValues("transplant", "conflict").Inc()
			return nil, types.NewError(types.CodeReferenceConflict,
				"branch %q is at %s, expected %s", params.IntoBranch, hexOrEmpty(targetHead), hexOrEmpty(*params.ExpectedHead)).
				WithReason("EXPECTED_HEAD")
		}

		var targetCommit *types.Commit
		if !targetHead.IsZero() {
			targetCommit, err = s.dag.Fetch(ctx, targetHead)
			if err != nil {
				return nil, s.coded(err, "commit %s", targetHead)
			}
		}

		// Effective target state per key is the branch head overlaid with
		// the ops applied by earlier steps of this transplant.
		overlay := make(map[string]*index.Entry)
		var applied []types.Operation
		var created []*types.Commit
		var dropped, conflicts []types.Conflict
		tip := targetHead

		for _, source := range sources {
			base, err := s.stepBase(ctx, source)
			if err != nil {
				return nil, err
			}

			var stepOps []types.Operation
			var stepFailures []types.Conflict
			for _, op := range source.Operations {
				if op.Kind == types.OpUnchanged {
					continue
				}
				keyStr := op.Key.String()

				baseEntry, err := s.entryAt(ctx, base, op.Key)
				if err != nil {
					return nil, err
				}
				effEntry, overlaid := overlay[keyStr]
				if !overlaid {
					effEntry, err = s.entryAt(ctx, targetCommit, op.Key)
					if err != nil {
						return nil, err
					}
				}

				picked := entryOf(op)
				switch {
				case entriesEqual(effEntry, baseEntry):
					stepOps = append(stepOps, op)
				case entriesEqual(effEntry, picked):
					// target already holds the picked value
				default:
					strategy := params.strategyFor(keyStr)
					conflict := changeConflict(op, opOf(op.Key, effEntry))
					switch strategy {
					case MergeForce, MergePreferSource:
						stepOps = append(stepOps, op)
					case MergePreferTarget:
					case MergeDropOnConflict:
						dropped = append(dropped, *conflict)
					default:
						stepFailures = append(stepFailures, *conflict)
					}
				}
			}

			if len(stepFailures) > 0 {
				if params.DryRun {
					conflicts = append(conflicts, stepFailures...)
					continue
				}
				metrics.MergesTotal.WithLabelValues("transplant", "conflict").Inc()
				metrics.ConflictsDetected.Add(float64(len(stepFailures)))
				return nil, types.NewError(types.CodeContentConflict,
					"transplant of %s onto %q conflicts on %d key(s)", source.ID, params.IntoBranch, len(stepFailures)).
					WithConflicts(stepFailures...)
			}
			if len(stepOps) == 0 {
				continue
			}

			for _, op := range stepOps {
				overlay[op.Key.String()] = entryOf(op)
			}
			applied = append(applied, stepOps...)

			if params.Squash || params.DryRun {
				continue
			}
			commit, err := s.writeStep(ctx, &params, source, tip, stepOps)
			if err != nil {
				return nil, err
			}
			created = append(created, commit)
			tip = commit.ID
		}

		if params.DryRun {
			conflicts = append(conflicts, dropped...)
			sort.Slice(conflicts, func(i, j int) bool { return conflicts[i].Key.Compare(conflicts[j].Key) < 0 })
			return &TransplantResult{Head: targetHead, EffectiveOps: applied, Conflicts: conflicts}, nil
		}
		if len(applied) == 0 {
			metrics.MergesTotal.WithLabelValues("transplant", "noop").Inc()
			s.logger.Debug().
				Str("branch", params.IntoBranch).
				Int("commits", len(sources)).
				Msg("Transplant found nothing left to apply")
			return &TransplantResult{Head: targetHead, Unchanged: true, Conflicts: dropped}, nil
		}

		if params.Squash {
			ops := squashOps(applied)
			commit, err := s.writeSquash(ctx, &params, targetHead, ops)
			if err != nil {
				return nil, err
			}
			created = []*types.Commit{commit}
			applied = ops
			tip = commit.ID
		}

		if _, err := s.refs.Update(ctx, params.IntoBranch, targetHead, tip); err != nil {
			if errors.Is(err, storage.ErrCasMismatch) {
				metrics.CommitRetries.Inc()
				continue
			}
			return nil, s.coded(err, "reference %q", params.IntoBranch)
		}

		metrics.MergesTotal.WithLabelValues("transplant", "success").Inc()
		s.logger.Info().
			Str("branch", params.IntoBranch).
			Str("hash", tip.String()).
			Int("commits", len(created)).
			Int("operations", len(applied)).
			Msg("Transplant applied")
		s.publish(&events.Event{
			Type:         events.EventTransplant,
			Ref:          params.IntoBranch,
			Hash:         tip.String(),
			PreviousHash: hexOrEmpty(targetHead),
			Keys:         keysOf(applied),
		})
		return &TransplantResult{Head: tip, Commits: created, EffectiveOps: applied, Conflicts: dropped}, nil
	}

	metrics.MergesTotal.WithLabelValues("transplant", "conflict").Inc()
	return nil, types.NewError(types.CodeReferenceConflict,
		"transplant onto %q lost %d head races, giving up", params.IntoBranch, s.cfg.MaxCommitRetries).
		WithReason("RETRY_EXHAUSTED")
}

// stepBase loads the first parent of a source commit, nil for a root commit.
func (s *Store) stepBase(ctx context.Context, source *types.Commit) (*types.Commit, error) {
	parent := source.ParentID()
	if parent.IsZero() {
		return nil, nil
	}
	base, err := s.dag.Fetch(ctx, parent)
	if err != nil {
		return nil, s.coded(err, "commit %s", parent)
	}
	return base, nil
}

func (s *Store) entryAt(ctx context.Context, commit *types.Commit, key types.Key) (*index.Entry, error) {
	if commit == nil {
		return nil, nil
	}
	entry, err := s.dag.ValueAt(ctx, commit, key)
	if err != nil {
		return nil, s.coded(err, "lookup of key %s at %s", key, commit.ID)
	}
	return entry, nil
}

func (s *Store) writeStep(ctx context.Context, params *TransplantParams, source *types.Commit, tip types.ID, ops []types.Operation) (*types.Commit, error) {
	var parents []types.ID
	if !tip.IsZero() {
		parents = []types.ID{tip}
	}
	author := source.Author
	if author == "" {
		author = params.Author
	}
	commit, err := s.dag.Write(ctx, dag.WriteRequest{
		Parents:    parents,
		Author:     author,
		Committer:  params.Author,
		Message:    source.Message,
		CommitTime: s.clock.Now().UTC(),
		Operations: ops,
		Metadata:   source.Metadata,
	})
	if err != nil {
		return nil, s.coded(err, "transplant of %s onto %q", source.ID, params.IntoBranch)
	}
	return commit, nil
}

func (s *Store) writeSquash(ctx context.Context, params *TransplantParams, head types.ID, ops []types.Operation) (*types.Commit, error) {
	var parents []types.ID
	if !head.IsZero() {
		parents = []types.ID{head}
	}
	message := params.Message
	if message == "" {
		message = fmt.Sprintf("Transplant %d commit(s) onto %s", len(params.Commits), params.IntoBranch)
	}
	commit, err := s.dag.Write(ctx, dag.WriteRequest{
		Parents:    parents,
		Author:     params.Author,
		Committer:  params.Author,
		Message:    message,
		CommitTime: s.clock.Now().UTC(),
		Operations: ops,
		Metadata:   params.Metadata,
	})
	if err != nil {
		return nil, s.coded(err, "transplant onto %q", params.IntoBranch)
	}
	return commit, nil
}

// squashOps keeps the last applied operation per key, sorted by key.
func squashOps(applied []types.Operation) []types.Operation {
	last := make(map[string]types.Operation, len(applied))
	for _, op := range applied {
		last[op.Key.String()] = op
	}
	keys := make([]string, 0, len(last))
	for key := range last {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]types.Operation, 0, len(last))
	for _, key := range keys {
		out = append(out, last[key])
	}
	return out
}

// entryOf converts a sealed operation into the index entry it produces,
// nil for a delete.
func entryOf(op types.Operation) *index.Entry {
	if op.Kind != types.OpPut {
		return nil
	}
	return &index.Entry{
		Key:         op.Key,
		ContentID:   op.ContentID,
		ContentType: op.ContentType,
		Payload:     op.Payload,
	}
}

// opOf is the inverse of entryOf, keyed explicitly since a nil entry has no
// key of its own.
func opOf(key types.Key, entry *index.Entry) types.Operation {
	if entry == nil {
		return types.Operation{Kind: types.OpDelete, Key: key}
	}
	return types.Operation{
		Kind:        types.OpPut,
		Key:         key,
		ContentID:   entry.ContentID,
		ContentType: entry.ContentType,
		Payload:     entry.Payload,
	}
}

func entriesEqual(a, b *index.Entry) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Payload == b.Payload && a.ContentID == b.ContentID
}
