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

// MergeStrategy decides what happens to a key modified on both sides of a
// merge relative to the common ancestor.
type MergeStrategy string

const (
	// MergeNormal fails the merge with an aggregated ContentConflict.
	MergeNormal MergeStrategy = "NORMAL"
	// MergeForce takes the source change without conflict detection.
	MergeForce MergeStrategy = "FORCE"
	// MergeDropOnConflict keeps the target value and reports the key in
	// the result's conflict list.
	MergeDropOnConflict MergeStrategy = "DROP_ON_CONFLICT"
	// MergePreferSource takes the source change silently.
	MergePreferSource MergeStrategy = "PREFER_SOURCE"
	// MergePreferTarget keeps the target value silently.
	MergePreferTarget MergeStrategy = "PREFER_TARGET"
)

func validStrategy(st MergeStrategy) bool {
	switch st {
	case MergeNormal, MergeForce, MergeDropOnConflict, MergePreferSource, MergePreferTarget:
		return true
	default:
		return false
	}
}

// MergeParams describes a three-way merge of From into IntoBranch.
// KeyStrategies overrides the default strategy per dotted key string.
type MergeParams struct {
	From            RefSpec
	IntoBranch      string
	ExpectedHead    *types.ID
	Author          string
	Message         string
	DefaultStrategy MergeStrategy
	KeyStrategies   map[string]MergeStrategy
	DryRun          bool
	Metadata        map[string]string
}

func (p *MergeParams) strategyFor(key string) MergeStrategy {
	if st, ok := p.KeyStrategies[key]; ok {
		return st
	}
	if p.DefaultStrategy != "" {
		return p.DefaultStrategy
	}
	return MergeNormal
}

func (p *MergeParams) validateStrategies() error {
	if p.DefaultStrategy != "" && !validStrategy(p.DefaultStrategy) {
		return types.NewError(types.CodeInvalidArgument, "unknown merge strategy %q", p.DefaultStrategy)
	}
	for key, st := range p.KeyStrategies {
		if !validStrategy(st) {
			return types.NewError(types.CodeInvalidArgument, "unknown merge strategy %q for key %s", st, key)
		}
	}
	return nil
}

// MergeResult reports the outcome of a merge. Unchanged means the source
// was already reachable from the target and nothing moved. Conflicts lists
// dropped keys on success and, for a dry run, every conflict the merge
// would hit.
type MergeResult struct {
	Head         types.ID
	Commit       *types.Commit
	Unchanged    bool
	EffectiveOps []types.Operation
	Conflicts    []types.Conflict
}

// Merge folds the changes between the common ancestor and From into
// IntoBranch as a single commit with both heads as parents. A source that
// is already an ancestor of the target is a no-op success. Merging into a
// branch without commits adopts the source head directly.
func (s *Store) Merge(ctx context.Context, params MergeParams) (*MergeResult, error) {
	if params.IntoBranch == "" {
		return nil, types.NewError(types.CodeInvalidArgument, "empty branch name")
	}
	if err := params.validateStrategies(); err != nil {
		return nil, err
	}

	for attempt := 0; attempt < s.cfg.MaxCommitRetries; attempt++ {
		ref, err := s.refs.Get(ctx, params.IntoBranch)
		if err != nil {
			return nil, s.coded(err, "reference %q", params.IntoBranch)
		}
		if ref.Kind != types.RefKindBranch {
			return nil, types.NewError(types.CodeInvalidArgument, "cannot merge into %s %q", ref.Kind, ref.Name)
		}
		targetHead := ref.Head
		if params.ExpectedHead != nil && *params.ExpectedHead != targetHead {
			metrics.MergesTotal.WithLabelValues("merge", "conflict").Inc()
			return nil, types.NewError(types.CodeReferenceConflict,
				"branch %q is at %s, expected %s", params.IntoBranch, hexOrEmpty(targetHead), hexOrEmpty(*params.ExpectedHead)).
				WithReason("EXPECTED_HEAD")
		}

		source, err := s.Resolve(ctx, params.From)
		if err != nil {
			return nil, err
		}
		if source.Hash.IsZero() {
			return nil, types.NewError(types.CodeInvalidArgument, "source %s has no commits", params.From)
		}
		if source.Hash == targetHead {
			return s.mergeUnchanged(params, targetHead), nil
		}

		if targetHead.IsZero() {
			result, retry, err := s.mergeIntoEmpty(ctx, &params, source.Hash)
			if err != nil {
				return nil, err
			}
			if retry {
				continue
			}
			return result, nil
		}

		lca, err := s.dag.MergeBase(ctx, targetHead, source.Hash)
		if err != nil {
			return nil, s.coded(err, "merge base of %s and %s", targetHead, source.Hash)
		}
		if lca == source.Hash {
			return s.mergeUnchanged(params, targetHead), nil
		}
		if lca.IsZero() {
			return nil, types.NewError(types.CodeInvalidArgument,
				"%s and %q share no history", params.From, params.IntoBranch).
				WithReason("NO_COMMON_ANCESTOR")
		}

		lcaRoot, err := s.rootOf(ctx, lca)
		if err != nil {
			return nil, err
		}
		srcRoot, err := s.rootOf(ctx, source.Hash)
		if err != nil {
			return nil, err
		}
		tgtRoot, err := s.rootOf(ctx, targetHead)
		if err != nil {
			return nil, err
		}
		srcChanges, err := s.changesBetween(ctx, lcaRoot, srcRoot)
		if err != nil {
			return nil, err
		}
		tgtChanges, err := s.changesBetween(ctx, lcaRoot, tgtRoot)
		if err != nil {
			return nil, err
		}

		var ops []types.Operation
		var dropped, failures []types.Conflict
		for _, key := range sortedChangeKeys(srcChanges) {
			src := srcChanges[key]
			var tgt *types.Operation
			if t, ok := tgtChanges[key]; ok {
				tgt = &t
			}
			strategy := params.strategyFor(key)
			apply, conflict := resolveKey(src, tgt, strategy)
			if apply {
				ops = append(ops, src)
			}
			if conflict != nil {
				if strategy == MergeDropOnConflict {
					dropped = append(dropped, *conflict)
				} else {
					failures = append(failures, *conflict)
				}
			}
		}

		if params.DryRun {
			conflicts := append(failures, dropped...)
			sort.Slice(conflicts, func(i, j int) bool { return conflicts[i].Key.Compare(conflicts[j].Key) < 0 })
			return &MergeResult{Head: targetHead, EffectiveOps: ops, Conflicts: conflicts}, nil
		}
		if len(failures) > 0 {
			metrics.MergesTotal.WithLabelValues("merge", "conflict").Inc()
			metrics.ConflictsDetected.Add(float64(len(failures)))
			return nil, types.NewError(types.CodeContentConflict,
				"merge of %s into %q conflicts on %d key(s)", params.From, params.IntoBranch, len(failures)).
				WithConflicts(failures...)
		}

		// Even with nothing left to apply the merge commit is written, so
		// the joined history feeds later merge-base computations.
		commit, err := s.dag.Write(ctx, dag.WriteRequest{
			Parents:    []types.ID{targetHead, source.Hash},
			Author:     params.Author,
			Committer:  params.Author,
			Message:    mergeMessage(&params),
			CommitTime: s.clock.Now().UTC(),
			Operations: ops,
			Metadata:   params.Metadata,
		})
		if err != nil {
			return nil, s.coded(err, "merge commit on %q", params.IntoBranch)
		}

		if _, err := s.refs.Update(ctx, params.IntoBranch, targetHead, commit.ID); err != nil {
			if errors.Is(err, storage.ErrCasMismatch) {
				metrics.CommitRetries.Inc()
				continue
			}
			return nil, s.coded(err, "reference %q", params.IntoBranch)
		}

		metrics.MergesTotal.WithLabelValues("merge", "success").Inc()
		s.logger.Info().
			Str("branch", params.IntoBranch).
			Str("source", params.From.String()).
			Str("hash", commit.ID.String()).
			Int("operations", len(ops)).
			Int("dropped", len(dropped)).
			Msg("Merge applied")
		s.publish(&events.Event{
			Type:         events.EventMerge,
			Ref:          params.IntoBranch,
			Hash:         commit.ID.String(),
			PreviousHash: hexOrEmpty(targetHead),
			Keys:         keysOf(ops),
		})
		return &MergeResult{Head: commit.ID, Commit: commit, EffectiveOps: ops, Conflicts: dropped}, nil
	}

	metrics.MergesTotal.WithLabelValues("merge", "conflict").Inc()
	return nil, types.NewError(types.CodeReferenceConflict,
		"merge into %q lost %d head races, giving up", params.IntoBranch, s.cfg.MaxCommitRetries).
		WithReason("RETRY_EXHAUSTED")
}

func (s *Store) mergeUnchanged(params MergeParams, head types.ID) *MergeResult {
	metrics.MergesTotal.WithLabelValues("merge", "noop").Inc()
	s.logger.Debug().
		Str("branch", params.IntoBranch).
		Str("source", params.From.String()).
		Msg("Merge source already reachable from target")
	return &MergeResult{Head: head, Unchanged: true}
}

// mergeIntoEmpty fast-forwards a branch without commits straight to the
// source head. The middle return asks the caller to restart after a lost
// swap.
func (s *Store) mergeIntoEmpty(ctx context.Context, params *MergeParams, sourceHash types.ID) (*MergeResult, bool, error) {
	srcRoot, err := s.rootOf(ctx, sourceHash)
	if err != nil {
		return nil, false, err
	}
	changes, err := s.changesBetween(ctx, types.ID{}, srcRoot)
	if err != nil {
		return nil, false, err
	}
	ops := make([]types.Operation, 0, len(changes))
	for _, key := range sortedChangeKeys(changes) {
		ops = append(ops, changes[key])
	}
	if params.DryRun {
		return &MergeResult{Head: types.ID{}, EffectiveOps: ops}, false, nil
	}
	if _, err := s.refs.Update(ctx, params.IntoBranch, types.ID{}, sourceHash); err != nil {
		if errors.Is(err, storage.ErrCasMismatch) {
			metrics.CommitRetries.Inc()
			return nil, true, nil
		}
		return nil, false, s.coded(err, "reference %q", params.IntoBranch)
	}
	metrics.MergesTotal.WithLabelValues("merge", "success").Inc()
	s.logger.Info().
		Str("branch", params.IntoBranch).
		Str("hash", sourceHash.String()).
		Msg("Merge fast-forwarded empty branch")
	s.publish(&events.Event{
		Type: events.EventMerge,
		Ref:  params.IntoBranch,
		Hash: sourceHash.String(),
		Keys: keysOf(ops),
	})
	return &MergeResult{Head: sourceHash, EffectiveOps: ops}, false, nil
}

func mergeMessage(params *MergeParams) string {
	if params.Message != "" {
		return params.Message
	}
	return fmt.Sprintf("Merge %s into %s", params.From, params.IntoBranch)
}

// changesBetween expresses the index difference between two roots as a
// keyed set of sealed operations.
func (s *Store) changesBetween(ctx context.Context, fromRoot, toRoot types.ID) (map[string]types.Operation, error) {
	out := make(map[string]types.Operation)
	err := s.dag.Index().Diff(ctx, fromRoot, toRoot, func(d index.DiffEntry) error {
		if d.To == nil {
			out[d.Key.String()] = types.Operation{Kind: types.OpDelete, Key: d.Key}
			return nil
		}
		out[d.Key.String()] = types.Operation{
			Kind:        types.OpPut,
			Key:         d.Key,
			ContentID:   d.To.ContentID,
			ContentType: d.To.ContentType,
			Payload:     d.To.Payload,
		}
		return nil
	})
	if err != nil {
		return nil, s.coded(err, "diff of %s against %s", fromRoot, toRoot)
	}
	return out, nil
}

func sortedChangeKeys(changes map[string]types.Operation) []string {
	keys := make([]string, 0, len(changes))
	for key := range changes {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// sameOp reports whether two sealed operations produce the same state for
// their key.
func sameOp(a, b types.Operation) bool {
	if a.Kind != b.Kind {
		return false
	}
	if a.Kind == types.OpDelete {
		return true
	}
	return a.Payload == b.Payload && a.ContentID == b.ContentID
}

// resolveKey decides one source change against the concurrent target change
// for the same key. A nil conflict with apply=false means the change is
// already present on the target.
func resolveKey(src types.Operation, tgt *types.Operation, strategy MergeStrategy) (bool, *types.Conflict) {
	if tgt == nil {
		return true, nil
	}
	if sameOp(src, *tgt) {
		return false, nil
	}
	switch strategy {
	case MergeForce, MergePreferSource:
		return true, nil
	case MergePreferTarget:
		return false, nil
	default:
		return false, changeConflict(src, *tgt)
	}
}

func changeConflict(src, tgt types.Operation) *types.Conflict {
	if src.Kind == types.OpPut && tgt.Kind == types.OpPut && src.ContentType != tgt.ContentType {
		return &types.Conflict{
			Key:  src.Key,
			Kind: types.ConflictTypeDiffers,
			Message: fmt.Sprintf("key %s is %s on the source and %s on the target",
				src.Key, src.ContentType, tgt.ContentType),
		}
	}
	if src.Kind != tgt.Kind {
		return &types.Conflict{
			Key:     src.Key,
			Kind:    types.ConflictPayloadDiffers,
			Message: fmt.Sprintf("key %s deleted on one side and modified on the other", src.Key),
		}
	}
	return &types.Conflict{
		Key:     src.Key,
		Kind:    types.ConflictPayloadDiffers,
		Message: fmt.Sprintf("key %s modified on both sides", src.Key),
	}
}
