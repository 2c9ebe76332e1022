package versioned

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarnlabs/tarn/pkg/events"
	"github.com/tarnlabs/tarn/pkg/storage"
	"github.com/tarnlabs/tarn/pkg/types"
)

func TestCommitAssignsContentIDs(t *testing.T) {
	s := newTestStore(t, Config{})
	ctx := context.Background()
	key := types.NewKey("sales", "orders")

	res := mustCommit(t, s, "main", "create sales.orders", types.Put(key, tableContent("orders", 1)))
	require.NotNil(t, res.Commit)
	assert.EqualValues(t, 0, res.Commit.Seq)

	contentID, ok := res.AddedContents["sales.orders"]
	require.True(t, ok)
	assert.NotEmpty(t, contentID)

	content, _, err := s.GetContent(ctx, RefSpec{Name: "main"}, key)
	require.NoError(t, err)
	assert.Equal(t, contentID, content.ContentID)

	ref, err := s.GetReference(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, res.Commit.ID, ref.Head)
	assert.Equal(t, res.Ref.Head, ref.Head)
}

func TestCommitKeepsExistingContentID(t *testing.T) {
	s := newTestStore(t, Config{})
	ctx := context.Background()
	key := types.NewKey("db", "t1")

	first := mustCommit(t, s, "main", "create", types.Put(key, tableContent("t1", 1)))
	assigned := first.AddedContents["db.t1"]

	second := mustCommit(t, s, "main", "update",
		types.Put(key, tableContentWithID(assigned, "t1", 2)))
	assert.Empty(t, second.AddedContents)

	content, _, err := s.GetContent(ctx, RefSpec{Name: "main"}, key)
	require.NoError(t, err)
	assert.Equal(t, assigned, content.ContentID)
	assert.EqualValues(t, 2, content.SnapshotID)
}

func TestCommitDoesNotMutateCallerContent(t *testing.T) {
	s := newTestStore(t, Config{})
	content := tableContent("t1", 1)
	mustCommit(t, s, "main", "create", types.Put(types.NewKey("db", "t1"), content))
	assert.Empty(t, content.ContentID)
}

func TestCommitExpectedHead(t *testing.T) {
	s := newTestStore(t, Config{})
	ctx := context.Background()

	first := mustCommit(t, s, "main", "one", types.Put(types.NewKey("db", "t1"), tableContent("t1", 1)))
	mustCommit(t, s, "main", "two", types.Put(types.NewKey("db", "t2"), tableContent("t2", 1)))

	stale := first.Commit.ID
	_, err := s.Commit(ctx, CommitParams{
		Branch:       "main",
		ExpectedHead: &stale,
		Author:       "tests@tarn.dev",
		Message:      "stale",
		Operations:   []types.Operation{types.Put(types.NewKey("db", "t3"), tableContent("t3", 1))},
	})
	require.Error(t, err)
	assert.True(t, types.IsReferenceConflict(err))

	ref, err := s.GetReference(ctx, "main")
	require.NoError(t, err)
	head := ref.Head
	_, err = s.Commit(ctx, CommitParams{
		Branch:       "main",
		ExpectedHead: &head,
		Author:       "tests@tarn.dev",
		Message:      "current",
		Operations:   []types.Operation{types.Put(types.NewKey("db", "t3"), tableContent("t3", 1))},
	})
	require.NoError(t, err)
}

func TestCommitRequirementViolationsAggregate(t *testing.T) {
	s := newTestStore(t, Config{})
	ctx := context.Background()
	mustCommit(t, s, "main", "seed", types.Put(types.NewKey("db", "t1"), tableContent("t1", 1)))

	_, err := s.Commit(ctx, CommitParams{
		Branch:  "main",
		Author:  "tests@tarn.dev",
		Message: "conflicting",
		Operations: []types.Operation{
			types.Put(types.NewKey("db", "t2"), tableContent("t2", 1)),
		},
		Requirements: map[string]Requirement{
			"db.t1":      {Kind: MustNotExist},
			"db.missing": {Kind: MustExist},
		},
	})
	require.Error(t, err)
	assert.True(t, types.IsContentConflict(err))

	conflicts := types.ConflictsOf(err)
	require.Len(t, conflicts, 2)
	assert.Equal(t, "db.missing", conflicts[0].Key.String())
	assert.Equal(t, types.ConflictKeyDoesNotExist, conflicts[0].Kind)
	assert.Equal(t, "db.t1", conflicts[1].Key.String())
	assert.Equal(t, types.ConflictKeyExists, conflicts[1].Kind)

	// the branch did not move
	log, err := s.CommitLog(ctx, RefSpec{Name: "main"}, "", 0)
	require.NoError(t, err)
	assert.Len(t, log.Commits, 1)
}

func TestCommitHeadMatchesRequirement(t *testing.T) {
	s := newTestStore(t, Config{})
	ctx := context.Background()
	key := types.NewKey("db", "t1")

	seed := mustCommit(t, s, "main", "seed", types.Put(key, tableContent("t1", 1)))
	sealed := seed.Commit.Operations[0]

	_, err := s.Commit(ctx, CommitParams{
		Branch:  "main",
		Author:  "tests@tarn.dev",
		Message: "guarded update",
		Operations: []types.Operation{
			types.Put(key, tableContentWithID(sealed.ContentID, "t1", 2)),
		},
		Requirements: map[string]Requirement{
			"db.t1": {Kind: HeadMatches, Payload: sealed.Payload},
		},
	})
	require.NoError(t, err)

	// the same expectation is stale now
	_, err = s.Commit(ctx, CommitParams{
		Branch:  "main",
		Author:  "tests@tarn.dev",
		Message: "replayed update",
		Operations: []types.Operation{
			types.Put(key, tableContentWithID(sealed.ContentID, "t1", 3)),
		},
		Requirements: map[string]Requirement{
			"db.t1": {Kind: HeadMatches, Payload: sealed.Payload},
		},
	})
	require.Error(t, err)
	assert.True(t, types.IsContentConflict(err))
	conflicts := types.ConflictsOf(err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, types.ConflictPayloadDiffers, conflicts[0].Kind)
}

func TestCommitUnchangedAssertion(t *testing.T) {
	s := newTestStore(t, Config{})
	ctx := context.Background()
	t1 := types.NewKey("db", "t1")

	seed := mustCommit(t, s, "main", "seed", types.Put(t1, tableContent("t1", 1)))
	sealed := seed.Commit.Operations[0]

	// asserting t1 untouched while writing t2 passes
	_, err := s.Commit(ctx, CommitParams{
		Branch:  "main",
		Author:  "tests@tarn.dev",
		Message: "write t2",
		Operations: []types.Operation{
			types.Put(types.NewKey("db", "t2"), tableContent("t2", 1)),
			{Kind: types.OpUnchanged, Key: t1, ContentID: sealed.ContentID, Payload: sealed.Payload},
		},
	})
	require.NoError(t, err)

	// a bare assertion demands existence only
	_, err = s.Commit(ctx, CommitParams{
		Branch:  "main",
		Author:  "tests@tarn.dev",
		Message: "write t3",
		Operations: []types.Operation{
			types.Put(types.NewKey("db", "t3"), tableContent("t3", 1)),
			types.Unchanged(t1),
		},
	})
	require.NoError(t, err)

	// a wrong content id is a value conflict
	_, err = s.Commit(ctx, CommitParams{
		Branch:  "main",
		Author:  "tests@tarn.dev",
		Message: "write t4",
		Operations: []types.Operation{
			types.Put(types.NewKey("db", "t4"), tableContent("t4", 1)),
			{Kind: types.OpUnchanged, Key: t1, ContentID: "someone-elses-id"},
		},
	})
	require.Error(t, err)
	conflicts := types.ConflictsOf(err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, types.ConflictValueDiffers, conflicts[0].Kind)
}

func TestCommitValidation(t *testing.T) {
	s := newTestStore(t, Config{})
	ctx := context.Background()
	seed := mustCommit(t, s, "main", "seed", types.Put(types.NewKey("db", "t1"), tableContent("t1", 1)))
	_, err := s.CreateTag(ctx, "v1", seed.Commit.ID)
	require.NoError(t, err)

	key := types.NewKey("db", "t2")
	put := types.Put(key, tableContent("t2", 1))
	tests := []struct {
		name     string
		params   CommitParams
		wantCode types.ErrorCode
	}{
		{
			name:     "empty branch",
			params:   CommitParams{Operations: []types.Operation{put}},
			wantCode: types.CodeInvalidArgument,
		},
		{
			name:     "duplicate key",
			params:   CommitParams{Branch: "main", Operations: []types.Operation{put, types.Delete(key)}},
			wantCode: types.CodeInvalidArgument,
		},
		{
			name:     "no operations",
			params:   CommitParams{Branch: "main"},
			wantCode: types.CodeInvalidArgument,
		},
		{
			name:     "assertions only",
			params:   CommitParams{Branch: "main", Operations: []types.Operation{types.Unchanged(types.NewKey("db", "t1"))}},
			wantCode: types.CodeInvalidArgument,
		},
		{
			name:     "put without content",
			params:   CommitParams{Branch: "main", Operations: []types.Operation{{Kind: types.OpPut, Key: key}}},
			wantCode: types.CodeInvalidArgument,
		},
		{
			name:     "unknown branch",
			params:   CommitParams{Branch: "ghost", Operations: []types.Operation{put}},
			wantCode: types.CodeNotFound,
		},
		{
			name:     "commit to tag",
			params:   CommitParams{Branch: "v1", Operations: []types.Operation{put}},
			wantCode: types.CodeInvalidArgument,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.params.Author = "tests@tarn.dev"
			tt.params.Message = tt.name
			_, err := s.Commit(ctx, tt.params)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, types.CodeOf(err), "got %v", err)
		})
	}
}

func TestCommitAllowEmpty(t *testing.T) {
	s := newTestStore(t, Config{AllowEmptyCommit: true})

	first := mustCommit(t, s, "main", "checkpoint")
	assert.Empty(t, first.Commit.Operations)

	second := mustCommit(t, s, "main", "another checkpoint")
	assert.EqualValues(t, 1, second.Commit.Seq)
	assert.Equal(t, first.Commit.ID, second.Commit.ParentID())
}

// flakyCAS fails reference swaps until the armed budget is spent, standing
// in for concurrent writers racing the branch head.
type flakyCAS struct {
	storage.Adapter
	armed int
	calls int
}

func (f *flakyCAS) CompareAndSwap(ctx context.Context, repo string, bucket storage.Bucket, id types.ID, expected, updated []byte) error {
	if bucket == storage.BucketRefs && f.armed > 0 {
		f.armed--
		f.calls++
		return storage.ErrCasMismatch
	}
	return f.Adapter.CompareAndSwap(ctx, repo, bucket, id, expected, updated)
}

func TestCommitRetriesLostSwap(t *testing.T) {
	flaky := &flakyCAS{Adapter: storage.NewMemory()}
	s, err := NewStore(flaky, "test-repo", Config{})
	require.NoError(t, err)
	ctx := context.Background()
	_, err = s.Initialize(ctx, nil)
	require.NoError(t, err)

	flaky.armed = 2
	res, err := s.Commit(ctx, CommitParams{
		Branch:     "main",
		Author:     "tests@tarn.dev",
		Message:    "survives two lost swaps",
		Operations: []types.Operation{types.Put(types.NewKey("db", "t1"), tableContent("t1", 1))},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, flaky.calls)

	ref, err := s.GetReference(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, res.Commit.ID, ref.Head)
}

func TestCommitRetryExhaustion(t *testing.T) {
	flaky := &flakyCAS{Adapter: storage.NewMemory()}
	s, err := NewStore(flaky, "test-repo", Config{MaxCommitRetries: 3})
	require.NoError(t, err)
	ctx := context.Background()
	_, err = s.Initialize(ctx, nil)
	require.NoError(t, err)

	flaky.armed = 100
	_, err = s.Commit(ctx, CommitParams{
		Branch:     "main",
		Author:     "tests@tarn.dev",
		Message:    "never lands",
		Operations: []types.Operation{types.Put(types.NewKey("db", "t1"), tableContent("t1", 1))},
	})
	require.Error(t, err)
	assert.True(t, types.IsReferenceConflict(err))
	assert.Equal(t, 3, flaky.calls)
}

func TestCommitPublishesEvent(t *testing.T) {
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	sub := broker.Subscribe()

	s, err := NewStore(storage.NewMemory(), "test-repo", Config{Events: broker})
	require.NoError(t, err)
	ctx := context.Background()
	_, err = s.Initialize(ctx, nil)
	require.NoError(t, err)

	created := waitEvent(t, sub)
	assert.Equal(t, events.EventRepoCreated, created.Type)
	assert.Equal(t, "test-repo", created.Repo)

	res := mustCommit(t, s, "main", "create", types.Put(types.NewKey("db", "t1"), tableContent("t1", 1)))

	committed := waitEvent(t, sub)
	assert.Equal(t, events.EventCommit, committed.Type)
	assert.Equal(t, "main", committed.Ref)
	assert.Equal(t, res.Commit.ID.String(), committed.Hash)
	assert.Empty(t, committed.PreviousHash)
	assert.Equal(t, []string{"db.t1"}, committed.Keys)
}

func waitEvent(t *testing.T, sub events.Subscriber) *events.Event {
	t.Helper()
	select {
	case ev := <-sub:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}
