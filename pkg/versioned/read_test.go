package versioned

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarnlabs/tarn/pkg/index"
	"github.com/tarnlabs/tarn/pkg/types"
)

func TestGetContentsIsReadConsistent(t *testing.T) {
	s := newTestStore(t, Config{})
	ctx := context.Background()
	mustCommit(t, s, "main", "t1", types.Put(types.NewKey("db", "t1"), tableContent("t1", 1)))
	head := mustCommit(t, s, "main", "t2", types.Put(types.NewKey("db", "t2"), tableContent("t2", 1)))

	res, err := s.GetContents(ctx, RefSpec{Name: "main"}, []types.Key{
		types.NewKey("db", "t1"),
		types.NewKey("db", "t2"),
		types.NewKey("db", "missing"),
	})
	require.NoError(t, err)
	assert.Equal(t, head.Commit.ID, res.Ref.Hash)
	assert.Len(t, res.Contents, 2)
	assert.Contains(t, res.Contents, "db.t1")
	assert.Contains(t, res.Contents, "db.t2")
	assert.NotContains(t, res.Contents, "db.missing")
}

func TestGetContentsOnEmptyBranch(t *testing.T) {
	s := newTestStore(t, Config{})
	ctx := context.Background()

	res, err := s.GetContents(ctx, RefSpec{Name: "main"}, []types.Key{types.NewKey("db", "t1")})
	require.NoError(t, err)
	assert.Empty(t, res.Contents)
	assert.True(t, res.Ref.Hash.IsZero())
}

func TestGetContentMisses(t *testing.T) {
	s := newTestStore(t, Config{})
	ctx := context.Background()

	_, _, err := s.GetContent(ctx, RefSpec{Name: "main"}, types.NewKey("db", "t1"))
	require.Error(t, err)
	assert.True(t, types.IsNotFound(err))

	mustCommit(t, s, "main", "seed", types.Put(types.NewKey("db", "t1"), tableContent("t1", 1)))
	_, _, err = s.GetContent(ctx, RefSpec{Name: "main"}, types.NewKey("db", "ghost"))
	require.Error(t, err)
	assert.True(t, types.IsNotFound(err))
}

func TestGetContentAtPin(t *testing.T) {
	s := newTestStore(t, Config{})
	ctx := context.Background()
	key := types.NewKey("db", "t1")

	first := mustCommit(t, s, "main", "rev 1", types.Put(key, tableContent("t1", 1)))
	contentID := first.AddedContents["db.t1"]
	mustCommit(t, s, "main", "rev 2", types.Put(key, tableContentWithID(contentID, "t1", 2)))

	content, resolved, err := s.GetContent(ctx, RefSpec{Name: "main", Hash: first.Commit.ID}, key)
	require.NoError(t, err)
	assert.EqualValues(t, 1, content.SnapshotID)
	assert.Equal(t, first.Commit.ID, resolved.Hash)
}

func TestCommitLogPagination(t *testing.T) {
	s := newTestStore(t, Config{})
	ctx := context.Background()
	var heads []types.ID
	for i := 1; i <= 5; i++ {
		res := mustCommit(t, s, "main", fmt.Sprintf("commit %d", i),
			types.Put(types.NewKey("db", fmt.Sprintf("t%d", i)), tableContent(fmt.Sprintf("t%d", i), 1)))
		heads = append(heads, res.Commit.ID)
	}

	var got []types.ID
	token := ""
	pages := 0
	for {
		page, err := s.CommitLog(ctx, RefSpec{Name: "main"}, token, 2)
		require.NoError(t, err)
		pages++
		for _, c := range page.Commits {
			got = append(got, c.ID)
		}
		if page.Next == "" {
			break
		}
		token = page.Next
	}
	assert.Equal(t, 3, pages)
	require.Len(t, got, 5)
	for i, id := range got {
		assert.Equal(t, heads[4-i], id, "log position %d", i)
	}
}

func TestCommitLogTokenSurvivesBranchMovement(t *testing.T) {
	s := newTestStore(t, Config{})
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		mustCommit(t, s, "main", fmt.Sprintf("commit %d", i),
			types.Put(types.NewKey("db", fmt.Sprintf("t%d", i)), tableContent(fmt.Sprintf("t%d", i), 1)))
	}

	first, err := s.CommitLog(ctx, RefSpec{Name: "main"}, "", 2)
	require.NoError(t, err)
	require.NotEmpty(t, first.Next)

	// the branch moves between pages
	mustCommit(t, s, "main", "late arrival", types.Put(types.NewKey("db", "t9"), tableContent("t9", 1)))

	second, err := s.CommitLog(ctx, RefSpec{Name: "main"}, first.Next, 2)
	require.NoError(t, err)
	require.Len(t, second.Commits, 1)
	assert.Equal(t, "commit 1", second.Commits[0].Message)
	assert.Empty(t, second.Next)
}

func TestEntriesPrefixAndPagination(t *testing.T) {
	s := newTestStore(t, Config{})
	ctx := context.Background()
	ops := []types.Operation{
		types.Put(types.NewKey("hr", "people"), tableContent("people", 1)),
		types.Put(types.NewKey("sales", "orders"), tableContent("orders", 1)),
		types.Put(types.NewKey("sales", "refunds"), tableContent("refunds", 1)),
		types.Put(types.NewKey("sales", "returns"), tableContent("returns", 1)),
	}
	mustCommit(t, s, "main", "seed", ops...)

	page, err := s.Entries(ctx, RefSpec{Name: "main"}, types.NewKey("sales"), "", 0)
	require.NoError(t, err)
	require.Len(t, page.Entries, 3)
	for _, e := range page.Entries {
		assert.True(t, e.Key.HasPrefix(types.NewKey("sales")), "key %s", e.Key)
	}
	assert.Empty(t, page.Next)

	var keys []string
	token := ""
	for {
		page, err := s.Entries(ctx, RefSpec{Name: "main"}, nil, token, 3)
		require.NoError(t, err)
		for _, e := range page.Entries {
			keys = append(keys, e.Key.String())
		}
		if page.Next == "" {
			break
		}
		token = page.Next
	}
	assert.Equal(t, []string{"hr.people", "sales.orders", "sales.refunds", "sales.returns"}, keys)
}

func TestEntriesTokenPinsTheCommit(t *testing.T) {
	s := newTestStore(t, Config{})
	ctx := context.Background()
	ops := make([]types.Operation, 0, 4)
	for i := 1; i <= 4; i++ {
		name := fmt.Sprintf("t%d", i)
		ops = append(ops, types.Put(types.NewKey("db", name), tableContent(name, 1)))
	}
	mustCommit(t, s, "main", "seed", ops...)

	first, err := s.Entries(ctx, RefSpec{Name: "main"}, nil, "", 2)
	require.NoError(t, err)
	require.Len(t, first.Entries, 2)
	require.NotEmpty(t, first.Next)

	// a new key lands between pages; the token keeps reading the old index
	mustCommit(t, s, "main", "late arrival", types.Put(types.NewKey("db", "t0"), tableContent("t0", 1)))

	second, err := s.Entries(ctx, RefSpec{Name: "main"}, nil, first.Next, 2)
	require.NoError(t, err)
	var keys []string
	for _, e := range append(first.Entries, second.Entries...) {
		keys = append(keys, e.Key.String())
	}
	assert.Equal(t, []string{"db.t1", "db.t2", "db.t3", "db.t4"}, keys)
	assert.Empty(t, second.Next)
}

func TestEntriesMalformedToken(t *testing.T) {
	s := newTestStore(t, Config{})
	ctx := context.Background()
	mustCommit(t, s, "main", "seed", types.Put(types.NewKey("db", "t1"), tableContent("t1", 1)))

	for _, token := range []string{"nonsense", "abc:0:0", "zz:zz:zz"} {
		_, err := s.Entries(ctx, RefSpec{Name: "main"}, nil, token, 2)
		require.Error(t, err, "token %q", token)
		assert.Equal(t, types.CodeInvalidArgument, types.CodeOf(err))
	}
}

func TestDiffBetweenSpecs(t *testing.T) {
	s := newTestStore(t, Config{})
	ctx := context.Background()
	key := types.NewKey("db", "t1")

	first := mustCommit(t, s, "main", "rev 1", types.Put(key, tableContent("t1", 1)))
	contentID := first.AddedContents["db.t1"]
	head := mustCommit(t, s, "main", "rev 2",
		types.Put(key, tableContentWithID(contentID, "t1", 2)),
		types.Put(types.NewKey("db", "t2"), tableContent("t2", 1)))

	var changed, added int
	fromRef, toRef, err := s.Diff(ctx,
		RefSpec{Name: "main", Hash: first.Commit.ID},
		RefSpec{Name: "main"},
		func(d index.DiffEntry) error {
			switch {
			case d.From != nil && d.To != nil:
				changed++
			case d.To != nil:
				added++
			}
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, 1, changed)
	assert.Equal(t, 1, added)
	assert.Equal(t, first.Commit.ID, fromRef.Hash)
	assert.Equal(t, head.Commit.ID, toRef.Hash)
}

func TestDiffAgainstEmptyBranch(t *testing.T) {
	s := newTestStore(t, Config{})
	ctx := context.Background()
	mustCommit(t, s, "main", "seed",
		types.Put(types.NewKey("db", "t1"), tableContent("t1", 1)),
		types.Put(types.NewKey("db", "t2"), tableContent("t2", 1)))
	_, err := s.CreateBranch(ctx, "empty", types.ID{})
	require.NoError(t, err)

	var adds int
	_, _, err = s.Diff(ctx, RefSpec{Name: "empty"}, RefSpec{Name: "main"}, func(d index.DiffEntry) error {
		require.Nil(t, d.From)
		adds++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, adds)
}
