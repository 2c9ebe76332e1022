package dag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarnlabs/tarn/pkg/types"
)

func TestMergeBaseLinear(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	c1 := writeCommit(t, s, nil, "one", tableOp("t1", 1))
	c2 := writeCommit(t, s, []types.ID{c1.ID}, "two", tableOp("t1", 2))
	c3 := writeCommit(t, s, []types.ID{c2.ID}, "three", tableOp("t1", 3))

	// The base of a commit and its descendant is the ancestor itself.
	base, err := s.MergeBase(ctx, c1.ID, c3.ID)
	require.NoError(t, err)
	assert.Equal(t, c1.ID, base)

	base, err = s.MergeBase(ctx, c3.ID, c1.ID)
	require.NoError(t, err)
	assert.Equal(t, c1.ID, base)

	base, err = s.MergeBase(ctx, c2.ID, c2.ID)
	require.NoError(t, err)
	assert.Equal(t, c2.ID, base)
}

func TestMergeBaseBranched(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	fork := writeCommit(t, s, nil, "fork point", tableOp("t1", 1))
	l1 := writeCommit(t, s, []types.ID{fork.ID}, "left 1", tableOp("t2", 1))
	l2 := writeCommit(t, s, []types.ID{l1.ID}, "left 2", tableOp("t2", 2))
	r1 := writeCommit(t, s, []types.ID{fork.ID}, "right 1", tableOp("t3", 1))

	base, err := s.MergeBase(ctx, l2.ID, r1.ID)
	require.NoError(t, err)
	assert.Equal(t, fork.ID, base)
}

func TestMergeBaseThroughMerge(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	fork := writeCommit(t, s, nil, "fork point", tableOp("t1", 1))
	left := writeCommit(t, s, []types.ID{fork.ID}, "left", tableOp("t2", 1))
	right := writeCommit(t, s, []types.ID{fork.ID}, "right", tableOp("t3", 1))
	merge := writeCommit(t, s, []types.ID{left.ID, right.ID}, "merge")
	after := writeCommit(t, s, []types.ID{right.ID}, "right moves on", tableOp("t3", 2))

	// right is reachable from the merge through its second parent.
	base, err := s.MergeBase(ctx, merge.ID, after.ID)
	require.NoError(t, err)
	assert.Equal(t, right.ID, base)
}

func TestMergeBaseDisjoint(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a := writeCommit(t, s, nil, "root a", tableOp("t1", 1))
	b := writeCommit(t, s, nil, "root b", tableOp("t2", 1))

	base, err := s.MergeBase(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.True(t, base.IsZero())
}

func TestMergeBaseZeroInput(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	c := writeCommit(t, s, nil, "one", tableOp("t1", 1))
	base, err := s.MergeBase(ctx, types.ID{}, c.ID)
	require.NoError(t, err)
	assert.True(t, base.IsZero())
}
