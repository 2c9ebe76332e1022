package index

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarnlabs/tarn/pkg/types"
)

func collectDiff(t *testing.T, ix *Index, from, to types.ID) []DiffEntry {
	t.Helper()
	var got []DiffEntry
	err := ix.Diff(context.Background(), from, to, func(d DiffEntry) error {
		got = append(got, d)
		return nil
	})
	require.NoError(t, err)
	return got
}

func TestDiffBasic(t *testing.T) {
	ctx := context.Background()
	ix, _ := newTestIndex(t)

	from, err := ix.Apply(ctx, types.ID{}, []types.Operation{
		put("a", 1), put("b", 1), put("c", 1),
	})
	require.NoError(t, err)
	to, err := ix.Apply(ctx, from, []types.Operation{
		del("a"), put("b", 2), put("d", 1),
	})
	require.NoError(t, err)

	got := collectDiff(t, ix, from, to)
	require.Len(t, got, 3)

	assert.Equal(t, "db.a", got[0].Key.String())
	assert.NotNil(t, got[0].From)
	assert.Nil(t, got[0].To)

	assert.Equal(t, "db.b", got[1].Key.String())
	require.NotNil(t, got[1].From)
	require.NotNil(t, got[1].To)
	assert.Equal(t, types.Hash("Content", []byte("b@1")), got[1].From.Payload)
	assert.Equal(t, types.Hash("Content", []byte("b@2")), got[1].To.Payload)

	assert.Equal(t, "db.d", got[2].Key.String())
	assert.Nil(t, got[2].From)
	assert.NotNil(t, got[2].To)
}

func TestDiffZeroRoots(t *testing.T) {
	ctx := context.Background()
	ix, _ := newTestIndex(t)

	root, err := ix.Apply(ctx, types.ID{}, []types.Operation{put("a", 1), put("b", 1)})
	require.NoError(t, err)

	// Everything is an addition against an empty from side.
	got := collectDiff(t, ix, types.ID{}, root)
	require.Len(t, got, 2)
	for _, d := range got {
		assert.Nil(t, d.From)
		assert.NotNil(t, d.To)
	}

	// And a removal against an empty to side.
	got = collectDiff(t, ix, root, types.ID{})
	require.Len(t, got, 2)
	for _, d := range got {
		assert.NotNil(t, d.From)
		assert.Nil(t, d.To)
	}

	// Equal roots diff to nothing without any loads.
	assert.Empty(t, collectDiff(t, ix, root, root))
}

func TestDiffSkipsSharedSegments(t *testing.T) {
	ctx := context.Background()
	ix, store, from := smallIndex(t, 40)

	// Rewrite one key with a same-length payload so stripe boundaries
	// stay put and all other segments remain shared.
	to, err := ix.Apply(ctx, from, []types.Operation{put("t020", 2)})
	require.NoError(t, err)

	store.reset()
	got := collectDiff(t, ix, from, to)
	require.Len(t, got, 1)
	assert.Equal(t, "db.t020", got[0].Key.String())

	// Two roots plus the one differing segment pair; shared stripes
	// must not be fetched.
	assert.LessOrEqual(t, store.gets, 4)
}

func TestDiffStopsEarly(t *testing.T) {
	ctx := context.Background()
	ix, _ := newTestIndex(t)

	from, err := ix.Apply(ctx, types.ID{}, []types.Operation{put("a", 1), put("b", 1)})
	require.NoError(t, err)
	to, err := ix.Apply(ctx, from, []types.Operation{put("a", 2), put("b", 2)})
	require.NoError(t, err)

	calls := 0
	err = ix.Diff(ctx, from, to, func(DiffEntry) error {
		calls++
		return ErrStop
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	boom := errors.New("boom")
	err = ix.Diff(ctx, from, to, func(DiffEntry) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestDiffManyChanges(t *testing.T) {
	ctx := context.Background()
	ix, _, from := smallIndex(t, 40)

	var ops []types.Operation
	for i := 0; i < 40; i += 2 {
		ops = append(ops, put(fmt.Sprintf("t%03d", i), 2))
	}
	to, err := ix.Apply(ctx, from, ops)
	require.NoError(t, err)

	got := collectDiff(t, ix, from, to)
	require.Len(t, got, 20)
	for i, d := range got {
		assert.Equal(t, fmt.Sprintf("db.t%03d", i*2), d.Key.String())
		require.NotNil(t, d.From)
		require.NotNil(t, d.To)
	}
}
