package index

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarnlabs/tarn/pkg/types"
)

// smallIndex returns an index with a tiny segment budget and a striped root
// over n keys t000..t(n-1), plus the counting store behind it.
func smallIndex(t *testing.T, n int) (*Index, *counting, types.ID) {
	t.Helper()
	ix, store := newTestIndex(t)
	ix.TargetSegmentBytes = 256

	var ops []types.Operation
	for i := 0; i < n; i++ {
		ops = append(ops, put(fmt.Sprintf("t%03d", i), 1))
	}
	root, err := ix.Apply(context.Background(), types.ID{}, ops)
	require.NoError(t, err)
	require.False(t, root.IsZero())
	return ix, store, root
}

func TestApplySplitsAtTarget(t *testing.T) {
	ctx := context.Background()
	ix, store, root := smallIndex(t, 30)

	// 30 entries at ~60 encoded bytes each cannot fit one 256-byte
	// segment, so the root must be striped over several.
	assert.Greater(t, store.puts, 4, "expected multiple segments plus a root")

	// Every key still resolves and a striped lookup costs two gets.
	store.reset()
	e, err := ix.Lookup(ctx, root, types.NewKey("db", "t017"))
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "cid-t017", e.ContentID)
	assert.Equal(t, 2, store.gets)

	// Keys outside every stripe range resolve to nothing.
	for _, name := range []string{"a-before", "zzz-after"} {
		e, err := ix.Lookup(ctx, root, types.NewKey("db", name))
		require.NoError(t, err)
		assert.Nil(t, e)
	}
}

func TestApplySharesUntouchedSegments(t *testing.T) {
	ctx := context.Background()
	ix, store, root := smallIndex(t, 30)
	firstBuild := store.puts

	store.reset()
	r2, err := ix.Apply(ctx, root, []types.Operation{put("t005", 2)})
	require.NoError(t, err)
	require.NotEqual(t, root, r2)

	// One touched stripe and one new root; everything else is shared
	// with the parent.
	assert.LessOrEqual(t, store.puts, 3)
	assert.Less(t, store.puts, firstBuild)

	// Old and new roots disagree only on the touched key.
	e, err := ix.Lookup(ctx, r2, types.NewKey("db", "t005"))
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, types.Hash("Content", []byte("t005@2")), e.Payload)

	e, err = ix.Lookup(ctx, root, types.NewKey("db", "t005"))
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, types.Hash("Content", []byte("t005@1")), e.Payload)

	e, err = ix.Lookup(ctx, r2, types.NewKey("db", "t020"))
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, types.Hash("Content", []byte("t020@1")), e.Payload)
}

func TestApplyDropsEmptiedStripe(t *testing.T) {
	ctx := context.Background()
	ix, _, root := smallIndex(t, 30)

	// Delete a dense run of keys so at least one whole stripe empties.
	var ops []types.Operation
	for i := 0; i < 8; i++ {
		ops = append(ops, del(fmt.Sprintf("t%03d", i)))
	}
	r2, err := ix.Apply(ctx, root, ops)
	require.NoError(t, err)

	for i := 0; i < 8; i++ {
		e, err := ix.Lookup(ctx, r2, types.NewKey("db", fmt.Sprintf("t%03d", i)))
		require.NoError(t, err)
		assert.Nil(t, e)
	}
	page, next, err := ix.Scan(ctx, r2, nil, nil, 0)
	require.NoError(t, err)
	assert.Nil(t, next)
	assert.Len(t, page, 22)
}

func TestScanAcrossStripes(t *testing.T) {
	ctx := context.Background()
	ix, _, root := smallIndex(t, 30)

	var got []Entry
	var cursor *Cursor
	for {
		page, next, err := ix.Scan(ctx, root, nil, cursor, 7)
		require.NoError(t, err)
		require.LessOrEqual(t, len(page), 7)
		got = append(got, page...)
		if next == nil {
			break
		}
		cursor = next
	}
	require.Len(t, got, 30)
	for i, e := range got {
		assert.Equal(t, fmt.Sprintf("db.t%03d", i), e.Key.String())
	}
}

func TestScanPrefixSkipsStripes(t *testing.T) {
	ctx := context.Background()
	ix, store := newTestIndex(t)
	ix.TargetSegmentBytes = 256

	var ops []types.Operation
	for _, ns := range []string{"alpha", "beta", "gamma"} {
		for i := 0; i < 10; i++ {
			ops = append(ops, types.Operation{
				Kind:        types.OpPut,
				Key:         types.NewKey(ns, fmt.Sprintf("t%02d", i)),
				ContentID:   fmt.Sprintf("%s-%d", ns, i),
				ContentType: types.ContentTypeIcebergTable,
				Payload:     types.Hash("Content", []byte(ns+fmt.Sprint(i))),
			})
		}
	}
	root, err := ix.Apply(ctx, types.ID{}, ops)
	require.NoError(t, err)
	totalObjects := store.puts

	store.reset()
	page, next, err := ix.Scan(ctx, root, types.NewKey("beta"), nil, 0)
	require.NoError(t, err)
	assert.Nil(t, next)
	require.Len(t, page, 10)
	for i, e := range page {
		assert.Equal(t, fmt.Sprintf("beta.t%02d", i), e.Key.String())
	}
	assert.Less(t, store.gets, totalObjects, "prefix scan should not load every segment")
}

func TestApplyCompactsWhenFullyRewritten(t *testing.T) {
	ctx := context.Background()
	ix, store, root := smallIndex(t, 30)

	// Delete everything but two keys in one apply. Every stripe is
	// touched, so the survivors fold back into an embedded root.
	var ops []types.Operation
	for i := 0; i < 30; i++ {
		if i == 3 || i == 17 {
			continue
		}
		ops = append(ops, del(fmt.Sprintf("t%03d", i)))
	}
	r2, err := ix.Apply(ctx, root, ops)
	require.NoError(t, err)
	require.False(t, r2.IsZero())

	store.reset()
	e, err := ix.Lookup(ctx, r2, types.NewKey("db", "t017"))
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, 1, store.gets, "compacted index should lookup in one get")
}
