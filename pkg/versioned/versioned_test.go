package versioned

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarnlabs/tarn/pkg/storage"
	"github.com/tarnlabs/tarn/pkg/types"
)

func newTestStore(t *testing.T, cfg Config) *Store {
	t.Helper()
	store, err := NewStore(storage.NewMemory(), "test-repo", cfg)
	require.NoError(t, err)
	_, err = store.Initialize(context.Background(), nil)
	require.NoError(t, err)
	return store
}

func tableContent(name string, rev int) *types.Content {
	return tableContentWithID("", name, rev)
}

func tableContentWithID(contentID, name string, rev int) *types.Content {
	location := fmt.Sprintf("s3://warehouse/%s/metadata/%05d.metadata.json", name, rev)
	return types.NewTableContent(contentID, location, int64(rev), 1, 0, 0)
}

func mustCommit(t *testing.T, s *Store, branch, message string, ops ...types.Operation) *CommitResult {
	t.Helper()
	result, err := s.Commit(context.Background(), CommitParams{
		Branch:     branch,
		Author:     "tests@tarn.dev",
		Message:    message,
		Operations: ops,
	})
	require.NoError(t, err)
	return result
}

func TestParseRefSpec(t *testing.T) {
	hash := strings.Repeat("ab", 32)
	tests := []struct {
		in       string
		name     string
		detached bool
		pinned   bool
		wantErr  bool
	}{
		{in: "main", name: "main"},
		{in: "release/2026.1", name: "release/2026.1"},
		{in: "main@" + hash, name: "main", pinned: true},
		{in: hash, detached: true},
		{in: "", wantErr: true},
		{in: "main@xyz", wantErr: true},
		{in: "bad..name", wantErr: true},
		{in: "@" + hash, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			spec, err := ParseRefSpec(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, types.CodeInvalidArgument, types.CodeOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.name, spec.Name)
			assert.Equal(t, tt.detached, spec.Detached())
			assert.Equal(t, tt.detached || tt.pinned, !spec.Hash.IsZero())
			assert.Equal(t, tt.in, spec.String())
		})
	}
}

func TestParseRefSpecHexNameIsDetached(t *testing.T) {
	// A 64-digit hex string is always a hash, even if a branch of that
	// name exists.
	hex := strings.Repeat("0123456789abcdef", 4)
	spec, err := ParseRefSpec(hex)
	require.NoError(t, err)
	assert.True(t, spec.Detached())
}

func TestResolve(t *testing.T) {
	s := newTestStore(t, Config{})
	ctx := context.Background()
	first := mustCommit(t, s, "main", "one", types.Put(types.NewKey("db", "t1"), tableContent("t1", 1)))
	second := mustCommit(t, s, "main", "two", types.Put(types.NewKey("db", "t2"), tableContent("t2", 1)))

	plain, err := s.Resolve(ctx, RefSpec{Name: "main"})
	require.NoError(t, err)
	assert.Equal(t, second.Commit.ID, plain.Hash)
	assert.Equal(t, "main", plain.Name())

	pinned, err := s.Resolve(ctx, RefSpec{Name: "main", Hash: first.Commit.ID})
	require.NoError(t, err)
	assert.Equal(t, first.Commit.ID, pinned.Hash)
	require.NotNil(t, pinned.Ref)
	assert.Equal(t, second.Commit.ID, pinned.Ref.Head)

	detached, err := s.Resolve(ctx, RefSpec{Hash: first.Commit.ID})
	require.NoError(t, err)
	assert.Nil(t, detached.Ref)
	assert.Equal(t, "DETACHED", detached.Name())
	assert.Equal(t, first.Commit.ID, detached.Hash)
}

func TestResolveMisses(t *testing.T) {
	s := newTestStore(t, Config{})
	ctx := context.Background()

	_, err := s.Resolve(ctx, RefSpec{Name: "ghost"})
	require.Error(t, err)
	assert.True(t, types.IsNotFound(err))

	bogus := types.Hash("Commit", []byte("nowhere"))
	_, err = s.Resolve(ctx, RefSpec{Hash: bogus})
	require.Error(t, err)
	assert.True(t, types.IsNotFound(err))
}

func TestNewStoreDefaults(t *testing.T) {
	s, err := NewStore(storage.NewMemory(), "defaults", Config{})
	require.NoError(t, err)
	assert.Equal(t, DefaultBranchName, s.cfg.DefaultBranch)
	assert.Equal(t, DefaultMaxCommitRetries, s.cfg.MaxCommitRetries)
	assert.NotNil(t, s.clock)
}
