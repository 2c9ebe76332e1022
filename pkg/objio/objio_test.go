package objio

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRoundTrip(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.Write(ctx, "s3://wh/db/t1/metadata/v0.json", []byte(`{"a":1}`)))
	data, err := m.Read(ctx, "s3://wh/db/t1/metadata/v0.json")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"a":1}`), data)

	assert.Equal(t, int64(1), m.WriteCount())
	assert.Equal(t, int64(1), m.ReadCount())
	assert.Equal(t, 1, m.Len())
}

func TestMemoryReadMissing(t *testing.T) {
	m := NewMemory()
	_, err := m.Read(context.Background(), "s3://wh/missing.json")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIO))
}

func TestMemoryWriteIsolatesCaller(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	buf := []byte("original")
	require.NoError(t, m.Write(ctx, "mem://x", buf))
	buf[0] = 'X'

	data, err := m.Read(ctx, "mem://x")
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), data)
}

func TestMemoryRejectsRelativeURI(t *testing.T) {
	m := NewMemory()
	assert.False(t, m.IsValidURI("no-scheme/path"))
	require.Error(t, m.Write(context.Background(), "no-scheme/path", nil))
}

func TestLocalRoundTrip(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLocal("s3://wh/", dir)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, l.Write(ctx, "s3://wh/db/t1/metadata/v0.json", []byte("meta")))
	data, err := l.Read(ctx, "s3://wh/db/t1/metadata/v0.json")
	require.NoError(t, err)
	assert.Equal(t, []byte("meta"), data)

	// The object lands below the base directory.
	_, statErr := filepath.Glob(filepath.Join(dir, "db", "t1", "metadata", "*.json"))
	assert.NoError(t, statErr)
}

func TestLocalRejectsOutsidePrefix(t *testing.T) {
	l, err := NewLocal("s3://wh/", t.TempDir())
	require.NoError(t, err)

	assert.False(t, l.IsValidURI("s3://other-bucket/x"))
	assert.False(t, l.IsValidURI("s3://wh/../escape"))
	assert.True(t, l.IsValidURI("s3://wh/db/t1"))

	err = l.Write(context.Background(), "s3://other-bucket/x", []byte("x"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIO))
}

func TestLocalPrefixValidation(t *testing.T) {
	_, err := NewLocal("s3://wh", t.TempDir())
	require.Error(t, err)

	_, err = NewLocal("not-a-uri", t.TempDir())
	require.Error(t, err)
}
