package iceberg

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableMetadataFileRoundTrip(t *testing.T) {
	meta := createdTable(t)
	meta.LastUpdatedMS = 1700000000000

	data, err := WriteTableMetadata(meta)
	require.NoError(t, err)

	// The emitted file uses the Iceberg field names.
	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.EqualValues(t, 2, raw["format-version"])
	assert.Contains(t, raw, "table-uuid")
	assert.Contains(t, raw, "current-schema-id")

	parsed, err := ParseTableMetadata(data)
	require.NoError(t, err)
	assert.Equal(t, meta.TableUUID, parsed.TableUUID)
	assert.Equal(t, meta.Location, parsed.Location)
	require.Len(t, parsed.Schemas, 1)
	assert.Equal(t, meta.Schemas[0].ID, parsed.Schemas[0].ID)
	assert.Equal(t, meta.LastColumnID, parsed.LastColumnID)

	// A parsed file can seed a new state machine.
	state := NewTableState(parsed)
	require.NoError(t, state.ApplyUpdates([]Update{AddSchema(baseSchema())}))
	assert.False(t, state.Changed())
}

func TestParseTableMetadataRejectsBadVersion(t *testing.T) {
	_, err := ParseTableMetadata([]byte(`{"format-version": 9}`))
	require.Error(t, err)

	_, err = ParseTableMetadata([]byte(`not json`))
	require.Error(t, err)
}

func TestViewMetadataFileRoundTrip(t *testing.T) {
	meta := createdView(t)

	data, err := WriteViewMetadata(meta)
	require.NoError(t, err)

	parsed, err := ParseViewMetadata(data)
	require.NoError(t, err)
	assert.Equal(t, meta.ViewUUID, parsed.ViewUUID)
	assert.Equal(t, meta.CurrentVersionID, parsed.CurrentVersionID)
	require.Len(t, parsed.Versions, 1)
	assert.Equal(t, "SELECT id, data FROM db.t1", parsed.Versions[0].Representations[0].SQL)
}

func TestParseViewMetadataRejectsBadVersion(t *testing.T) {
	_, err := ParseViewMetadata([]byte(`{"format-version": 2}`))
	require.Error(t, err)
}
