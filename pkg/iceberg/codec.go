package iceberg

import (
	"encoding/json"
	"fmt"
)

// ParseTableMetadata decodes an Iceberg table metadata file.
func ParseTableMetadata(data []byte) (*TableMetadata, error) {
	var meta TableMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse table metadata: %w", err)
	}
	if meta.FormatVersion < 1 || meta.FormatVersion > TableFormatVersion {
		return nil, fmt.Errorf("unsupported table format version %d", meta.FormatVersion)
	}
	return &meta, nil
}

// WriteTableMetadata encodes table metadata to its file form.
func WriteTableMetadata(meta *TableMetadata) ([]byte, error) {
	data, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to encode table metadata: %w", err)
	}
	return data, nil
}

// ParseViewMetadata decodes an Iceberg view metadata file.
func ParseViewMetadata(data []byte) (*ViewMetadata, error) {
	var meta ViewMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse view metadata: %w", err)
	}
	if meta.FormatVersion != ViewFormatVersion {
		return nil, fmt.Errorf("unsupported view format version %d", meta.FormatVersion)
	}
	return &meta, nil
}

// WriteViewMetadata encodes view metadata to its file form.
func WriteViewMetadata(meta *ViewMetadata) ([]byte, error) {
	data, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to encode view metadata: %w", err)
	}
	return data, nil
}
