package iceberg

import (
	"github.com/apache/iceberg-go"
)

// Format versions this package writes. Tables use the Iceberg v2 spec,
// views the v1 view spec.
const (
	TableFormatVersion = 2
	ViewFormatVersion  = 1
)

// MainBranch is the Iceberg snapshot ref that selects the current snapshot.
const MainBranch = "main"

// TableMetadata is the draft-snapshot structure behind an ICEBERG_TABLE
// content. The JSON form follows the Iceberg table spec, so an emitted
// metadata file is readable by any Iceberg client.
type TableMetadata struct {
	FormatVersion      int                    `json:"format-version"`
	TableUUID          string                 `json:"table-uuid,omitempty"`
	Location           string                 `json:"location,omitempty"`
	LastSequenceNumber int64                  `json:"last-sequence-number,omitempty"`
	LastUpdatedMS      int64                  `json:"last-updated-ms,omitempty"`
	LastColumnID       int                    `json:"last-column-id,omitempty"`
	Schemas            []*iceberg.Schema      `json:"schemas,omitempty"`
	CurrentSchemaID    int                    `json:"current-schema-id"`
	PartitionSpecs     []PartitionSpec        `json:"partition-specs,omitempty"`
	DefaultSpecID      int                    `json:"default-spec-id"`
	LastPartitionID    int                    `json:"last-partition-id,omitempty"`
	SortOrders         []SortOrder            `json:"sort-orders,omitempty"`
	DefaultSortOrderID int                    `json:"default-sort-order-id"`
	Properties         map[string]string      `json:"properties,omitempty"`
	CurrentSnapshotID  int64                  `json:"current-snapshot-id,omitempty"`
	Snapshots          []Snapshot             `json:"snapshots,omitempty"`
	Refs               map[string]SnapshotRef `json:"refs,omitempty"`
	SnapshotLog        []SnapshotLogEntry     `json:"snapshot-log,omitempty"`
	MetadataLog        []MetadataLogEntry     `json:"metadata-log,omitempty"`
}

// NewTableMetadata returns an empty v2 draft for a table being created.
func NewTableMetadata() *TableMetadata {
	return &TableMetadata{FormatVersion: TableFormatVersion}
}

// SchemaByID returns the schema with the given id, or nil.
func (m *TableMetadata) SchemaByID(id int) *iceberg.Schema {
	for _, s := range m.Schemas {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// CurrentSchema returns the schema selected by CurrentSchemaID, or nil.
func (m *TableMetadata) CurrentSchema() *iceberg.Schema {
	return m.SchemaByID(m.CurrentSchemaID)
}

// SpecByID returns the partition spec with the given id, or nil.
func (m *TableMetadata) SpecByID(id int) *PartitionSpec {
	for i := range m.PartitionSpecs {
		if m.PartitionSpecs[i].SpecID == id {
			return &m.PartitionSpecs[i]
		}
	}
	return nil
}

// SortOrderByID returns the sort order with the given id, or nil.
func (m *TableMetadata) SortOrderByID(id int) *SortOrder {
	for i := range m.SortOrders {
		if m.SortOrders[i].OrderID == id {
			return &m.SortOrders[i]
		}
	}
	return nil
}

// SnapshotByID returns the snapshot with the given id, or nil.
func (m *TableMetadata) SnapshotByID(id int64) *Snapshot {
	for i := range m.Snapshots {
		if m.Snapshots[i].SnapshotID == id {
			return &m.Snapshots[i]
		}
	}
	return nil
}

// PartitionSpec is one partitioning layout of a table.
type PartitionSpec struct {
	SpecID int              `json:"spec-id"`
	Fields []PartitionField `json:"fields"`
}

// PartitionField maps a source column through a transform into a partition
// value.
type PartitionField struct {
	SourceID  int    `json:"source-id"`
	FieldID   int    `json:"field-id"`
	Name      string `json:"name"`
	Transform string `json:"transform"`
}

// SameFields reports whether two specs partition identically, ignoring
// their ids.
func (p PartitionSpec) SameFields(other PartitionSpec) bool {
	if len(p.Fields) != len(other.Fields) {
		return false
	}
	for i, f := range p.Fields {
		if f != other.Fields[i] {
			return false
		}
	}
	return true
}

// SortOrder is one sort layout of a table.
type SortOrder struct {
	OrderID int         `json:"order-id"`
	Fields  []SortField `json:"fields"`
}

// SortField sorts by a transformed source column.
type SortField struct {
	SourceID  int    `json:"source-id"`
	Transform string `json:"transform"`
	Direction string `json:"direction"`
	NullOrder string `json:"null-order"`
}

// SameFields reports whether two orders sort identically, ignoring their
// ids.
func (s SortOrder) SameFields(other SortOrder) bool {
	if len(s.Fields) != len(other.Fields) {
		return false
	}
	for i, f := range s.Fields {
		if f != other.Fields[i] {
			return false
		}
	}
	return true
}

// Snapshot is one committed table state.
type Snapshot struct {
	SnapshotID       int64             `json:"snapshot-id"`
	ParentSnapshotID int64             `json:"parent-snapshot-id,omitempty"`
	SequenceNumber   int64             `json:"sequence-number,omitempty"`
	TimestampMS      int64             `json:"timestamp-ms"`
	ManifestList     string            `json:"manifest-list,omitempty"`
	Summary          map[string]string `json:"summary,omitempty"`
	SchemaID         int               `json:"schema-id,omitempty"`
}

// SnapshotRef names a snapshot; the "main" branch ref selects the current
// snapshot.
type SnapshotRef struct {
	SnapshotID int64  `json:"snapshot-id"`
	Type       string `json:"type"` // "branch" or "tag"
}

// SnapshotLogEntry records when a snapshot became current.
type SnapshotLogEntry struct {
	TimestampMS int64 `json:"timestamp-ms"`
	SnapshotID  int64 `json:"snapshot-id"`
}

// MetadataLogEntry records a previous metadata-file location.
type MetadataLogEntry struct {
	TimestampMS  int64  `json:"timestamp-ms"`
	MetadataFile string `json:"metadata-file"`
}

// ViewMetadata is the draft-snapshot structure behind an ICEBERG_VIEW
// content, following the Iceberg view spec.
type ViewMetadata struct {
	ViewUUID         string                `json:"view-uuid,omitempty"`
	FormatVersion    int                   `json:"format-version"`
	Location         string                `json:"location,omitempty"`
	Schemas          []*iceberg.Schema     `json:"schemas,omitempty"`
	CurrentVersionID int64                 `json:"current-version-id"`
	Versions         []ViewVersion         `json:"versions,omitempty"`
	VersionLog       []ViewVersionLogEntry `json:"version-log,omitempty"`
	Properties       map[string]string     `json:"properties,omitempty"`
}

// NewViewMetadata returns an empty v1 draft for a view being created.
func NewViewMetadata() *ViewMetadata {
	return &ViewMetadata{FormatVersion: ViewFormatVersion}
}

// SchemaByID returns the schema with the given id, or nil.
func (m *ViewMetadata) SchemaByID(id int) *iceberg.Schema {
	for _, s := range m.Schemas {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// VersionByID returns the view version with the given id, or nil.
func (m *ViewMetadata) VersionByID(id int64) *ViewVersion {
	for i := range m.Versions {
		if m.Versions[i].VersionID == id {
			return &m.Versions[i]
		}
	}
	return nil
}

// ViewVersion is one committed view definition.
type ViewVersion struct {
	VersionID        int64                `json:"version-id"`
	SchemaID         int                  `json:"schema-id"`
	TimestampMS      int64                `json:"timestamp-ms"`
	Summary          map[string]string    `json:"summary,omitempty"`
	Representations  []ViewRepresentation `json:"representations"`
	DefaultCatalog   string               `json:"default-catalog,omitempty"`
	DefaultNamespace []string             `json:"default-namespace,omitempty"`
}

// SameDefinition reports whether two versions define the same view,
// ignoring ids and timestamps.
func (v ViewVersion) SameDefinition(other ViewVersion) bool {
	if v.SchemaID != other.SchemaID || len(v.Representations) != len(other.Representations) {
		return false
	}
	for i, r := range v.Representations {
		if r != other.Representations[i] {
			return false
		}
	}
	return true
}

// ViewRepresentation is one executable form of a view, usually SQL.
type ViewRepresentation struct {
	Type    string `json:"type"`
	SQL     string `json:"sql"`
	Dialect string `json:"dialect,omitempty"`
}

// ViewVersionLogEntry records when a view version became current.
type ViewVersionLogEntry struct {
	TimestampMS int64 `json:"timestamp-ms"`
	VersionID   int64 `json:"version-id"`
}
