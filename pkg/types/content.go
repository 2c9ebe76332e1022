package types

import "fmt"

// ContentType tags the payload stored at a key.
type ContentType string

const (
	ContentTypeIcebergTable ContentType = "ICEBERG_TABLE"
	ContentTypeIcebergView  ContentType = "ICEBERG_VIEW"
	ContentTypeNamespace    ContentType = "NAMESPACE"
	ContentTypeUDF          ContentType = "UDF"
)

// Valid reports whether the type is one of the known content types.
func (t ContentType) Valid() bool {
	switch t {
	case ContentTypeIcebergTable, ContentTypeIcebergView, ContentTypeNamespace, ContentTypeUDF:
		return true
	}
	return false
}

// Content is the typed payload stored at a key by a commit. It is a closed
// variant: the Type field selects which of the body fields are meaningful.
//
// Tables and views carry a metadata-file pointer plus the IDs Iceberg needs
// to resolve the current state without reading the file. Namespaces and UDFs
// carry only properties.
type Content struct {
	// ContentID is stable across updates to the same logical entity. It is
	// assigned on the first Put and preserved by every successor commit.
	ContentID string
	Type      ContentType

	// Table and view fields.
	MetadataLocation string
	SnapshotID       int64 // ICEBERG_TABLE: current Iceberg snapshot id
	SchemaID         int32
	SpecID           int32
	SortOrderID      int32
	VersionID        int64 // ICEBERG_VIEW: current view version id

	// Namespace and UDF fields.
	Properties map[string]string
}

// NewTableContent builds an ICEBERG_TABLE content pointing at a metadata file.
func NewTableContent(contentID, metadataLocation string, snapshotID int64, schemaID, specID, sortOrderID int32) *Content {
	return &Content{
		ContentID:        contentID,
		Type:             ContentTypeIcebergTable,
		MetadataLocation: metadataLocation,
		SnapshotID:       snapshotID,
		SchemaID:         schemaID,
		SpecID:           specID,
		SortOrderID:      sortOrderID,
	}
}

// NewViewContent builds an ICEBERG_VIEW content pointing at a metadata file.
func NewViewContent(contentID, metadataLocation string, versionID int64, schemaID int32) *Content {
	return &Content{
		ContentID:        contentID,
		Type:             ContentTypeIcebergView,
		MetadataLocation: metadataLocation,
		VersionID:        versionID,
		SchemaID:         schemaID,
	}
}

// NewNamespaceContent builds a NAMESPACE content with optional properties.
func NewNamespaceContent(contentID string, properties map[string]string) *Content {
	return &Content{ContentID: contentID, Type: ContentTypeNamespace, Properties: properties}
}

// Validate checks structural consistency of the content.
func (c *Content) Validate() error {
	if !c.Type.Valid() {
		return fmt.Errorf("unknown content type %q", c.Type)
	}
	switch c.Type {
	case ContentTypeIcebergTable, ContentTypeIcebergView:
		if c.MetadataLocation == "" {
			return fmt.Errorf("%s content requires a metadata location", c.Type)
		}
	}
	return nil
}
