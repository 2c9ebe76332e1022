package iceberg

import "errors"

// ErrRequirementViolated marks a requirement that does not hold against
// the current draft. The catalog maps it to a content conflict.
var ErrRequirementViolated = errors.New("metadata requirement violated")

// Requirement types. Like updates, the set is closed and unknown types
// are rejected.
const (
	RequirementAssertCreate              = "assert-create"
	RequirementAssertTableUUID           = "assert-table-uuid"
	RequirementAssertRefSnapshotID       = "assert-ref-snapshot-id"
	RequirementAssertCurrentSchemaID     = "assert-current-schema-id"
	RequirementAssertLastAssignedFieldID = "assert-last-assigned-field-id"
	RequirementAssertDefaultSpecID       = "assert-default-spec-id"
	RequirementAssertLastAssignedPartID  = "assert-last-assigned-partition-id"
	RequirementAssertDefaultSortOrderID  = "assert-default-sort-order-id"
	RequirementAssertViewUUID            = "assert-view-uuid"
)

// Requirement is one precondition a commit asserts against the state a
// table or view had when the client read it. Type selects which fields
// carry the expectation.
type Requirement struct {
	Type string `json:"type"`

	// assert-table-uuid, assert-view-uuid
	UUID string `json:"uuid,omitempty"`

	// assert-ref-snapshot-id; a nil SnapshotID asserts the ref does not
	// exist yet.
	Ref        string `json:"ref,omitempty"`
	SnapshotID *int64 `json:"snapshot-id,omitempty"`

	// assert-current-schema-id
	CurrentSchemaID int `json:"current-schema-id,omitempty"`

	// assert-last-assigned-field-id
	LastAssignedFieldID int `json:"last-assigned-field-id,omitempty"`

	// assert-default-spec-id
	DefaultSpecID int `json:"default-spec-id,omitempty"`

	// assert-last-assigned-partition-id
	LastAssignedPartitionID int `json:"last-assigned-partition-id,omitempty"`

	// assert-default-sort-order-id
	DefaultSortOrderID int `json:"default-sort-order-id,omitempty"`

	// assert-view-version-id
	ViewVersionID int64 `json:"view-version-id,omitempty"`
}

// AssertCreate requires that the content does not exist yet.
func AssertCreate() Requirement {
	return Requirement{Type: RequirementAssertCreate}
}

// AssertTableUUID requires the table UUID to match.
func AssertTableUUID(uuid string) Requirement {
	return Requirement{Type: RequirementAssertTableUUID, UUID: uuid}
}

// AssertViewUUID requires the view UUID to match.
func AssertViewUUID(uuid string) Requirement {
	return Requirement{Type: RequirementAssertViewUUID, UUID: uuid}
}

// AssertRefSnapshotID requires the named snapshot ref to point at the
// given snapshot.
func AssertRefSnapshotID(ref string, snapshotID int64) Requirement {
	return Requirement{Type: RequirementAssertRefSnapshotID, Ref: ref, SnapshotID: &snapshotID}
}

// AssertRefAbsent requires the named snapshot ref to not exist yet.
func AssertRefAbsent(ref string) Requirement {
	return Requirement{Type: RequirementAssertRefSnapshotID, Ref: ref}
}

// AssertCurrentSchemaID requires the current schema id to match.
func AssertCurrentSchemaID(id int) Requirement {
	return Requirement{Type: RequirementAssertCurrentSchemaID, CurrentSchemaID: id}
}

// AssertLastAssignedFieldID requires the highest assigned column id to
// match.
func AssertLastAssignedFieldID(id int) Requirement {
	return Requirement{Type: RequirementAssertLastAssignedFieldID, LastAssignedFieldID: id}
}

// AssertDefaultSpecID requires the default partition spec id to match.
func AssertDefaultSpecID(id int) Requirement {
	return Requirement{Type: RequirementAssertDefaultSpecID, DefaultSpecID: id}
}

// AssertLastAssignedPartitionID requires the highest assigned partition
// field id to match.
func AssertLastAssignedPartitionID(id int) Requirement {
	return Requirement{Type: RequirementAssertLastAssignedPartID, LastAssignedPartitionID: id}
}

// AssertDefaultSortOrderID requires the default sort order id to match.
func AssertDefaultSortOrderID(id int) Requirement {
	return Requirement{Type: RequirementAssertDefaultSortOrderID, DefaultSortOrderID: id}
}
