package iceberg

import (
	"errors"

	"github.com/apache/iceberg-go"
)

// ErrUpdateRejected marks an update that cannot be applied to the current
// draft. The catalog maps it to an invalid-argument error.
var ErrUpdateRejected = errors.New("metadata update rejected")

// Update actions. The set is closed; an unknown action is rejected rather
// than ignored so that a client never silently loses an instruction.
const (
	ActionAssignUUID            = "assign-uuid"
	ActionUpgradeFormatVersion  = "upgrade-format-version"
	ActionSetLocation           = "set-location"
	ActionAddSchema             = "add-schema"
	ActionSetCurrentSchema      = "set-current-schema"
	ActionAddPartitionSpec      = "add-spec"
	ActionSetDefaultSpec        = "set-default-spec"
	ActionAddSortOrder          = "add-sort-order"
	ActionSetDefaultSortOrder   = "set-default-sort-order"
	ActionAddSnapshot           = "add-snapshot"
	ActionSetSnapshotRef        = "set-snapshot-ref"
	ActionRemoveSnapshots       = "remove-snapshots"
	ActionSetProperties         = "set-properties"
	ActionRemoveProperties      = "remove-properties"
	ActionAddViewVersion        = "add-view-version"
	ActionSetCurrentViewVersion = "set-current-view-version"
)

// LastAdded selects the most recently added schema, spec, sort order or
// view version within the same update batch.
const LastAdded = -1

// Update is one instruction against a table or view draft. Action selects
// which of the optional fields carry the payload, mirroring the Iceberg
// REST commit body.
type Update struct {
	Action string `json:"action"`

	// assign-uuid
	UUID string `json:"uuid,omitempty"`

	// upgrade-format-version
	FormatVersion int `json:"format-version,omitempty"`

	// set-location
	Location string `json:"location,omitempty"`

	// add-schema
	Schema *iceberg.Schema `json:"schema,omitempty"`

	// set-current-schema
	SchemaID int `json:"schema-id,omitempty"`

	// add-spec
	Spec *PartitionSpec `json:"spec,omitempty"`

	// set-default-spec
	SpecID int `json:"spec-id,omitempty"`

	// add-sort-order
	SortOrder *SortOrder `json:"sort-order,omitempty"`

	// set-default-sort-order
	SortOrderID int `json:"sort-order-id,omitempty"`

	// add-snapshot
	Snapshot *Snapshot `json:"snapshot,omitempty"`

	// set-snapshot-ref
	RefName string       `json:"ref-name,omitempty"`
	Ref     *SnapshotRef `json:"ref,omitempty"`

	// remove-snapshots
	SnapshotIDs []int64 `json:"snapshot-ids,omitempty"`

	// set-properties
	Updates map[string]string `json:"updates,omitempty"`

	// remove-properties
	Removals []string `json:"removals,omitempty"`

	// add-view-version
	ViewVersion *ViewVersion `json:"view-version,omitempty"`

	// set-current-view-version
	ViewVersionID int64 `json:"view-version-id,omitempty"`
}

// AssignUUID sets the table or view UUID. Assigning the UUID already in
// place is a no-op; assigning a different one is rejected.
func AssignUUID(uuid string) Update {
	return Update{Action: ActionAssignUUID, UUID: uuid}
}

// UpgradeFormatVersion raises the format version. Downgrades are rejected.
func UpgradeFormatVersion(version int) Update {
	return Update{Action: ActionUpgradeFormatVersion, FormatVersion: version}
}

// SetLocation moves the table or view base location.
func SetLocation(location string) Update {
	return Update{Action: ActionSetLocation, Location: location}
}

// AddSchema adds a schema. Adding a schema identical to one already
// present reuses the existing id instead of growing the list.
func AddSchema(schema *iceberg.Schema) Update {
	return Update{Action: ActionAddSchema, Schema: schema}
}

// SetCurrentSchema selects the current schema; LastAdded selects the
// schema added earlier in the same batch.
func SetCurrentSchema(id int) Update {
	return Update{Action: ActionSetCurrentSchema, SchemaID: id}
}

// AddPartitionSpec adds a partition spec, deduplicating like AddSchema.
func AddPartitionSpec(spec *PartitionSpec) Update {
	return Update{Action: ActionAddPartitionSpec, Spec: spec}
}

// SetDefaultSpec selects the default partition spec.
func SetDefaultSpec(id int) Update {
	return Update{Action: ActionSetDefaultSpec, SpecID: id}
}

// AddSortOrder adds a sort order, deduplicating like AddSchema.
func AddSortOrder(order *SortOrder) Update {
	return Update{Action: ActionAddSortOrder, SortOrder: order}
}

// SetDefaultSortOrder selects the default sort order.
func SetDefaultSortOrder(id int) Update {
	return Update{Action: ActionSetDefaultSortOrder, SortOrderID: id}
}

// AddSnapshot appends a snapshot.
func AddSnapshot(snapshot *Snapshot) Update {
	return Update{Action: ActionAddSnapshot, Snapshot: snapshot}
}

// SetSnapshotRef points a named ref at a snapshot. Pointing the "main"
// branch moves the current snapshot.
func SetSnapshotRef(name string, ref SnapshotRef) Update {
	return Update{Action: ActionSetSnapshotRef, RefName: name, Ref: &ref}
}

// RemoveSnapshots drops snapshots by id.
func RemoveSnapshots(ids ...int64) Update {
	return Update{Action: ActionRemoveSnapshots, SnapshotIDs: ids}
}

// SetProperties merges properties into the table or view.
func SetProperties(props map[string]string) Update {
	return Update{Action: ActionSetProperties, Updates: props}
}

// RemoveProperties removes properties by key.
func RemoveProperties(keys ...string) Update {
	return Update{Action: ActionRemoveProperties, Removals: keys}
}

// AddViewVersion appends a view version, deduplicating identical
// definitions like AddSchema.
func AddViewVersion(version *ViewVersion) Update {
	return Update{Action: ActionAddViewVersion, ViewVersion: version}
}

// SetCurrentViewVersion selects the current view version; LastAdded
// selects the version added earlier in the same batch.
func SetCurrentViewVersion(id int64) Update {
	return Update{Action: ActionSetCurrentViewVersion, ViewVersionID: id}
}
