package iceberg

import (
	"fmt"

	"github.com/apache/iceberg-go"
)

// ViewState is the view counterpart of TableState. Views carry schemas
// and versioned SQL representations instead of snapshots.
type ViewState struct {
	meta   *ViewMetadata
	exists bool
	dirty  bool

	lastAddedSchema  int
	lastAddedVersion int64
}

// NewViewState starts from the prior metadata, or from an empty v1 draft
// when the view is being created. The prior value is never mutated.
func NewViewState(prior *ViewMetadata) *ViewState {
	s := &ViewState{
		lastAddedSchema:  -1,
		lastAddedVersion: -1,
	}
	if prior == nil {
		s.meta = NewViewMetadata()
		return s
	}
	s.meta = cloneViewMetadata(prior)
	s.exists = true
	return s
}

// Metadata returns the draft.
func (s *ViewState) Metadata() *ViewMetadata { return s.meta }

// Changed reports whether any applied update modified the draft.
func (s *ViewState) Changed() bool { return s.dirty }

// CheckRequirements verifies every requirement against the draft as it
// stood when the client read it.
func (s *ViewState) CheckRequirements(reqs []Requirement) error {
	for _, req := range reqs {
		switch req.Type {
		case RequirementAssertCreate:
			if s.exists {
				return fmt.Errorf("view already exists: %w", ErrRequirementViolated)
			}
		case RequirementAssertViewUUID:
			if s.meta.ViewUUID != req.UUID {
				return fmt.Errorf("view UUID is %q, expected %q: %w", s.meta.ViewUUID, req.UUID, ErrRequirementViolated)
			}
		case RequirementAssertTableUUID,
			RequirementAssertRefSnapshotID,
			RequirementAssertCurrentSchemaID,
			RequirementAssertLastAssignedFieldID,
			RequirementAssertDefaultSpecID,
			RequirementAssertLastAssignedPartID,
			RequirementAssertDefaultSortOrderID:
			return fmt.Errorf("requirement %q does not apply to a view: %w", req.Type, ErrRequirementViolated)
		default:
			return fmt.Errorf("unknown requirement %q: %w", req.Type, ErrUpdateRejected)
		}
	}
	return nil
}

// ApplyUpdates applies updates in order. A failed update aborts the batch.
func (s *ViewState) ApplyUpdates(updates []Update) error {
	for _, u := range updates {
		if err := s.apply(u); err != nil {
			return err
		}
	}
	return nil
}

func (s *ViewState) apply(u Update) error {
	switch u.Action {
	case ActionAssignUUID:
		return s.assignUUID(u.UUID)
	case ActionUpgradeFormatVersion:
		if u.FormatVersion != ViewFormatVersion {
			return fmt.Errorf("unsupported view format version %d: %w", u.FormatVersion, ErrUpdateRejected)
		}
	case ActionSetLocation:
		if s.meta.Location != u.Location {
			s.meta.Location = u.Location
			s.dirty = true
		}
	case ActionAddSchema:
		return s.addSchema(u.Schema)
	case ActionAddViewVersion:
		return s.addViewVersion(u.ViewVersion)
	case ActionSetCurrentViewVersion:
		return s.setCurrentViewVersion(u.ViewVersionID)
	case ActionSetProperties:
		s.setProperties(u.Updates)
	case ActionRemoveProperties:
		s.removeProperties(u.Removals)
	case ActionSetCurrentSchema,
		ActionAddPartitionSpec,
		ActionSetDefaultSpec,
		ActionAddSortOrder,
		ActionSetDefaultSortOrder,
		ActionAddSnapshot,
		ActionSetSnapshotRef,
		ActionRemoveSnapshots:
		return fmt.Errorf("update %q does not apply to a view: %w", u.Action, ErrUpdateRejected)
	default:
		return fmt.Errorf("unknown update %q: %w", u.Action, ErrUpdateRejected)
	}
	return nil
}

func (s *ViewState) assignUUID(uuid string) error {
	switch {
	case uuid == "":
		return fmt.Errorf("assign-uuid with empty UUID: %w", ErrUpdateRejected)
	case s.meta.ViewUUID == uuid:
		return nil
	case s.meta.ViewUUID != "":
		return fmt.Errorf("view UUID is already %q: %w", s.meta.ViewUUID, ErrUpdateRejected)
	}
	s.meta.ViewUUID = uuid
	s.dirty = true
	return nil
}

func (s *ViewState) addSchema(schema *iceberg.Schema) error {
	if schema == nil {
		return fmt.Errorf("add-schema without a schema: %w", ErrUpdateRejected)
	}
	for _, existing := range s.meta.Schemas {
		if iceberg.NewSchema(existing.ID, schema.Fields()...).Equals(existing) {
			s.lastAddedSchema = existing.ID
			return nil
		}
	}
	newID := 0
	for _, existing := range s.meta.Schemas {
		if existing.ID >= newID {
			newID = existing.ID + 1
		}
	}
	s.meta.Schemas = append(s.meta.Schemas, iceberg.NewSchema(newID, schema.Fields()...))
	s.lastAddedSchema = newID
	s.dirty = true
	return nil
}

func (s *ViewState) addViewVersion(version *ViewVersion) error {
	if version == nil {
		return fmt.Errorf("add-view-version without a version: %w", ErrUpdateRejected)
	}
	add := *version
	if add.SchemaID == LastAdded {
		if s.lastAddedSchema < 0 {
			return fmt.Errorf("view version references schema -1 without a prior add-schema: %w", ErrUpdateRejected)
		}
		add.SchemaID = s.lastAddedSchema
	}
	if s.meta.SchemaByID(add.SchemaID) == nil {
		return fmt.Errorf("schema %d does not exist: %w", add.SchemaID, ErrUpdateRejected)
	}
	for _, existing := range s.meta.Versions {
		if existing.SameDefinition(add) {
			s.lastAddedVersion = existing.VersionID
			return nil
		}
	}
	var newID int64 = 1
	for _, existing := range s.meta.Versions {
		if existing.VersionID >= newID {
			newID = existing.VersionID + 1
		}
	}
	add.VersionID = newID
	add.Representations = append([]ViewRepresentation(nil), add.Representations...)
	s.meta.Versions = append(s.meta.Versions, add)
	s.lastAddedVersion = newID
	s.dirty = true
	return nil
}

func (s *ViewState) setCurrentViewVersion(id int64) error {
	if id == LastAdded {
		if s.lastAddedVersion < 0 {
			return fmt.Errorf("set-current-view-version -1 without a prior add-view-version: %w", ErrUpdateRejected)
		}
		id = s.lastAddedVersion
	}
	version := s.meta.VersionByID(id)
	if version == nil {
		return fmt.Errorf("view version %d does not exist: %w", id, ErrUpdateRejected)
	}
	if s.meta.CurrentVersionID != id {
		s.meta.CurrentVersionID = id
		s.meta.VersionLog = append(s.meta.VersionLog, ViewVersionLogEntry{
			TimestampMS: version.TimestampMS,
			VersionID:   id,
		})
		s.dirty = true
	}
	return nil
}

func (s *ViewState) setProperties(updates map[string]string) {
	for k, v := range updates {
		if existing, ok := s.meta.Properties[k]; ok && existing == v {
			continue
		}
		if s.meta.Properties == nil {
			s.meta.Properties = make(map[string]string)
		}
		s.meta.Properties[k] = v
		s.dirty = true
	}
}

func (s *ViewState) removeProperties(keys []string) {
	for _, k := range keys {
		if _, ok := s.meta.Properties[k]; ok {
			delete(s.meta.Properties, k)
			s.dirty = true
		}
	}
}

func cloneViewMetadata(m *ViewMetadata) *ViewMetadata {
	out := *m
	out.Schemas = append([]*iceberg.Schema(nil), m.Schemas...)
	out.Versions = append([]ViewVersion(nil), m.Versions...)
	out.VersionLog = append([]ViewVersionLogEntry(nil), m.VersionLog...)
	if m.Properties != nil {
		out.Properties = make(map[string]string, len(m.Properties))
		for k, v := range m.Properties {
			out.Properties[k] = v
		}
	}
	return &out
}
