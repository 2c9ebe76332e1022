package iceberg

import (
	"fmt"

	"github.com/apache/iceberg-go"
)

// TableState applies a commit's requirements and updates to a table
// draft. Requirements are checked against the prior state, updates mutate
// a private copy, and Changed reports whether anything actually moved so
// that a repeated commit produces no new version.
type TableState struct {
	meta   *TableMetadata
	exists bool
	dirty  bool

	lastAddedSchema int
	lastAddedSpec   int
	lastAddedOrder  int
}

// NewTableState starts from the prior metadata, or from an empty v2 draft
// when the table is being created. The prior value is never mutated.
func NewTableState(prior *TableMetadata) *TableState {
	s := &TableState{
		lastAddedSchema: -1,
		lastAddedSpec:   -1,
		lastAddedOrder:  -1,
	}
	if prior == nil {
		s.meta = NewTableMetadata()
		return s
	}
	s.meta = cloneTableMetadata(prior)
	s.exists = true
	return s
}

// Metadata returns the draft. Callers own the returned value once all
// updates are applied.
func (s *TableState) Metadata() *TableMetadata { return s.meta }

// Changed reports whether any applied update modified the draft.
func (s *TableState) Changed() bool { return s.dirty }

// CheckRequirements verifies every requirement against the draft as it
// stood when the client read it. Call before ApplyUpdates.
func (s *TableState) CheckRequirements(reqs []Requirement) error {
	for _, req := range reqs {
		if err := s.checkRequirement(req); err != nil {
			return err
		}
	}
	return nil
}

func (s *TableState) checkRequirement(req Requirement) error {
	switch req.Type {
	case RequirementAssertCreate:
		if s.exists {
			return fmt.Errorf("table already exists: %w", ErrRequirementViolated)
		}
	case RequirementAssertTableUUID:
		if s.meta.TableUUID != req.UUID {
			return fmt.Errorf("table UUID is %q, expected %q: %w", s.meta.TableUUID, req.UUID, ErrRequirementViolated)
		}
	case RequirementAssertRefSnapshotID:
		return s.checkRefSnapshot(req)
	case RequirementAssertCurrentSchemaID:
		if s.meta.CurrentSchemaID != req.CurrentSchemaID {
			return fmt.Errorf("current schema id is %d, expected %d: %w", s.meta.CurrentSchemaID, req.CurrentSchemaID, ErrRequirementViolated)
		}
	case RequirementAssertLastAssignedFieldID:
		if s.meta.LastColumnID != req.LastAssignedFieldID {
			return fmt.Errorf("last assigned field id is %d, expected %d: %w", s.meta.LastColumnID, req.LastAssignedFieldID, ErrRequirementViolated)
		}
	case RequirementAssertDefaultSpecID:
		if s.meta.DefaultSpecID != req.DefaultSpecID {
			return fmt.Errorf("default spec id is %d, expected %d: %w", s.meta.DefaultSpecID, req.DefaultSpecID, ErrRequirementViolated)
		}
	case RequirementAssertLastAssignedPartID:
		if s.meta.LastPartitionID != req.LastAssignedPartitionID {
			return fmt.Errorf("last assigned partition id is %d, expected %d: %w", s.meta.LastPartitionID, req.LastAssignedPartitionID, ErrRequirementViolated)
		}
	case RequirementAssertDefaultSortOrderID:
		if s.meta.DefaultSortOrderID != req.DefaultSortOrderID {
			return fmt.Errorf("default sort order id is %d, expected %d: %w", s.meta.DefaultSortOrderID, req.DefaultSortOrderID, ErrRequirementViolated)
		}
	case RequirementAssertViewUUID:
		return fmt.Errorf("requirement %q does not apply to a table: %w", req.Type, ErrRequirementViolated)
	default:
		return fmt.Errorf("unknown requirement %q: %w", req.Type, ErrUpdateRejected)
	}
	return nil
}

func (s *TableState) checkRefSnapshot(req Requirement) error {
	current, ok := s.currentRefSnapshot(req.Ref)
	if req.SnapshotID == nil {
		if ok {
			return fmt.Errorf("snapshot ref %q already exists: %w", req.Ref, ErrRequirementViolated)
		}
		return nil
	}
	if !ok {
		return fmt.Errorf("snapshot ref %q does not exist: %w", req.Ref, ErrRequirementViolated)
	}
	if current != *req.SnapshotID {
		return fmt.Errorf("snapshot ref %q points at %d, expected %d: %w", req.Ref, current, *req.SnapshotID, ErrRequirementViolated)
	}
	return nil
}

// currentRefSnapshot resolves a snapshot ref, treating the current
// snapshot id as an implicit "main" branch for metadata that predates the
// refs map.
func (s *TableState) currentRefSnapshot(name string) (int64, bool) {
	if ref, ok := s.meta.Refs[name]; ok {
		return ref.SnapshotID, true
	}
	if name == MainBranch && s.meta.CurrentSnapshotID != 0 {
		return s.meta.CurrentSnapshotID, true
	}
	return 0, false
}

// ApplyUpdates applies updates in order. A failed update aborts the batch;
// the caller discards the state.
func (s *TableState) ApplyUpdates(updates []Update) error {
	for _, u := range updates {
		if err := s.apply(u); err != nil {
			return err
		}
	}
	return nil
}

func (s *TableState) apply(u Update) error {
	switch u.Action {
	case ActionAssignUUID:
		return s.assignUUID(u.UUID)
	case ActionUpgradeFormatVersion:
		return s.upgradeFormatVersion(u.FormatVersion)
	case ActionSetLocation:
		s.setLocation(u.Location)
	case ActionAddSchema:
		return s.addSchema(u.Schema)
	case ActionSetCurrentSchema:
		return s.setCurrentSchema(u.SchemaID)
	case ActionAddPartitionSpec:
		return s.addPartitionSpec(u.Spec)
	case ActionSetDefaultSpec:
		return s.setDefaultSpec(u.SpecID)
	case ActionAddSortOrder:
		return s.addSortOrder(u.SortOrder)
	case ActionSetDefaultSortOrder:
		return s.setDefaultSortOrder(u.SortOrderID)
	case ActionAddSnapshot:
		return s.addSnapshot(u.Snapshot)
	case ActionSetSnapshotRef:
		return s.setSnapshotRef(u.RefName, u.Ref)
	case ActionRemoveSnapshots:
		s.removeSnapshots(u.SnapshotIDs)
	case ActionSetProperties:
		s.setProperties(u.Updates)
	case ActionRemoveProperties:
		s.removeProperties(u.Removals)
	case ActionAddViewVersion, ActionSetCurrentViewVersion:
		return fmt.Errorf("update %q does not apply to a table: %w", u.Action, ErrUpdateRejected)
	default:
		return fmt.Errorf("unknown update %q: %w", u.Action, ErrUpdateRejected)
	}
	return nil
}

func (s *TableState) assignUUID(uuid string) error {
	switch {
	case uuid == "":
		return fmt.Errorf("assign-uuid with empty UUID: %w", ErrUpdateRejected)
	case s.meta.TableUUID == uuid:
		return nil
	case s.meta.TableUUID != "":
		return fmt.Errorf("table UUID is already %q: %w", s.meta.TableUUID, ErrUpdateRejected)
	}
	s.meta.TableUUID = uuid
	s.dirty = true
	return nil
}

func (s *TableState) upgradeFormatVersion(version int) error {
	switch {
	case version == s.meta.FormatVersion:
		return nil
	case version < s.meta.FormatVersion:
		return fmt.Errorf("cannot downgrade format version %d to %d: %w", s.meta.FormatVersion, version, ErrUpdateRejected)
	case version > TableFormatVersion:
		return fmt.Errorf("unsupported format version %d: %w", version, ErrUpdateRejected)
	}
	s.meta.FormatVersion = version
	s.dirty = true
	return nil
}

func (s *TableState) setLocation(location string) {
	if s.meta.Location == location {
		return
	}
	s.meta.Location = location
	s.dirty = true
}

func (s *TableState) addSchema(schema *iceberg.Schema) error {
	if schema == nil {
		return fmt.Errorf("add-schema without a schema: %w", ErrUpdateRejected)
	}
	// An identical schema keeps its existing id instead of growing the
	// list, so replaying a create is a no-op.
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
	added := iceberg.NewSchema(newID, schema.Fields()...)
	s.meta.Schemas = append(s.meta.Schemas, added)
	if highest := added.HighestFieldID(); highest > s.meta.LastColumnID {
		s.meta.LastColumnID = highest
	}
	s.lastAddedSchema = newID
	s.dirty = true
	return nil
}

func (s *TableState) setCurrentSchema(id int) error {
	if id == LastAdded {
		if s.lastAddedSchema < 0 {
			return fmt.Errorf("set-current-schema -1 without a prior add-schema: %w", ErrUpdateRejected)
		}
		id = s.lastAddedSchema
	}
	if s.meta.SchemaByID(id) == nil {
		return fmt.Errorf("schema %d does not exist: %w", id, ErrUpdateRejected)
	}
	if s.meta.CurrentSchemaID != id {
		s.meta.CurrentSchemaID = id
		s.dirty = true
	}
	return nil
}

func (s *TableState) addPartitionSpec(spec *PartitionSpec) error {
	if spec == nil {
		return fmt.Errorf("add-spec without a spec: %w", ErrUpdateRejected)
	}
	for _, existing := range s.meta.PartitionSpecs {
		if existing.SameFields(*spec) {
			s.lastAddedSpec = existing.SpecID
			return nil
		}
	}
	newID := 0
	for _, existing := range s.meta.PartitionSpecs {
		if existing.SpecID >= newID {
			newID = existing.SpecID + 1
		}
	}
	added := PartitionSpec{SpecID: newID, Fields: clonePartitionFields(spec.Fields)}
	s.meta.PartitionSpecs = append(s.meta.PartitionSpecs, added)
	for _, f := range added.Fields {
		if f.FieldID > s.meta.LastPartitionID {
			s.meta.LastPartitionID = f.FieldID
		}
	}
	s.lastAddedSpec = newID
	s.dirty = true
	return nil
}

func (s *TableState) setDefaultSpec(id int) error {
	if id == LastAdded {
		if s.lastAddedSpec < 0 {
			return fmt.Errorf("set-default-spec -1 without a prior add-spec: %w", ErrUpdateRejected)
		}
		id = s.lastAddedSpec
	}
	if s.meta.SpecByID(id) == nil {
		return fmt.Errorf("partition spec %d does not exist: %w", id, ErrUpdateRejected)
	}
	if s.meta.DefaultSpecID != id {
		s.meta.DefaultSpecID = id
		s.dirty = true
	}
	return nil
}

func (s *TableState) addSortOrder(order *SortOrder) error {
	if order == nil {
		return fmt.Errorf("add-sort-order without an order: %w", ErrUpdateRejected)
	}
	for _, existing := range s.meta.SortOrders {
		if existing.SameFields(*order) {
			s.lastAddedOrder = existing.OrderID
			return nil
		}
	}
	// Order id 0 is reserved for the unsorted order.
	newID := 0
	if len(order.Fields) > 0 {
		newID = 1
		for _, existing := range s.meta.SortOrders {
			if existing.OrderID >= newID {
				newID = existing.OrderID + 1
			}
		}
	}
	added := SortOrder{OrderID: newID, Fields: cloneSortFields(order.Fields)}
	s.meta.SortOrders = append(s.meta.SortOrders, added)
	s.lastAddedOrder = newID
	s.dirty = true
	return nil
}

func (s *TableState) setDefaultSortOrder(id int) error {
	if id == LastAdded {
		if s.lastAddedOrder < 0 {
			return fmt.Errorf("set-default-sort-order -1 without a prior add-sort-order: %w", ErrUpdateRejected)
		}
		id = s.lastAddedOrder
	}
	if s.meta.SortOrderByID(id) == nil {
		return fmt.Errorf("sort order %d does not exist: %w", id, ErrUpdateRejected)
	}
	if s.meta.DefaultSortOrderID != id {
		s.meta.DefaultSortOrderID = id
		s.dirty = true
	}
	return nil
}

func (s *TableState) addSnapshot(snap *Snapshot) error {
	if snap == nil {
		return fmt.Errorf("add-snapshot without a snapshot: %w", ErrUpdateRejected)
	}
	if s.meta.SnapshotByID(snap.SnapshotID) != nil {
		return fmt.Errorf("snapshot %d already exists: %w", snap.SnapshotID, ErrUpdateRejected)
	}
	if snap.ParentSnapshotID != 0 && s.meta.SnapshotByID(snap.ParentSnapshotID) == nil {
		return fmt.Errorf("parent snapshot %d does not exist: %w", snap.ParentSnapshotID, ErrUpdateRejected)
	}
	s.meta.Snapshots = append(s.meta.Snapshots, *snap)
	if snap.SequenceNumber > s.meta.LastSequenceNumber {
		s.meta.LastSequenceNumber = snap.SequenceNumber
	}
	if snap.TimestampMS > s.meta.LastUpdatedMS {
		s.meta.LastUpdatedMS = snap.TimestampMS
	}
	s.dirty = true
	return nil
}

func (s *TableState) setSnapshotRef(name string, ref *SnapshotRef) error {
	if name == "" || ref == nil {
		return fmt.Errorf("set-snapshot-ref without a ref: %w", ErrUpdateRejected)
	}
	snap := s.meta.SnapshotByID(ref.SnapshotID)
	if snap == nil {
		return fmt.Errorf("snapshot %d does not exist: %w", ref.SnapshotID, ErrUpdateRejected)
	}
	set := *ref
	if set.Type == "" {
		set.Type = "branch"
	}
	if existing, ok := s.meta.Refs[name]; ok && existing == set {
		return nil
	}
	if s.meta.Refs == nil {
		s.meta.Refs = make(map[string]SnapshotRef)
	}
	s.meta.Refs[name] = set
	if name == MainBranch {
		s.meta.CurrentSnapshotID = set.SnapshotID
		s.meta.SnapshotLog = append(s.meta.SnapshotLog, SnapshotLogEntry{
			TimestampMS: snap.TimestampMS,
			SnapshotID:  set.SnapshotID,
		})
	}
	s.dirty = true
	return nil
}

func (s *TableState) removeSnapshots(ids []int64) {
	if len(ids) == 0 {
		return
	}
	drop := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if s.meta.SnapshotByID(id) != nil {
			drop[id] = true
		}
	}
	if len(drop) == 0 {
		return
	}
	kept := s.meta.Snapshots[:0]
	for _, snap := range s.meta.Snapshots {
		if !drop[snap.SnapshotID] {
			kept = append(kept, snap)
		}
	}
	s.meta.Snapshots = kept
	keptLog := s.meta.SnapshotLog[:0]
	for _, entry := range s.meta.SnapshotLog {
		if !drop[entry.SnapshotID] {
			keptLog = append(keptLog, entry)
		}
	}
	s.meta.SnapshotLog = keptLog
	for name, ref := range s.meta.Refs {
		if drop[ref.SnapshotID] {
			delete(s.meta.Refs, name)
		}
	}
	if drop[s.meta.CurrentSnapshotID] {
		s.meta.CurrentSnapshotID = 0
	}
	s.dirty = true
}

func (s *TableState) setProperties(updates map[string]string) {
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

func (s *TableState) removeProperties(keys []string) {
	for _, k := range keys {
		if _, ok := s.meta.Properties[k]; ok {
			delete(s.meta.Properties, k)
			s.dirty = true
		}
	}
}

func cloneTableMetadata(m *TableMetadata) *TableMetadata {
	out := *m
	out.Schemas = append([]*iceberg.Schema(nil), m.Schemas...)
	out.PartitionSpecs = append([]PartitionSpec(nil), m.PartitionSpecs...)
	out.SortOrders = append([]SortOrder(nil), m.SortOrders...)
	out.Snapshots = append([]Snapshot(nil), m.Snapshots...)
	out.SnapshotLog = append([]SnapshotLogEntry(nil), m.SnapshotLog...)
	out.MetadataLog = append([]MetadataLogEntry(nil), m.MetadataLog...)
	if m.Properties != nil {
		out.Properties = make(map[string]string, len(m.Properties))
		for k, v := range m.Properties {
			out.Properties[k] = v
		}
	}
	if m.Refs != nil {
		out.Refs = make(map[string]SnapshotRef, len(m.Refs))
		for k, v := range m.Refs {
			out.Refs[k] = v
		}
	}
	return &out
}

func clonePartitionFields(fields []PartitionField) []PartitionField {
	return append([]PartitionField(nil), fields...)
}

func cloneSortFields(fields []SortField) []SortField {
	return append([]SortField(nil), fields...)
}
