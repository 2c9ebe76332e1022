package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"code.cloudfoundry.org/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tarnlabs/tarn/pkg/codec"
	"github.com/tarnlabs/tarn/pkg/iceberg"
	"github.com/tarnlabs/tarn/pkg/log"
	"github.com/tarnlabs/tarn/pkg/objio"
	"github.com/tarnlabs/tarn/pkg/tasks"
	"github.com/tarnlabs/tarn/pkg/types"
	"github.com/tarnlabs/tarn/pkg/versioned"
)

// Config tunes one catalog service.
type Config struct {
	// WarehouseRoot is the base URI every table and view location must
	// live under.
	WarehouseRoot string

	// Clock supplies metadata timestamps; nil means the system clock.
	Clock clock.Clock
}

// Service layers Iceberg-aware commits and snapshot retrieval over the
// versioned store. A catalog commit reads every targeted key at one
// resolved commit, replays the Iceberg update batches against the stored
// metadata, writes the new metadata files, and lands all keys in a single
// versioned commit guarded by the head it read.
type Service struct {
	store  *versioned.Store
	io     objio.ObjectIO
	tasks  *tasks.Cache
	cfg    Config
	clock  clock.Clock
	logger zerolog.Logger
}

// NewService builds a catalog service over a versioned store, an object
// store for metadata files and a task cache for snapshot materialization.
func NewService(store *versioned.Store, io objio.ObjectIO, cache *tasks.Cache, cfg Config) (*Service, error) {
	if cfg.WarehouseRoot == "" {
		return nil, fmt.Errorf("warehouse root is required")
	}
	if !io.IsValidURI(cfg.WarehouseRoot) {
		return nil, fmt.Errorf("warehouse root %q is not addressable by the object store", cfg.WarehouseRoot)
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.NewClock()
	}
	return &Service{
		store:  store,
		io:     io,
		tasks:  cache,
		cfg:    cfg,
		clock:  clk,
		logger: log.WithComponent("catalog"),
	}, nil
}

// Operation is one catalog mutation targeting a single key.
type Operation struct {
	Key  types.Key
	Type types.ContentType

	// Updates and Requirements drive the metadata state machine for
	// tables and views. Creating requires an assert-create requirement;
	// updating an absent key fails NotFound.
	Updates      []iceberg.Update
	Requirements []iceberg.Requirement

	// Properties is the full property set stored for namespaces and
	// UDFs, which are plain keyed documents without metadata files.
	Properties map[string]string
}

// CommitParams describes one catalog commit against a branch.
type CommitParams struct {
	Ref        versioned.RefSpec
	Operations []Operation
	Author     string
	Format     Format
}

// CommitResult reports the advanced branch and one snapshot response per
// table or view operation, in operation order.
type CommitResult struct {
	Ref       *types.Reference
	Head      types.ID
	Responses []SnapshotResponse
}

// appliedOp is the outcome of running one operation's state machine.
// content is the value the commit will store; for a no-op it is the prior
// content and nothing is written.
type appliedOp struct {
	op      Operation
	prior   *types.Content
	content *types.Content
	data    []byte // metadata JSON behind content; nil for namespaces and UDFs
	noop    bool
}

// Commit applies a batch of catalog operations as one atomic commit. The
// targeted keys are read once at the resolved head; that head guards the
// commit, so any concurrent movement of the branch surfaces as a
// reference conflict rather than a lost update.
func (s *Service) Commit(ctx context.Context, params CommitParams) (*CommitResult, error) {
	if params.Ref.Detached() {
		return nil, types.NewError(types.CodeInvalidArgument, "catalog commits require a branch, got a detached hash")
	}
	if len(params.Operations) == 0 {
		return nil, types.NewError(types.CodeInvalidArgument, "catalog commit carries no operations")
	}
	format := params.Format
	if format == "" {
		format = FormatNative
	}

	keys := make([]types.Key, 0, len(params.Operations))
	for _, op := range params.Operations {
		if err := op.Key.Validate(); err != nil {
			return nil, types.WrapError(types.CodeInvalidArgument, err, "invalid key in catalog commit")
		}
		keys = append(keys, op.Key)
	}

	read, err := s.store.GetContents(ctx, params.Ref, keys)
	if err != nil {
		return nil, err
	}
	head := read.Ref.Hash

	applied := make([]appliedOp, 0, len(params.Operations))
	for _, op := range params.Operations {
		prior := read.Contents[op.Key.String()]
		var a appliedOp
		switch op.Type {
		case types.ContentTypeIcebergTable:
			a, err = s.applyTableOp(ctx, op, prior)
		case types.ContentTypeIcebergView:
			a, err = s.applyViewOp(ctx, op, prior)
		case types.ContentTypeNamespace, types.ContentTypeUDF:
			a, err = s.applyPropsOp(op, prior)
		default:
			err = types.NewError(types.CodeInvalidArgument, "unsupported content type %q for key %s", op.Type, op.Key)
		}
		if err != nil {
			return nil, err
		}
		applied = append(applied, a)
	}

	ops := make([]types.Operation, 0, len(applied))
	reqs := make(map[string]versioned.Requirement, len(applied))
	var lines []string
	for _, a := range applied {
		if a.noop {
			continue
		}
		ops = append(ops, types.Put(a.op.Key, a.content))
		if a.prior == nil {
			reqs[a.op.Key.String()] = versioned.Requirement{Kind: versioned.MustNotExist}
		} else {
			payload, _ := codec.HashContent(a.prior)
			reqs[a.op.Key.String()] = versioned.Requirement{
				Kind:      versioned.HeadMatches,
				Payload:   payload,
				ContentID: a.prior.ContentID,
			}
		}
		verb := "Update"
		if a.prior == nil {
			verb = "Create"
		}
		lines = append(lines, fmt.Sprintf("%s %s %s", verb, a.op.Type, a.op.Key))
	}

	// Every operation reduced to its current state: report that state at
	// the head that was read, without minting a commit.
	if len(ops) == 0 {
		s.logger.Debug().
			Str("branch", params.Ref.Name).
			Int("operations", len(applied)).
			Msg("Catalog commit changed nothing, skipping")
		responses, err := s.responses(read.Ref.Name(), head, applied, format)
		if err != nil {
			return nil, err
		}
		return &CommitResult{Ref: read.Ref.Ref, Head: head, Responses: responses}, nil
	}

	result, err := s.store.Commit(ctx, versioned.CommitParams{
		Branch:       params.Ref.Name,
		ExpectedHead: &head,
		Author:       params.Author,
		Message:      commitMessage(lines),
		Operations:   ops,
		Requirements: reqs,
	})
	if err != nil {
		return nil, err
	}

	// Content ids assigned by the commit flow back into the responses,
	// and the just-written metadata warms the snapshot cache for the
	// reads that always follow a commit.
	for i := range applied {
		a := &applied[i]
		if a.noop {
			continue
		}
		if a.content.ContentID == "" {
			if cid, ok := result.AddedContents[a.op.Key.String()]; ok {
				patched := *a.content
				patched.ContentID = cid
				a.content = &patched
			}
		}
		if a.data != nil {
			if id, err := SnapshotID(a.content); err == nil {
				s.warmSnapshot(id, a.data)
			}
		}
	}

	responses, err := s.responses(params.Ref.Name, result.Commit.ID, applied, format)
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("branch", params.Ref.Name).
		Str("hash", result.Commit.ID.String()).
		Int("operations", len(ops)).
		Msg("Catalog commit applied")
	return &CommitResult{Ref: result.Ref, Head: result.Commit.ID, Responses: responses}, nil
}

func (s *Service) applyTableOp(ctx context.Context, op Operation, prior *types.Content) (appliedOp, error) {
	if err := checkPrior(op, prior); err != nil {
		return appliedOp{}, err
	}

	var priorMeta *iceberg.TableMetadata
	var priorData []byte
	if prior != nil {
		m, data, err := s.loadTable(ctx, prior)
		if err != nil {
			return appliedOp{}, err
		}
		priorMeta, priorData = m, data
	}

	state := iceberg.NewTableState(priorMeta)
	if err := state.CheckRequirements(op.Requirements); err != nil {
		return appliedOp{}, stateError(op.Key, err)
	}
	if err := state.ApplyUpdates(op.Updates); err != nil {
		return appliedOp{}, stateError(op.Key, err)
	}
	if prior == nil {
		if err := state.ApplyUpdates(createDefaults(state.Metadata().Location, state.Metadata().TableUUID, s.defaultLocation(op.Key))); err != nil {
			return appliedOp{}, stateError(op.Key, err)
		}
	}

	if prior != nil && !state.Changed() {
		return appliedOp{op: op, prior: prior, content: prior, data: priorData, noop: true}, nil
	}

	meta := state.Metadata()
	if err := s.checkWarehouse(op.Key, meta.Location); err != nil {
		return appliedOp{}, err
	}
	meta.LastUpdatedMS = s.clock.Now().UnixMilli()
	if priorMeta != nil {
		meta.MetadataLog = append(meta.MetadataLog, iceberg.MetadataLogEntry{
			TimestampMS:  priorMeta.LastUpdatedMS,
			MetadataFile: prior.MetadataLocation,
		})
	}

	data, err := iceberg.WriteTableMetadata(meta)
	if err != nil {
		return appliedOp{}, types.WrapError(types.CodeInternal, err, "failed to encode metadata for %s", op.Key)
	}
	location := s.metadataFileLocation(meta.Location)
	if err := s.io.Write(ctx, location, data); err != nil {
		return appliedOp{}, types.WrapError(types.CodeInternal, err, "failed to write metadata for %s", op.Key)
	}

	content := types.NewTableContent(contentID(prior), location, meta.CurrentSnapshotID,
		int32(meta.CurrentSchemaID), int32(meta.DefaultSpecID), int32(meta.DefaultSortOrderID))
	return appliedOp{op: op, prior: prior, content: content, data: data}, nil
}

func (s *Service) applyViewOp(ctx context.Context, op Operation, prior *types.Content) (appliedOp, error) {
	if err := checkPrior(op, prior); err != nil {
		return appliedOp{}, err
	}

	var priorMeta *iceberg.ViewMetadata
	var priorData []byte
	if prior != nil {
		m, data, err := s.loadView(ctx, prior)
		if err != nil {
			return appliedOp{}, err
		}
		priorMeta, priorData = m, data
	}

	state := iceberg.NewViewState(priorMeta)
	if err := state.CheckRequirements(op.Requirements); err != nil {
		return appliedOp{}, stateError(op.Key, err)
	}
	if err := state.ApplyUpdates(op.Updates); err != nil {
		return appliedOp{}, stateError(op.Key, err)
	}
	if prior == nil {
		if err := state.ApplyUpdates(createDefaults(state.Metadata().Location, state.Metadata().ViewUUID, s.defaultLocation(op.Key))); err != nil {
			return appliedOp{}, stateError(op.Key, err)
		}
	}

	if prior != nil && !state.Changed() {
		return appliedOp{op: op, prior: prior, content: prior, data: priorData, noop: true}, nil
	}

	meta := state.Metadata()
	if err := s.checkWarehouse(op.Key, meta.Location); err != nil {
		return appliedOp{}, err
	}

	data, err := iceberg.WriteViewMetadata(meta)
	if err != nil {
		return appliedOp{}, types.WrapError(types.CodeInternal, err, "failed to encode metadata for %s", op.Key)
	}
	location := s.metadataFileLocation(meta.Location)
	if err := s.io.Write(ctx, location, data); err != nil {
		return appliedOp{}, types.WrapError(types.CodeInternal, err, "failed to write metadata for %s", op.Key)
	}

	var schemaID int32
	if v := meta.VersionByID(meta.CurrentVersionID); v != nil {
		schemaID = int32(v.SchemaID)
	}
	content := types.NewViewContent(contentID(prior), location, meta.CurrentVersionID, schemaID)
	return appliedOp{op: op, prior: prior, content: content, data: data}, nil
}

// applyPropsOp handles namespaces and UDFs, which carry properties only.
// They upsert: absent keys are created, present ones replaced. An
// assert-create requirement demands a strict create.
func (s *Service) applyPropsOp(op Operation, prior *types.Content) (appliedOp, error) {
	if len(op.Updates) > 0 {
		return appliedOp{}, types.NewError(types.CodeInvalidArgument,
			"%s %s does not accept metadata updates", entityName(op.Type), op.Key)
	}
	for _, req := range op.Requirements {
		if req.Type != iceberg.RequirementAssertCreate {
			return appliedOp{}, types.NewError(types.CodeInvalidArgument,
				"requirement %q is not supported for %s", req.Type, op.Type)
		}
		if prior != nil {
			return appliedOp{}, types.NewError(types.CodeAlreadyExists,
				"%s %s already exists", entityName(prior.Type), op.Key)
		}
	}
	if prior != nil && prior.Type != op.Type {
		return appliedOp{}, typeMismatch(op.Key, prior.Type, op.Type)
	}
	if prior != nil && equalProps(prior.Properties, op.Properties) {
		return appliedOp{op: op, prior: prior, content: prior, noop: true}, nil
	}
	content := &types.Content{ContentID: contentID(prior), Type: op.Type, Properties: op.Properties}
	return appliedOp{op: op, prior: prior, content: content}, nil
}

// checkPrior enforces the existence rules shared by table and view
// operations: assert-create demands absence, everything else demands a
// prior content of the same type.
func checkPrior(op Operation, prior *types.Content) error {
	if hasAssertCreate(op.Requirements) {
		if prior != nil {
			return types.NewError(types.CodeAlreadyExists,
				"%s %s already exists", entityName(prior.Type), op.Key)
		}
		return nil
	}
	if prior == nil {
		return types.NewError(types.CodeNotFound, "%s %s does not exist", entityName(op.Type), op.Key)
	}
	if prior.Type != op.Type {
		return typeMismatch(op.Key, prior.Type, op.Type)
	}
	return nil
}

func typeMismatch(key types.Key, existing, requested types.ContentType) error {
	msg := fmt.Sprintf("Cannot update %s %s as a %s", entityName(existing), key, entityName(requested))
	return types.NewError(types.CodeContentConflict, "%s", msg).
		WithConflicts(types.Conflict{Key: key, Kind: types.ConflictTypeDiffers, Message: msg})
}

// stateError maps state machine failures onto boundary codes: violated
// requirements are content conflicts, rejected updates are the caller's
// mistake.
func stateError(key types.Key, err error) error {
	switch {
	case errors.Is(err, iceberg.ErrRequirementViolated):
		return types.WrapError(types.CodeContentConflict, err, "commit requirements for %s are not met", key).
			WithConflicts(types.Conflict{Key: key, Kind: types.ConflictValueDiffers, Message: err.Error()})
	case errors.Is(err, iceberg.ErrUpdateRejected):
		return types.WrapError(types.CodeInvalidArgument, err, "cannot apply metadata updates to %s", key)
	default:
		return types.WrapError(types.CodeInternal, err, "metadata state failure for %s", key)
	}
}

// createDefaults fills in what a create may omit: a location under the
// warehouse and a fresh UUID.
func createDefaults(location, uuidSet, defaultLocation string) []iceberg.Update {
	var updates []iceberg.Update
	if location == "" {
		updates = append(updates, iceberg.SetLocation(defaultLocation))
	}
	if uuidSet == "" {
		updates = append(updates, iceberg.AssignUUID(uuid.NewString()))
	}
	return updates
}

func hasAssertCreate(reqs []iceberg.Requirement) bool {
	for _, req := range reqs {
		if req.Type == iceberg.RequirementAssertCreate {
			return true
		}
	}
	return false
}

func contentID(prior *types.Content) string {
	if prior == nil {
		return ""
	}
	return prior.ContentID
}

func entityName(t types.ContentType) string {
	switch t {
	case types.ContentTypeIcebergTable:
		return "table"
	case types.ContentTypeIcebergView:
		return "view"
	case types.ContentTypeNamespace:
		return "namespace"
	case types.ContentTypeUDF:
		return "udf"
	default:
		return strings.ToLower(string(t))
	}
}

func equalProps(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

// commitMessage renders the catalog commit message: the bare operation
// for a single-operation commit, a header plus bullet list otherwise.
func commitMessage(lines []string) string {
	if len(lines) == 1 {
		return lines[0]
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Catalog commit with %d operations\n", len(lines))
	for _, line := range lines {
		b.WriteString("\n* ")
		b.WriteString(line)
	}
	return b.String()
}
