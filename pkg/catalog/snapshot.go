package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/tarnlabs/tarn/pkg/iceberg"
	"github.com/tarnlabs/tarn/pkg/metrics"
	"github.com/tarnlabs/tarn/pkg/tasks"
	"github.com/tarnlabs/tarn/pkg/types"
	"github.com/tarnlabs/tarn/pkg/versioned"
)

// Format selects the wire shape of a snapshot response.
type Format string

const (
	// FormatNative wraps the metadata in a reference-and-snapshot
	// document carrying commit provenance alongside the file.
	FormatNative Format = "native"

	// FormatIceberg returns the metadata file itself, with the
	// provenance folded into the table or view properties so stock
	// Iceberg clients pick it up.
	FormatIceberg Format = "iceberg"
)

// retrieveParallelism caps concurrent materializations per request.
const retrieveParallelism = 4

// SnapshotResponse is one materialized table or view snapshot, shaped as
// a downloadable metadata document.
type SnapshotResponse struct {
	Key         types.Key
	ContentID   string
	SnapshotID  types.ID
	FileName    string
	ContentType string
	Data        []byte
}

// NativeReference identifies the commit a native snapshot was read at.
type NativeReference struct {
	Name string `json:"name,omitempty"`
	Hash string `json:"hash"`
}

// NativeSnapshot is the snapshot envelope of the native format.
type NativeSnapshot struct {
	ID               string            `json:"id"`
	Key              []string          `json:"key"`
	ContentID        string            `json:"contentId"`
	Type             string            `json:"type"`
	MetadataLocation string            `json:"metadataLocation"`
	Properties       map[string]string `json:"properties"`
	Metadata         json.RawMessage   `json:"metadata"`
}

type nativeDocument struct {
	Reference NativeReference `json:"reference"`
	Snapshot  NativeSnapshot  `json:"snapshot"`
}

// SnapshotID derives the deterministic id of the snapshot a content
// points at. Contents without metadata files have no snapshots.
func SnapshotID(content *types.Content) (types.ID, error) {
	switch content.Type {
	case types.ContentTypeIcebergTable:
		return types.NewHasher("ContentSnapshot").
			Str(content.MetadataLocation).
			Int64(content.SnapshotID).
			Generate(), nil
	case types.ContentTypeIcebergView:
		return types.NewHasher("ContentSnapshot").
			Str(content.MetadataLocation).
			Int64(content.VersionID).
			Generate(), nil
	default:
		return types.ID{}, types.NewError(types.CodeNotFound,
			"content %s has no snapshot", content.ContentID).WithReason("Not a table")
	}
}

// RetrieveSnapshot materializes a single key at a reference.
func (s *Service) RetrieveSnapshot(ctx context.Context, spec versioned.RefSpec, key types.Key, format Format) (*SnapshotResponse, error) {
	responses, err := s.RetrieveSnapshots(ctx, spec, []types.Key{key}, format)
	if err != nil {
		return nil, err
	}
	return &responses[0], nil
}

// RetrieveSnapshots reads all keys at one resolved commit and
// materializes their metadata concurrently. Any failing key fails the
// batch.
func (s *Service) RetrieveSnapshots(ctx context.Context, spec versioned.RefSpec, keys []types.Key, format Format) ([]SnapshotResponse, error) {
	if len(keys) == 0 {
		return nil, types.NewError(types.CodeInvalidArgument, "no keys requested")
	}
	if format == "" {
		format = FormatNative
	}
	read, err := s.store.GetContents(ctx, spec, keys)
	if err != nil {
		return nil, err
	}
	eff := effective(read.Ref)

	contents := make([]*types.Content, len(keys))
	for i, key := range keys {
		content, ok := read.Contents[key.String()]
		if !ok {
			return nil, types.NewError(types.CodeNotFound, "key %s not found at %s", key, eff.path())
		}
		contents[i] = content
	}

	responses := make([]SnapshotResponse, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(retrieveParallelism)
	for i, key := range keys {
		i, key := i, key
		content := contents[i]
		g.Go(func() error {
			id, err := SnapshotID(content)
			if err != nil {
				return err
			}
			data, err := s.materialize(gctx, content)
			if err != nil {
				return err
			}
			resp, err := buildResponse(format, key, content, eff, id, data)
			if err != nil {
				return err
			}
			responses[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return responses, nil
}

// materialize returns the metadata file bytes behind a content. The fetch
// runs through the task cache, so concurrent requests for the same
// snapshot share one object store read and repeats are served from
// memory or the persisted result.
func (s *Service) materialize(ctx context.Context, content *types.Content) ([]byte, error) {
	id, err := SnapshotID(content)
	if err != nil {
		return nil, err
	}
	location := content.MetadataLocation
	isView := content.Type == types.ContentTypeIcebergView
	future, err := s.tasks.Get(ctx, id, func(tctx context.Context) ([]byte, error) {
		timer := metrics.NewTimer()
		data, err := s.io.Read(tctx, location)
		if err != nil {
			return nil, fmt.Errorf("failed to read metadata file %s: %w", location, err)
		}
		if isView {
			_, err = iceberg.ParseViewMetadata(data)
		} else {
			_, err = iceberg.ParseTableMetadata(data)
		}
		if err != nil {
			return nil, err
		}
		timer.ObserveDuration(metrics.SnapshotMaterializeDuration)
		return data, nil
	})
	if err != nil {
		if errors.Is(err, tasks.ErrBusy) {
			return nil, types.WrapError(types.CodeUnavailable, err, "snapshot %s deferred", id)
		}
		return nil, types.WrapError(types.CodeInternal, err, "failed to schedule snapshot %s", id)
	}
	data, err := future.Get(ctx)
	if err != nil {
		var typed *types.Error
		if errors.As(err, &typed) {
			return nil, err
		}
		return nil, types.WrapError(types.CodeInternal, err, "failed to materialize snapshot %s", id)
	}
	return data, nil
}

// warmSnapshot seeds the task cache with metadata this process just
// wrote, so the reads that follow a commit skip the object store. Fire
// and forget: a full queue only costs the next reader a fetch.
func (s *Service) warmSnapshot(id types.ID, data []byte) {
	_, err := s.tasks.Get(context.Background(), id, func(context.Context) ([]byte, error) {
		return data, nil
	})
	if err != nil {
		s.logger.Debug().Err(err).Str("snapshot", id.String()).Msg("Snapshot cache warm skipped")
	}
}

// loadTable materializes a content and parses it as table metadata.
func (s *Service) loadTable(ctx context.Context, content *types.Content) (*iceberg.TableMetadata, []byte, error) {
	data, err := s.materialize(ctx, content)
	if err != nil {
		return nil, nil, err
	}
	meta, err := iceberg.ParseTableMetadata(data)
	if err != nil {
		return nil, nil, types.WrapError(types.CodeInternal, err, "stored metadata at %s is unreadable", content.MetadataLocation)
	}
	return meta, data, nil
}

// loadView materializes a content and parses it as view metadata.
func (s *Service) loadView(ctx context.Context, content *types.Content) (*iceberg.ViewMetadata, []byte, error) {
	data, err := s.materialize(ctx, content)
	if err != nil {
		return nil, nil, err
	}
	meta, err := iceberg.ParseViewMetadata(data)
	if err != nil {
		return nil, nil, types.WrapError(types.CodeInternal, err, "stored metadata at %s is unreadable", content.MetadataLocation)
	}
	return meta, data, nil
}

// responses builds one snapshot response per table or view operation,
// preserving operation order. Namespace and UDF operations produce none.
func (s *Service) responses(name string, hash types.ID, applied []appliedOp, format Format) ([]SnapshotResponse, error) {
	eff := effectiveRef{name: name, hash: hash}
	var out []SnapshotResponse
	for _, a := range applied {
		if a.data == nil {
			continue
		}
		id, err := SnapshotID(a.content)
		if err != nil {
			return nil, err
		}
		resp, err := buildResponse(format, a.op.Key, a.content, eff, id, a.data)
		if err != nil {
			return nil, err
		}
		out = append(out, resp)
	}
	return out, nil
}

// effectiveRef is the commit a response was computed against.
type effectiveRef struct {
	name string
	hash types.ID
}

func effective(ref *versioned.ResolvedRef) effectiveRef {
	e := effectiveRef{hash: ref.Hash}
	if ref.Ref != nil {
		e.name = ref.Ref.Name
	}
	return e
}

// path renders the reference the way clients pin it: name@hash, or the
// bare hash for a detached read.
func (e effectiveRef) path() string {
	if e.name == "" {
		return e.hash.String()
	}
	return e.name + "@" + e.hash.String()
}

// passThroughProperties carry catalog provenance inside the metadata
// properties, so clients holding only the metadata file can still tell
// which content, snapshot and commit produced it.
func passThroughProperties(content *types.Content, eff effectiveRef, id types.ID) map[string]string {
	return map[string]string{
		"nessie.catalog.content-id":  content.ContentID,
		"nessie.catalog.snapshot-id": id.String(),
		"nessie.commit.id":           eff.hash.String(),
		"nessie.commit.ref":          eff.path(),
	}
}

func buildResponse(format Format, key types.Key, content *types.Content, eff effectiveRef, id types.ID, data []byte) (SnapshotResponse, error) {
	props := passThroughProperties(content, eff, id)
	switch format {
	case FormatIceberg:
		return icebergResponse(key, content, id, data, props)
	case FormatNative:
		return nativeResponse(key, content, eff, id, data, props)
	default:
		return SnapshotResponse{}, types.NewError(types.CodeInvalidArgument, "unknown snapshot format %q", format)
	}
}

func icebergResponse(key types.Key, content *types.Content, id types.ID, data []byte, props map[string]string) (SnapshotResponse, error) {
	var out []byte
	switch content.Type {
	case types.ContentTypeIcebergTable:
		meta, err := iceberg.ParseTableMetadata(data)
		if err != nil {
			return SnapshotResponse{}, types.WrapError(types.CodeInternal, err, "stored metadata for %s is unreadable", key)
		}
		if meta.Properties == nil {
			meta.Properties = make(map[string]string, len(props))
		}
		for k, v := range props {
			meta.Properties[k] = v
		}
		out, err = iceberg.WriteTableMetadata(meta)
		if err != nil {
			return SnapshotResponse{}, types.WrapError(types.CodeInternal, err, "failed to encode metadata for %s", key)
		}
	case types.ContentTypeIcebergView:
		meta, err := iceberg.ParseViewMetadata(data)
		if err != nil {
			return SnapshotResponse{}, types.WrapError(types.CodeInternal, err, "stored metadata for %s is unreadable", key)
		}
		if meta.Properties == nil {
			meta.Properties = make(map[string]string, len(props))
		}
		for k, v := range props {
			meta.Properties[k] = v
		}
		out, err = iceberg.WriteViewMetadata(meta)
		if err != nil {
			return SnapshotResponse{}, types.WrapError(types.CodeInternal, err, "failed to encode metadata for %s", key)
		}
	default:
		return SnapshotResponse{}, types.NewError(types.CodeNotFound,
			"content %s has no snapshot", content.ContentID).WithReason("Not a table")
	}
	return SnapshotResponse{
		Key:         key,
		ContentID:   content.ContentID,
		SnapshotID:  id,
		FileName:    "00000-" + id.String() + ".metadata.json",
		ContentType: "application/json",
		Data:        out,
	}, nil
}

func nativeResponse(key types.Key, content *types.Content, eff effectiveRef, id types.ID, data []byte, props map[string]string) (SnapshotResponse, error) {
	doc := nativeDocument{
		Reference: NativeReference{Name: eff.name, Hash: eff.hash.String()},
		Snapshot: NativeSnapshot{
			ID:               id.String(),
			Key:              key.Elements(),
			ContentID:        content.ContentID,
			Type:             string(content.Type),
			MetadataLocation: content.MetadataLocation,
			Properties:       props,
			Metadata:         json.RawMessage(data),
		},
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return SnapshotResponse{}, types.WrapError(types.CodeInternal, err, "failed to encode snapshot document for %s", key)
	}
	return SnapshotResponse{
		Key:         key,
		ContentID:   content.ContentID,
		SnapshotID:  id,
		FileName:    strings.Join(key.Elements(), "/") + "_" + id.String() + ".nessie-metadata.json",
		ContentType: "application/json",
		Data:        out,
	}, nil
}
