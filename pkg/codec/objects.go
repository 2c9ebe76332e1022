package codec

import (
	"fmt"

	"github.com/tarnlabs/tarn/pkg/types"
)

// Domain tags mixed into object hashes, one per hashed object kind.
const (
	TagCommit         = "Commit"
	TagContent        = "Content"
	TagIndexSegment   = "IndexSegment"
	TagIndexRoot      = "IndexRoot"
	TagRefNameSegment = "RefNameSegment"
)

const (
	opPut       byte = 0x01
	opDelete    byte = 0x02
	opUnchanged byte = 0x03
)

// EncodeCommit produces the canonical bytes of a commit. The commit ID is
// excluded: it is the hash of exactly these bytes. Put operations must be
// sealed (Payload filled) before encoding.
func EncodeCommit(c *types.Commit) ([]byte, error) {
	w := NewWriter(KindCommit)
	w.Uint32(uint32(len(c.Parents)))
	for _, p := range c.Parents {
		w.ID(p)
	}
	w.Int64(c.Seq)
	w.String(c.Author)
	w.String(c.Committer)
	w.String(c.Message)
	w.Time(c.CommitTime)
	w.StringMap(c.Metadata)
	w.Uint32(uint32(len(c.Operations)))
	for i := range c.Operations {
		op := &c.Operations[i]
		switch op.Kind {
		case types.OpPut:
			if op.Payload.IsZero() {
				return nil, fmt.Errorf("unsealed put operation for key %s", op.Key)
			}
			w.Byte(opPut)
			w.Key(op.Key)
			w.String(op.ContentID)
			w.String(string(op.ContentType))
			w.ID(op.Payload)
		case types.OpDelete:
			w.Byte(opDelete)
			w.Key(op.Key)
		case types.OpUnchanged:
			w.Byte(opUnchanged)
			w.Key(op.Key)
		default:
			return nil, fmt.Errorf("unknown operation kind %q", op.Kind)
		}
	}
	w.ID(c.IndexRoot)
	return w.Finish(), nil
}

// DecodeCommit parses canonical commit bytes. The caller supplies the ID
// the bytes were stored under.
func DecodeCommit(id types.ID, data []byte) (*types.Commit, error) {
	r, err := NewReader(data, KindCommit)
	if err != nil {
		return nil, fmt.Errorf("failed to decode commit %s: %w", id, err)
	}
	c := &types.Commit{ID: id}
	nParents := r.Uint32()
	for i := uint32(0); i < nParents && r.Err() == nil; i++ {
		c.Parents = append(c.Parents, r.ID())
	}
	c.Seq = r.Int64()
	c.Author = r.String()
	c.Committer = r.String()
	c.Message = r.String()
	c.CommitTime = r.Time()
	c.Metadata = r.StringMap()
	nOps := r.Uint32()
	for i := uint32(0); i < nOps && r.Err() == nil; i++ {
		var op types.Operation
		switch k := r.Byte(); k {
		case opPut:
			op.Kind = types.OpPut
			op.Key = r.Key()
			op.ContentID = r.String()
			op.ContentType = types.ContentType(r.String())
			op.Payload = r.ID()
		case opDelete:
			op.Kind = types.OpDelete
			op.Key = r.Key()
		case opUnchanged:
			op.Kind = types.OpUnchanged
			op.Key = r.Key()
		default:
			return nil, fmt.Errorf("failed to decode commit %s: unknown operation kind 0x%02x", id, k)
		}
		c.Operations = append(c.Operations, op)
	}
	c.IndexRoot = r.ID()
	if err := r.Done(); err != nil {
		return nil, fmt.Errorf("failed to decode commit %s: %w", id, err)
	}
	return c, nil
}

// HashCommit encodes a commit and returns its canonical bytes plus the ID
// those bytes hash to.
func HashCommit(c *types.Commit) (types.ID, []byte, error) {
	data, err := EncodeCommit(c)
	if err != nil {
		return types.ID{}, nil, err
	}
	return types.Hash(TagCommit, data), data, nil
}

// EncodeContent produces the canonical bytes of a content payload.
func EncodeContent(c *types.Content) []byte {
	w := NewWriter(KindContent)
	w.String(c.ContentID)
	w.String(string(c.Type))
	w.String(c.MetadataLocation)
	w.Int64(c.SnapshotID)
	w.Int32(c.SchemaID)
	w.Int32(c.SpecID)
	w.Int32(c.SortOrderID)
	w.Int64(c.VersionID)
	w.StringMap(c.Properties)
	return w.Finish()
}

// DecodeContent parses canonical content bytes.
func DecodeContent(data []byte) (*types.Content, error) {
	r, err := NewReader(data, KindContent)
	if err != nil {
		return nil, fmt.Errorf("failed to decode content: %w", err)
	}
	c := &types.Content{}
	c.ContentID = r.String()
	c.Type = types.ContentType(r.String())
	c.MetadataLocation = r.String()
	c.SnapshotID = r.Int64()
	c.SchemaID = r.Int32()
	c.SpecID = r.Int32()
	c.SortOrderID = r.Int32()
	c.VersionID = r.Int64()
	c.Properties = r.StringMap()
	if err := r.Done(); err != nil {
		return nil, fmt.Errorf("failed to decode content: %w", err)
	}
	return c, nil
}

// HashContent encodes a content payload and returns its bytes plus the
// content-addressed ID they are stored under.
func HashContent(c *types.Content) (types.ID, []byte) {
	data := EncodeContent(c)
	return types.Hash(TagContent, data), data
}

// EncodeReference produces the canonical bytes of a named reference.
func EncodeReference(ref *types.Reference) []byte {
	w := NewWriter(KindReference)
	w.String(ref.Name)
	w.String(string(ref.Kind))
	w.ID(ref.Head)
	w.Time(ref.CreatedAt)
	return w.Finish()
}

// DecodeReference parses canonical reference bytes.
func DecodeReference(data []byte) (*types.Reference, error) {
	r, err := NewReader(data, KindReference)
	if err != nil {
		return nil, fmt.Errorf("failed to decode reference: %w", err)
	}
	ref := &types.Reference{}
	ref.Name = r.String()
	ref.Kind = types.RefKind(r.String())
	ref.Head = r.ID()
	ref.CreatedAt = r.Time()
	if err := r.Done(); err != nil {
		return nil, fmt.Errorf("failed to decode reference: %w", err)
	}
	return ref, nil
}

// EncodeRepoDescriptor produces the canonical bytes of the repository
// descriptor singleton.
func EncodeRepoDescriptor(d *types.RepositoryDescriptor) []byte {
	w := NewWriter(KindRepoDescriptor)
	w.String(d.RepoID)
	w.String(d.DefaultBranch)
	w.Time(d.CreatedAt)
	w.StringMap(d.Properties)
	return w.Finish()
}

// DecodeRepoDescriptor parses canonical repository-descriptor bytes.
func DecodeRepoDescriptor(data []byte) (*types.RepositoryDescriptor, error) {
	r, err := NewReader(data, KindRepoDescriptor)
	if err != nil {
		return nil, fmt.Errorf("failed to decode repository descriptor: %w", err)
	}
	d := &types.RepositoryDescriptor{}
	d.RepoID = r.String()
	d.DefaultBranch = r.String()
	d.CreatedAt = r.Time()
	d.Properties = r.StringMap()
	if err := r.Done(); err != nil {
		return nil, fmt.Errorf("failed to decode repository descriptor: %w", err)
	}
	return d, nil
}
