package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/tarnlabs/tarn/pkg/types"
)

// Bucket names the typed object spaces of one repository.
type Bucket string

const (
	BucketCommits       Bucket = "commits"
	BucketIndexSegments Bucket = "index_segments"
	BucketRefs          Bucket = "refs"
	BucketRefNames      Bucket = "ref_names"
	BucketRepoDesc      Bucket = "repo_desc"
	BucketAttachments   Bucket = "attachments"
	BucketTaskResults   Bucket = "task_results"
)

// Buckets lists every bucket an adapter must provide.
var Buckets = []Bucket{
	BucketCommits,
	BucketIndexSegments,
	BucketRefs,
	BucketRefNames,
	BucketRepoDesc,
	BucketAttachments,
	BucketTaskResults,
}

// Adapter failure sentinels. Callers match them with errors.Is; everything
// else an adapter returns is treated as fatal.
var (
	ErrNotFound      = errors.New("object not found")
	ErrAlreadyExists = errors.New("object already exists")
	ErrCasMismatch   = errors.New("compare-and-swap mismatch")
	ErrUnavailable   = errors.New("backend unavailable") // retryable
	ErrFatal         = errors.New("backend failure")
)

// ScanEntry is one object returned by Scan.
type ScanEntry struct {
	ID   types.ID
	Data []byte
}

// Adapter is the narrow storage contract everything above builds on. All
// objects live under a compound address (repo, bucket, id). Implementations
// must be safe for concurrent use.
//
// Mutation serialization happens exclusively through CompareAndSwap: the
// engine holds no per-reference locks, so CAS is the only coordinator that
// works across processes sharing a backend.
type Adapter interface {
	// Get returns the stored bytes or ErrNotFound.
	Get(ctx context.Context, repo string, bucket Bucket, id types.ID) ([]byte, error)

	// GetMany returns one result per requested id, in order, with nil for
	// each miss. It fails only on backend errors.
	GetMany(ctx context.Context, repo string, bucket Bucket, ids []types.ID) ([][]byte, error)

	// Put stores bytes under an id. Storing identical bytes again is a
	// no-op success; different bytes under an existing id fail
	// ErrAlreadyExists.
	Put(ctx context.Context, repo string, bucket Bucket, id types.ID, data []byte) error

	// Delete removes an object or fails ErrNotFound.
	Delete(ctx context.Context, repo string, bucket Bucket, id types.ID) error

	// CompareAndSwap atomically replaces the bytes under an id.
	// expected == nil asserts absence (create); an existing object then
	// fails ErrAlreadyExists. A non-nil expected that does not match the
	// current bytes fails ErrCasMismatch. updated == nil deletes.
	CompareAndSwap(ctx context.Context, repo string, bucket Bucket, id types.ID, expected, updated []byte) error

	// Scan streams objects in id order, starting after the cursor
	// (exclusive) and filtered to ids beginning with prefix. A zero limit
	// means no limit. Only BucketCommits is required to support it.
	Scan(ctx context.Context, repo string, bucket Bucket, prefix []byte, after []byte, limit int) ([]ScanEntry, error)

	// Close releases backend resources.
	Close() error
}

func validateAddr(repo string, bucket Bucket) error {
	if repo == "" {
		return fmt.Errorf("%w: empty repo id", ErrFatal)
	}
	for i := 0; i < len(repo); i++ {
		if repo[i] == 0 {
			return fmt.Errorf("%w: repo id contains NUL", ErrFatal)
		}
	}
	for _, b := range Buckets {
		if b == bucket {
			return nil
		}
	}
	return fmt.Errorf("%w: unknown bucket %q", ErrFatal, bucket)
}
