package versioned

import (
	"context"
	"errors"
	"strings"

	"code.cloudfoundry.org/clock"
	"github.com/rs/zerolog"

	"github.com/tarnlabs/tarn/pkg/dag"
	"github.com/tarnlabs/tarn/pkg/events"
	"github.com/tarnlabs/tarn/pkg/log"
	"github.com/tarnlabs/tarn/pkg/refs"
	"github.com/tarnlabs/tarn/pkg/storage"
	"github.com/tarnlabs/tarn/pkg/types"
)

const (
	// DefaultBranchName is the branch created by Initialize.
	DefaultBranchName = "main"

	// DefaultMaxCommitRetries bounds the reload-and-swap loop of Commit,
	// Merge and Transplant before a ReferenceConflict surfaces.
	DefaultMaxCommitRetries = 5
)

// Config tunes one versioned store.
type Config struct {
	// DefaultBranch is created by Initialize. Empty means "main".
	DefaultBranch string

	// MaxCommitRetries caps head-swap restarts per mutation. Zero means
	// the default.
	MaxCommitRetries int

	// AllowEmptyCommit permits commits whose operations change no key.
	AllowEmptyCommit bool

	// AllowTagReassign is passed through to the reference manager.
	AllowTagReassign bool

	// RegistrySegmentNames is passed through to the reference manager.
	RegistrySegmentNames int

	// Clock supplies commit timestamps; nil means the system clock.
	Clock clock.Clock

	// Events receives a publication after every successful mutation.
	// Nil disables publication.
	Events *events.Broker
}

// Store is the transactional, branchable view over one repository: commits
// with per-key requirements, three-way merges, transplants and
// read-consistent lookups. It is safe for concurrent use; all mutation
// serialization happens on the storage adapter's compare-and-swap.
type Store struct {
	adapter storage.Adapter
	repo    string
	cfg     Config
	clock   clock.Clock
	dag     *dag.Store
	refs    *refs.Manager
	broker  *events.Broker
	logger  zerolog.Logger
}

// NewStore builds a versioned store over one repository.
func NewStore(adapter storage.Adapter, repo string, cfg Config) (*Store, error) {
	if cfg.DefaultBranch == "" {
		cfg.DefaultBranch = DefaultBranchName
	}
	if cfg.MaxCommitRetries <= 0 {
		cfg.MaxCommitRetries = DefaultMaxCommitRetries
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.NewClock()
	}
	d, err := dag.NewStore(adapter, repo)
	if err != nil {
		return nil, err
	}
	return &Store{
		adapter: adapter,
		repo:    repo,
		cfg:     cfg,
		clock:   clk,
		dag:     d,
		refs: refs.NewManager(adapter, repo, refs.Config{
			AllowTagReassign:     cfg.AllowTagReassign,
			RegistrySegmentNames: cfg.RegistrySegmentNames,
		}),
		broker: cfg.Events,
		logger: log.WithRepo(repo),
	}, nil
}

// DAG exposes the underlying commit store.
func (s *Store) DAG() *dag.Store { return s.dag }

// RefSpec names a point in history: a reference ("main"), a reference
// pinned to a commit ("main@<hex>"), or a bare commit hash resolving to a
// detached view.
type RefSpec struct {
	Name string
	Hash types.ID
}

// ParseRefSpec parses the textual ref-spec syntax. A bare 64-character hex
// string is always a detached hash, never a reference name.
func ParseRefSpec(spec string) (RefSpec, error) {
	if spec == "" {
		return RefSpec{}, types.NewError(types.CodeInvalidArgument, "empty reference")
	}
	if name, hex, ok := strings.Cut(spec, "@"); ok {
		if err := refs.ValidateName(name); err != nil {
			return RefSpec{}, types.WrapError(types.CodeInvalidArgument, err, "invalid reference %q", spec)
		}
		id, err := types.ParseID(hex)
		if err != nil {
			return RefSpec{}, types.WrapError(types.CodeInvalidArgument, err, "invalid pinned hash in %q", spec)
		}
		return RefSpec{Name: name, Hash: id}, nil
	}
	if id, err := types.ParseID(spec); err == nil {
		return RefSpec{Hash: id}, nil
	}
	if err := refs.ValidateName(spec); err != nil {
		return RefSpec{}, types.WrapError(types.CodeInvalidArgument, err, "invalid reference %q", spec)
	}
	return RefSpec{Name: spec}, nil
}

// Detached reports whether the spec is a bare hash without a reference.
func (r RefSpec) Detached() bool { return r.Name == "" }

func (r RefSpec) String() string {
	switch {
	case r.Detached():
		return r.Hash.String()
	case r.Hash.IsZero():
		return r.Name
	default:
		return r.Name + "@" + r.Hash.String()
	}
}

// ResolvedRef is the effective view a read or mutation operates on. Hash is
// always the exact commit every lookup used, which is what makes multi-key
// reads consistent.
type ResolvedRef struct {
	Ref  *types.Reference // nil for a detached hash
	Hash types.ID
}

// Name returns the reference name, or the literal "DETACHED".
func (r *ResolvedRef) Name() string {
	if r.Ref == nil {
		return "DETACHED"
	}
	return r.Ref.Name
}

// Resolve turns a spec into the effective commit to read. Detached specs
// verify that the commit exists; pinned specs trust the pin and fail on
// first use when it dangles.
func (s *Store) Resolve(ctx context.Context, spec RefSpec) (*ResolvedRef, error) {
	if spec.Detached() {
		if spec.Hash.IsZero() {
			return nil, types.NewError(types.CodeInvalidArgument, "empty reference")
		}
		if _, err := s.dag.Fetch(ctx, spec.Hash); err != nil {
			return nil, s.coded(err, "commit %s", spec.Hash)
		}
		return &ResolvedRef{Hash: spec.Hash}, nil
	}
	ref, err := s.refs.Get(ctx, spec.Name)
	if err != nil {
		return nil, s.coded(err, "reference %q", spec.Name)
	}
	hash := ref.Head
	if !spec.Hash.IsZero() {
		hash = spec.Hash
	}
	return &ResolvedRef{Ref: ref, Hash: hash}, nil
}

// rootOf returns the key-index root of a commit id, zero for a zero id.
func (s *Store) rootOf(ctx context.Context, id types.ID) (types.ID, error) {
	if id.IsZero() {
		return types.ID{}, nil
	}
	c, err := s.dag.Fetch(ctx, id)
	if err != nil {
		return types.ID{}, s.coded(err, "commit %s", id)
	}
	return c.IndexRoot, nil
}

// coded maps storage sentinels onto boundary error codes. Already coded
// errors pass through unchanged; anything unrecognized is Internal.
func (s *Store) coded(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	var typed *types.Error
	if errors.As(err, &typed) {
		return err
	}
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return types.WrapError(types.CodeNotFound, err, format, args...)
	case errors.Is(err, storage.ErrAlreadyExists):
		return types.WrapError(types.CodeAlreadyExists, err, format, args...)
	case errors.Is(err, storage.ErrCasMismatch):
		return types.WrapError(types.CodeReferenceConflict, err, format, args...)
	case errors.Is(err, storage.ErrUnavailable):
		return types.WrapError(types.CodeUnavailable, err, format, args...)
	case errors.Is(err, refs.ErrTagImmutable):
		return types.WrapError(types.CodeInvalidArgument, err, format, args...)
	case errors.Is(err, context.DeadlineExceeded):
		return types.WrapError(types.CodeDeadlineExceeded, err, format, args...)
	default:
		return types.WrapError(types.CodeInternal, err, format, args...)
	}
}

func (s *Store) publish(event *events.Event) {
	if s.broker == nil {
		return
	}
	event.Repo = s.repo
	s.broker.Publish(event)
}

func hexOrEmpty(id types.ID) string {
	if id.IsZero() {
		return ""
	}
	return id.String()
}

// keysOf lists the keys a set of operations mutates, skipping pure read
// assertions.
func keysOf(ops []types.Operation) []string {
	out := make([]string, 0, len(ops))
	for _, op := range ops {
		if op.Kind == types.OpUnchanged {
			continue
		}
		out = append(out, op.Key.String())
	}
	return out
}
