package refs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tarnlabs/tarn/pkg/codec"
	"github.com/tarnlabs/tarn/pkg/log"
	"github.com/tarnlabs/tarn/pkg/storage"
	"github.com/tarnlabs/tarn/pkg/types"
)

// ErrTagImmutable rejects head updates on tag references.
var ErrTagImmutable = errors.New("tag references cannot be reassigned")

// Config tunes reference handling.
type Config struct {
	// AllowTagReassign permits Update on tags. Off by default; tags are
	// fixed pointers once created.
	AllowTagReassign bool

	// RegistrySegmentNames caps names per registry segment before a new
	// segment starts. Zero means the default.
	RegistrySegmentNames int
}

// Manager owns the named references of one repository. Every head movement
// goes through the adapter's compare-and-swap, so concurrent writers race on
// the backend instead of on in-process locks and losers observe
// storage.ErrCasMismatch.
type Manager struct {
	store  storage.Adapter
	repo   string
	cfg    Config
	logger zerolog.Logger
}

// NewManager builds a Manager for one repository.
func NewManager(store storage.Adapter, repo string, cfg Config) *Manager {
	return &Manager{
		store:  store,
		repo:   repo,
		cfg:    cfg,
		logger: log.WithComponent("refs"),
	}
}

// refSlot derives the storage id of a reference from its name.
func refSlot(name string) types.ID {
	return types.NewHasher("RefByName").Str(name).Generate()
}

// ValidateName checks a reference name: printable name characters, no
// separators at the edges, no empty or doubled path segments, and no "@",
// which the ref-spec syntax reserves for pinning.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("reference name is empty")
	}
	if len(name) > 256 {
		return fmt.Errorf("reference name exceeds 256 characters")
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '.' || c == '_' || c == '-' || c == '/':
		default:
			return fmt.Errorf("reference name contains %q", c)
		}
	}
	if strings.HasPrefix(name, "/") || strings.HasSuffix(name, "/") ||
		strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return fmt.Errorf("reference name %q starts or ends with a separator", name)
	}
	if strings.Contains(name, "..") || strings.Contains(name, "//") {
		return fmt.Errorf("reference name %q contains an empty segment", name)
	}
	return nil
}

// Create stores a new reference. The slot is claimed with a create-only
// compare-and-swap, so exactly one of two racing creators wins and the loser
// fails storage.ErrAlreadyExists. The name registry is updated afterwards on
// a best-effort basis; the refs bucket stays authoritative either way.
func (m *Manager) Create(ctx context.Context, ref *types.Reference) error {
	if err := ValidateName(ref.Name); err != nil {
		return err
	}
	if ref.Kind != types.RefKindBranch && ref.Kind != types.RefKindTag {
		return fmt.Errorf("cannot store a %q reference", ref.Kind)
	}
	data := codec.EncodeReference(ref)
	if err := m.store.CompareAndSwap(ctx, m.repo, storage.BucketRefs, refSlot(ref.Name), nil, data); err != nil {
		return fmt.Errorf("failed to create reference %q: %w", ref.Name, err)
	}
	if err := m.appendName(ctx, ref.Name); err != nil {
		m.logger.Warn().Err(err).Str("ref", ref.Name).Msg("name registry append failed; listing may lag")
	}
	return nil
}

// Get resolves a reference by name, or storage.ErrNotFound.
func (m *Manager) Get(ctx context.Context, name string) (*types.Reference, error) {
	data, err := m.store.Get(ctx, m.repo, storage.BucketRefs, refSlot(name))
	if err != nil {
		return nil, fmt.Errorf("failed to load reference %q: %w", name, err)
	}
	ref, err := codec.DecodeReference(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode reference %q: %w", name, err)
	}
	return ref, nil
}

// Update moves a reference head from expectedHead to newHead and returns the
// updated reference. A stale expectedHead, or a concurrent move between the
// read and the swap, fails storage.ErrCasMismatch and the caller decides
// whether to reload and retry.
func (m *Manager) Update(ctx context.Context, name string, expectedHead, newHead types.ID) (*types.Reference, error) {
	data, err := m.store.Get(ctx, m.repo, storage.BucketRefs, refSlot(name))
	if err != nil {
		return nil, fmt.Errorf("failed to load reference %q: %w", name, err)
	}
	ref, err := codec.DecodeReference(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode reference %q: %w", name, err)
	}
	if ref.Kind == types.RefKindTag && !m.cfg.AllowTagReassign {
		return nil, fmt.Errorf("reference %q: %w", name, ErrTagImmutable)
	}
	if ref.Head != expectedHead {
		return nil, fmt.Errorf("reference %q moved to %s: %w", name, ref.Head, storage.ErrCasMismatch)
	}
	updated := *ref
	updated.Head = newHead
	if err := m.store.CompareAndSwap(ctx, m.repo, storage.BucketRefs, refSlot(name), data, codec.EncodeReference(&updated)); err != nil {
		return nil, fmt.Errorf("failed to update reference %q: %w", name, err)
	}
	return &updated, nil
}

// Delete removes a reference whose head still equals expectedHead. The name
// registry entry is removed best-effort; a leftover is dropped by List when
// re-verification misses.
func (m *Manager) Delete(ctx context.Context, name string, expectedHead types.ID) error {
	data, err := m.store.Get(ctx, m.repo, storage.BucketRefs, refSlot(name))
	if err != nil {
		return fmt.Errorf("failed to load reference %q: %w", name, err)
	}
	ref, err := codec.DecodeReference(data)
	if err != nil {
		return fmt.Errorf("failed to decode reference %q: %w", name, err)
	}
	if ref.Head != expectedHead {
		return fmt.Errorf("reference %q moved to %s: %w", name, ref.Head, storage.ErrCasMismatch)
	}
	if err := m.store.CompareAndSwap(ctx, m.repo, storage.BucketRefs, refSlot(name), data, nil); err != nil {
		return fmt.Errorf("failed to delete reference %q: %w", name, err)
	}
	if err := m.removeName(ctx, name); err != nil {
		m.logger.Warn().Err(err).Str("ref", name).Msg("name registry removal failed; listing will re-verify")
	}
	return nil
}
