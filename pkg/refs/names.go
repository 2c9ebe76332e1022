package refs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/tarnlabs/tarn/pkg/codec"
	"github.com/tarnlabs/tarn/pkg/storage"
	"github.com/tarnlabs/tarn/pkg/types"
)

// DefaultRegistrySegmentNames is the per-segment name cap of the registry.
const DefaultRegistrySegmentNames = 256

// registryAttempts bounds the reload-and-swap loop on registry objects.
const registryAttempts = 5

var registryRoot = types.NewHasher("RefNameRegistry").Generate()

func segmentSlot(n int) types.ID {
	return types.NewHasher("RefNameSegment").Int64(int64(n)).Generate()
}

func (m *Manager) segmentTarget() int {
	if m.cfg.RegistrySegmentNames > 0 {
		return m.cfg.RegistrySegmentNames
	}
	return DefaultRegistrySegmentNames
}

func encodeRegistryRoot(segments int) []byte {
	return codec.NewWriter(codec.KindRefNameRegistry).Uint32(uint32(segments)).Finish()
}

func decodeRegistryRoot(data []byte) (int, error) {
	r, err := codec.NewReader(data, codec.KindRefNameRegistry)
	if err != nil {
		return 0, err
	}
	n := r.Uint32()
	if err := r.Done(); err != nil {
		return 0, err
	}
	return int(n), nil
}

func encodeSegment(names []string) []byte {
	w := codec.NewWriter(codec.KindRefNameSegment)
	w.Uint32(uint32(len(names)))
	for _, n := range names {
		w.String(n)
	}
	return w.Finish()
}

func decodeSegment(data []byte) ([]string, error) {
	r, err := codec.NewReader(data, codec.KindRefNameSegment)
	if err != nil {
		return nil, err
	}
	n := r.Uint32()
	if r.Err() != nil {
		return nil, r.Err()
	}
	hint := int(n)
	if hint > 4096 {
		hint = 4096
	}
	names := make([]string, 0, hint)
	for i := uint32(0); i < n; i++ {
		names = append(names, r.String())
	}
	if err := r.Done(); err != nil {
		return nil, err
	}
	return names, nil
}

// readRegistry returns the segment count, the raw root bytes for a later
// swap, or (0, nil) when no registry exists yet.
func (m *Manager) readRegistry(ctx context.Context) (int, []byte, error) {
	data, err := m.store.Get(ctx, m.repo, storage.BucketRefNames, registryRoot)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil, nil
	}
	if err != nil {
		return 0, nil, fmt.Errorf("failed to load name registry: %w", err)
	}
	count, err := decodeRegistryRoot(data)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to decode name registry: %w", err)
	}
	return count, data, nil
}

func (m *Manager) readSegment(ctx context.Context, n int) ([]string, []byte, error) {
	data, err := m.store.Get(ctx, m.repo, storage.BucketRefNames, segmentSlot(n))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load name segment %d: %w", n, err)
	}
	names, err := decodeSegment(data)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode name segment %d: %w", n, err)
	}
	return names, data, nil
}

// appendName records a created reference in the registry. The registry is an
// eventually consistent listing aid, never the source of truth, so the
// bounded swap loop gives up under heavy contention instead of stalling
// creates.
func (m *Manager) appendName(ctx context.Context, name string) error {
	var lastErr error
	for attempt := 0; attempt < registryAttempts; attempt++ {
		count, rootRaw, err := m.readRegistry(ctx)
		if err != nil {
			return err
		}

		// Grow into the last segment while it has room.
		if count > 0 {
			names, segRaw, err := m.readSegment(ctx, count-1)
			if err != nil {
				return err
			}
			if containsName(names, name) {
				return nil
			}
			if len(names) < m.segmentTarget() {
				updated := insertName(names, name)
				err = m.store.CompareAndSwap(ctx, m.repo, storage.BucketRefNames, segmentSlot(count-1), segRaw, encodeSegment(updated))
				if err == nil {
					return nil
				}
				lastErr = err
				continue
			}
		}

		// Open the next segment, merging into a leftover from an
		// earlier interrupted attempt if one exists.
		names, segRaw, err := m.readSegment(ctx, count)
		if err != nil {
			return err
		}
		if !containsName(names, name) {
			updated := insertName(names, name)
			err = m.store.CompareAndSwap(ctx, m.repo, storage.BucketRefNames, segmentSlot(count), segRaw, encodeSegment(updated))
			if err != nil {
				lastErr = err
				continue
			}
		}
		err = m.store.CompareAndSwap(ctx, m.repo, storage.BucketRefNames, registryRoot, rootRaw, encodeRegistryRoot(count+1))
		if err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("name registry contention: %w", lastErr)
}

// removeName drops a deleted reference from every registry segment carrying
// it. Interrupted create retries can leave a name in more than one segment,
// so all segments are checked.
func (m *Manager) removeName(ctx context.Context, name string) error {
	count, _, err := m.readRegistry(ctx)
	if err != nil {
		return err
	}
	for i := 0; i < count; i++ {
		var lastErr error
		for attempt := 0; attempt < registryAttempts; attempt++ {
			names, segRaw, err := m.readSegment(ctx, i)
			if err != nil {
				return err
			}
			if !containsName(names, name) {
				lastErr = nil
				break
			}
			updated := deleteName(names, name)
			err = m.store.CompareAndSwap(ctx, m.repo, storage.BucketRefNames, segmentSlot(i), segRaw, encodeSegment(updated))
			if err == nil {
				lastErr = nil
				break
			}
			lastErr = err
		}
		if lastErr != nil {
			return fmt.Errorf("name registry contention: %w", lastErr)
		}
	}
	return nil
}

// List returns references whose name starts with filter (empty matches all),
// sorted by name, resuming after pageToken. Every candidate name is
// re-verified against the refs bucket, so stale registry entries are dropped
// rather than served. The next page token is empty when the listing is
// complete.
func (m *Manager) List(ctx context.Context, filter, pageToken string, limit int) ([]*types.Reference, string, error) {
	if limit <= 0 {
		limit = DefaultRegistrySegmentNames
	}
	count, _, err := m.readRegistry(ctx)
	if err != nil {
		return nil, "", err
	}

	seen := make(map[string]struct{})
	var names []string
	for i := 0; i < count; i++ {
		segNames, _, err := m.readSegment(ctx, i)
		if err != nil {
			return nil, "", err
		}
		for _, n := range segNames {
			if _, dup := seen[n]; dup {
				continue
			}
			seen[n] = struct{}{}
			if filter != "" && !strings.HasPrefix(n, filter) {
				continue
			}
			if pageToken != "" && n <= pageToken {
				continue
			}
			names = append(names, n)
		}
	}
	sort.Strings(names)

	var out []*types.Reference
	for _, n := range names {
		if len(out) == limit {
			return out, out[len(out)-1].Name, nil
		}
		ref, err := m.Get(ctx, n)
		if errors.Is(err, storage.ErrNotFound) {
			continue // stale registry entry
		}
		if err != nil {
			return nil, "", err
		}
		out = append(out, ref)
	}
	return out, "", nil
}

func containsName(names []string, name string) bool {
	i := sort.SearchStrings(names, name)
	return i < len(names) && names[i] == name
}

func insertName(names []string, name string) []string {
	i := sort.SearchStrings(names, name)
	out := make([]string, 0, len(names)+1)
	out = append(out, names[:i]...)
	out = append(out, name)
	out = append(out, names[i:]...)
	return out
}

func deleteName(names []string, name string) []string {
	i := sort.SearchStrings(names, name)
	if i < len(names) && names[i] == name {
		out := make([]string, 0, len(names)-1)
		out = append(out, names[:i]...)
		out = append(out, names[i+1:]...)
		return out
	}
	return names
}
