package storage

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/tarnlabs/tarn/pkg/types"
)

// Memory is a map-backed adapter for tests and embedded use. All data is
// copied on the way in and out, so callers can never alias stored bytes.
type Memory struct {
	mu   sync.RWMutex
	data map[memKey][]byte
}

type memKey struct {
	repo   string
	bucket Bucket
	id     types.ID
}

// NewMemory creates an empty in-memory adapter.
func NewMemory() *Memory {
	return &Memory{data: make(map[memKey][]byte)}
}

func (m *Memory) Get(ctx context.Context, repo string, bucket Bucket, id types.ID) ([]byte, error) {
	if err := validateAddr(repo, bucket); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.data[memKey{repo, bucket, id}]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (m *Memory) GetMany(ctx context.Context, repo string, bucket Bucket, ids []types.ID) ([][]byte, error) {
	if err := validateAddr(repo, bucket); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([][]byte, len(ids))
	for i, id := range ids {
		if data, ok := m.data[memKey{repo, bucket, id}]; ok {
			out[i] = append([]byte(nil), data...)
		}
	}
	return out, nil
}

func (m *Memory) Put(ctx context.Context, repo string, bucket Bucket, id types.ID, data []byte) error {
	if err := validateAddr(repo, bucket); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k := memKey{repo, bucket, id}
	if existing, ok := m.data[k]; ok {
		if bytes.Equal(existing, data) {
			return nil
		}
		return ErrAlreadyExists
	}
	m.data[k] = append([]byte(nil), data...)
	return nil
}

func (m *Memory) Delete(ctx context.Context, repo string, bucket Bucket, id types.ID) error {
	if err := validateAddr(repo, bucket); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k := memKey{repo, bucket, id}
	if _, ok := m.data[k]; !ok {
		return ErrNotFound
	}
	delete(m.data, k)
	return nil
}

func (m *Memory) CompareAndSwap(ctx context.Context, repo string, bucket Bucket, id types.ID, expected, updated []byte) error {
	if err := validateAddr(repo, bucket); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k := memKey{repo, bucket, id}
	current, exists := m.data[k]
	if expected == nil {
		if exists {
			return ErrAlreadyExists
		}
	} else {
		if !exists || !bytes.Equal(current, expected) {
			return ErrCasMismatch
		}
	}
	if updated == nil {
		delete(m.data, k)
		return nil
	}
	m.data[k] = append([]byte(nil), updated...)
	return nil
}

func (m *Memory) Scan(ctx context.Context, repo string, bucket Bucket, prefix []byte, after []byte, limit int) ([]ScanEntry, error) {
	if err := validateAddr(repo, bucket); err != nil {
		return nil, err
	}
	m.mu.RLock()
	ids := make([]types.ID, 0)
	for k := range m.data {
		if k.repo != repo || k.bucket != bucket {
			continue
		}
		ids = append(ids, k.id)
	}
	m.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i].Compare(ids[j]) < 0 })

	var out []ScanEntry
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, id := range ids {
		if len(after) > 0 && bytes.Compare(id[:], after) <= 0 {
			continue
		}
		if len(prefix) > 0 && !bytes.HasPrefix(id[:], prefix) {
			continue
		}
		data := m.data[memKey{repo, bucket, id}]
		out = append(out, ScanEntry{ID: id, Data: append([]byte(nil), data...)})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Len reports the number of stored objects, for tests.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

func (m *Memory) Close() error {
	return nil
}
