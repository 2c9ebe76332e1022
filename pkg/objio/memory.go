package objio

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Memory is an in-process ObjectIO keeping objects in a map. It accepts any
// absolute URI and counts reads and writes, which is what the task-cache
// dedup tests assert on.
type Memory struct {
	mu      sync.RWMutex
	objects map[string][]byte

	reads  atomic.Int64
	writes atomic.Int64
}

// NewMemory returns an empty in-memory object store.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte)}
}

// Write stores a copy of data under the URI.
func (m *Memory) Write(_ context.Context, uri string, data []byte) error {
	if _, err := parseURI(uri); err != nil {
		return fmt.Errorf("%w: write %q: %v", ErrIO, uri, err)
	}
	m.writes.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[uri] = append([]byte(nil), data...)
	return nil
}

// Read returns a copy of the object's bytes.
func (m *Memory) Read(_ context.Context, uri string) ([]byte, error) {
	m.reads.Add(1)
	m.mu.RLock()
	data, ok := m.objects[uri]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: object %q not found", ErrIO, uri)
	}
	return append([]byte(nil), data...), nil
}

// IsValidURI accepts every absolute URI.
func (m *Memory) IsValidURI(uri string) bool {
	_, err := parseURI(uri)
	return err == nil
}

// Exists reports whether an object is stored under the URI.
func (m *Memory) Exists(uri string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[uri]
	return ok
}

// Len returns the number of stored objects.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

// ReadCount returns the number of Read calls made so far.
func (m *Memory) ReadCount() int64 { return m.reads.Load() }

// WriteCount returns the number of Write calls made so far.
func (m *Memory) WriteCount() int64 { return m.writes.Load() }
