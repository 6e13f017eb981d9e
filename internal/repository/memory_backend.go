package repository

import (
	"context"
	"sort"
	"sync"
)

// MemoryBackend keeps records in process memory.
type MemoryBackend struct {
	mu          sync.Mutex
	collections map[string]map[string][]byte
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{collections: make(map[string]map[string][]byte)}
}

func (b *MemoryBackend) Get(_ context.Context, collection, id string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, ok := b.collections[collection][id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(data), nil
}

func (b *MemoryBackend) List(_ context.Context, collection string) ([][]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	records := b.collections[collection]
	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([][]byte, 0, len(ids))
	for _, id := range ids {
		out = append(out, clone(records[id]))
	}
	return out, nil
}

func (b *MemoryBackend) Put(_ context.Context, collection string, records map[string][]byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	target, ok := b.collections[collection]
	if !ok {
		target = make(map[string][]byte)
		b.collections[collection] = target
	}
	for id, data := range records {
		target[id] = clone(data)
	}
	return nil
}

func (b *MemoryBackend) Update(_ context.Context, collection, id string, mutate func([]byte) ([]byte, error)) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	current, ok := b.collections[collection][id]
	if !ok {
		return nil, ErrNotFound
	}
	next, err := mutate(clone(current))
	if err != nil {
		return nil, err
	}
	b.collections[collection][id] = clone(next)
	return next, nil
}

func (b *MemoryBackend) Delete(_ context.Context, collection, id string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.collections[collection][id]; !ok {
		return false, nil
	}
	delete(b.collections[collection], id)
	return true, nil
}

func clone(data []byte) []byte {
	return append([]byte(nil), data...)
}

var _ Backend = (*MemoryBackend)(nil)
