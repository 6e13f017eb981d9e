package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a record does not exist in its collection.
var ErrNotFound = errors.New("record not found")

// Backend persists raw JSON records grouped by collection. Writes replace the
// whole record; Update is an atomic read-modify-write on a single record.
type Backend interface {
	Get(ctx context.Context, collection, id string) ([]byte, error)
	List(ctx context.Context, collection string) ([][]byte, error)
	Put(ctx context.Context, collection string, records map[string][]byte) error
	Update(ctx context.Context, collection, id string, mutate func([]byte) ([]byte, error)) ([]byte, error)
	Delete(ctx context.Context, collection, id string) (bool, error)
}

// Store is a typed view over one backend collection.
type Store[T any] struct {
	backend    Backend
	collection string
	key        func(T) string
}

// NewStore binds a collection name and key function to a backend.
func NewStore[T any](backend Backend, collection string, key func(T) string) *Store[T] {
	return &Store[T]{backend: backend, collection: collection, key: key}
}

// Get returns the record with id or ErrNotFound.
func (s *Store[T]) Get(ctx context.Context, id string) (T, error) {
	var item T
	data, err := s.backend.Get(ctx, s.collection, id)
	if err != nil {
		return item, err
	}
	if err := json.Unmarshal(data, &item); err != nil {
		return item, fmt.Errorf("decode %s/%s: %w", s.collection, id, err)
	}
	return item, nil
}

// List returns every record ordered by id.
func (s *Store[T]) List(ctx context.Context) ([]T, error) {
	rows, err := s.backend.List(ctx, s.collection)
	if err != nil {
		return nil, err
	}
	items := make([]T, 0, len(rows))
	for _, data := range rows {
		var item T
		if err := json.Unmarshal(data, &item); err != nil {
			return nil, fmt.Errorf("decode %s: %w", s.collection, err)
		}
		items = append(items, item)
	}
	return items, nil
}

// Save inserts or replaces item.
func (s *Store[T]) Save(ctx context.Context, item T) error {
	return s.UpsertMany(ctx, item)
}

// UpsertMany inserts or replaces every item in one write.
func (s *Store[T]) UpsertMany(ctx context.Context, items ...T) error {
	if len(items) == 0 {
		return nil
	}
	records := make(map[string][]byte, len(items))
	for _, item := range items {
		id := s.key(item)
		if id == "" {
			return fmt.Errorf("%s record without id", s.collection)
		}
		data, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("encode %s/%s: %w", s.collection, id, err)
		}
		records[id] = data
	}
	return s.backend.Put(ctx, s.collection, records)
}

// Update applies mutate to the stored record and persists the result.
// It returns ErrNotFound when the record is missing.
func (s *Store[T]) Update(ctx context.Context, id string, mutate func(*T) error) (T, error) {
	var updated T
	data, err := s.backend.Update(ctx, s.collection, id, func(current []byte) ([]byte, error) {
		var item T
		if err := json.Unmarshal(current, &item); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", s.collection, id, err)
		}
		if err := mutate(&item); err != nil {
			return nil, err
		}
		return json.Marshal(item)
	})
	if err != nil {
		return updated, err
	}
	if err := json.Unmarshal(data, &updated); err != nil {
		return updated, fmt.Errorf("decode %s/%s: %w", s.collection, id, err)
	}
	return updated, nil
}

// Remove deletes the record and reports whether it existed.
func (s *Store[T]) Remove(ctx context.Context, id string) (bool, error) {
	return s.backend.Delete(ctx, s.collection, id)
}
