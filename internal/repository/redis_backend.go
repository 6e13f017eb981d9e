package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

const maxRedisTxRetries = 8

// RedisBackend stores each collection as a Redis hash keyed by record id.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend creates a backend whose hashes are named "<prefix>:<collection>".
func NewRedisBackend(client *redis.Client, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = "gema:records"
	}
	return &RedisBackend{client: client, prefix: prefix}
}

func (b *RedisBackend) key(collection string) string {
	return fmt.Sprintf("%s:%s", b.prefix, collection)
}

func (b *RedisBackend) Get(ctx context.Context, collection, id string) ([]byte, error) {
	data, err := b.client.HGet(ctx, b.key(collection), id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (b *RedisBackend) List(ctx context.Context, collection string) ([][]byte, error) {
	records, err := b.client.HGetAll(ctx, b.key(collection)).Result()
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([][]byte, 0, len(ids))
	for _, id := range ids {
		out = append(out, []byte(records[id]))
	}
	return out, nil
}

func (b *RedisBackend) Put(ctx context.Context, collection string, records map[string][]byte) error {
	if len(records) == 0 {
		return nil
	}
	values := make(map[string]interface{}, len(records))
	for id, data := range records {
		values[id] = data
	}
	return b.client.HSet(ctx, b.key(collection), values).Err()
}

// Update uses WATCH/MULTI so concurrent writers retry instead of overwriting.
func (b *RedisBackend) Update(ctx context.Context, collection, id string, mutate func([]byte) ([]byte, error)) ([]byte, error) {
	key := b.key(collection)

	for attempt := 0; attempt < maxRedisTxRetries; attempt++ {
		var next []byte
		err := b.client.Watch(ctx, func(tx *redis.Tx) error {
			current, err := tx.HGet(ctx, key, id).Bytes()
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			if err != nil {
				return err
			}

			updated, err := mutate(current)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, key, id, updated)
				return nil
			})
			if err == nil {
				next = updated
			}
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return next, nil
	}

	return nil, fmt.Errorf("update %s/%s: %w", collection, id, redis.TxFailedErr)
}

func (b *RedisBackend) Delete(ctx context.Context, collection, id string) (bool, error) {
	removed, err := b.client.HDel(ctx, b.key(collection), id).Result()
	if err != nil {
		return false, err
	}
	return removed > 0, nil
}

var _ Backend = (*RedisBackend)(nil)
