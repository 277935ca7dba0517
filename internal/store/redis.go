package store

import (
	"context"
	"fmt"

	apperrors "github.com/Adithya-Monish-Kumar-K/docsearch/pkg/errors"
	pkgredis "github.com/Adithya-Monish-Kumar-K/docsearch/pkg/redis"
)

// RedisStore keeps each object under "<prefix><name>".
type RedisStore struct {
	client *pkgredis.Client
	prefix string
}

func NewRedisStore(client *pkgredis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Get(ctx context.Context, name string) ([]byte, error) {
	key := s.prefix + name
	data, err := s.client.GetBytes(ctx, key)
	if pkgredis.IsNilError(err) {
		return nil, fmt.Errorf("redis key %s: %w", key, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return data, nil
}

func (s *RedisStore) Put(ctx context.Context, name string, data []byte) error {
	if err := s.client.Set(ctx, s.prefix+name, data); err != nil {
		return fmt.Errorf("redis set %s: %w", s.prefix+name, err)
	}
	return nil
}

// Ping reports whether the backing Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
