// Package store provides the blob stores shard files and manifests are read
// from. A store knows nothing about the index format; it maps object names
// such as "manifest.json" or "shard_66.json" to bytes.
package store

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/docsearch/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/resilience"
)

// Store fetches and publishes named objects. Get returns an error wrapping
// errors.ErrNotFound when the object does not exist.
type Store interface {
	Get(ctx context.Context, name string) ([]byte, error)
	Put(ctx context.Context, name string, data []byte) error
	Close() error
}

// BatchPutter is implemented by stores that can publish several objects
// atomically, so readers never observe a manifest without its shards.
type BatchPutter interface {
	PutAll(ctx context.Context, objects map[string][]byte) error
}

// Open builds the store selected by cfg.Index.Store.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.Index.Store {
	case config.StoreDir:
		return NewDirStore(cfg.Index.Dir), nil
	case config.StoreHTTP:
		breaker := resilience.NewCircuitBreaker("http-store", resilience.BreakerConfig{
			FailureThreshold: cfg.Index.BreakerThreshold,
			ResetTimeout:     cfg.Index.BreakerReset,
			IsFailure:        IsHostFailure,
		})
		return NewHTTPStore(cfg.Index.BaseURL, &http.Client{Timeout: cfg.Index.LoadTimeout}, resilience.RetryConfig{
			MaxAttempts:  cfg.Index.FetchRetries,
			InitialDelay: 100 * time.Millisecond,
		}, breaker), nil
	case config.StoreBolt:
		return OpenBoltStore(cfg.Index.BoltPath)
	case config.StoreRedis:
		client, err := pkgredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("opening redis store: %w", err)
		}
		return NewRedisStore(client, cfg.Index.RedisKeyPrefix), nil
	case config.StorePostgres:
		client, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("opening postgres store: %w", err)
		}
		return NewPostgresStore(ctx, client, cfg.Index.PostgresTable)
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Index.Store)
	}
}
