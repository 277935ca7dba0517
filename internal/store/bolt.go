package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/docsearch/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

var boltBucket = []byte("shards")

// BoltStore keeps every object of an index build in one bbolt file, which is
// convenient for shipping an index as a single artifact.
type BoltStore struct {
	db *bolt.DB
}

func OpenBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating bolt directory: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bolt store %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bolt bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Get(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(boltBucket).Get([]byte(name))
		if v == nil {
			return fmt.Errorf("bolt object %s: %w", name, apperrors.ErrNotFound)
		}
		// v is only valid inside the transaction.
		data = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (s *BoltStore) Put(ctx context.Context, name string, data []byte) error {
	return s.PutAll(ctx, map[string][]byte{name: data})
}

// PutAll writes every object in one transaction.
func (s *BoltStore) PutAll(ctx context.Context, objects map[string][]byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(boltBucket)
		for name, data := range objects {
			if err := b.Put([]byte(name), data); err != nil {
				return fmt.Errorf("bolt put %s: %w", name, err)
			}
		}
		return nil
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
