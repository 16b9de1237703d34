package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/dreamware/dtable/internal/kv"
)

const (
	boltFileName    = "dtable.db"
	boltOpenTimeout = 5 * time.Second
)

var errStopRange = errors.New("stop range")

// BoltBackend keeps every bucket in a single bbolt file.
type BoltBackend struct {
	db *bolt.DB
}

// OpenBolt opens (or creates) the bolt file under dir.
func OpenBolt(dir string) (*BoltBackend, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	db, err := bolt.Open(filepath.Join(dir, boltFileName), 0o600, &bolt.Options{
		Timeout: boltOpenTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open bolt: %w", err)
	}
	return &BoltBackend{db: db}, nil
}

// Open creates the bucket if needed and returns a store bound to it.
func (b *BoltBackend) Open(bucket string) (Store, error) {
	err := b.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucket))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
	}
	return &BoltStore{db: b.db, bucket: []byte(bucket)}, nil
}

// Drop deletes the bucket.
func (b *BoltBackend) Drop(bucket string) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.DeleteBucket([]byte(bucket))
	})
	if err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
		return fmt.Errorf("drop bucket %s: %w", bucket, err)
	}
	return nil
}

// Close closes the bolt file.
func (b *BoltBackend) Close() error {
	return b.db.Close()
}

// BoltStore is one bucket of a BoltBackend. Every call is its own bolt
// transaction; PutBatch commits all pairs in one.
type BoltStore struct {
	db     *bolt.DB
	bucket []byte
}

func (s *BoltStore) view(fn func(*bolt.Bucket) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return ErrBucketDropped
		}
		return fn(b)
	})
}

func (s *BoltStore) update(fn func(*bolt.Bucket) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return ErrBucketDropped
		}
		return fn(b)
	})
}

// Get retrieves a value by key. Bolt memory is only valid inside the
// transaction, so the value is copied out.
func (s *BoltStore) Get(key string) ([]byte, error) {
	var value []byte
	err := s.view(func(b *bolt.Bucket) error {
		v := b.Get([]byte(key))
		if v == nil {
			return ErrKeyNotFound
		}
		value = clone(v)
		return nil
	})
	return value, err
}

// Put stores a value with the given key
func (s *BoltStore) Put(key string, value []byte) error {
	return s.update(func(b *bolt.Bucket) error {
		return b.Put([]byte(key), nonNil(value))
	})
}

// PutBatch stores all pairs in a single transaction
func (s *BoltStore) PutBatch(pairs []kv.Pair) error {
	return s.update(func(b *bolt.Bucket) error {
		for _, p := range pairs {
			if err := b.Put([]byte(p.Key), nonNil(p.Value)); err != nil {
				return fmt.Errorf("put %q: %w", p.Key, err)
			}
		}
		return nil
	})
}

// Delete removes a key-value pair
func (s *BoltStore) Delete(key string) error {
	return s.update(func(b *bolt.Bucket) error {
		return b.Delete([]byte(key))
	})
}

// Range visits entries in ascending key order (bolt cursor order)
func (s *BoltStore) Range(fn func(key string, value []byte) bool) error {
	err := s.view(func(b *bolt.Bucket) error {
		return b.ForEach(func(k, v []byte) error {
			if !fn(string(k), clone(v)) {
				return errStopRange
			}
			return nil
		})
	})
	if errors.Is(err, errStopRange) {
		return nil
	}
	return err
}

// Len returns the number of keys
func (s *BoltStore) Len() (int, error) {
	n := 0
	err := s.view(func(b *bolt.Bucket) error {
		n = b.Stats().KeyN
		return nil
	})
	return n, err
}

// Stats returns storage statistics
func (s *BoltStore) Stats() (StoreStats, error) {
	var stats StoreStats
	err := s.view(func(b *bolt.Bucket) error {
		return b.ForEach(func(_, v []byte) error {
			stats.Keys++
			stats.Bytes += len(v)
			return nil
		})
	})
	return stats, err
}

// Clear recreates the bucket
func (s *BoltStore) Clear() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(s.bucket) == nil {
			return ErrBucketDropped
		}
		if err := tx.DeleteBucket(s.bucket); err != nil {
			return err
		}
		_, err := tx.CreateBucket(s.bucket)
		return err
	})
}

func nonNil(value []byte) []byte {
	if value == nil {
		return []byte{}
	}
	return value
}
