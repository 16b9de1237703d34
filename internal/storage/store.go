package storage

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/zhangyunhao116/skipmap"

	"github.com/dreamware/dtable/internal/kv"
)

var (
	// ErrKeyNotFound is returned when a key doesn't exist in the store
	ErrKeyNotFound = errors.New("key not found")

	// ErrBucketDropped is returned by a store whose bucket was dropped
	ErrBucketDropped = errors.New("bucket dropped")
)

// Store defines the interface for one partition's key-value storage.
// All implementations must be thread-safe for concurrent access.
type Store interface {
	// Get retrieves a value by key
	// Returns ErrKeyNotFound if the key doesn't exist
	Get(key string) ([]byte, error)

	// Put stores a value with the given key
	// Overwrites any existing value for the key
	Put(key string, value []byte) error

	// PutBatch stores all pairs as one unit
	PutBatch(pairs []kv.Pair) error

	// Delete removes a key-value pair
	// No error if key doesn't exist
	Delete(key string) error

	// Range visits entries in ascending key order until fn returns false
	Range(fn func(key string, value []byte) bool) error

	// Len returns the number of keys
	Len() (int, error)

	// Stats returns storage statistics
	Stats() (StoreStats, error)

	// Clear removes every entry
	Clear() error
}

// StoreStats contains statistics about the store
type StoreStats struct {
	Keys  int `json:"keys"`  // Number of keys
	Bytes int `json:"bytes"` // Total size of all values in bytes
}

// Backend hands out named partition stores ("buckets").
type Backend interface {
	// Open returns the store for bucket, creating it if missing
	Open(bucket string) (Store, error)

	// Drop deletes a bucket and its data. Dropping a missing bucket is not an error
	Drop(bucket string) error

	// Close releases the backend
	Close() error
}

type orderedMap = skipmap.FuncMap[string, []byte]

func newOrderedMap() *orderedMap {
	return skipmap.NewFunc[string, []byte](func(a, b string) bool {
		return a < b
	})
}

// MemoryStore implements Store with an ordered lock-free skiplist.
// Values are copied on the way in and out to prevent external modification.
type MemoryStore struct {
	data    atomic.Pointer[orderedMap]
	dropped atomic.Bool
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	m := &MemoryStore{}
	m.data.Store(newOrderedMap())
	return m
}

// Get retrieves a value by key
func (m *MemoryStore) Get(key string) ([]byte, error) {
	if m.dropped.Load() {
		return nil, ErrBucketDropped
	}
	value, ok := m.data.Load().Load(key)
	if !ok {
		return nil, ErrKeyNotFound
	}
	return clone(value), nil
}

// Put stores a value with the given key
func (m *MemoryStore) Put(key string, value []byte) error {
	if m.dropped.Load() {
		return ErrBucketDropped
	}
	m.data.Load().Store(key, clone(value))
	return nil
}

// PutBatch stores pairs one by one; the skiplist has no multi-key commit, so
// callers needing batch isolation serialize around it.
func (m *MemoryStore) PutBatch(pairs []kv.Pair) error {
	if m.dropped.Load() {
		return ErrBucketDropped
	}
	data := m.data.Load()
	for _, p := range pairs {
		data.Store(p.Key, clone(p.Value))
	}
	return nil
}

// Delete removes a key-value pair
// No error if key doesn't exist (idempotent)
func (m *MemoryStore) Delete(key string) error {
	if m.dropped.Load() {
		return ErrBucketDropped
	}
	m.data.Load().Delete(key)
	return nil
}

// Range visits entries in ascending key order
func (m *MemoryStore) Range(fn func(key string, value []byte) bool) error {
	if m.dropped.Load() {
		return ErrBucketDropped
	}
	m.data.Load().Range(func(key string, value []byte) bool {
		return fn(key, clone(value))
	})
	return nil
}

// Len returns the number of keys
func (m *MemoryStore) Len() (int, error) {
	if m.dropped.Load() {
		return 0, ErrBucketDropped
	}
	return m.data.Load().Len(), nil
}

// Stats returns storage statistics
func (m *MemoryStore) Stats() (StoreStats, error) {
	if m.dropped.Load() {
		return StoreStats{}, ErrBucketDropped
	}
	var stats StoreStats
	m.data.Load().Range(func(_ string, value []byte) bool {
		stats.Keys++
		stats.Bytes += len(value)
		return true
	})
	return stats, nil
}

// Clear swaps in an empty skiplist
func (m *MemoryStore) Clear() error {
	if m.dropped.Load() {
		return ErrBucketDropped
	}
	m.data.Store(newOrderedMap())
	return nil
}

// MemoryBackend keeps every bucket in process memory
type MemoryBackend struct {
	mu      sync.Mutex
	buckets map[string]*MemoryStore
}

// NewMemoryBackend creates an empty in-memory backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{buckets: make(map[string]*MemoryStore)}
}

// Open returns the bucket's store, creating it on first use
func (b *MemoryBackend) Open(bucket string) (Store, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.buckets[bucket]
	if !ok {
		s = NewMemoryStore()
		b.buckets[bucket] = s
	}
	return s, nil
}

// Drop forgets a bucket; stores already handed out start failing
func (b *MemoryBackend) Drop(bucket string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if s, ok := b.buckets[bucket]; ok {
		s.dropped.Store(true)
		delete(b.buckets, bucket)
	}
	return nil
}

// Close drops every bucket
func (b *MemoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for name, s := range b.buckets {
		s.dropped.Store(true)
		delete(b.buckets, name)
	}
	return nil
}

func clone(value []byte) []byte {
	out := make([]byte, len(value))
	copy(out, value)
	return out
}
