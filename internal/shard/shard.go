package shard

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/dreamware/dtable/internal/kv"
	"github.com/dreamware/dtable/internal/storage"
)

// ShardState represents the current state of a shard
type ShardState string

const (
	// ShardStateActive means the shard is serving requests
	ShardStateActive ShardState = "active"
	// ShardStateDeleted means the shard's bucket was dropped
	ShardStateDeleted ShardState = "deleted"
)

// ErrShardDeleted is returned by every operation on a deleted shard.
var ErrShardDeleted = errors.New("shard deleted")

// Shard is one partition of a store table. It owns the keys that hash to
// its ID and keeps them in its own storage bucket.
type Shard struct {
	ID    int           // Partition index within the table
	Store storage.Store // The storage bucket for this partition
	State ShardState    // Current shard state
	Stats *ShardStats   // Operation statistics
	mu    sync.RWMutex  // Protects state changes
}

// ShardStats tracks operational statistics for a shard
type ShardStats struct {
	Ops     OperationStats     `json:"ops"`
	Storage storage.StoreStats `json:"storage"`
}

// OperationStats tracks operation counts
type OperationStats struct {
	Gets    uint64 `json:"gets"`
	Puts    uint64 `json:"puts"`
	Deletes uint64 `json:"deletes"`
	Scans   uint64 `json:"scans"`
}

// ShardInfo contains metadata about a shard
type ShardInfo struct {
	ID       int        `json:"id"`
	State    ShardState `json:"state"`
	KeyCount int        `json:"key_count"`
	ByteSize int        `json:"byte_size"`
}

// NewShard creates an active shard over the given bucket
func NewShard(id int, store storage.Store) *Shard {
	return &Shard{
		ID:    id,
		Store: store,
		State: ShardStateActive,
		Stats: &ShardStats{},
	}
}

func (s *Shard) check() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.State == ShardStateDeleted {
		return ErrShardDeleted
	}
	return nil
}

// Get retrieves a value from the shard
// Increments get counter for statistics
func (s *Shard) Get(key string) ([]byte, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	atomic.AddUint64(&s.Stats.Ops.Gets, 1)
	return s.Store.Get(key)
}

// Put stores a value in the shard
// Increments put counter for statistics
func (s *Shard) Put(key string, value []byte) error {
	if err := s.check(); err != nil {
		return err
	}
	atomic.AddUint64(&s.Stats.Ops.Puts, 1)
	return s.Store.Put(key, value)
}

// PutBatch stores pairs in one storage call, counting one put per pair
func (s *Shard) PutBatch(pairs []kv.Pair) error {
	if err := s.check(); err != nil {
		return err
	}
	atomic.AddUint64(&s.Stats.Ops.Puts, uint64(len(pairs)))
	return s.Store.PutBatch(pairs)
}

// Delete removes a key from the shard
// Increments delete counter for statistics
func (s *Shard) Delete(key string) error {
	if err := s.check(); err != nil {
		return err
	}
	atomic.AddUint64(&s.Stats.Ops.Deletes, 1)
	return s.Store.Delete(key)
}

// Clear removes every key from the shard
func (s *Shard) Clear() error {
	if err := s.check(); err != nil {
		return err
	}
	return s.Store.Clear()
}

// Pairs returns every record of the shard in ascending key order
func (s *Shard) Pairs() ([]kv.Pair, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	atomic.AddUint64(&s.Stats.Ops.Scans, 1)
	var out []kv.Pair
	err := s.Store.Range(func(key string, value []byte) bool {
		out = append(out, kv.Pair{Key: key, Value: value})
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Len returns the number of keys held by the shard
func (s *Shard) Len() (int, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	return s.Store.Len()
}

// OwnsKey determines if this shard owns a given key
func (s *Shard) OwnsKey(key string, numShards int) bool {
	if numShards <= 0 {
		return false
	}
	return kv.PartitionFor(key, numShards) == s.ID
}

// GetStats returns current shard statistics
func (s *Shard) GetStats() (ShardStats, error) {
	storageStats, err := s.Store.Stats()
	if err != nil {
		return ShardStats{}, err
	}

	return ShardStats{
		Ops: OperationStats{
			Gets:    atomic.LoadUint64(&s.Stats.Ops.Gets),
			Puts:    atomic.LoadUint64(&s.Stats.Ops.Puts),
			Deletes: atomic.LoadUint64(&s.Stats.Ops.Deletes),
			Scans:   atomic.LoadUint64(&s.Stats.Ops.Scans),
		},
		Storage: storageStats,
	}, nil
}

// Info returns metadata about the shard
func (s *Shard) Info() (ShardInfo, error) {
	s.mu.RLock()
	state := s.State
	s.mu.RUnlock()

	info := ShardInfo{ID: s.ID, State: state}
	if state == ShardStateDeleted {
		return info, nil
	}
	storageStats, err := s.Store.Stats()
	if err != nil {
		return ShardInfo{}, err
	}
	info.KeyCount = storageStats.Keys
	info.ByteSize = storageStats.Bytes
	return info, nil
}

// SetState updates the shard state
func (s *Shard) SetState(state ShardState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State = state
}
