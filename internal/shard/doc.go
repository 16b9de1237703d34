// Package shard implements one partition of a persistent table: a
// thread-safe wrapper over a storage bucket that owns the keys hashing to
// its index and counts the operations served.
//
// # Overview
//
// A store table with N partitions holds N shards. Shard i owns every key for
// which kv.PartitionFor(key, N) == i. The same function places records in
// engine datasets, so shard i of a table and partition i of a dataset built
// from it always hold the same keys.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│            SHARD                    │
//	├─────────────────────────────────────┤
//	│  ID, State (active / deleted)       │
//	│  Operation counters (atomic)        │
//	│  ┌──────────────────────────────┐   │
//	│  │   storage.Store bucket       │   │
//	│  │   memory skiplist or bolt    │   │
//	│  └──────────────────────────────┘   │
//	└─────────────────────────────────────┘
//
// # State
//
// A shard starts active. When its table is destroyed the shard is marked
// deleted and every further operation returns ErrShardDeleted, whether or
// not the underlying bucket still exists.
//
// # Statistics
//
// Gets, puts, deletes and scans are counted with atomic increments and can
// be read without locking through GetStats. Storage figures (keys, bytes)
// come from the bucket at the time of the call.
//
// # Example
//
//	bucket, _ := backend.Open("ns/table/3")
//	s := shard.NewShard(3, bucket)
//	if s.OwnsKey("user:42", 8) {
//		_ = s.Put("user:42", []byte("alice"))
//	}
package shard
