// Package storage defines the partition-level storage interfaces and provides
// the concrete backends that hold the data of persistent tables.
//
// # Overview
//
// A persistent table is split into partitions, and every partition lives in
// its own bucket of a storage Backend. The storage package knows nothing about
// tables, namespaces or hashing; it only stores bytes under string keys and
// hands out one Store per bucket name.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│     internal/store (tables)         │
//	│   namespace/name → N partitions     │
//	└─────────────────────────────────────┘
//	                 │  one bucket per partition
//	                 ▼
//	┌─────────────────────────────────────┐
//	│       Backend / Store interface     │
//	└─────────────────────────────────────┘
//	          │                 │
//	          ▼                 ▼
//	   ┌────────────┐    ┌────────────┐
//	   │  Memory    │    │   Bolt     │
//	   │ (skiplist) │    │ (bbolt)    │
//	   └────────────┘    └────────────┘
//
// # Implementations
//
// MemoryBackend / MemoryStore: an ordered lock-free skiplist per bucket
//   - No persistence (data lost on restart)
//   - Range yields keys in ascending order
//   - Suitable for tests and single-process jobs
//
// BoltBackend / BoltStore: a single bbolt file with one bucket per partition
//   - Persistent, crash-safe storage
//   - Every call is one bolt transaction; PutBatch commits a whole batch at once
//   - Range follows the bolt cursor, which is also ascending key order
//
// # Concurrency
//
// All stores are safe for concurrent use. MemoryStore is lock-free; BoltStore
// relies on bolt's single-writer, multi-reader transactions. Multi-key
// atomicity across buckets is not provided here; the table layer serializes
// its batches itself.
//
// # Errors
//
//   - ErrKeyNotFound: Get on a missing key
//   - ErrBucketDropped: any call on a store whose bucket was dropped
//
// Backend errors (I/O, bolt) are wrapped with fmt.Errorf and returned as-is.
package storage
