package store

import (
	"context"
	"errors"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/dreamware/dtable/internal/kv"
	"github.com/dreamware/dtable/internal/registry"
	"github.com/dreamware/dtable/internal/shard"
	"github.com/dreamware/dtable/internal/storage"
)

// Table is a handle on an open store table. Handles for the same table
// share one lock, so writes are serialized across handles and a PutPairs
// batch lands as a unit; reads may run concurrently.
//
// A destroyed table reads as empty through every handle and rejects
// writes with ErrTableDestroyed.
type Table struct {
	engine *Engine
	id     registry.Identity
	state  *tableState
}

// TableStats aggregates per-partition statistics.
type TableStats struct {
	Identity registry.Identity  `json:"identity"`
	Shards   []shard.ShardStats `json:"shards"`
	Keys     int                `json:"keys"`
	Bytes    int                `json:"bytes"`
}

func (t *Table) Identity() registry.Identity { return t.id }
func (t *Table) Name() string                { return t.id.Name }
func (t *Table) Namespace() string           { return t.id.Namespace }
func (t *Table) Partitions() int             { return t.id.Partitions }

func (t *Table) shardFor(key string) *shard.Shard {
	return t.state.shards[kv.PartitionFor(key, len(t.state.shards))]
}

// Get returns the value stored under key. A missing key is not an error.
func (t *Table) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	t.state.mu.RLock()
	defer t.state.mu.RUnlock()
	if t.state.destroyed {
		return nil, false, nil
	}
	return t.get(key)
}

func (t *Table) get(key string) ([]byte, bool, error) {
	value, err := t.shardFor(key).Get(key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %q: %w", key, err)
	}
	return value, true, nil
}

// Put stores value under key and returns the value it replaced.
func (t *Table) Put(ctx context.Context, key string, value []byte) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	t.state.mu.Lock()
	defer t.state.mu.Unlock()
	if t.state.destroyed {
		return nil, false, ErrTableDestroyed
	}
	prev, existed, err := t.get(key)
	if err != nil {
		return nil, false, err
	}
	if err := t.shardFor(key).Put(key, value); err != nil {
		return nil, false, fmt.Errorf("put %q: %w", key, err)
	}
	return prev, existed, nil
}

// PutIfAbsent stores value only when key is missing and returns the value
// now stored under key.
func (t *Table) PutIfAbsent(ctx context.Context, key string, value []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.state.mu.Lock()
	defer t.state.mu.Unlock()
	if t.state.destroyed {
		return nil, ErrTableDestroyed
	}
	current, existed, err := t.get(key)
	if err != nil {
		return nil, err
	}
	if existed {
		return current, nil
	}
	if err := t.shardFor(key).Put(key, value); err != nil {
		return nil, fmt.Errorf("put %q: %w", key, err)
	}
	if value == nil {
		value = []byte{}
	}
	return value, nil
}

// PutAll drains src in batches of at most chunkSize records. Each batch is
// written atomically with respect to other table operations; the load as a
// whole is not.
func (t *Table) PutAll(ctx context.Context, src *kv.Iterator, chunkSize int) error {
	return src.Chunks(chunkSize, func(batch []kv.Pair) error {
		return t.PutPairs(ctx, batch)
	})
}

// PutPairs writes pairs as one batch.
func (t *Table) PutPairs(ctx context.Context, pairs []kv.Pair) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.state.mu.Lock()
	defer t.state.mu.Unlock()
	if t.state.destroyed {
		return ErrTableDestroyed
	}
	return t.putPairs(pairs)
}

func (t *Table) putPairs(pairs []kv.Pair) error {
	for i, part := range kv.Bucket(kv.Dedupe(pairs), len(t.state.shards)) {
		if len(part) == 0 {
			continue
		}
		if err := t.state.shards[i].PutBatch(part); err != nil {
			return fmt.Errorf("write partition %d: %w", i, err)
		}
	}
	return nil
}

// Replace swaps the table's contents for the records of src. The table is
// locked for the whole call, so no reader sees the old and new records
// mixed; a failure part way leaves the table holding a subset of src.
func (t *Table) Replace(ctx context.Context, src *kv.Iterator, chunkSize int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.state.mu.Lock()
	defer t.state.mu.Unlock()
	if t.state.destroyed {
		return ErrTableDestroyed
	}
	for _, s := range t.state.shards {
		if err := s.Clear(); err != nil {
			return fmt.Errorf("clear partition %d: %w", s.ID, err)
		}
	}
	return src.Chunks(chunkSize, func(batch []kv.Pair) error {
		return t.putPairs(batch)
	})
}

// Delete removes key and returns the value it held.
func (t *Table) Delete(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	t.state.mu.Lock()
	defer t.state.mu.Unlock()
	if t.state.destroyed {
		return nil, false, ErrTableDestroyed
	}
	prev, existed, err := t.get(key)
	if err != nil || !existed {
		return nil, false, err
	}
	if err := t.shardFor(key).Delete(key); err != nil {
		return nil, false, fmt.Errorf("delete %q: %w", key, err)
	}
	return prev, true, nil
}

// Count returns the number of live keys.
func (t *Table) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	t.state.mu.RLock()
	defer t.state.mu.RUnlock()
	if t.state.destroyed {
		return 0, nil
	}
	total := 0
	for _, s := range t.state.shards {
		n, err := s.Len()
		if err != nil {
			return 0, fmt.Errorf("count partition %d: %w", s.ID, err)
		}
		total += n
	}
	return total, nil
}

// Partition returns the records of partition i in key order.
func (t *Table) Partition(ctx context.Context, i int) ([]kv.Pair, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if i < 0 || i >= len(t.state.shards) {
		return nil, fmt.Errorf("partition %d out of range [0, %d)", i, len(t.state.shards))
	}
	t.state.mu.RLock()
	defer t.state.mu.RUnlock()
	if t.state.destroyed {
		return nil, nil
	}
	pairs, err := t.state.shards[i].Pairs()
	if err != nil {
		return nil, fmt.Errorf("scan partition %d: %w", i, err)
	}
	return pairs, nil
}

// Collect returns a lazy iterator over the table, partition by partition.
// Partitions are read only as the iterator reaches them; consecutive
// partitions are merged until a chunk holds at least minChunkSize records.
func (t *Table) Collect(ctx context.Context, minChunkSize int) (*kv.Iterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	next := 0
	return kv.NewIterator(func() ([]kv.Pair, error) {
		var chunk []kv.Pair
		for next < len(t.state.shards) {
			pairs, err := t.Partition(ctx, next)
			if err != nil {
				return nil, err
			}
			next++
			chunk = append(chunk, pairs...)
			if len(chunk) >= minChunkSize && len(chunk) > 0 {
				return chunk, nil
			}
		}
		if len(chunk) > 0 {
			return chunk, nil
		}
		return nil, io.EOF
	}), nil
}

// TransformFunc computes a partition of a transform's output from the
// matching input partition. Output records may land in any partition.
type TransformFunc func(partition int, pairs []kv.Pair) ([]kv.Pair, error)

// Transform runs fn on every partition, in parallel up to the engine's
// limit, and writes the results into a new table (namespace, name) with the
// receiver's partition count. Output keys are routed by hash.
func (t *Table) Transform(ctx context.Context, namespace, name string, fn TransformFunc) (*Table, error) {
	return t.transform(ctx, namespace, name, t.id.Partitions, fn)
}

func (t *Table) transform(ctx context.Context, namespace, name string, partitions int, fn TransformFunc) (*Table, error) {
	t.state.mu.RLock()
	destroyed := t.state.destroyed
	t.state.mu.RUnlock()
	if destroyed {
		return nil, ErrTableDestroyed
	}

	out, err := t.engine.create(ctx, namespace, name, partitions)
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.engine.parallelism)
	for i := range t.state.shards {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("partition %d: panic: %v", i, r)
				}
			}()
			in, err := t.Partition(gctx, i)
			if err != nil {
				return err
			}
			res, err := fn(i, in)
			if err != nil {
				return fmt.Errorf("partition %d: %w", i, err)
			}
			return out.PutPairs(gctx, res)
		})
	}
	if err := g.Wait(); err != nil {
		_ = out.Destroy(context.WithoutCancel(ctx))
		return nil, err
	}
	return out, nil
}

// SaveAs copies the table into a new identity. partitions 0 keeps the
// receiver's count; any other count re-routes every key.
func (t *Table) SaveAs(ctx context.Context, namespace, name string, partitions int) (*Table, error) {
	if partitions == 0 {
		partitions = t.id.Partitions
	}
	return t.transform(ctx, namespace, name, partitions, func(_ int, pairs []kv.Pair) ([]kv.Pair, error) {
		return pairs, nil
	})
}

// Destroy drops every partition bucket and unregisters the table. It is
// idempotent.
func (t *Table) Destroy(ctx context.Context) error {
	t.engine.mu.Lock()
	defer t.engine.mu.Unlock()
	t.state.mu.Lock()
	defer t.state.mu.Unlock()
	if t.state.destroyed {
		return nil
	}
	for i, s := range t.state.shards {
		if err := t.engine.backend.Drop(bucketName(t.id, i)); err != nil {
			return fmt.Errorf("drop partition %d: %w", i, err)
		}
		s.SetState(shard.ShardStateDeleted)
	}
	if err := t.engine.registry.Remove(t.id.Namespace, t.id.Name); err != nil {
		return err
	}
	t.state.destroyed = true
	t.engine.forget(t.id, t.state)
	t.engine.logger.Info("destroyed table", "namespace", t.id.Namespace, "name", t.id.Name)
	return nil
}

// Destroyed reports whether the table has been destroyed through any handle.
func (t *Table) Destroyed() bool {
	t.state.mu.RLock()
	defer t.state.mu.RUnlock()
	return t.state.destroyed
}

// Stats returns per-partition operation counters and sizes.
func (t *Table) Stats(ctx context.Context) (TableStats, error) {
	if err := ctx.Err(); err != nil {
		return TableStats{}, err
	}
	t.state.mu.RLock()
	defer t.state.mu.RUnlock()

	stats := TableStats{Identity: t.id}
	if t.state.destroyed {
		return stats, nil
	}
	for _, s := range t.state.shards {
		ss, err := s.GetStats()
		if err != nil {
			return TableStats{}, fmt.Errorf("stats partition %d: %w", s.ID, err)
		}
		stats.Shards = append(stats.Shards, ss)
		stats.Keys += ss.Storage.Keys
		stats.Bytes += ss.Storage.Bytes
	}
	return stats, nil
}
