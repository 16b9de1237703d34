package table

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dreamware/dtable/internal/engine"
	"github.com/dreamware/dtable/internal/kv"
	"github.com/dreamware/dtable/internal/store"
)

// DefaultChunkSize bounds the batches the bridge writes into the store.
const DefaultChunkSize = 100000

// Snapshot is the part of a store table the bridge reads from.
type Snapshot interface {
	Partitions() int
	Count(ctx context.Context) (int, error)
	Collect(ctx context.Context, minChunkSize int) (*kv.Iterator, error)
}

// Bridge converts between store tables and engine datasets. It keeps no
// state between calls.
type Bridge struct {
	stores    *store.Engine
	engine    *engine.Engine
	chunkSize int
	logger    *slog.Logger
}

// NewBridge creates a bridge over the two collaborators. chunkSize <= 0
// uses DefaultChunkSize.
func NewBridge(stores *store.Engine, eng *engine.Engine, chunkSize int, logger *slog.Logger) *Bridge {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{stores: stores, engine: eng, chunkSize: chunkSize, logger: logger}
}

// Engine returns the processing engine datasets are built on.
func (b *Bridge) Engine() *engine.Engine { return b.engine }

// Stores returns the store engine tables are persisted to.
func (b *Bridge) Stores() *store.Engine { return b.stores }

// StoreToMemory reads src into a dataset with src's partition count. An
// empty store is answered from its count alone, without a bulk read; a
// failed count is an error, not an empty table.
func (b *Bridge) StoreToMemory(ctx context.Context, src Snapshot) (*engine.Dataset, error) {
	n, err := src.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count: %w", err)
	}
	if n == 0 {
		return b.engine.Empty(src.Partitions()), nil
	}

	it, err := src.Collect(ctx, b.chunkSize)
	if err != nil {
		return nil, fmt.Errorf("collect: %w", err)
	}
	pairs, err := it.Drain()
	if err != nil {
		return nil, fmt.Errorf("collect: %w", err)
	}
	ds, err := b.engine.Distribute(ctx, pairs, src.Partitions())
	if err != nil {
		return nil, err
	}
	b.logger.Debug("converted store to memory", "records", len(pairs), "partitions", src.Partitions())
	return ds, nil
}

// MemoryToStore persists ds under id, creating the store table if needed.
// An existing table is cleared first, so afterwards the store holds exactly
// the records of ds. Keys are routed by the store's own hashing, so ds may
// be partitioned differently from id.Partitions. A table this call created
// is destroyed again if the write fails.
func (b *Bridge) MemoryToStore(ctx context.Context, ds *engine.Dataset, id Identity) (*store.Table, error) {
	st, created, err := b.open(ctx, id, false)
	if err != nil {
		return nil, err
	}
	if created {
		err = st.PutAll(ctx, ds.Collect(), b.chunkSize)
	} else {
		err = st.Replace(ctx, ds.Collect(), b.chunkSize)
	}
	return b.finish(ctx, st, created, ds, id, err)
}

// MemoryToNewStore persists ds under id like MemoryToStore, but fails with
// store.ErrTableExists when id is already registered.
func (b *Bridge) MemoryToNewStore(ctx context.Context, ds *engine.Dataset, id Identity) (*store.Table, error) {
	st, _, err := b.open(ctx, id, true)
	if err != nil {
		return nil, err
	}
	err = st.PutAll(ctx, ds.Collect(), b.chunkSize)
	return b.finish(ctx, st, true, ds, id, err)
}

func (b *Bridge) open(ctx context.Context, id Identity, mustCreate bool) (*store.Table, bool, error) {
	opts := store.OpenOptions{
		Name:            id.Name,
		Namespace:       id.Namespace,
		Partitions:      id.Partitions,
		CreateIfMissing: true,
		ErrorIfExist:    true,
	}
	created := true
	st, err := b.stores.Open(ctx, opts)
	if errors.Is(err, store.ErrTableExists) && !mustCreate {
		created = false
		opts.ErrorIfExist = false
		st, err = b.stores.Open(ctx, opts)
	}
	if err != nil {
		return nil, false, err
	}
	if st.Partitions() != id.Partitions {
		return nil, false, fmt.Errorf("store table %s/%s has %d partitions, want %d",
			id.Namespace, id.Name, st.Partitions(), id.Partitions)
	}
	return st, created, nil
}

func (b *Bridge) finish(ctx context.Context, st *store.Table, created bool, ds *engine.Dataset, id Identity, err error) (*store.Table, error) {
	if err != nil {
		if created {
			_ = st.Destroy(context.WithoutCancel(ctx))
		}
		return nil, fmt.Errorf("persist: %w", err)
	}
	b.logger.Debug("converted memory to store", "namespace", id.Namespace, "name", id.Name,
		"records", ds.Count(), "replaced", !created)
	return st, nil
}
