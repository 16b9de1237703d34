// Package store is the persistent partitioned key-value store that backs
// tables. A store table is a registered identity plus one shard per
// partition, each shard living in its own storage bucket.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dreamware/dtable/internal/registry"
	"github.com/dreamware/dtable/internal/shard"
	"github.com/dreamware/dtable/internal/storage"
)

// OpenOptions controls how Engine.Open resolves a table.
type OpenOptions struct {
	Name       string
	Namespace  string
	Partitions int // 0 uses the registered count, then the registry default

	CreateIfMissing bool
	ErrorIfExist    bool
}

// Engine opens store tables over a storage backend. Every handle opened
// for the same (namespace, name) shares one tableState, so the table lock
// and the destroyed flag hold across handles.
type Engine struct {
	backend     storage.Backend
	registry    *registry.Registry
	logger      *slog.Logger
	parallelism int

	mu     sync.Mutex // guards tables and registry changes; taken before a table's lock
	tables map[tableKey]*tableState
}

type tableKey struct {
	namespace string
	name      string
}

// tableState is the part of a table shared by all of its handles.
type tableState struct {
	mu        sync.RWMutex
	shards    []*shard.Shard
	destroyed bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithParallelism bounds how many partitions a Transform processes at once.
func WithParallelism(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.parallelism = n
		}
	}
}

// NewEngine creates a store engine. Table metadata is kept in reg.
func NewEngine(backend storage.Backend, reg *registry.Registry, opts ...Option) *Engine {
	e := &Engine{
		backend:     backend,
		registry:    reg,
		logger:      slog.Default(),
		parallelism: 4,
		tables:      make(map[tableKey]*tableState),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the registry the engine records tables in.
func (e *Engine) Registry() *registry.Registry {
	return e.registry
}

// Open resolves (Namespace, Name) to a table. An existing table keeps its
// registered partition count; a mismatching request is logged and ignored.
func (e *Engine) Open(ctx context.Context, opts OpenOptions) (*Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	id, err := e.registry.Lookup(opts.Namespace, opts.Name)
	switch {
	case err == nil:
		if opts.ErrorIfExist {
			return nil, fmt.Errorf("%w: %s", ErrTableExists, id)
		}
		if opts.Partitions > 0 && opts.Partitions != id.Partitions {
			e.logger.Warn("ignoring requested partitions for existing table",
				"namespace", id.Namespace, "name", id.Name,
				"requested", opts.Partitions, "registered", id.Partitions)
		}
	case errors.Is(err, registry.ErrNotRegistered):
		if !opts.CreateIfMissing {
			return nil, fmt.Errorf("%w: %s/%s", ErrTableNotFound, opts.Namespace, opts.Name)
		}
		id = registry.Identity{
			Namespace:  opts.Namespace,
			Name:       opts.Name,
			Partitions: opts.Partitions,
		}
		if id.Partitions == 0 {
			id.Partitions = e.registry.DefaultPartitions()
		}
		if err := e.registry.Register(id); err != nil {
			return nil, err
		}
		e.logger.Info("created table", "namespace", id.Namespace, "name", id.Name, "partitions", id.Partitions)
	default:
		return nil, err
	}

	return e.bind(id)
}

// bind returns a handle on the shared state of id. e.mu must be held.
func (e *Engine) bind(id registry.Identity) (*Table, error) {
	key := tableKey{id.Namespace, id.Name}
	if st, ok := e.tables[key]; ok && len(st.shards) == id.Partitions {
		return &Table{engine: e, id: id, state: st}, nil
	}

	shards := make([]*shard.Shard, id.Partitions)
	for i := range shards {
		bucket, err := e.backend.Open(bucketName(id, i))
		if err != nil {
			return nil, fmt.Errorf("open partition %d of %s: %w", i, id, err)
		}
		shards[i] = shard.NewShard(i, bucket)
	}
	st := &tableState{shards: shards}
	e.tables[key] = st
	return &Table{engine: e, id: id, state: st}, nil
}

// forget drops the shared state of a destroyed table. e.mu must be held.
func (e *Engine) forget(id registry.Identity, st *tableState) {
	key := tableKey{id.Namespace, id.Name}
	if e.tables[key] == st {
		delete(e.tables, key)
	}
}

// create opens a brand-new table, failing if the identity is taken.
func (e *Engine) create(ctx context.Context, namespace, name string, partitions int) (*Table, error) {
	return e.Open(ctx, OpenOptions{
		Name:            name,
		Namespace:       namespace,
		Partitions:      partitions,
		CreateIfMissing: true,
		ErrorIfExist:    true,
	})
}

func bucketName(id registry.Identity, partition int) string {
	return fmt.Sprintf("%s/%s/%d", id.Namespace, id.Name, partition)
}
