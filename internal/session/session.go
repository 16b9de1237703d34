// Package session wires the store, the engine and the registry together
// and hands out tables whose backend follows the configured mode.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strconv"

	"github.com/dreamware/dtable/internal/config"
	"github.com/dreamware/dtable/internal/engine"
	"github.com/dreamware/dtable/internal/kv"
	"github.com/dreamware/dtable/internal/registry"
	"github.com/dreamware/dtable/internal/storage"
	"github.com/dreamware/dtable/internal/store"
	"github.com/dreamware/dtable/internal/table"
)

const catalogBucket = "_catalog"

// Session owns the collaborators of one job.
type Session struct {
	cfg    config.Config
	jobID  string
	logger *slog.Logger

	backend  storage.Backend
	registry *registry.Registry
	stores   *store.Engine
	engine   *engine.Engine
	bridge   *table.Bridge
}

// New validates cfg and starts a session. A nil logger uses slog.Default().
func New(cfg config.Config, logger *slog.Logger) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	var backend storage.Backend
	switch cfg.Store.Backend {
	case config.BackendBolt:
		b, err := storage.OpenBolt(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		backend = b
	default:
		backend = storage.NewMemoryBackend()
	}

	catalog, err := backend.Open(catalogBucket)
	if err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	reg, err := registry.New(catalog, cfg.DefaultPartitions)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	jobID := cfg.JobID
	if jobID == "" {
		jobID = registry.NewName()
	}
	logger = logger.With("job_id", jobID)

	eng := engine.New(cfg.Engine.Parallelism, logger)
	stores := store.NewEngine(backend, reg,
		store.WithLogger(logger),
		store.WithParallelism(cfg.Engine.Parallelism))

	s := &Session{
		cfg:      cfg,
		jobID:    jobID,
		logger:   logger,
		backend:  backend,
		registry: reg,
		stores:   stores,
		engine:   eng,
		bridge:   table.NewBridge(stores, eng, cfg.Engine.ChunkSize, logger),
	}
	logger.Info("session started", "mode", cfg.Mode, "backend", cfg.Store.Backend,
		"default_partitions", cfg.DefaultPartitions)
	return s, nil
}

// JobID returns the session's job id.
func (s *Session) JobID() string { return s.jobID }

// Mode returns the backend mode tables are opened with.
func (s *Session) Mode() config.Mode { return s.cfg.Mode }

// GenerateUniqueID returns a fresh time-based id.
func (s *Session) GenerateUniqueID() string { return s.registry.NewName() }

// Engine returns the processing engine.
func (s *Session) Engine() *engine.Engine { return s.engine }

// List returns the registered tables of namespace; "" lists all.
func (s *Session) List(namespace string) []registry.Identity {
	return s.registry.List(namespace)
}

// Close releases the storage backend.
func (s *Session) Close() error {
	return s.backend.Close()
}

// TableOptions controls Session.Table.
type TableOptions struct {
	Partitions   int  // 0: registered count, then the default
	Persistent   bool // engine mode binds a store either way; kept for callers that set it
	NoCreate     bool // fail instead of creating a missing table
	ErrorIfExist bool // fail if the table already exists
}

// Table opens (namespace, name) with the backend selected by the mode.
func (s *Session) Table(ctx context.Context, name, namespace string, opts TableOptions) (table.Table, error) {
	id := registry.Identity{Namespace: namespace, Name: name, Partitions: opts.Partitions}
	if name == "" {
		return nil, &table.ConfigurationError{Op: "open", Identity: id, Reason: "name is required"}
	}
	if opts.Partitions < 0 {
		return nil, &table.ConfigurationError{Op: "open", Identity: id, Reason: "partitions must be positive"}
	}
	st, err := s.stores.Open(ctx, store.OpenOptions{
		Name:            name,
		Namespace:       namespace,
		Partitions:      opts.Partitions,
		CreateIfMissing: !opts.NoCreate,
		ErrorIfExist:    opts.ErrorIfExist,
	})
	if err != nil {
		return nil, openErr(id, err)
	}
	return s.bind(st, s.cfg.Mode)
}

func (s *Session) bind(st *store.Table, mode config.Mode) (table.Table, error) {
	var (
		t   table.Table
		err error
	)
	if mode == config.ModeStandalone {
		t, err = table.NewStoreTable(st)
	} else {
		t, err = table.NewEngineTable(st.Identity(), st, nil, s.bridge)
	}
	if err != nil {
		return nil, err
	}
	return table.Logged(t, s.logger), nil
}

func openErr(id registry.Identity, err error) error {
	switch {
	case errors.Is(err, registry.ErrInvalidIdentity),
		errors.Is(err, store.ErrTableExists),
		errors.Is(err, store.ErrTableNotFound):
		return &table.ConfigurationError{Op: "open", Identity: id, Reason: err.Error(), Err: err}
	default:
		return &table.InfrastructureError{Op: "open", Identity: id, Err: err}
	}
}

// ParallelizeOptions controls Session.Parallelize.
type ParallelizeOptions struct {
	Name       string // generated when empty
	Namespace  string // the job id when empty
	Partitions int    // the registry default when 0
	Persistent bool   // engine mode: persist to the store immediately
	ChunkSize  int    // batch size for store writes; 0 uses table.DefaultChunkSize
}

// Parallelize builds a table from literal records. In engine mode the
// records become an in-memory dataset, persisted only when Persistent is
// set; in standalone mode they are written to a new store table.
func (s *Session) Parallelize(ctx context.Context, pairs []kv.Pair, opts ParallelizeOptions) (table.Table, error) {
	if opts.Name == "" {
		opts.Name = s.registry.NewName()
	}
	if opts.Namespace == "" {
		opts.Namespace = s.jobID
	}
	if opts.Partitions == 0 {
		opts.Partitions = s.registry.DefaultPartitions()
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = table.DefaultChunkSize
	}
	id := registry.Identity{Namespace: opts.Namespace, Name: opts.Name, Partitions: opts.Partitions}
	if err := id.Validate(); err != nil {
		return nil, &table.ConfigurationError{Op: "parallelize", Identity: id, Reason: err.Error()}
	}

	if s.cfg.Mode == config.ModeStandalone {
		st, err := s.stores.Open(ctx, store.OpenOptions{
			Name:            id.Name,
			Namespace:       id.Namespace,
			Partitions:      id.Partitions,
			CreateIfMissing: true,
		})
		if err != nil {
			return nil, openErr(id, err)
		}
		if err := st.PutAll(ctx, kv.FromSlice(pairs), opts.ChunkSize); err != nil {
			return nil, &table.InfrastructureError{Op: "parallelize", Identity: id, Err: err}
		}
		return s.bind(st, config.ModeStandalone)
	}

	ds, err := s.engine.Distribute(ctx, pairs, id.Partitions)
	if err != nil {
		return nil, &table.InfrastructureError{Op: "parallelize", Identity: id, Err: err}
	}
	et, err := table.NewEngineTable(id, nil, ds, s.bridge)
	if err != nil {
		return nil, err
	}
	if opts.Persistent {
		if err := et.Materialize(ctx); err != nil {
			return nil, err
		}
	}
	return table.Logged(et, s.logger), nil
}

// ParallelizeValues keys values by their index, rendered in decimal.
func (s *Session) ParallelizeValues(ctx context.Context, values [][]byte, opts ParallelizeOptions) (table.Table, error) {
	pairs := make([]kv.Pair, len(values))
	for i, v := range values {
		pairs[i] = kv.Pair{Key: strconv.Itoa(i), Value: v}
	}
	return s.Parallelize(ctx, pairs, opts)
}

// Cleanup destroys every table in namespace whose name matches pattern
// (path.Match syntax) and returns how many were destroyed.
func (s *Session) Cleanup(ctx context.Context, pattern, namespace string) (int, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return 0, &table.ConfigurationError{Op: "cleanup", Reason: fmt.Sprintf("pattern %q: %v", pattern, err), Err: err}
	}
	if namespace == "" {
		return 0, &table.ConfigurationError{Op: "cleanup", Reason: "namespace is required"}
	}

	destroyed := 0
	for _, id := range s.registry.List(namespace) {
		if ok, _ := path.Match(pattern, id.Name); !ok {
			continue
		}
		st, err := s.stores.Open(ctx, store.OpenOptions{Name: id.Name, Namespace: id.Namespace})
		if errors.Is(err, store.ErrTableNotFound) {
			continue
		}
		if err != nil {
			return destroyed, &table.InfrastructureError{Op: "cleanup", Identity: id, Err: err}
		}
		if err := st.Destroy(ctx); err != nil {
			return destroyed, &table.InfrastructureError{Op: "cleanup", Identity: id, Err: err}
		}
		destroyed++
	}
	s.logger.Info("cleanup done", "namespace", namespace, "pattern", pattern, "destroyed", destroyed)
	return destroyed, nil
}

// Restore rebuilds a table handle from its descriptor. Only handles that
// had a store binding can be restored; the restored handle starts without
// an in-memory dataset.
func (s *Session) Restore(ctx context.Context, desc table.Descriptor) (table.Table, error) {
	id := desc.Identity()
	if !desc.Stored {
		return nil, &table.SerializationBoundaryError{Identity: id}
	}
	st, err := s.stores.Open(ctx, store.OpenOptions{Name: id.Name, Namespace: id.Namespace})
	if err != nil {
		return nil, openErr(id, err)
	}

	mode := s.cfg.Mode
	switch desc.Kind {
	case table.KindStore:
		mode = config.ModeStandalone
	case table.KindEngine:
		mode = config.ModeEngine
	}
	return s.bind(st, mode)
}

// TableStats returns the store statistics of a registered table.
func (s *Session) TableStats(ctx context.Context, namespace, name string) (store.TableStats, error) {
	st, err := s.stores.Open(ctx, store.OpenOptions{Name: name, Namespace: namespace})
	if err != nil {
		return store.TableStats{}, openErr(registry.Identity{Namespace: namespace, Name: name}, err)
	}
	return st.Stats(ctx)
}
