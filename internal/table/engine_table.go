package table

import (
	"context"

	"github.com/dreamware/dtable/internal/engine"
	"github.com/dreamware/dtable/internal/kv"
	"github.com/dreamware/dtable/internal/registry"
	"github.com/dreamware/dtable/internal/store"
)

// EngineTable keeps its live data in an engine dataset and binds a store
// table only when it has to. It holds two cache slots:
//
//   - store: the persistent representation, a handle owned by the store
//   - mem: the in-memory dataset, owned by this table
//
// Reads that produce tables go through memory(), which converts from the
// store once and then reuses the dataset. Mutations go through stored(),
// write to the store and clear mem, so no read after a mutation can see a
// dataset computed before it. Terminal reads (Count, Collect, Take, First,
// Get) use whichever slot is filled and never convert.
//
// An EngineTable is not safe for concurrent use.
type EngineTable struct {
	id     Identity
	bridge *Bridge

	store     *store.Table
	mem       *engine.Dataset
	destroyed bool
}

// NewEngineTable builds a table over an existing store binding, an existing
// dataset, or both. An empty id.Name is replaced by a generated one; with
// neither representation the call fails.
func NewEngineTable(id Identity, st *store.Table, mem *engine.Dataset, bridge *Bridge) (*EngineTable, error) {
	if id.Name == "" {
		id.Name = registry.NewName()
	}
	if err := validate("open", id); err != nil {
		return nil, err
	}
	if st == nil && mem == nil {
		return nil, configErr("open", id, "neither a store binding nor an in-memory dataset")
	}
	if st != nil && st.Partitions() != id.Partitions {
		return nil, configErr("open", id, "store partition count differs from identity")
	}
	if mem != nil && mem.Partitions() != id.Partitions {
		return nil, configErr("open", id, "dataset partition count differs from identity")
	}
	return &EngineTable{id: id, bridge: bridge, store: st, mem: mem}, nil
}

// Name returns the table name
func (t *EngineTable) Name() string { return t.id.Name }

// Namespace returns the table namespace
func (t *EngineTable) Namespace() string { return t.id.Namespace }

// Partitions returns the partition count
func (t *EngineTable) Partitions() int { return t.id.Partitions }

// Descriptor omits the dataset; only a store binding survives transfer.
func (t *EngineTable) Descriptor() Descriptor {
	return describe(t.id, t.store != nil, KindEngine)
}

// MarshalJSON encodes the table as its Descriptor
func (t *EngineTable) MarshalJSON() ([]byte, error) { return marshalDescriptor(t) }

// Bound reports which representations are currently held.
func (t *EngineTable) Bound() (stored, inMemory bool) {
	return t.store != nil, t.mem != nil
}

// Materialize binds a store representation, persisting the dataset under
// the table's own identity if needed.
func (t *EngineTable) Materialize(ctx context.Context) error {
	_, err := t.stored(ctx, "materialize")
	return err
}

// memory returns the dataset, converting from the store on first use.
// A failed conversion leaves both slots as they were.
func (t *EngineTable) memory(ctx context.Context, op string) (*engine.Dataset, error) {
	if t.destroyed {
		return nil, configErr(op, t.id, "table destroyed")
	}
	if t.mem != nil {
		return t.mem, nil
	}
	if t.store == nil {
		return nil, configErr(op, t.id, "materialize from nothing")
	}
	ds, err := t.bridge.StoreToMemory(ctx, t.store)
	if err != nil {
		return nil, wrapErr(op, t.id, err)
	}
	t.mem = ds
	return ds, nil
}

// stored returns the store binding, persisting the dataset on first use.
func (t *EngineTable) stored(ctx context.Context, op string) (*store.Table, error) {
	if t.destroyed {
		return nil, configErr(op, t.id, "table destroyed")
	}
	if t.store != nil {
		return t.store, nil
	}
	if t.mem == nil {
		return nil, configErr(op, t.id, "materialize from nothing")
	}
	st, err := t.bridge.MemoryToStore(ctx, t.mem, t.id)
	if err != nil {
		return nil, wrapErr(op, t.id, err)
	}
	t.store = st
	return st, nil
}

// mutate runs fn against the store and drops the dataset afterwards, even
// when fn fails part way.
func (t *EngineTable) mutate(ctx context.Context, op string, fn func(st *store.Table) error) error {
	st, err := t.stored(ctx, op)
	if err != nil {
		return err
	}
	err = fn(st)
	t.mem = nil
	return wrapErr(op, t.id, err)
}

// Get reads from the store when bound, otherwise from the dataset.
func (t *EngineTable) Get(ctx context.Context, key string) ([]byte, bool, error) {
	switch {
	case t.destroyed:
		return nil, false, nil
	case t.store != nil:
		v, ok, err := t.store.Get(ctx, key)
		return v, ok, wrapErr("get", t.id, err)
	default:
		v, ok := t.mem.Lookup(key)
		return v, ok, nil
	}
}

// Put writes through the store and drops the cached dataset.
func (t *EngineTable) Put(ctx context.Context, key string, value []byte) (prev []byte, existed bool, err error) {
	err = t.mutate(ctx, "put", func(st *store.Table) (err error) {
		prev, existed, err = st.Put(ctx, key, value)
		return err
	})
	return prev, existed, err
}

// PutIfAbsent writes value only when key is missing. Like every mutation
// it binds a store first and drops the cached dataset.
func (t *EngineTable) PutIfAbsent(ctx context.Context, key string, value []byte) (stored []byte, err error) {
	err = t.mutate(ctx, "putIfAbsent", func(st *store.Table) (err error) {
		stored, err = st.PutIfAbsent(ctx, key, value)
		return err
	})
	return stored, err
}

// PutAll loads src into the store in batches of chunkSize
func (t *EngineTable) PutAll(ctx context.Context, src *kv.Iterator, chunkSize int) error {
	return t.mutate(ctx, "putAll", func(st *store.Table) error {
		return st.PutAll(ctx, src, chunkSize)
	})
}

// Delete removes key from the store and drops the cached dataset
func (t *EngineTable) Delete(ctx context.Context, key string) (removed []byte, existed bool, err error) {
	err = t.mutate(ctx, "delete", func(st *store.Table) (err error) {
		removed, existed, err = st.Delete(ctx, key)
		return err
	})
	return removed, existed, err
}

// Count prefers the store and never converts
func (t *EngineTable) Count(ctx context.Context) (int, error) {
	switch {
	case t.destroyed:
		return 0, nil
	case t.store != nil:
		n, err := t.store.Count(ctx)
		return n, wrapErr("count", t.id, err)
	default:
		return t.mem.Count(), nil
	}
}

// Collect streams the store when bound, otherwise the dataset.
func (t *EngineTable) Collect(ctx context.Context, minChunkSize int) (*kv.Iterator, error) {
	switch {
	case t.destroyed:
		return kv.Empty(), nil
	case t.store != nil:
		it, err := t.store.Collect(ctx, minChunkSize)
		if err != nil {
			return nil, wrapErr("collect", t.id, err)
		}
		return it.WrapErr(func(err error) error { return wrapErr("collect", t.id, err) }), nil
	default:
		return t.mem.Collect(), nil
	}
}

// Take returns up to n records without converting
func (t *EngineTable) Take(ctx context.Context, n int, keysOnly bool) ([]kv.Pair, error) {
	switch {
	case t.destroyed:
		return nil, nil
	case t.store != nil:
		it, err := t.store.Collect(ctx, n)
		if err != nil {
			return nil, wrapErr("take", t.id, err)
		}
		pairs, err := takeFrom(it, n, keysOnly)
		return pairs, wrapErr("take", t.id, err)
	default:
		return t.mem.Take(n, keysOnly), nil
	}
}

// First returns the first record of Take order
func (t *EngineTable) First(ctx context.Context, keysOnly bool) (kv.Pair, bool, error) {
	return first(ctx, t, keysOnly)
}

// Destroy releases the store table, if bound, and the dataset. It is
// idempotent; a failed store drop leaves the table untouched.
func (t *EngineTable) Destroy(ctx context.Context) error {
	if t.destroyed {
		return nil
	}
	if t.store != nil {
		if err := t.store.Destroy(ctx); err != nil {
			return wrapErr("destroy", t.id, err)
		}
	}
	t.store = nil
	t.mem = nil
	t.destroyed = true
	return nil
}

// SaveAs persists the table under a new identity and returns a table bound
// to that store copy. partitions 0 keeps the receiver's count. The target
// must not exist yet.
func (t *EngineTable) SaveAs(ctx context.Context, name, namespace string, partitions int) (Table, error) {
	if t.destroyed {
		return nil, configErr("saveAs", t.id, "table destroyed")
	}
	if name == "" {
		name = registry.NewName()
	}
	if partitions == 0 {
		partitions = t.id.Partitions
	}
	id := Identity{Namespace: namespace, Name: name, Partitions: partitions}
	if err := validate("saveAs", id); err != nil {
		return nil, err
	}

	var (
		st  *store.Table
		err error
	)
	if t.store != nil {
		st, err = t.store.SaveAs(ctx, namespace, name, partitions)
	} else {
		st, err = t.bridge.MemoryToNewStore(ctx, t.mem, id)
	}
	if err != nil {
		return nil, wrapErr("saveAs", t.id, err)
	}
	return &EngineTable{id: id, bridge: t.bridge, store: st}, nil
}

// derive runs a dataset operation on the receiver's memory and wraps the
// result in a new, unbound table.
func (t *EngineTable) derive(ctx context.Context, op string, fn func(ds *engine.Dataset) (*engine.Dataset, error)) (Table, error) {
	src, err := t.memory(ctx, op)
	if err != nil {
		return nil, err
	}
	out, err := fn(src)
	if err != nil {
		return nil, wrapErr(op, t.id, err)
	}
	return &EngineTable{
		id: Identity{
			Namespace:  t.id.Namespace,
			Name:       registry.NewName(),
			Partitions: out.Partitions(),
		},
		bridge: t.bridge,
		mem:    out,
	}, nil
}

// Map applies f to every record of the dataset
func (t *EngineTable) Map(ctx context.Context, f kv.MapFunc) (Table, error) {
	return t.derive(ctx, "map", func(ds *engine.Dataset) (*engine.Dataset, error) {
		return ds.Map(ctx, f)
	})
}

// MapValues applies f to every value; placement is unchanged.
func (t *EngineTable) MapValues(ctx context.Context, f kv.ValueFunc) (Table, error) {
	return t.derive(ctx, "mapValues", func(ds *engine.Dataset) (*engine.Dataset, error) {
		return ds.MapValues(ctx, f)
	})
}

// MapPartitions applies f to each partition
func (t *EngineTable) MapPartitions(ctx context.Context, f kv.PartitionFunc) (Table, error) {
	return t.derive(ctx, "mapPartitions", func(ds *engine.Dataset) (*engine.Dataset, error) {
		return ds.MapPartitions(ctx, f)
	})
}

// Filter keeps the records f accepts
func (t *EngineTable) Filter(ctx context.Context, f kv.FilterFunc) (Table, error) {
	return t.derive(ctx, "filter", func(ds *engine.Dataset) (*engine.Dataset, error) {
		return ds.Filter(ctx, f)
	})
}

// FlatMap expands every record with f
func (t *EngineTable) FlatMap(ctx context.Context, f kv.FlatMapFunc) (Table, error) {
	return t.derive(ctx, "flatMap", func(ds *engine.Dataset) (*engine.Dataset, error) {
		return ds.FlatMap(ctx, f)
	})
}

// Glom turns each non-empty partition into one record
func (t *EngineTable) Glom(ctx context.Context) (Table, error) {
	return t.derive(ctx, "glom", func(ds *engine.Dataset) (*engine.Dataset, error) {
		return ds.Glom(ctx)
	})
}

// Sample keeps each record with probability fraction
func (t *EngineTable) Sample(ctx context.Context, fraction float64, seed *int64) (Table, error) {
	return t.derive(ctx, "sample", func(ds *engine.Dataset) (*engine.Dataset, error) {
		return ds.Sample(ctx, fraction, seed)
	})
}

// Reduce folds every value with f. ok is false for an empty table.
func (t *EngineTable) Reduce(ctx context.Context, f kv.ReduceFunc) ([]byte, bool, error) {
	ds, err := t.memory(ctx, "reduce")
	if err != nil {
		return nil, false, err
	}
	v, ok, err := ds.Reduce(ctx, f)
	return v, ok, wrapErr("reduce", t.id, err)
}

// binary distributes other next to the receiver's dataset and runs fn.
func (t *EngineTable) binary(ctx context.Context, op string, other Table, fn func(left, right *engine.Dataset) (*engine.Dataset, error)) (Table, error) {
	if t.destroyed {
		return nil, configErr(op, t.id, "table destroyed")
	}
	pairs, err := collectOther(ctx, other)
	if err != nil {
		return nil, wrapErr(op, t.id, err)
	}
	return t.derive(ctx, op, func(left *engine.Dataset) (*engine.Dataset, error) {
		right, err := t.bridge.Engine().Distribute(ctx, pairs, left.Partitions())
		if err != nil {
			return nil, err
		}
		return fn(left, right)
	})
}

// Join is an inner join on key
func (t *EngineTable) Join(ctx context.Context, other Table, f kv.ReduceFunc) (Table, error) {
	return t.binary(ctx, "join", other, func(left, right *engine.Dataset) (*engine.Dataset, error) {
		return left.Join(ctx, right, f)
	})
}

// Union is a full outer union on key; a nil f keeps the receiver's value.
func (t *EngineTable) Union(ctx context.Context, other Table, f kv.ReduceFunc) (Table, error) {
	return t.binary(ctx, "union", other, func(left, right *engine.Dataset) (*engine.Dataset, error) {
		return left.Union(ctx, right, f)
	})
}

// SubtractByKey drops the records whose key appears in other
func (t *EngineTable) SubtractByKey(ctx context.Context, other Table) (Table, error) {
	return t.binary(ctx, "subtractByKey", other, func(left, right *engine.Dataset) (*engine.Dataset, error) {
		return left.SubtractByKey(ctx, right)
	})
}
