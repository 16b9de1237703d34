package table

import (
	"context"
	"math/rand/v2"

	"github.com/dreamware/dtable/internal/kv"
	"github.com/dreamware/dtable/internal/registry"
	"github.com/dreamware/dtable/internal/store"
)

// StoreTable runs every operation directly against a store table.
// Transformations execute partition by partition inside the store and
// produce new store tables.
type StoreTable struct {
	st *store.Table
}

// NewStoreTable wraps an open store table.
func NewStoreTable(st *store.Table) (*StoreTable, error) {
	if st == nil {
		return nil, configErr("open", Identity{}, "no store table")
	}
	if err := validate("open", st.Identity()); err != nil {
		return nil, err
	}
	return &StoreTable{st: st}, nil
}

// Name returns the table name
func (t *StoreTable) Name() string { return t.st.Name() }

// Namespace returns the table namespace
func (t *StoreTable) Namespace() string { return t.st.Namespace() }

// Partitions returns the partition count
func (t *StoreTable) Partitions() int { return t.st.Partitions() }

// Store returns the underlying store table.
func (t *StoreTable) Store() *store.Table { return t.st }

// Descriptor describes the table; a store table is always stored.
func (t *StoreTable) Descriptor() Descriptor {
	return describe(t.st.Identity(), true, KindStore)
}

// MarshalJSON encodes the table as its Descriptor
func (t *StoreTable) MarshalJSON() ([]byte, error) { return marshalDescriptor(t) }

func (t *StoreTable) fail(op string, err error) error {
	return wrapErr(op, t.st.Identity(), err)
}

// Get reads key from its partition. A missing key returns ok == false.
func (t *StoreTable) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, ok, err := t.st.Get(ctx, key)
	return v, ok, t.fail("get", err)
}

// Put stores value under key and returns the value it replaced
func (t *StoreTable) Put(ctx context.Context, key string, value []byte) ([]byte, bool, error) {
	prev, existed, err := t.st.Put(ctx, key, value)
	return prev, existed, t.fail("put", err)
}

// PutIfAbsent writes value only when key is missing and returns the
// value now stored under key.
func (t *StoreTable) PutIfAbsent(ctx context.Context, key string, value []byte) ([]byte, error) {
	stored, err := t.st.PutIfAbsent(ctx, key, value)
	return stored, t.fail("putIfAbsent", err)
}

// PutAll loads src in batches of chunkSize
func (t *StoreTable) PutAll(ctx context.Context, src *kv.Iterator, chunkSize int) error {
	return t.fail("putAll", t.st.PutAll(ctx, src, chunkSize))
}

// Delete removes key and returns the removed value
func (t *StoreTable) Delete(ctx context.Context, key string) ([]byte, bool, error) {
	removed, existed, err := t.st.Delete(ctx, key)
	return removed, existed, t.fail("delete", err)
}

// Count returns the number of records
func (t *StoreTable) Count(ctx context.Context) (int, error) {
	n, err := t.st.Count(ctx)
	return n, t.fail("count", err)
}

// Collect streams the store lazily. Failures while iterating surface
// through the iterator's Err as *InfrastructureError.
func (t *StoreTable) Collect(ctx context.Context, minChunkSize int) (*kv.Iterator, error) {
	it, err := t.st.Collect(ctx, minChunkSize)
	if err != nil {
		return nil, t.fail("collect", err)
	}
	return it.WrapErr(func(err error) error {
		return t.fail("collect", err)
	}), nil
}

// Take returns up to n records, reading only as many partitions as needed.
func (t *StoreTable) Take(ctx context.Context, n int, keysOnly bool) ([]kv.Pair, error) {
	it, err := t.st.Collect(ctx, n)
	if err != nil {
		return nil, t.fail("take", err)
	}
	pairs, err := takeFrom(it, n, keysOnly)
	return pairs, t.fail("take", err)
}

// First returns the first record of Take order
func (t *StoreTable) First(ctx context.Context, keysOnly bool) (kv.Pair, bool, error) {
	return first(ctx, t, keysOnly)
}

// Destroy drops the store table. Calling it again is a no-op.
func (t *StoreTable) Destroy(ctx context.Context) error {
	return t.fail("destroy", t.st.Destroy(ctx))
}

// SaveAs copies the table under (namespace, name). An empty name is
// generated; partitions 0 keeps the receiver's count. Saving onto an
// existing table fails with a ConfigurationError.
func (t *StoreTable) SaveAs(ctx context.Context, name, namespace string, partitions int) (Table, error) {
	if name == "" {
		name = registry.NewName()
	}
	if partitions < 0 {
		return nil, configErr("saveAs", Identity{Namespace: namespace, Name: name, Partitions: partitions},
			"partitions must not be negative")
	}
	out, err := t.st.SaveAs(ctx, namespace, name, partitions)
	if err != nil {
		return nil, t.fail("saveAs", err)
	}
	return &StoreTable{st: out}, nil
}

// transform runs fn per partition into a fresh table in the receiver's
// namespace.
func (t *StoreTable) transform(ctx context.Context, op string, fn store.TransformFunc) (Table, error) {
	out, err := t.st.Transform(ctx, t.st.Namespace(), registry.NewName(), fn)
	if err != nil {
		return nil, t.fail(op, err)
	}
	return &StoreTable{st: out}, nil
}

// Map applies f to every record; output keys are re-routed by hash.
func (t *StoreTable) Map(ctx context.Context, f kv.MapFunc) (Table, error) {
	return t.transform(ctx, "map", func(_ int, pairs []kv.Pair) ([]kv.Pair, error) {
		return kv.MapPartition(pairs, f), nil
	})
}

// MapValues applies f to every value
func (t *StoreTable) MapValues(ctx context.Context, f kv.ValueFunc) (Table, error) {
	return t.transform(ctx, "mapValues", func(_ int, pairs []kv.Pair) ([]kv.Pair, error) {
		return kv.MapValuesPartition(pairs, f), nil
	})
}

// MapPartitions applies f to each partition as a whole
func (t *StoreTable) MapPartitions(ctx context.Context, f kv.PartitionFunc) (Table, error) {
	return t.transform(ctx, "mapPartitions", func(_ int, pairs []kv.Pair) ([]kv.Pair, error) {
		return f(pairs), nil
	})
}

// Filter keeps the records f accepts
func (t *StoreTable) Filter(ctx context.Context, f kv.FilterFunc) (Table, error) {
	return t.transform(ctx, "filter", func(_ int, pairs []kv.Pair) ([]kv.Pair, error) {
		return kv.FilterPartition(pairs, f), nil
	})
}

// FlatMap expands every record into zero or more records
func (t *StoreTable) FlatMap(ctx context.Context, f kv.FlatMapFunc) (Table, error) {
	return t.transform(ctx, "flatMap", func(_ int, pairs []kv.Pair) ([]kv.Pair, error) {
		return kv.FlatMapPartition(pairs, f), nil
	})
}

// Glom encodes each non-empty partition into a single record
func (t *StoreTable) Glom(ctx context.Context) (Table, error) {
	return t.transform(ctx, "glom", func(_ int, pairs []kv.Pair) ([]kv.Pair, error) {
		return kv.GlomPartition(pairs)
	})
}

// Sample keeps each record with probability fraction. The same seed gives
// the same sample; a nil seed draws a random one.
func (t *StoreTable) Sample(ctx context.Context, fraction float64, seed *int64) (Table, error) {
	s := rand.Uint64()
	if seed != nil {
		s = uint64(*seed)
	}
	return t.transform(ctx, "sample", func(i int, pairs []kv.Pair) ([]kv.Pair, error) {
		return kv.SamplePartition(pairs, fraction, kv.SampleRand(s, i)), nil
	})
}

// Reduce folds every partition in order, then the partition results.
func (t *StoreTable) Reduce(ctx context.Context, f kv.ReduceFunc) ([]byte, bool, error) {
	var acc []byte
	ok := false
	for i := 0; i < t.st.Partitions(); i++ {
		pairs, err := t.st.Partition(ctx, i)
		if err != nil {
			return nil, false, t.fail("reduce", err)
		}
		v, present := kv.ReducePartition(pairs, f)
		switch {
		case !present:
		case !ok:
			acc, ok = v, true
		default:
			acc = f(acc, v)
		}
	}
	return acc, ok, nil
}

// binary collects other, places it like the receiver and runs fn on each
// pair of matching partitions.
func (t *StoreTable) binary(ctx context.Context, op string, other Table, fn func(left, right []kv.Pair) []kv.Pair) (Table, error) {
	if t.st.Destroyed() {
		return nil, configErr(op, t.st.Identity(), "table destroyed")
	}
	pairs, err := collectOther(ctx, other)
	if err != nil {
		return nil, t.fail(op, err)
	}
	right := kv.Bucket(pairs, t.st.Partitions())
	return t.transform(ctx, op, func(i int, left []kv.Pair) ([]kv.Pair, error) {
		return fn(left, right[i]), nil
	})
}

// Join keeps keys present in both tables, combining values as f(t, other).
func (t *StoreTable) Join(ctx context.Context, other Table, f kv.ReduceFunc) (Table, error) {
	return t.binary(ctx, "join", other, func(left, right []kv.Pair) []kv.Pair {
		return kv.JoinPartition(left, right, f)
	})
}

// Union keeps every key of either table; f combines values present in
// both, and a nil f keeps the receiver's value.
func (t *StoreTable) Union(ctx context.Context, other Table, f kv.ReduceFunc) (Table, error) {
	return t.binary(ctx, "union", other, func(left, right []kv.Pair) []kv.Pair {
		return kv.UnionPartition(left, right, f)
	})
}

// SubtractByKey keeps the records whose key is absent from other
func (t *StoreTable) SubtractByKey(ctx context.Context, other Table) (Table, error) {
	return t.binary(ctx, "subtractByKey", other, func(left, right []kv.Pair) []kv.Pair {
		return kv.SubtractPartition(left, right)
	})
}
