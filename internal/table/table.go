// Package table provides partitioned tables with two interchangeable
// backends: StoreTable runs every operation against the persistent store,
// EngineTable keeps live data in the in-memory engine and converts to and
// from the store lazily. Both satisfy Table.
package table

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dreamware/dtable/internal/kv"
	"github.com/dreamware/dtable/internal/registry"
)

// Identity is a table's (namespace, name, partitions).
type Identity = registry.Identity

// Table is the operation set shared by every backend. Transformations never
// modify the receiver; they return a new table under a generated name in
// the receiver's namespace. Missing keys are reported with ok == false,
// never with an error.
type Table interface {
	Name() string
	Namespace() string
	Partitions() int
	Descriptor() Descriptor

	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Put(ctx context.Context, key string, value []byte) (prev []byte, existed bool, err error)
	PutIfAbsent(ctx context.Context, key string, value []byte) (stored []byte, err error)
	PutAll(ctx context.Context, src *kv.Iterator, chunkSize int) error
	Delete(ctx context.Context, key string) (removed []byte, existed bool, err error)

	Count(ctx context.Context) (int, error)
	Collect(ctx context.Context, minChunkSize int) (*kv.Iterator, error)
	Take(ctx context.Context, n int, keysOnly bool) ([]kv.Pair, error)
	First(ctx context.Context, keysOnly bool) (kv.Pair, bool, error)

	Destroy(ctx context.Context) error
	SaveAs(ctx context.Context, name, namespace string, partitions int) (Table, error)

	Map(ctx context.Context, f kv.MapFunc) (Table, error)
	MapValues(ctx context.Context, f kv.ValueFunc) (Table, error)
	MapPartitions(ctx context.Context, f kv.PartitionFunc) (Table, error)
	Filter(ctx context.Context, f kv.FilterFunc) (Table, error)
	FlatMap(ctx context.Context, f kv.FlatMapFunc) (Table, error)
	Glom(ctx context.Context) (Table, error)
	Sample(ctx context.Context, fraction float64, seed *int64) (Table, error)
	Reduce(ctx context.Context, f kv.ReduceFunc) ([]byte, bool, error)

	Join(ctx context.Context, other Table, f kv.ReduceFunc) (Table, error)
	Union(ctx context.Context, other Table, f kv.ReduceFunc) (Table, error)
	SubtractByKey(ctx context.Context, other Table) (Table, error)
}

// Kind names a backend.
type Kind string

const (
	KindStore  Kind = "store"
	KindEngine Kind = "engine"
)

// Descriptor is the transferable form of a table handle. It carries the
// identity and whether a store binding existed; in-memory data never
// travels with it.
type Descriptor struct {
	Namespace  string `json:"namespace"`
	Name       string `json:"name"`
	Partitions int    `json:"partitions"`
	Stored     bool   `json:"stored"`
	Kind       Kind   `json:"kind"`
}

// Identity returns the described identity.
func (d Descriptor) Identity() Identity {
	return Identity{Namespace: d.Namespace, Name: d.Name, Partitions: d.Partitions}
}

func describe(id Identity, stored bool, kind Kind) Descriptor {
	return Descriptor{
		Namespace:  id.Namespace,
		Name:       id.Name,
		Partitions: id.Partitions,
		Stored:     stored,
		Kind:       kind,
	}
}

func marshalDescriptor(t Table) ([]byte, error) {
	return json.Marshal(t.Descriptor())
}

// takeFrom drains up to n records from it.
func takeFrom(it *kv.Iterator, n int, keysOnly bool) ([]kv.Pair, error) {
	defer it.Close()
	var out []kv.Pair
	for len(out) < n && it.Next() {
		out = append(out, it.Pair())
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	if keysOnly {
		return kv.KeysOnly(out), nil
	}
	return out, nil
}

func first(ctx context.Context, t Table, keysOnly bool) (kv.Pair, bool, error) {
	pairs, err := t.Take(ctx, 1, keysOnly)
	if err != nil || len(pairs) == 0 {
		return kv.Pair{}, false, err
	}
	return pairs[0], true, nil
}

// collectOther drains another table for a binary operation. The other
// table is read through the Table contract only, whatever its backend.
func collectOther(ctx context.Context, other Table) ([]kv.Pair, error) {
	it, err := other.Collect(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("collect %s/%s: %w", other.Namespace(), other.Name(), err)
	}
	pairs, err := it.Drain()
	if err != nil {
		return nil, fmt.Errorf("collect %s/%s: %w", other.Namespace(), other.Name(), err)
	}
	return pairs, nil
}

func validate(op string, id Identity) error {
	if err := id.Validate(); err != nil {
		return configErr(op, id, err.Error())
	}
	return nil
}
