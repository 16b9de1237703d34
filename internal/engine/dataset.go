package engine

import (
	"context"
	"io"
	"math/rand/v2"

	"github.com/dreamware/dtable/internal/kv"
)

// Dataset is an immutable, hash-partitioned collection of records. Record
// with key k always sits in partition kv.PartitionFor(k, Partitions()), and
// keys are unique.
type Dataset struct {
	engine *Engine
	parts  [][]kv.Pair
}

// Partitions returns the partition count.
func (d *Dataset) Partitions() int {
	return len(d.parts)
}

// Partition returns the records of partition i. The slice must not be
// modified.
func (d *Dataset) Partition(i int) []kv.Pair {
	return d.parts[i]
}

// Count returns the number of records.
func (d *Dataset) Count() int {
	n := 0
	for _, p := range d.parts {
		n += len(p)
	}
	return n
}

// Collect iterates partition by partition. Records are copies; changing
// them does not change the dataset.
func (d *Dataset) Collect() *kv.Iterator {
	next := 0
	return kv.NewIterator(func() ([]kv.Pair, error) {
		for next < len(d.parts) {
			part := d.parts[next]
			next++
			if len(part) > 0 {
				return kv.Clone(part), nil
			}
		}
		return nil, io.EOF
	})
}

// Take returns copies of up to n records in Collect order.
func (d *Dataset) Take(n int, keysOnly bool) []kv.Pair {
	var out []kv.Pair
	for _, part := range d.parts {
		if len(out) >= n {
			break
		}
		end := n - len(out)
		if end > len(part) {
			end = len(part)
		}
		out = append(out, part[:end]...)
	}
	if keysOnly {
		return kv.KeysOnly(out)
	}
	return kv.Clone(out)
}

// Lookup finds key in the one partition that can hold it and returns a
// copy of its value.
func (d *Dataset) Lookup(key string) ([]byte, bool) {
	for _, p := range d.parts[kv.PartitionFor(key, len(d.parts))] {
		if p.Key == key {
			return kv.Clone([]kv.Pair{p})[0].Value, true
		}
	}
	return nil, false
}

// narrow runs fn on every partition. When rekeyed is true the output keys
// may have moved, so the result is shuffled back into hash placement.
func (d *Dataset) narrow(ctx context.Context, op string, rekeyed bool, fn func(i int, part []kv.Pair) ([]kv.Pair, error)) (*Dataset, error) {
	out := make([][]kv.Pair, len(d.parts))
	err := d.engine.run(ctx, op, len(d.parts), func(_ context.Context, i int) error {
		res, err := fn(i, d.parts[i])
		if err != nil {
			return err
		}
		out[i] = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	if rekeyed {
		out = shuffle(out, len(d.parts))
	}
	return &Dataset{engine: d.engine, parts: out}, nil
}

// shuffle re-places records by hash. Records are visited partition-major, so
// when two records collide the one from the later partition wins.
func shuffle(parts [][]kv.Pair, partitions int) [][]kv.Pair {
	var all []kv.Pair
	for _, p := range parts {
		all = append(all, p...)
	}
	out := kv.Bucket(all, partitions)
	for i, b := range out {
		out[i] = kv.Dedupe(b)
	}
	return out
}

// Map applies f to every record. Records whose new keys collide collapse to
// one; which one survives is unspecified.
func (d *Dataset) Map(ctx context.Context, f kv.MapFunc) (*Dataset, error) {
	return d.narrow(ctx, "map", true, func(_ int, part []kv.Pair) ([]kv.Pair, error) {
		return kv.MapPartition(part, f), nil
	})
}

// MapValues applies f to every value; placement is unchanged.
func (d *Dataset) MapValues(ctx context.Context, f kv.ValueFunc) (*Dataset, error) {
	return d.narrow(ctx, "mapValues", false, func(_ int, part []kv.Pair) ([]kv.Pair, error) {
		return kv.MapValuesPartition(part, f), nil
	})
}

// MapPartitions applies f to each whole partition.
func (d *Dataset) MapPartitions(ctx context.Context, f kv.PartitionFunc) (*Dataset, error) {
	return d.narrow(ctx, "mapPartitions", true, func(_ int, part []kv.Pair) ([]kv.Pair, error) {
		return f(part), nil
	})
}

// Filter keeps the records f accepts.
func (d *Dataset) Filter(ctx context.Context, f kv.FilterFunc) (*Dataset, error) {
	return d.narrow(ctx, "filter", false, func(_ int, part []kv.Pair) ([]kv.Pair, error) {
		return kv.FilterPartition(part, f), nil
	})
}

// FlatMap expands every record with f.
func (d *Dataset) FlatMap(ctx context.Context, f kv.FlatMapFunc) (*Dataset, error) {
	return d.narrow(ctx, "flatMap", true, func(_ int, part []kv.Pair) ([]kv.Pair, error) {
		return kv.FlatMapPartition(part, f), nil
	})
}

// Glom turns each non-empty partition into a single record.
func (d *Dataset) Glom(ctx context.Context) (*Dataset, error) {
	return d.narrow(ctx, "glom", true, func(_ int, part []kv.Pair) ([]kv.Pair, error) {
		return kv.GlomPartition(part)
	})
}

// Sample keeps each record with probability fraction. A nil seed draws a
// random one.
func (d *Dataset) Sample(ctx context.Context, fraction float64, seed *int64) (*Dataset, error) {
	s := rand.Uint64()
	if seed != nil {
		s = uint64(*seed)
	}
	return d.narrow(ctx, "sample", false, func(i int, part []kv.Pair) ([]kv.Pair, error) {
		return kv.SamplePartition(part, fraction, kv.SampleRand(s, i)), nil
	})
}

// Reduce folds all values with f: each partition in parallel, then the
// partial results in partition order.
func (d *Dataset) Reduce(ctx context.Context, f kv.ReduceFunc) ([]byte, bool, error) {
	partials := make([][]byte, len(d.parts))
	present := make([]bool, len(d.parts))
	err := d.engine.run(ctx, "reduce", len(d.parts), func(_ context.Context, i int) error {
		partials[i], present[i] = kv.ReducePartition(d.parts[i], f)
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	var acc []byte
	ok := false
	for i, v := range partials {
		if !present[i] {
			continue
		}
		if !ok {
			acc, ok = v, true
			continue
		}
		acc = f(acc, v)
	}
	return acc, ok, nil
}

// aligned returns other's partitions placed like d's.
func (d *Dataset) aligned(other *Dataset) [][]kv.Pair {
	if other.Partitions() == d.Partitions() {
		return other.parts
	}
	return shuffle(other.parts, d.Partitions())
}

// Join is an inner join on key; matching values are combined as f(d, other).
func (d *Dataset) Join(ctx context.Context, other *Dataset, f kv.ReduceFunc) (*Dataset, error) {
	right := d.aligned(other)
	return d.narrow(ctx, "join", false, func(i int, part []kv.Pair) ([]kv.Pair, error) {
		return kv.JoinPartition(part, right[i], f), nil
	})
}

// Union is a full outer union on key; a nil f keeps d's value on collision.
func (d *Dataset) Union(ctx context.Context, other *Dataset, f kv.ReduceFunc) (*Dataset, error) {
	right := d.aligned(other)
	return d.narrow(ctx, "union", false, func(i int, part []kv.Pair) ([]kv.Pair, error) {
		return kv.UnionPartition(part, right[i], f), nil
	})
}

// SubtractByKey keeps the records of d whose key is absent from other.
func (d *Dataset) SubtractByKey(ctx context.Context, other *Dataset) (*Dataset, error) {
	right := d.aligned(other)
	return d.narrow(ctx, "subtractByKey", false, func(i int, part []kv.Pair) ([]kv.Pair, error) {
		return kv.SubtractPartition(part, right[i]), nil
	})
}
