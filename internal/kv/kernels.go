package kv

import "math/rand/v2"

// The functions below are the per-partition building blocks of every table
// transformation. They never modify their inputs, and they are shared by the
// store (partition-local execution) and the engine (in-memory datasets) so
// that both backends compute identical results from identical partitions.

// MapPartition applies f to every record.
func MapPartition(pairs []Pair, f MapFunc) []Pair {
	out := make([]Pair, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, f(p))
	}
	return out
}

// MapValuesPartition applies f to every value.
func MapValuesPartition(pairs []Pair, f ValueFunc) []Pair {
	out := make([]Pair, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, Pair{Key: p.Key, Value: f(p.Value)})
	}
	return out
}

// FilterPartition keeps the records f accepts.
func FilterPartition(pairs []Pair, f FilterFunc) []Pair {
	var out []Pair
	for _, p := range pairs {
		if f(p) {
			out = append(out, p)
		}
	}
	return out
}

// FlatMapPartition concatenates f's output for every record.
func FlatMapPartition(pairs []Pair, f FlatMapFunc) []Pair {
	var out []Pair
	for _, p := range pairs {
		out = append(out, f(p)...)
	}
	return out
}

// GlomPartition collapses a partition into one record keyed by its last key.
// Empty partitions produce no record.
func GlomPartition(pairs []Pair) ([]Pair, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	value, err := EncodePairs(pairs)
	if err != nil {
		return nil, err
	}
	return []Pair{{Key: pairs[len(pairs)-1].Key, Value: value}}, nil
}

// SamplePartition keeps each record with probability fraction.
func SamplePartition(pairs []Pair, fraction float64, rng *rand.Rand) []Pair {
	var out []Pair
	for _, p := range pairs {
		if rng.Float64() < fraction {
			out = append(out, p)
		}
	}
	return out
}

// SampleRand returns the generator used for one partition of a sample. The
// stream depends only on the seed and the partition index, which makes a
// seeded sample reproducible on either backend.
func SampleRand(seed uint64, partition int) *rand.Rand {
	return rand.New(rand.NewPCG(seed, uint64(partition)))
}

// ReducePartition folds values left to right. ok is false for an empty
// partition.
func ReducePartition(pairs []Pair, f ReduceFunc) (acc []byte, ok bool) {
	for _, p := range pairs {
		if !ok {
			acc, ok = p.Value, true
			continue
		}
		acc = f(acc, p.Value)
	}
	return acc, ok
}

// JoinPartition is an inner join: for every left key present on the right,
// it emits f(left, right). Left order is kept.
func JoinPartition(left, right []Pair, f ReduceFunc) []Pair {
	index := indexByKey(right)
	var out []Pair
	for _, p := range left {
		if v, ok := index[p.Key]; ok {
			out = append(out, Pair{Key: p.Key, Value: f(p.Value, v)})
		}
	}
	return out
}

// UnionPartition is a full outer union. Colliding keys are merged with f;
// a nil f keeps the left value. Left records come first, then right-only
// records in right order.
func UnionPartition(left, right []Pair, f ReduceFunc) []Pair {
	if f == nil {
		f = func(a, _ []byte) []byte { return a }
	}
	index := indexByKey(right)
	seen := make(map[string]struct{}, len(left))
	out := make([]Pair, 0, len(left)+len(right))
	for _, p := range left {
		seen[p.Key] = struct{}{}
		if v, ok := index[p.Key]; ok {
			out = append(out, Pair{Key: p.Key, Value: f(p.Value, v)})
			continue
		}
		out = append(out, p)
	}
	for _, p := range right {
		if _, ok := seen[p.Key]; ok {
			continue
		}
		seen[p.Key] = struct{}{}
		out = append(out, p)
	}
	return out
}

// SubtractPartition keeps left records whose key is absent on the right.
func SubtractPartition(left, right []Pair) []Pair {
	index := indexByKey(right)
	var out []Pair
	for _, p := range left {
		if _, ok := index[p.Key]; !ok {
			out = append(out, p)
		}
	}
	return out
}

// Dedupe collapses records sharing a key. The surviving record sits at the
// position of the key's first occurrence and carries its last value.
func Dedupe(pairs []Pair) []Pair {
	pos := make(map[string]int, len(pairs))
	out := make([]Pair, 0, len(pairs))
	for _, p := range pairs {
		if i, ok := pos[p.Key]; ok {
			out[i].Value = p.Value
			continue
		}
		pos[p.Key] = len(out)
		out = append(out, p)
	}
	return out
}

func indexByKey(pairs []Pair) map[string][]byte {
	index := make(map[string][]byte, len(pairs))
	for _, p := range pairs {
		index[p.Key] = p.Value
	}
	return index
}
