// Package kv holds the record shape shared by every table backend, the
// hash partitioner that keeps the store and the engine aligned, and the
// pure per-partition kernels both backends execute.
package kv

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
)

// Pair is a single table record.
type Pair struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
}

// MapFunc transforms a whole record; the key may change.
type MapFunc func(Pair) Pair

// ValueFunc transforms a value and keeps its key.
type ValueFunc func([]byte) []byte

// PartitionFunc transforms all records of one partition at once.
type PartitionFunc func([]Pair) []Pair

// FilterFunc reports whether a record is kept.
type FilterFunc func(Pair) bool

// FlatMapFunc expands one record into zero or more records.
type FlatMapFunc func(Pair) []Pair

// ReduceFunc combines two values. Reduce assumes it is associative and
// commutative; Join and Union call it with (left, right).
type ReduceFunc func(a, b []byte) []byte

// PartitionFor maps a key to its partition in [0, partitions).
// Every component that places keys uses this function so that a store table
// and an engine dataset with the same partition count agree on placement.
func PartitionFor(key string, partitions int) int {
	if partitions <= 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(partitions))
}

// Bucket splits pairs into partitions by key hash, keeping input order
// within each partition.
func Bucket(pairs []Pair, partitions int) [][]Pair {
	out := make([][]Pair, partitions)
	for _, p := range pairs {
		i := PartitionFor(p.Key, partitions)
		out[i] = append(out[i], p)
	}
	return out
}

// KeysOnly returns copies of pairs with values stripped.
func KeysOnly(pairs []Pair) []Pair {
	out := make([]Pair, len(pairs))
	for i, p := range pairs {
		out[i] = Pair{Key: p.Key}
	}
	return out
}

// Clone returns pairs with every value copied, so the result can be
// modified without touching the source.
func Clone(pairs []Pair) []Pair {
	out := make([]Pair, len(pairs))
	for i, p := range pairs {
		out[i] = Pair{Key: p.Key, Value: cloneValue(p.Value)}
	}
	return out
}

func cloneValue(v []byte) []byte {
	if v == nil {
		return nil
	}
	c := make([]byte, len(v))
	copy(c, v)
	return c
}

// EncodePairs serializes a partition's records into a single value, the
// representation Glom uses for its output records.
func EncodePairs(pairs []Pair) ([]byte, error) {
	if pairs == nil {
		pairs = []Pair{}
	}
	b, err := json.Marshal(pairs)
	if err != nil {
		return nil, fmt.Errorf("encode pairs: %w", err)
	}
	return b, nil
}

// DecodePairs is the inverse of EncodePairs.
func DecodePairs(b []byte) ([]Pair, error) {
	var pairs []Pair
	if err := json.Unmarshal(b, &pairs); err != nil {
		return nil, fmt.Errorf("decode pairs: %w", err)
	}
	return pairs, nil
}
