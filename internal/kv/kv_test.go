package kv

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pairs(kvs ...string) []Pair {
	out := make([]Pair, 0, len(kvs)/2)
	for i := 0; i+1 < len(kvs); i += 2 {
		out = append(out, Pair{Key: kvs[i], Value: []byte(kvs[i+1])})
	}
	return out
}

func concat(a, b []byte) []byte {
	return append(append([]byte{}, a...), b...)
}

func TestPartitionFor(t *testing.T) {
	t.Run("single partition", func(t *testing.T) {
		assert.Equal(t, 0, PartitionFor("anything", 1))
		assert.Equal(t, 0, PartitionFor("anything", 0))
	})

	t.Run("stable and in range", func(t *testing.T) {
		for i := 0; i < 1000; i++ {
			key := fmt.Sprintf("key-%d", i)
			p := PartitionFor(key, 7)
			assert.GreaterOrEqual(t, p, 0)
			assert.Less(t, p, 7)
			assert.Equal(t, p, PartitionFor(key, 7))
		}
	})

	t.Run("bucket agrees with PartitionFor", func(t *testing.T) {
		in := make([]Pair, 0, 100)
		for i := 0; i < 100; i++ {
			in = append(in, Pair{Key: strconv.Itoa(i)})
		}
		buckets := Bucket(in, 4)
		require.Len(t, buckets, 4)
		total := 0
		for i, b := range buckets {
			for _, p := range b {
				assert.Equal(t, i, PartitionFor(p.Key, 4))
			}
			total += len(b)
		}
		assert.Equal(t, 100, total)
	})
}

func TestIterator(t *testing.T) {
	t.Run("drains chunks lazily", func(t *testing.T) {
		pulls := 0
		chunks := [][]Pair{pairs("a", "1", "b", "2"), nil, pairs("c", "3")}
		it := NewIterator(func() ([]Pair, error) {
			if pulls == len(chunks) {
				return nil, io.EOF
			}
			pulls++
			return chunks[pulls-1], nil
		})

		require.True(t, it.Next())
		assert.Equal(t, "a", it.Pair().Key)
		assert.Equal(t, 1, pulls)

		rest, err := it.Drain()
		require.NoError(t, err)
		assert.Equal(t, pairs("b", "2", "c", "3"), rest)
		assert.Equal(t, 3, pulls)
	})

	t.Run("one shot", func(t *testing.T) {
		it := FromSlice(pairs("a", "1"))
		first, err := it.Drain()
		require.NoError(t, err)
		assert.Len(t, first, 1)

		second, err := it.Drain()
		require.NoError(t, err)
		assert.Empty(t, second)
	})

	t.Run("source error surfaces", func(t *testing.T) {
		boom := errors.New("boom")
		it := NewIterator(func() ([]Pair, error) { return nil, boom })
		assert.False(t, it.Next())
		assert.ErrorIs(t, it.Err(), boom)
		_, err := NewIterator(func() ([]Pair, error) { return nil, boom }).Drain()
		assert.ErrorIs(t, err, boom)
	})

	t.Run("close stops iteration", func(t *testing.T) {
		it := FromSlice(pairs("a", "1", "b", "2"))
		require.True(t, it.Next())
		require.NoError(t, it.Close())
		assert.False(t, it.Next())
		assert.NoError(t, it.Err())
	})

	t.Run("chunks bounded by size", func(t *testing.T) {
		var sizes []int
		err := FromSlice(pairs("a", "1", "b", "2", "c", "3", "d", "4", "e", "5")).
			Chunks(2, func(batch []Pair) error {
				sizes = append(sizes, len(batch))
				return nil
			})
		require.NoError(t, err)
		assert.Equal(t, []int{2, 2, 1}, sizes)
	})
}

func TestKernels(t *testing.T) {
	t.Run("map values keeps keys", func(t *testing.T) {
		out := MapValuesPartition(pairs("a", "1", "b", "2"), func(v []byte) []byte {
			return concat(v, []byte("0"))
		})
		assert.Equal(t, pairs("a", "10", "b", "20"), out)
	})

	t.Run("filter and flat map", func(t *testing.T) {
		in := pairs("a", "1", "b", "2", "c", "3")
		kept := FilterPartition(in, func(p Pair) bool { return p.Key != "b" })
		assert.Equal(t, pairs("a", "1", "c", "3"), kept)

		doubled := FlatMapPartition(in[:1], func(p Pair) []Pair {
			return []Pair{p, {Key: p.Key + "'", Value: p.Value}}
		})
		assert.Equal(t, pairs("a", "1", "a'", "1"), doubled)
	})

	t.Run("join drops unmatched keys", func(t *testing.T) {
		out := JoinPartition(pairs("k", "1", "l", "2"), pairs("k", "2", "m", "3"), concat)
		assert.Equal(t, pairs("k", "12"), out)
	})

	t.Run("union left wins by default", func(t *testing.T) {
		out := UnionPartition(pairs("a", "1", "b", "2"), pairs("b", "9", "c", "3"), nil)
		assert.Equal(t, pairs("a", "1", "b", "2", "c", "3"), out)

		merged := UnionPartition(pairs("b", "2"), pairs("b", "9"), concat)
		assert.Equal(t, pairs("b", "29"), merged)
	})

	t.Run("subtract by key", func(t *testing.T) {
		out := SubtractPartition(pairs("a", "1", "b", "2"), pairs("a", "9"))
		assert.Equal(t, pairs("b", "2"), out)
	})

	t.Run("glom", func(t *testing.T) {
		out, err := GlomPartition(pairs("a", "1", "b", "2"))
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, "b", out[0].Key)

		decoded, err := DecodePairs(out[0].Value)
		require.NoError(t, err)
		assert.Equal(t, pairs("a", "1", "b", "2"), decoded)

		empty, err := GlomPartition(nil)
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("reduce", func(t *testing.T) {
		acc, ok := ReducePartition(pairs("a", "1", "b", "2", "c", "3"), concat)
		assert.True(t, ok)
		assert.Equal(t, "123", string(acc))

		_, ok = ReducePartition(nil, concat)
		assert.False(t, ok)
	})

	t.Run("sample is reproducible per seed", func(t *testing.T) {
		in := make([]Pair, 0, 1000)
		for i := 0; i < 1000; i++ {
			in = append(in, Pair{Key: strconv.Itoa(i)})
		}
		a := SamplePartition(in, 0.3, SampleRand(42, 0))
		b := SamplePartition(in, 0.3, SampleRand(42, 0))
		assert.Equal(t, a, b)
		assert.InDelta(t, 300, len(a), 80)

		assert.Empty(t, SamplePartition(in, 0, SampleRand(1, 0)))
		assert.Len(t, SamplePartition(in, 1, SampleRand(1, 0)), 1000)
	})

	t.Run("dedupe keeps first position and last value", func(t *testing.T) {
		out := Dedupe(pairs("a", "1", "b", "2", "a", "3"))
		assert.Equal(t, pairs("a", "3", "b", "2"), out)
	})
}
