package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/dtable/internal/kv"
	"github.com/dreamware/dtable/internal/registry"
	"github.com/dreamware/dtable/internal/storage"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	reg, err := registry.New(nil, 2)
	require.NoError(t, err)
	return NewEngine(storage.NewMemoryBackend(), reg)
}

func openTable(t *testing.T, e *Engine, name string, partitions int) *Table {
	t.Helper()
	tbl, err := e.Open(context.Background(), OpenOptions{
		Name:            name,
		Namespace:       "test",
		Partitions:      partitions,
		CreateIfMissing: true,
	})
	require.NoError(t, err)
	return tbl
}

func collectAll(t *testing.T, tbl *Table) map[string]string {
	t.Helper()
	it, err := tbl.Collect(context.Background(), 0)
	require.NoError(t, err)
	pairs, err := it.Drain()
	require.NoError(t, err)
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		out[p.Key] = string(p.Value)
	}
	return out
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("create if missing", func(t *testing.T) {
		e := newTestEngine(t)
		_, err := e.Open(ctx, OpenOptions{Name: "t", Namespace: "ns"})
		assert.ErrorIs(t, err, ErrTableNotFound)

		tbl, err := e.Open(ctx, OpenOptions{Name: "t", Namespace: "ns", CreateIfMissing: true})
		require.NoError(t, err)
		assert.Equal(t, 2, tbl.Partitions(), "registry default applies")
	})

	t.Run("error if exist", func(t *testing.T) {
		e := newTestEngine(t)
		openTable(t, e, "t", 3)
		_, err := e.Open(ctx, OpenOptions{Name: "t", Namespace: "test", ErrorIfExist: true})
		assert.ErrorIs(t, err, ErrTableExists)
	})

	t.Run("reopen keeps registered partitions and data", func(t *testing.T) {
		e := newTestEngine(t)
		tbl := openTable(t, e, "t", 3)
		_, _, err := tbl.Put(ctx, "k", []byte("v"))
		require.NoError(t, err)

		again := openTable(t, e, "t", 5)
		assert.Equal(t, 3, again.Partitions())
		v, ok, err := again.Get(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, []byte("v"), v)
	})

	t.Run("invalid identity", func(t *testing.T) {
		e := newTestEngine(t)
		_, err := e.Open(ctx, OpenOptions{Name: "t", CreateIfMissing: true})
		assert.ErrorIs(t, err, registry.ErrInvalidIdentity)
	})
}

func TestTableKeyOperations(t *testing.T) {
	ctx := context.Background()
	tbl := openTable(t, newTestEngine(t), "kv", 4)

	_, ok, err := tbl.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	prev, existed, err := tbl.Put(ctx, "a", []byte("1"))
	require.NoError(t, err)
	assert.False(t, existed)
	assert.Nil(t, prev)

	prev, existed, err = tbl.Put(ctx, "a", []byte("2"))
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, []byte("1"), prev)

	stored, err := tbl.PutIfAbsent(ctx, "a", []byte("3"))
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), stored)

	stored, err = tbl.PutIfAbsent(ctx, "b", []byte("4"))
	require.NoError(t, err)
	assert.Equal(t, []byte("4"), stored)

	removed, existed, err := tbl.Delete(ctx, "a")
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, []byte("2"), removed)

	_, existed, err = tbl.Delete(ctx, "a")
	require.NoError(t, err)
	assert.False(t, existed)

	n, err := tbl.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPutAllAndCollect(t *testing.T) {
	ctx := context.Background()
	tbl := openTable(t, newTestEngine(t), "bulk", 3)

	pairs := make([]kv.Pair, 0, 50)
	for i := 0; i < 50; i++ {
		pairs = append(pairs, kv.Pair{Key: fmt.Sprintf("k%02d", i), Value: []byte(fmt.Sprint(i))})
	}
	require.NoError(t, tbl.PutAll(ctx, kv.FromSlice(pairs), 7))

	n, err := tbl.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 50, n)

	t.Run("partition major, ordered within partition", func(t *testing.T) {
		it, err := tbl.Collect(ctx, 0)
		require.NoError(t, err)
		got, err := it.Drain()
		require.NoError(t, err)
		require.Len(t, got, 50)

		last := -1
		for i, p := range got {
			part := kv.PartitionFor(p.Key, 3)
			assert.GreaterOrEqual(t, part, last)
			if part == last {
				assert.Less(t, got[i-1].Key, p.Key)
			}
			last = part
		}
	})

	t.Run("read stability", func(t *testing.T) {
		assert.Equal(t, collectAll(t, tbl), collectAll(t, tbl))
	})

	t.Run("partitions hold owned keys", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			part, err := tbl.Partition(ctx, i)
			require.NoError(t, err)
			for _, p := range part {
				assert.Equal(t, i, kv.PartitionFor(p.Key, 3))
			}
		}
		_, err := tbl.Partition(ctx, 3)
		assert.Error(t, err)
	})
}

func TestTransform(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	src := openTable(t, e, "src", 2)
	require.NoError(t, src.PutPairs(ctx, []kv.Pair{
		{Key: "a", Value: []byte("1")},
		{Key: "b", Value: []byte("2")},
		{Key: "c", Value: []byte("3")},
	}))

	t.Run("rekeying output is routed by hash", func(t *testing.T) {
		out, err := src.Transform(ctx, "test", "upper", func(_ int, pairs []kv.Pair) ([]kv.Pair, error) {
			return kv.MapPartition(pairs, func(p kv.Pair) kv.Pair {
				return kv.Pair{Key: p.Key + p.Key, Value: p.Value}
			}), nil
		})
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"aa": "1", "bb": "2", "cc": "3"}, collectAll(t, out))
		for i := 0; i < out.Partitions(); i++ {
			part, err := out.Partition(ctx, i)
			require.NoError(t, err)
			for _, p := range part {
				assert.Equal(t, i, kv.PartitionFor(p.Key, 2))
			}
		}
		assert.Equal(t, map[string]string{"a": "1", "b": "2", "c": "3"}, collectAll(t, src))
	})

	t.Run("failure destroys partial output", func(t *testing.T) {
		boom := errors.New("boom")
		_, err := src.Transform(ctx, "test", "broken", func(int, []kv.Pair) ([]kv.Pair, error) {
			return nil, boom
		})
		assert.ErrorIs(t, err, boom)
		_, err = e.Registry().Lookup("test", "broken")
		assert.ErrorIs(t, err, registry.ErrNotRegistered)
	})

	t.Run("panic becomes error", func(t *testing.T) {
		_, err := src.Transform(ctx, "test", "panicky", func(int, []kv.Pair) ([]kv.Pair, error) {
			panic("bad func")
		})
		assert.ErrorContains(t, err, "bad func")
	})

	t.Run("save as repartitions", func(t *testing.T) {
		copied, err := src.SaveAs(ctx, "other", "copy", 5)
		require.NoError(t, err)
		assert.Equal(t, 5, copied.Partitions())
		assert.Equal(t, "other", copied.Namespace())
		assert.Equal(t, collectAll(t, src), collectAll(t, copied))

		same, err := src.SaveAs(ctx, "other", "copy2", 0)
		require.NoError(t, err)
		assert.Equal(t, 2, same.Partitions())

		_, err = src.SaveAs(ctx, "other", "copy", 0)
		assert.ErrorIs(t, err, ErrTableExists)
	})
}

func TestDestroy(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	tbl := openTable(t, e, "doomed", 2)
	_, _, err := tbl.Put(ctx, "k", []byte("v"))
	require.NoError(t, err)

	require.NoError(t, tbl.Destroy(ctx))
	require.NoError(t, tbl.Destroy(ctx))
	assert.True(t, tbl.Destroyed())

	n, err := tbl.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	_, ok, err := tbl.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, collectAll(t, tbl))

	_, _, err = tbl.Put(ctx, "k", nil)
	assert.ErrorIs(t, err, ErrTableDestroyed)
	_, err = tbl.SaveAs(ctx, "test", "copy", 0)
	assert.ErrorIs(t, err, ErrTableDestroyed)

	_, err = e.Registry().Lookup("test", "doomed")
	assert.ErrorIs(t, err, registry.ErrNotRegistered)
}

func TestHandlesShareState(t *testing.T) {
	ctx := context.Background()

	t.Run("destroy is seen by every handle", func(t *testing.T) {
		e := newTestEngine(t)
		a := openTable(t, e, "shared", 2)
		b := openTable(t, e, "shared", 0)
		_, _, err := a.Put(ctx, "k", []byte("v"))
		require.NoError(t, err)

		require.NoError(t, b.Destroy(ctx))
		assert.True(t, a.Destroyed())
		_, _, err = a.Put(ctx, "k", []byte("w"))
		assert.ErrorIs(t, err, ErrTableDestroyed)

		fresh := openTable(t, e, "shared", 2)
		assert.False(t, fresh.Destroyed(), "recreated table starts live")
		assert.Empty(t, collectAll(t, fresh))
	})

	t.Run("operation counters are shared", func(t *testing.T) {
		e := newTestEngine(t)
		a := openTable(t, e, "counted", 2)
		_, _, err := a.Put(ctx, "k", []byte("v"))
		require.NoError(t, err)

		b := openTable(t, e, "counted", 0)
		stats, err := b.Stats(ctx)
		require.NoError(t, err)
		var puts uint64
		for _, s := range stats.Shards {
			puts += s.Ops.Puts
		}
		assert.Equal(t, uint64(1), puts)
	})

	t.Run("put if absent across handles", func(t *testing.T) {
		e := newTestEngine(t)
		openTable(t, e, "race", 4)

		const writers = 16
		results := make([]string, writers)
		var wg sync.WaitGroup
		for w := 0; w < writers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				h, err := e.Open(ctx, OpenOptions{Name: "race", Namespace: "test"})
				if err != nil {
					t.Errorf("open: %v", err)
					return
				}
				v, err := h.PutIfAbsent(ctx, "k", []byte(fmt.Sprint(w)))
				if err != nil {
					t.Errorf("putIfAbsent: %v", err)
					return
				}
				results[w] = string(v)
			}(w)
		}
		wg.Wait()

		stored := collectAll(t, openTable(t, e, "race", 0))["k"]
		for w, got := range results {
			assert.Equal(t, stored, got, "writer %d", w)
		}
	})
}

func TestReplace(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	tbl := openTable(t, e, "swap", 3)
	require.NoError(t, tbl.PutPairs(ctx, []kv.Pair{{Key: "old", Value: []byte("1")}, {Key: "keep", Value: []byte("x")}}))

	src := kv.FromSlice([]kv.Pair{{Key: "keep", Value: []byte("y")}, {Key: "new", Value: []byte("2")}})
	require.NoError(t, tbl.Replace(ctx, src, 1))
	assert.Equal(t, map[string]string{"keep": "y", "new": "2"}, collectAll(t, tbl))

	require.NoError(t, tbl.Destroy(ctx))
	assert.ErrorIs(t, tbl.Replace(ctx, kv.Empty(), 1), ErrTableDestroyed)
}

func TestBoltBackedTable(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	open := func() (*storage.BoltBackend, *Engine) {
		backend, err := storage.OpenBolt(dir)
		require.NoError(t, err)
		catalog, err := backend.Open("_catalog")
		require.NoError(t, err)
		reg, err := registry.New(catalog, 3)
		require.NoError(t, err)
		return backend, NewEngine(backend, reg)
	}

	backend, e := open()
	tbl := openTable(t, e, "durable", 0)
	require.NoError(t, tbl.PutPairs(ctx, []kv.Pair{{Key: "x", Value: []byte("1")}, {Key: "y", Value: []byte("2")}}))
	require.NoError(t, backend.Close())

	backend, e = open()
	defer backend.Close()
	again, err := e.Open(ctx, OpenOptions{Name: "durable", Namespace: "test"})
	require.NoError(t, err)
	assert.Equal(t, 3, again.Partitions())
	assert.Equal(t, map[string]string{"x": "1", "y": "2"}, collectAll(t, again))

	stats, err := again.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Keys)
	assert.Len(t, stats.Shards, 3)

	names := make([]string, 0)
	for _, id := range e.Registry().List("test") {
		names = append(names, id.Name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{"durable"}, names)
}
