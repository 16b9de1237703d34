package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/dtable/internal/storage"
)

func TestIdentityValidate(t *testing.T) {
	tests := []struct {
		name    string
		id      Identity
		wantErr bool
	}{
		{name: "valid", id: Identity{Namespace: "ns", Name: "t", Partitions: 1}},
		{name: "missing namespace", id: Identity{Name: "t", Partitions: 1}, wantErr: true},
		{name: "missing name", id: Identity{Namespace: "ns", Partitions: 1}, wantErr: true},
		{name: "zero partitions", id: Identity{Namespace: "ns", Name: "t"}, wantErr: true},
		{name: "negative partitions", id: Identity{Namespace: "ns", Name: "t", Partitions: -2}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.id.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidIdentity)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRegistry(t *testing.T) {
	t.Run("rejects bad default", func(t *testing.T) {
		_, err := New(nil, 0)
		assert.Error(t, err)
	})

	t.Run("register lookup remove", func(t *testing.T) {
		r, err := New(nil, 4)
		require.NoError(t, err)
		assert.Equal(t, 4, r.DefaultPartitions())

		id := Identity{Namespace: "ns", Name: "t", Partitions: 3}
		require.NoError(t, r.Register(id))

		got, err := r.Lookup("ns", "t")
		require.NoError(t, err)
		assert.Equal(t, id, got)

		require.NoError(t, r.Remove("ns", "t"))
		_, err = r.Lookup("ns", "t")
		assert.ErrorIs(t, err, ErrNotRegistered)

		assert.NoError(t, r.Remove("ns", "t"))
	})

	t.Run("register rejects invalid identity", func(t *testing.T) {
		r, err := New(nil, 1)
		require.NoError(t, err)
		assert.ErrorIs(t, r.Register(Identity{Namespace: "ns", Name: "t"}), ErrInvalidIdentity)
		assert.Empty(t, r.List(""))
	})

	t.Run("list is sorted and filtered", func(t *testing.T) {
		r, err := New(nil, 1)
		require.NoError(t, err)
		for _, id := range []Identity{
			{Namespace: "b", Name: "z", Partitions: 1},
			{Namespace: "a", Name: "y", Partitions: 1},
			{Namespace: "b", Name: "x", Partitions: 2},
		} {
			require.NoError(t, r.Register(id))
		}

		names := func(ids []Identity) []string {
			out := make([]string, len(ids))
			for i, id := range ids {
				out[i] = id.Namespace + "/" + id.Name
			}
			return out
		}
		assert.Equal(t, []string{"a/y", "b/x", "b/z"}, names(r.List("")))
		assert.Equal(t, []string{"b/x", "b/z"}, names(r.List("b")))
		assert.Empty(t, r.List("c"))
	})

	t.Run("names are unique", func(t *testing.T) {
		r, err := New(nil, 1)
		require.NoError(t, err)
		seen := make(map[string]bool)
		for i := 0; i < 100; i++ {
			name := r.NewName()
			assert.False(t, seen[name], "duplicate name %s", name)
			seen[name] = true
		}
	})

	t.Run("concurrent registration", func(t *testing.T) {
		r, err := New(nil, 1)
		require.NoError(t, err)
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_ = r.Register(Identity{Namespace: "ns", Name: fmt.Sprint(i), Partitions: 1})
			}(i)
		}
		wg.Wait()
		assert.Len(t, r.List("ns"), 20)
	})
}

func TestRegistryCatalog(t *testing.T) {
	backend, err := storage.OpenBolt(t.TempDir())
	require.NoError(t, err)
	defer backend.Close()

	catalog, err := backend.Open("catalog")
	require.NoError(t, err)

	r, err := New(catalog, 2)
	require.NoError(t, err)
	require.NoError(t, r.Register(Identity{Namespace: "ns", Name: "kept", Partitions: 5}))
	require.NoError(t, r.Register(Identity{Namespace: "ns", Name: "gone", Partitions: 1}))
	require.NoError(t, r.Remove("ns", "gone"))

	reloaded, err := New(catalog, 2)
	require.NoError(t, err)
	got, err := reloaded.Lookup("ns", "kept")
	require.NoError(t, err)
	assert.Equal(t, 5, got.Partitions)

	_, err = reloaded.Lookup("ns", "gone")
	assert.ErrorIs(t, err, ErrNotRegistered)
}
