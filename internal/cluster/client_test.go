package cluster

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/dtable/internal/api"
	"github.com/dreamware/dtable/internal/config"
	"github.com/dreamware/dtable/internal/kv"
	"github.com/dreamware/dtable/internal/session"
)

func newNode(t *testing.T) *Client {
	t.Helper()
	cfg := config.Default()
	cfg.JobID = "client-test"
	sess, err := session.New(cfg, nil)
	require.NoError(t, err)
	srv := httptest.NewServer(api.NewServer(sess, "", nil).Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = sess.Close()
	})
	return NewClient(NodeInfo{ID: "node-1", Addr: srv.URL}, srv.Client())
}

func TestClientKeyOperations(t *testing.T) {
	ctx := context.Background()
	c := newNode(t)

	require.NoError(t, c.Health(ctx))

	d, err := c.Open(ctx, "app", "users", api.OpenRequest{Partitions: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, d.Partitions)

	prev, existed, err := c.Put(ctx, "app", "users", "alice", []byte("30"))
	require.NoError(t, err)
	assert.False(t, existed)
	assert.Nil(t, prev)

	prev, existed, err = c.Put(ctx, "app", "users", "alice", []byte("31"))
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, []byte("30"), prev)

	stored, err := c.PutIfAbsent(ctx, "app", "users", "bob", []byte("25"))
	require.NoError(t, err)
	assert.Equal(t, []byte("25"), stored)

	v, ok, err := c.Get(ctx, "app", "users", "alice")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("31"), v)

	_, ok, err = c.Get(ctx, "app", "users", "nobody")
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := c.Count(ctx, "app", "users")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	pairs, err := c.Collect(ctx, "app", "users", 0, false)
	require.NoError(t, err)
	assert.ElementsMatch(t, []kv.Pair{
		{Key: "alice", Value: []byte("31")},
		{Key: "bob", Value: []byte("25")},
	}, pairs)

	removed, existed, err := c.Delete(ctx, "app", "users", "bob")
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, []byte("25"), removed)

	stats, err := c.Stats(ctx, "app", "users")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Keys)
	assert.Len(t, stats.Shards, 3)
}

func TestClientTableOperations(t *testing.T) {
	ctx := context.Background()
	c := newNode(t)

	d, err := c.Parallelize(ctx, api.ParallelizeRequest{
		Namespace: "work",
		Name:      "tmp_1",
		Pairs:     []kv.Pair{{Key: "a", Value: []byte("1")}},
	})
	require.NoError(t, err)
	assert.True(t, d.Stored)

	_, err = c.Open(ctx, "work", "tmp_2", api.OpenRequest{})
	require.NoError(t, err)
	_, err = c.Open(ctx, "work", "keep", api.OpenRequest{})
	require.NoError(t, err)

	ids, err := c.List(ctx, "work")
	require.NoError(t, err)
	assert.Len(t, ids, 3)

	n, err := c.Cleanup(ctx, "work", "tmp_*")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, c.Destroy(ctx, "work", "keep"))

	_, err = c.Count(ctx, "work", "keep")
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.Code)

	_, err = c.Open(ctx, "work", "missing", api.OpenRequest{NoCreate: true})
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.Code)
	assert.Contains(t, se.Message, "not found")
}
