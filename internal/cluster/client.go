package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/dreamware/dtable/internal/api"
	"github.com/dreamware/dtable/internal/kv"
	"github.com/dreamware/dtable/internal/registry"
	"github.com/dreamware/dtable/internal/store"
	"github.com/dreamware/dtable/internal/table"
)

// Client calls the table API of one node.
type Client struct {
	Node NodeInfo
	http *http.Client
}

// NewClient returns a client for node. A nil hc uses a client with a five
// second timeout.
func NewClient(node NodeInfo, hc *http.Client) *Client {
	if hc == nil {
		hc = httpClient
	}
	return &Client{Node: node, http: hc}
}

func (c *Client) tableURL(namespace, name string, rest ...string) string {
	u := c.Node.Addr + "/tables/" + url.PathEscape(namespace) + "/" + url.PathEscape(name)
	for _, r := range rest {
		u += "/" + r
	}
	return u
}

func (c *Client) keyURL(namespace, name, key string) string {
	return c.tableURL(namespace, name, "keys", url.PathEscape(key))
}

func (c *Client) getJSON(ctx context.Context, u string, out any) error {
	return do(ctx, c.http, http.MethodGet, u, "", nil, out)
}

func (c *Client) sendJSON(ctx context.Context, method, u string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	return do(ctx, c.http, method, u, "application/json", &buf, out)
}

// Health reports whether the node answers its health check.
func (c *Client) Health(ctx context.Context) error {
	var r api.Response
	if err := c.getJSON(ctx, c.Node.Addr+"/health", &r); err != nil {
		return err
	}
	if r.Status != api.StatusOK {
		return errors.New("unexpected health status " + string(r.Status))
	}
	return nil
}

// List returns the tables registered on the node; "" lists all namespaces.
func (c *Client) List(ctx context.Context, namespace string) ([]registry.Identity, error) {
	u := c.Node.Addr + "/tables"
	if namespace != "" {
		u += "?namespace=" + url.QueryEscape(namespace)
	}
	var r api.Response
	if err := c.getJSON(ctx, u, &r); err != nil {
		return nil, err
	}
	return r.Tables, nil
}

// Open opens or creates a table and returns its descriptor.
func (c *Client) Open(ctx context.Context, namespace, name string, req api.OpenRequest) (table.Descriptor, error) {
	var r api.Response
	if err := c.sendJSON(ctx, http.MethodPost, c.tableURL(namespace, name), req, &r); err != nil {
		return table.Descriptor{}, err
	}
	if r.Table == nil {
		return table.Descriptor{}, errors.New("open: response without table")
	}
	return *r.Table, nil
}

// Destroy destroys a table.
func (c *Client) Destroy(ctx context.Context, namespace, name string) error {
	return c.sendJSON(ctx, http.MethodDelete, c.tableURL(namespace, name), nil, nil)
}

// Count returns the number of records in a table.
func (c *Client) Count(ctx context.Context, namespace, name string) (int, error) {
	var r api.Response
	if err := c.getJSON(ctx, c.tableURL(namespace, name, "count"), &r); err != nil {
		return 0, err
	}
	return r.Count, nil
}

// Collect returns up to limit records, or all of them when limit is 0.
func (c *Client) Collect(ctx context.Context, namespace, name string, limit int, keysOnly bool) ([]kv.Pair, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if keysOnly {
		q.Set("keys_only", "true")
	}
	u := c.tableURL(namespace, name, "collect")
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var r api.Response
	if err := c.getJSON(ctx, u, &r); err != nil {
		return nil, err
	}
	return r.Pairs, nil
}

// Stats returns the store statistics of a table.
func (c *Client) Stats(ctx context.Context, namespace, name string) (store.TableStats, error) {
	var r api.Response
	if err := c.getJSON(ctx, c.tableURL(namespace, name, "stats"), &r); err != nil {
		return store.TableStats{}, err
	}
	if r.Stats == nil {
		return store.TableStats{}, errors.New("stats: response without stats")
	}
	return *r.Stats, nil
}

// Get returns the value under key. A missing key is reported with
// ok == false, not an error.
func (c *Client) Get(ctx context.Context, namespace, name, key string) ([]byte, bool, error) {
	var r api.Response
	err := c.getJSON(ctx, c.keyURL(namespace, name, key), &r)
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound && se.Message == "Key not found" {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return r.Value, true, nil
}

// Put stores value under key and returns the previous value, if any.
func (c *Client) Put(ctx context.Context, namespace, name, key string, value []byte) ([]byte, bool, error) {
	var r api.Response
	err := do(ctx, c.http, http.MethodPut, c.keyURL(namespace, name, key),
		"application/octet-stream", bytes.NewReader(value), &r)
	if err != nil {
		return nil, false, err
	}
	return r.Value, r.Existed, nil
}

// PutIfAbsent stores value unless key exists and returns the value now
// stored under key.
func (c *Client) PutIfAbsent(ctx context.Context, namespace, name, key string, value []byte) ([]byte, error) {
	var r api.Response
	err := do(ctx, c.http, http.MethodPut, c.keyURL(namespace, name, key)+"?if_absent=true",
		"application/octet-stream", bytes.NewReader(value), &r)
	if err != nil {
		return nil, err
	}
	return r.Value, nil
}

// Delete removes key and returns the removed value, if any.
func (c *Client) Delete(ctx context.Context, namespace, name, key string) ([]byte, bool, error) {
	var r api.Response
	if err := c.sendJSON(ctx, http.MethodDelete, c.keyURL(namespace, name, key), nil, &r); err != nil {
		return nil, false, err
	}
	return r.Value, r.Existed, nil
}

// Parallelize creates a stored table from pairs.
func (c *Client) Parallelize(ctx context.Context, req api.ParallelizeRequest) (table.Descriptor, error) {
	var r api.Response
	if err := c.sendJSON(ctx, http.MethodPost, c.Node.Addr+"/parallelize", req, &r); err != nil {
		return table.Descriptor{}, err
	}
	if r.Table == nil {
		return table.Descriptor{}, errors.New("parallelize: response without table")
	}
	return *r.Table, nil
}

// Cleanup destroys the tables of namespace matching pattern and returns
// how many were destroyed.
func (c *Client) Cleanup(ctx context.Context, namespace, pattern string) (int, error) {
	var r api.Response
	err := c.sendJSON(ctx, http.MethodPost, c.Node.Addr+"/cleanup",
		api.CleanupRequest{Namespace: namespace, Pattern: pattern}, &r)
	return r.Count, err
}
