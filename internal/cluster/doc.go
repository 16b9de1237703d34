// Package cluster is the Go client for dtable table nodes.
//
// # Overview
//
// A table node (cmd/tablenode) serves one session's stored tables over
// HTTP/JSON. This package wraps that API so other processes can reach the
// same tables by (namespace, name) without linking the store themselves.
//
//	┌──────────────┐   HTTP/JSON   ┌─────────────────────────┐
//	│  Client      │ ────────────► │ tablenode               │
//	│  (NodeInfo)  │               │   api.Server            │
//	└──────────────┘               │   session.Session       │
//	                               │   store / engine        │
//	                               └─────────────────────────┘
//
// # Core Components
//
// NodeInfo: identifies a node by ID and base URL.
//
// Client: one method per API route. Key operations (Get, Put, PutIfAbsent,
// Delete), table operations (Open, Destroy, Count, Collect, Stats) and
// session operations (List, Parallelize, Cleanup).
//
// PostJSON / GetJSON: the low-level helpers the client is built on, usable
// against any JSON endpoint.
//
// # Errors
//
// A reply with status 300 or above becomes a *StatusError carrying the code
// and the server's error text. The node maps table errors to codes:
//   - 404: table not registered (or key missing on GET)
//   - 409: table exists and ErrorIfExist was set
//   - 400: any other configuration error
//   - 422: serialization boundary error
//   - 500: infrastructure error
//
// Client.Get turns a missing key into ok == false; every other non-2xx
// reply is returned as an error.
//
// # Example
//
//	c := cluster.NewClient(cluster.NodeInfo{ID: "n1", Addr: "http://localhost:8081"}, nil)
//	if _, err := c.Open(ctx, "app", "users", api.OpenRequest{Partitions: 8}); err != nil {
//		return err
//	}
//	if _, _, err := c.Put(ctx, "app", "users", "alice", []byte("30")); err != nil {
//		return err
//	}
//	n, err := c.Count(ctx, "app", "users")
//
// # Limitations
//
// Transformations take Go functions and stay in-process; run them through
// a session and read the saved result over HTTP. Keys are sent as path
// segments, so keys containing "/" are not supported by the client.
package cluster
