package api

import (
	"github.com/dreamware/dtable/internal/kv"
	"github.com/dreamware/dtable/internal/registry"
	"github.com/dreamware/dtable/internal/store"
	"github.com/dreamware/dtable/internal/table"
)

type Status string

const (
	// StatusOK is used for health-check responses.
	StatusOK Status = "OK"

	// StatusSuccess indicates an operation completed successfully.
	StatusSuccess Status = "success"

	// StatusError indicates an operation failed.
	StatusError Status = "error"
)

// Response is the body of every API reply. Only the fields relevant to the
// route are set.
type Response struct {
	Status  Status              `json:"status,omitempty"`
	Error   string              `json:"error,omitempty"`
	Value   []byte              `json:"value,omitempty"`
	Existed bool                `json:"existed,omitempty"`
	Count   int                 `json:"count,omitempty"`
	Pairs   []kv.Pair           `json:"pairs,omitempty"`
	Table   *table.Descriptor   `json:"table,omitempty"`
	Tables  []registry.Identity `json:"tables,omitempty"`
	Stats   *store.TableStats   `json:"stats,omitempty"`
}

func NewOKResponse() Response {
	return Response{Status: StatusOK}
}

func NewSuccessResponse() Response {
	return Response{Status: StatusSuccess}
}

func NewValueResponse(value []byte, existed bool) Response {
	return Response{Status: StatusSuccess, Value: value, Existed: existed}
}

func NewCountResponse(n int) Response {
	return Response{Status: StatusSuccess, Count: n}
}

func NewPairsResponse(pairs []kv.Pair) Response {
	return Response{Status: StatusSuccess, Pairs: pairs, Count: len(pairs)}
}

func NewTableResponse(d table.Descriptor) Response {
	return Response{Status: StatusSuccess, Table: &d}
}

func NewErrorResponse(err string) Response {
	return Response{Status: StatusError, Error: err}
}

// OpenRequest is the body of POST /tables/{namespace}/{name}.
type OpenRequest struct {
	Partitions   int  `json:"partitions,omitempty"`
	NoCreate     bool `json:"no_create,omitempty"`
	ErrorIfExist bool `json:"error_if_exist,omitempty"`
}

// ParallelizeRequest is the body of POST /parallelize. Tables created over
// HTTP are always persisted, since an in-memory dataset would not outlive
// the request.
type ParallelizeRequest struct {
	Namespace  string    `json:"namespace,omitempty"`
	Name       string    `json:"name,omitempty"`
	Partitions int       `json:"partitions,omitempty"`
	Pairs      []kv.Pair `json:"pairs"`
}

// CleanupRequest is the body of POST /cleanup.
type CleanupRequest struct {
	Namespace string `json:"namespace"`
	Pattern   string `json:"pattern"`
}
