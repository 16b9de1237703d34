package store

import "errors"

var (
	// ErrTableExists is returned by Open with ErrorIfExist when the table is registered
	ErrTableExists = errors.New("table already exists")

	// ErrTableNotFound is returned by Open without CreateIfMissing for an unknown table
	ErrTableNotFound = errors.New("table not found")

	// ErrTableDestroyed is returned by writes and transforms on a destroyed table
	ErrTableDestroyed = errors.New("table destroyed")
)
