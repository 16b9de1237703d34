package kv

import (
	"errors"
	"io"
)

// ChunkSource yields the next batch of records. It returns io.EOF once the
// sequence is exhausted; any other error ends iteration and is reported by
// Iterator.Err.
type ChunkSource func() ([]Pair, error)

// Iterator is a lazy, one-shot sequence of records. Chunks are pulled from
// the source only when the previous chunk has been consumed, so a caller
// draining a large table holds at most one chunk at a time. Once Next
// returns false the iterator stays exhausted; it cannot be restarted.
type Iterator struct {
	source ChunkSource
	buf    []Pair
	cur    Pair
	err    error
	done   bool
}

// NewIterator wraps a chunk source.
func NewIterator(source ChunkSource) *Iterator {
	return &Iterator{source: source}
}

// FromSlice returns an iterator over an in-memory slice.
func FromSlice(pairs []Pair) *Iterator {
	served := false
	return NewIterator(func() ([]Pair, error) {
		if served {
			return nil, io.EOF
		}
		served = true
		return pairs, nil
	})
}

// Empty returns an exhausted iterator.
func Empty() *Iterator {
	return &Iterator{done: true}
}

// Next advances to the next record and reports whether one is available.
func (it *Iterator) Next() bool {
	if it.done {
		return false
	}
	for len(it.buf) == 0 {
		chunk, err := it.source()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				it.err = err
			}
			it.finish()
			return false
		}
		it.buf = chunk
	}
	it.cur = it.buf[0]
	it.buf = it.buf[1:]
	return true
}

// Pair returns the record Next moved to.
func (it *Iterator) Pair() Pair {
	return it.cur
}

// Err returns the error that ended iteration, if any.
func (it *Iterator) Err() error {
	return it.err
}

// Close releases buffered records. Further calls to Next return false.
func (it *Iterator) Close() error {
	it.finish()
	return nil
}

// Drain consumes the rest of the sequence into a slice.
func (it *Iterator) Drain() ([]Pair, error) {
	var out []Pair
	for it.Next() {
		out = append(out, it.cur)
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Chunks regroups the remaining records into batches of at most size
// records, calling fn for each batch. It stops at the first error.
func (it *Iterator) Chunks(size int, fn func([]Pair) error) error {
	if size <= 0 {
		size = 1
	}
	batch := make([]Pair, 0, size)
	for it.Next() {
		batch = append(batch, it.cur)
		if len(batch) == size {
			if err := fn(batch); err != nil {
				return err
			}
			batch = make([]Pair, 0, size)
		}
	}
	if err := it.Err(); err != nil {
		return err
	}
	if len(batch) > 0 {
		return fn(batch)
	}
	return nil
}

// WrapErr returns an iterator over the rest of it whose terminal error,
// if any, is passed through wrap. it must not be used afterwards.
func (it *Iterator) WrapErr(wrap func(error) error) *Iterator {
	return NewIterator(func() ([]Pair, error) {
		if len(it.buf) > 0 {
			chunk := it.buf
			it.buf = nil
			return chunk, nil
		}
		if it.done {
			return nil, io.EOF
		}
		chunk, err := it.source()
		if err != nil {
			it.finish()
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, wrap(err)
		}
		return chunk, nil
	})
}

func (it *Iterator) finish() {
	it.done = true
	it.buf = nil
	it.source = nil
	it.cur = Pair{}
}
