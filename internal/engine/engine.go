// Package engine is the in-memory processing engine. A Dataset is an
// immutable set of hash partitions; every operation runs one task per
// partition on a bounded worker group and returns a new Dataset.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dreamware/dtable/internal/kv"
)

// ErrTaskPanicked marks a partition task that panicked.
var ErrTaskPanicked = errors.New("task panicked")

// Stats counts the work an Engine has been asked to do.
type Stats struct {
	Distributes int64 `json:"distributes"`
	Jobs        int64 `json:"jobs"`
	Tasks       int64 `json:"tasks"`
}

// Engine schedules partition tasks.
type Engine struct {
	parallelism int
	logger      *slog.Logger

	distributes atomic.Int64
	jobs        atomic.Int64
	tasks       atomic.Int64
}

// New creates an engine running at most parallelism tasks at once.
// Zero or less uses GOMAXPROCS.
func New(parallelism int, logger *slog.Logger) *Engine {
	if parallelism <= 0 {
		parallelism = runtime.GOMAXPROCS(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{parallelism: parallelism, logger: logger}
}

// Parallelism returns the task limit.
func (e *Engine) Parallelism() int {
	return e.parallelism
}

// Stats returns a snapshot of the engine's counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Distributes: e.distributes.Load(),
		Jobs:        e.jobs.Load(),
		Tasks:       e.tasks.Load(),
	}
}

// Distribute builds a dataset from pairs, placing each record by
// kv.PartitionFor. Duplicate keys collapse to the last value.
func (e *Engine) Distribute(ctx context.Context, pairs []kv.Pair, partitions int) (*Dataset, error) {
	if partitions <= 0 {
		return nil, fmt.Errorf("distribute: partitions must be positive, got %d", partitions)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.distributes.Add(1)
	buckets := kv.Bucket(pairs, partitions)
	for i, b := range buckets {
		buckets[i] = kv.Dedupe(b)
	}
	return &Dataset{engine: e, parts: buckets}, nil
}

// Empty returns a dataset with no records.
func (e *Engine) Empty(partitions int) *Dataset {
	if partitions <= 0 {
		partitions = 1
	}
	return &Dataset{engine: e, parts: make([][]kv.Pair, partitions)}
}

// run executes fn for every partition index and waits for all of them.
// The first failure cancels the remaining tasks.
func (e *Engine) run(ctx context.Context, op string, n int, fn func(ctx context.Context, i int) error) error {
	e.jobs.Add(1)
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallelism)
	for i := 0; i < n; i++ {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("%s partition %d: %w: %v", op, i, ErrTaskPanicked, r)
				}
			}()
			if err := gctx.Err(); err != nil {
				return err
			}
			e.tasks.Add(1)
			return fn(gctx, i)
		})
	}
	if err := g.Wait(); err != nil {
		e.logger.Debug("engine job failed", "op", op, "partitions", n, "error", err)
		return err
	}
	e.logger.Debug("engine job done", "op", op, "partitions", n, "elapsed", time.Since(start))
	return nil
}
