package table

import (
	"context"
	"log/slog"
	"time"

	"github.com/dreamware/dtable/internal/kv"
)

// Logged wraps t so that every operation logs its elapsed time at debug
// level. Tables returned by transformations are wrapped as well.
func Logged(t Table, logger *slog.Logger) Table {
	if logger == nil {
		logger = slog.Default()
	}
	if lt, ok := t.(*LoggedTable); ok {
		t = lt.Table
	}
	return &LoggedTable{Table: t, logger: logger}
}

// LoggedTable is the Table returned by Logged.
type LoggedTable struct {
	Table
	logger *slog.Logger
}

// Unwrap returns the wrapped table.
func (t *LoggedTable) Unwrap() Table { return t.Table }

func (t *LoggedTable) MarshalJSON() ([]byte, error) { return marshalDescriptor(t) }

func (t *LoggedTable) elapsed(ctx context.Context, op string, start time.Time, err error) {
	attrs := []any{
		"op", op,
		"namespace", t.Namespace(),
		"name", t.Name(),
		"elapsed", time.Since(start),
	}
	if err != nil {
		attrs = append(attrs, "error", err)
	}
	t.logger.DebugContext(ctx, "table op", attrs...)
}

func (t *LoggedTable) wrap(out Table, err error) (Table, error) {
	if err != nil {
		return nil, err
	}
	return &LoggedTable{Table: out, logger: t.logger}, nil
}

func (t *LoggedTable) Get(ctx context.Context, key string) (v []byte, ok bool, err error) {
	defer func(start time.Time) { t.elapsed(ctx, "get", start, err) }(time.Now())
	return t.Table.Get(ctx, key)
}

func (t *LoggedTable) Put(ctx context.Context, key string, value []byte) (prev []byte, existed bool, err error) {
	defer func(start time.Time) { t.elapsed(ctx, "put", start, err) }(time.Now())
	return t.Table.Put(ctx, key, value)
}

func (t *LoggedTable) PutIfAbsent(ctx context.Context, key string, value []byte) (stored []byte, err error) {
	defer func(start time.Time) { t.elapsed(ctx, "putIfAbsent", start, err) }(time.Now())
	return t.Table.PutIfAbsent(ctx, key, value)
}

func (t *LoggedTable) PutAll(ctx context.Context, src *kv.Iterator, chunkSize int) (err error) {
	defer func(start time.Time) { t.elapsed(ctx, "putAll", start, err) }(time.Now())
	return t.Table.PutAll(ctx, src, chunkSize)
}

func (t *LoggedTable) Delete(ctx context.Context, key string) (removed []byte, existed bool, err error) {
	defer func(start time.Time) { t.elapsed(ctx, "delete", start, err) }(time.Now())
	return t.Table.Delete(ctx, key)
}

func (t *LoggedTable) Count(ctx context.Context) (n int, err error) {
	defer func(start time.Time) { t.elapsed(ctx, "count", start, err) }(time.Now())
	return t.Table.Count(ctx)
}

func (t *LoggedTable) Collect(ctx context.Context, minChunkSize int) (it *kv.Iterator, err error) {
	defer func(start time.Time) { t.elapsed(ctx, "collect", start, err) }(time.Now())
	return t.Table.Collect(ctx, minChunkSize)
}

func (t *LoggedTable) Take(ctx context.Context, n int, keysOnly bool) (pairs []kv.Pair, err error) {
	defer func(start time.Time) { t.elapsed(ctx, "take", start, err) }(time.Now())
	return t.Table.Take(ctx, n, keysOnly)
}

func (t *LoggedTable) First(ctx context.Context, keysOnly bool) (p kv.Pair, ok bool, err error) {
	defer func(start time.Time) { t.elapsed(ctx, "first", start, err) }(time.Now())
	return t.Table.First(ctx, keysOnly)
}

func (t *LoggedTable) Destroy(ctx context.Context) (err error) {
	defer func(start time.Time) { t.elapsed(ctx, "destroy", start, err) }(time.Now())
	return t.Table.Destroy(ctx)
}

func (t *LoggedTable) SaveAs(ctx context.Context, name, namespace string, partitions int) (out Table, err error) {
	defer func(start time.Time) { t.elapsed(ctx, "saveAs", start, err) }(time.Now())
	return t.wrap(t.Table.SaveAs(ctx, name, namespace, partitions))
}

func (t *LoggedTable) Map(ctx context.Context, f kv.MapFunc) (out Table, err error) {
	defer func(start time.Time) { t.elapsed(ctx, "map", start, err) }(time.Now())
	return t.wrap(t.Table.Map(ctx, f))
}

func (t *LoggedTable) MapValues(ctx context.Context, f kv.ValueFunc) (out Table, err error) {
	defer func(start time.Time) { t.elapsed(ctx, "mapValues", start, err) }(time.Now())
	return t.wrap(t.Table.MapValues(ctx, f))
}

func (t *LoggedTable) MapPartitions(ctx context.Context, f kv.PartitionFunc) (out Table, err error) {
	defer func(start time.Time) { t.elapsed(ctx, "mapPartitions", start, err) }(time.Now())
	return t.wrap(t.Table.MapPartitions(ctx, f))
}

func (t *LoggedTable) Filter(ctx context.Context, f kv.FilterFunc) (out Table, err error) {
	defer func(start time.Time) { t.elapsed(ctx, "filter", start, err) }(time.Now())
	return t.wrap(t.Table.Filter(ctx, f))
}

func (t *LoggedTable) FlatMap(ctx context.Context, f kv.FlatMapFunc) (out Table, err error) {
	defer func(start time.Time) { t.elapsed(ctx, "flatMap", start, err) }(time.Now())
	return t.wrap(t.Table.FlatMap(ctx, f))
}

func (t *LoggedTable) Glom(ctx context.Context) (out Table, err error) {
	defer func(start time.Time) { t.elapsed(ctx, "glom", start, err) }(time.Now())
	return t.wrap(t.Table.Glom(ctx))
}

func (t *LoggedTable) Sample(ctx context.Context, fraction float64, seed *int64) (out Table, err error) {
	defer func(start time.Time) { t.elapsed(ctx, "sample", start, err) }(time.Now())
	return t.wrap(t.Table.Sample(ctx, fraction, seed))
}

func (t *LoggedTable) Reduce(ctx context.Context, f kv.ReduceFunc) (v []byte, ok bool, err error) {
	defer func(start time.Time) { t.elapsed(ctx, "reduce", start, err) }(time.Now())
	return t.Table.Reduce(ctx, f)
}

func (t *LoggedTable) Join(ctx context.Context, other Table, f kv.ReduceFunc) (out Table, err error) {
	defer func(start time.Time) { t.elapsed(ctx, "join", start, err) }(time.Now())
	return t.wrap(t.Table.Join(ctx, other, f))
}

func (t *LoggedTable) Union(ctx context.Context, other Table, f kv.ReduceFunc) (out Table, err error) {
	defer func(start time.Time) { t.elapsed(ctx, "union", start, err) }(time.Now())
	return t.wrap(t.Table.Union(ctx, other, f))
}

func (t *LoggedTable) SubtractByKey(ctx context.Context, other Table) (out Table, err error) {
	defer func(start time.Time) { t.elapsed(ctx, "subtractByKey", start, err) }(time.Now())
	return t.wrap(t.Table.SubtractByKey(ctx, other))
}
