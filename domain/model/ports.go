package model

import (
	"context"
	"sort"
)

// Filter is a conjunction of column = value conditions. An empty Filter matches everything.
type Filter map[string]Value

// Columns returns the filtered columns sorted by name
func (f Filter) Columns() []string {
	cols := make([]string, 0, len(f))
	for c := range f {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

// Matches reports whether row satisfies every condition
func (f Filter) Matches(row Row) bool {
	for c, want := range f {
		got, ok := row.Get(c)
		if !ok || !got.Equal(want) {
			return false
		}
	}
	return true
}

// RecordWriter persists rows
type RecordWriter interface {
	// Create inserts row
	Create(ctx context.Context, row Row) error
	// Upsert inserts row or updates the record matching row on keys
	Upsert(ctx context.Context, row Row, keys []string) error
}

// RecordSink is the destination of an import
type RecordSink interface {
	RecordWriter
	// Count returns the number of records matching filter
	Count(ctx context.Context, filter Filter) (int64, error)
}

// SinkTx is a transaction scope opened on a sink
type SinkTx interface {
	RecordWriter
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// TxBeginner is implemented by sinks that support transactions
type TxBeginner interface {
	Begin(ctx context.Context) (SinkTx, error)
}

// RecordSource is the origin of an export
type RecordSource interface {
	// FindPage returns at most limit records matching filter, skipping offset records
	FindPage(ctx context.Context, filter Filter, limit, offset int) ([]Row, error)
	// Count returns the number of records matching filter
	Count(ctx context.Context, filter Filter) (int64, error)
}
