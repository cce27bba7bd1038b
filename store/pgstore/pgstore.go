// Package pgstore persists rows in a PostgreSQL table through a pgx connection pool.
package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nao1215/rowflow/domain/model"
	"github.com/nao1215/rowflow/store/internal/sqlgen"
)

// Querier is the subset of *pgxpool.Pool and pgx.Tx used by the store
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store reads and writes one table
type Store struct {
	pool  *pgxpool.Pool
	q     Querier
	table string
	owned bool
	// order lists the columns pages are sorted by. Without it pages follow ctid,
	// which changes when rows are updated.
	order []string
}

// New returns a store over table using pool. The caller keeps ownership of pool.
func New(pool *pgxpool.Pool, table string) (*Store, error) {
	if pool == nil {
		return nil, model.NewConfigError("Pool", "connection pool is nil")
	}
	if table == "" {
		return nil, model.NewConfigError("Table", "table name is empty")
	}
	return &Store{pool: pool, q: pool, table: table}, nil
}

// Open connects to the database at connString. Close releases the pool.
func Open(ctx context.Context, connString, table string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, model.NewConfigError("ConnString", "%v", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s, err := New(pool, table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// Close releases the pool when the store opened it
func (s *Store) Close() {
	if s.owned {
		s.pool.Close()
	}
}

// OrderBy sets the columns export pages are sorted by. They should identify a record so that
// paging neither repeats nor skips rows. EnsureTable uses its unique keys unless OrderBy was called.
func (s *Store) OrderBy(columns ...string) {
	s.order = append([]string(nil), columns...)
}

// EnsureTable creates the table from an inferred schema unless it already exists
func (s *Store) EnsureTable(ctx context.Context, schema *model.InferredSchema, uniqueKeys []string) error {
	if schema == nil {
		return model.NewConfigError("Schema", "schema is nil")
	}
	query, err := sqlgen.Postgres.CreateTable(s.table, schema.Fields, uniqueKeys)
	if err != nil {
		return err
	}
	if _, err := s.q.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create table %s: %w", s.table, err)
	}
	if len(s.order) == 0 && len(uniqueKeys) > 0 {
		s.OrderBy(uniqueKeys...)
	}
	return nil
}

// Create inserts row
func (s *Store) Create(ctx context.Context, row model.Row) error {
	return create(ctx, s.q, s.table, row)
}

// Upsert inserts row or updates the record that matches it on keys
func (s *Store) Upsert(ctx context.Context, row model.Row, keys []string) error {
	return upsert(ctx, s.q, s.table, row, keys)
}

// Count returns the number of records matching filter
func (s *Store) Count(ctx context.Context, filter model.Filter) (int64, error) {
	query, args := sqlgen.Postgres.Count(s.table, filter)
	var n int64
	if err := s.q.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

// FindPage returns at most limit records matching filter, skipping offset
func (s *Store) FindPage(ctx context.Context, filter model.Filter, limit, offset int) ([]model.Row, error) {
	query, args := sqlgen.Postgres.SelectPage(s.table, filter, s.order, limit, offset)
	result, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer result.Close()

	descs := result.FieldDescriptions()
	columns := make([]string, len(descs))
	for i, d := range descs {
		columns[i] = d.Name
	}

	var rows []model.Row
	for result.Next() {
		values, err := result.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read record: %w", err)
		}
		for i, v := range values {
			values[i] = normalize(v)
		}
		rows = append(rows, sqlgen.BuildRow(columns, values))
	}
	return rows, result.Err()
}

// normalize converts pgtype values that sqlgen.FromDB does not know
func normalize(v any) any {
	switch n := v.(type) {
	case pgtype.Numeric:
		f, err := n.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case [16]byte:
		u := pgtype.UUID{Bytes: n, Valid: true}
		val, err := u.Value()
		if err != nil {
			return nil
		}
		return val
	default:
		return v
	}
}

// Begin opens a transaction
func (s *Store) Begin(ctx context.Context) (model.SinkTx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &storeTx{tx: tx, table: s.table}, nil
}

// storeTx writes inside one transaction
type storeTx struct {
	tx    pgx.Tx
	table string
}

func (t *storeTx) Create(ctx context.Context, row model.Row) error {
	return t.savepoint(ctx, func(q Querier) error {
		return create(ctx, q, t.table, row)
	})
}

func (t *storeTx) Upsert(ctx context.Context, row model.Row, keys []string) error {
	return t.savepoint(ctx, func(q Querier) error {
		return upsert(ctx, q, t.table, row, keys)
	})
}

// savepoint runs write inside a savepoint. PostgreSQL aborts the whole transaction after a
// failed statement, so a rejected row is rolled back to the savepoint and the rows after it
// can still be written.
func (t *storeTx) savepoint(ctx context.Context, write func(Querier) error) error {
	sp, err := t.tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to create savepoint: %w", err)
	}
	if err := write(sp); err != nil {
		if rbErr := sp.Rollback(ctx); rbErr != nil {
			return errors.Join(err, fmt.Errorf("failed to roll back to savepoint: %w", rbErr))
		}
		return err
	}
	if err := sp.Commit(ctx); err != nil {
		return fmt.Errorf("failed to release savepoint: %w", err)
	}
	return nil
}

func (t *storeTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *storeTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

func create(ctx context.Context, q Querier, table string, row model.Row) error {
	query, args, err := sqlgen.Postgres.Insert(table, row)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, query, args...)
	return err
}

func upsert(ctx context.Context, q Querier, table string, row model.Row, keys []string) error {
	query, args, err := sqlgen.Postgres.Upsert(table, row, keys)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, query, args...)
	return err
}

var (
	_ model.RecordSink   = (*Store)(nil)
	_ model.RecordSource = (*Store)(nil)
	_ model.TxBeginner   = (*Store)(nil)
	_ Querier            = (*pgxpool.Pool)(nil)
	_ Querier            = (pgx.Tx)(nil)
)
