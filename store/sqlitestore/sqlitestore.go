// Package sqlitestore persists rows in a SQLite table through modernc.org/sqlite.
//
// A Store is both a record sink for imports and a record source for exports:
//
//	store, err := sqlitestore.Open(ctx, "file:data.db", "customers")
//	if err != nil {
//		return err
//	}
//	defer store.Close()
//
//	job, err := rowflow.Import(ctx, f, store, rowflow.NewImportOptions())
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/nao1215/rowflow/domain/model"
	"github.com/nao1215/rowflow/store/internal/sqlgen"
)

// DriverName is the database/sql driver used by Open
const DriverName = "sqlite"

// execer is implemented by *sql.DB and *sql.Tx
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Store reads and writes one table
type Store struct {
	db      *sql.DB
	table   string
	dialect sqlgen.Dialect
	owned   bool
}

// New returns a store over table in db. The caller keeps ownership of db.
func New(db *sql.DB, table string) (*Store, error) {
	if db == nil {
		return nil, model.NewConfigError("DB", "database handle is nil")
	}
	if table == "" {
		return nil, model.NewConfigError("Table", "table name is empty")
	}
	return &Store{db: db, table: table, dialect: sqlgen.SQLite}, nil
}

// Open opens dsn and returns a store over table. Close releases the database.
// An in-memory dsn is limited to one connection so that every statement sees the same data.
func Open(ctx context.Context, dsn, table string) (*Store, error) {
	db, err := sql.Open(DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if dsn == ":memory:" || dsn == "" {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close() // Ignore close error
		return nil, fmt.Errorf("failed to connect to sqlite database: %w", err)
	}

	s, err := New(db, table)
	if err != nil {
		_ = db.Close() // Ignore close error
		return nil, err
	}
	s.owned = true
	return s, nil
}

// DB returns the underlying database handle
func (s *Store) DB() *sql.DB {
	return s.db
}

// Table returns the table name
func (s *Store) Table() string {
	return s.table
}

// Close closes the database when the store opened it
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

// EnsureTable creates the table from an inferred schema unless it already exists.
// uniqueKeys become a UNIQUE constraint, which upserts on the same keys require.
func (s *Store) EnsureTable(ctx context.Context, schema *model.InferredSchema, uniqueKeys []string) error {
	if schema == nil {
		return model.NewConfigError("Schema", "schema is nil")
	}
	query, err := s.dialect.CreateTable(s.table, schema.Fields, uniqueKeys)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create table %s: %w", s.table, err)
	}
	return nil
}

// Factory returns a sink factory for rowflow.ImportFiles and rowflow.ImportFS that creates
// one table per file in db. Columns accept nulls because the schema is inferred from a
// sample. uniqueKeys become a UNIQUE constraint on the tables that have all of them.
func Factory(db *sql.DB, uniqueKeys ...string) func(context.Context, string, *model.InferredSchema) (model.RecordSink, error) {
	return func(ctx context.Context, table string, schema *model.InferredSchema) (model.RecordSink, error) {
		s, err := New(db, table)
		if err != nil {
			return nil, err
		}
		if schema == nil {
			return nil, model.NewConfigError("Schema", "schema is nil")
		}

		relaxed := *schema
		relaxed.Fields = make([]model.FieldSchema, len(schema.Fields))
		for i, f := range schema.Fields {
			f.Nullable = true
			relaxed.Fields[i] = f
		}

		var unique []string
		if hasColumns(schema, uniqueKeys) {
			unique = uniqueKeys
		}
		if err := s.EnsureTable(ctx, &relaxed, unique); err != nil {
			return nil, err
		}
		return s, nil
	}
}

func hasColumns(schema *model.InferredSchema, columns []string) bool {
	if len(columns) == 0 {
		return false
	}
	for _, c := range columns {
		if _, ok := schema.Field(c); !ok {
			return false
		}
	}
	return true
}

// Create inserts row
func (s *Store) Create(ctx context.Context, row model.Row) error {
	return create(ctx, s.db, s.dialect, s.table, row)
}

// Upsert inserts row or updates the record that matches it on keys
func (s *Store) Upsert(ctx context.Context, row model.Row, keys []string) error {
	return upsert(ctx, s.db, s.dialect, s.table, row, keys)
}

// Count returns the number of records matching filter
func (s *Store) Count(ctx context.Context, filter model.Filter) (int64, error) {
	query, args := s.dialect.Count(s.table, filter)
	var n int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

// FindPage returns at most limit records matching filter in insertion order, skipping offset
func (s *Store) FindPage(ctx context.Context, filter model.Filter, limit, offset int) (rows []model.Row, err error) {
	query, args := s.dialect.SelectPage(s.table, filter, nil, limit, offset)
	result, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer func() {
		if closeErr := result.Close(); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
	}()

	columns, err := result.Columns()
	if err != nil {
		return nil, err
	}
	for result.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := result.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		rows = append(rows, sqlgen.BuildRow(columns, values))
	}
	return rows, result.Err()
}

// Begin opens a transaction
func (s *Store) Begin(ctx context.Context) (model.SinkTx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &storeTx{tx: tx, table: s.table, dialect: s.dialect}, nil
}

// storeTx writes inside one transaction
type storeTx struct {
	tx      *sql.Tx
	table   string
	dialect sqlgen.Dialect
}

func (t *storeTx) Create(ctx context.Context, row model.Row) error {
	return create(ctx, t.tx, t.dialect, t.table, row)
}

func (t *storeTx) Upsert(ctx context.Context, row model.Row, keys []string) error {
	return upsert(ctx, t.tx, t.dialect, t.table, row, keys)
}

func (t *storeTx) Commit(context.Context) error {
	return t.tx.Commit()
}

func (t *storeTx) Rollback(context.Context) error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

func create(ctx context.Context, db execer, d sqlgen.Dialect, table string, row model.Row) error {
	query, args, err := d.Insert(table, row)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, query, args...)
	return err
}

func upsert(ctx context.Context, db execer, d sqlgen.Dialect, table string, row model.Row, keys []string) error {
	query, args, err := d.Upsert(table, row, keys)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, query, args...)
	return err
}

var (
	_ model.RecordSink   = (*Store)(nil)
	_ model.RecordSource = (*Store)(nil)
	_ model.TxBeginner   = (*Store)(nil)
)
