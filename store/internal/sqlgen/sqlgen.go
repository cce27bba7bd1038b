// Package sqlgen builds the SQL statements shared by the SQL record stores.
package sqlgen

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/nao1215/rowflow/domain/model"
)

// ErrNoColumns is returned when a statement would have no columns
var ErrNoColumns = errors.New("rowflow: row has no columns")

// Dialect describes the differences between SQL engines
type Dialect struct {
	// Name of the engine
	Name string
	// Placeholder returns the bind parameter for the 1-based position i
	Placeholder func(i int) string
	// ColumnType returns the column type used for t
	ColumnType func(t model.FieldType) string
	// RowOrder is the expression pages are ordered by when no order columns are given.
	// It follows physical row position, which is only stable while rows are not updated.
	RowOrder string
	// DateAsText stores dates as text instead of native timestamps
	DateAsText bool
}

// SQLite is the dialect of modernc.org/sqlite
var SQLite = Dialect{
	Name:        "sqlite",
	Placeholder: func(int) string { return "?" },
	ColumnType:  model.FieldType.SQLType,
	RowOrder:    "rowid",
	DateAsText:  true,
}

// Postgres is the dialect of PostgreSQL
var Postgres = Dialect{
	Name:        "postgres",
	Placeholder: func(i int) string { return "$" + strconv.Itoa(i) },
	ColumnType: func(t model.FieldType) string {
		switch t {
		case model.FieldTypeNumber:
			return "DOUBLE PRECISION"
		case model.FieldTypeBoolean:
			return "BOOLEAN"
		default:
			return "TEXT"
		}
	},
	RowOrder: "ctid",
}

// QuoteIdent quotes an identifier, doubling embedded quotes
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteAll(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = QuoteIdent(n)
	}
	return out
}

func (d Dialect) placeholders(from, n int) string {
	ph := make([]string, n)
	for i := range ph {
		ph[i] = d.Placeholder(from + i)
	}
	return strings.Join(ph, ", ")
}

// CreateTable returns a CREATE TABLE IF NOT EXISTS statement for schema.
// unique, when not empty, becomes a composite UNIQUE constraint usable by upserts.
func (d Dialect) CreateTable(table string, fields []model.FieldSchema, unique []string) (string, error) {
	if len(fields) == 0 {
		return "", ErrNoColumns
	}
	defs := make([]string, 0, len(fields)+1)
	for _, f := range fields {
		def := QuoteIdent(f.Name) + " " + d.ColumnType(f.Type)
		if !f.Nullable {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}
	if len(unique) > 0 {
		defs = append(defs, "UNIQUE ("+strings.Join(quoteAll(unique), ", ")+")")
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", QuoteIdent(table), strings.Join(defs, ", ")), nil
}

// Insert returns an INSERT statement and its arguments for row
func (d Dialect) Insert(table string, row model.Row) (string, []any, error) {
	if row.Len() == 0 {
		return "", nil, ErrNoColumns
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		QuoteIdent(table), strings.Join(quoteAll(row.Keys()), ", "), d.placeholders(1, row.Len()))
	return query, d.Args(row), nil
}

// Upsert returns an INSERT ... ON CONFLICT statement that updates the non-key columns of the
// record matching row on keys. Every key must be a column of row.
func (d Dialect) Upsert(table string, row model.Row, keys []string) (string, []any, error) {
	insert, args, err := d.Insert(table, row)
	if err != nil {
		return "", nil, err
	}
	isKey := make(map[string]bool, len(keys))
	for _, k := range keys {
		if !row.Has(k) {
			return "", nil, fmt.Errorf("upsert key %q is not a column of the row", k)
		}
		isKey[k] = true
	}

	var sets []string
	for _, c := range row.Keys() {
		if !isKey[c] {
			q := QuoteIdent(c)
			sets = append(sets, q+" = excluded."+q)
		}
	}
	conflict := " ON CONFLICT (" + strings.Join(quoteAll(keys), ", ") + ")"
	if len(sets) == 0 {
		return insert + conflict + " DO NOTHING", args, nil
	}
	return insert + conflict + " DO UPDATE SET " + strings.Join(sets, ", "), args, nil
}

// where renders filter as a WHERE clause. Null conditions become IS NULL.
func (d Dialect) where(filter model.Filter) (string, []any) {
	if len(filter) == 0 {
		return "", nil
	}
	var (
		conds []string
		args  []any
	)
	for _, c := range filter.Columns() {
		v := filter[c]
		if v.IsNull() {
			conds = append(conds, QuoteIdent(c)+" IS NULL")
			continue
		}
		args = append(args, d.Arg(v))
		conds = append(conds, QuoteIdent(c)+" = "+d.Placeholder(len(args)))
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// Count returns a COUNT statement over the records matching filter
func (d Dialect) Count(table string, filter model.Filter) (string, []any) {
	where, args := d.where(filter)
	return "SELECT COUNT(*) FROM " + QuoteIdent(table) + where, args
}

// SelectPage returns a paged SELECT over the records matching filter, ordered by the orderBy
// columns or by RowOrder when orderBy is empty
func (d Dialect) SelectPage(table string, filter model.Filter, orderBy []string, limit, offset int) (string, []any) {
	where, args := d.where(filter)
	n := len(args)
	args = append(args, limit, offset)
	order := d.RowOrder
	if len(orderBy) > 0 {
		order = strings.Join(quoteAll(orderBy), ", ")
	}
	return fmt.Sprintf("SELECT * FROM %s%s ORDER BY %s LIMIT %s OFFSET %s",
		QuoteIdent(table), where, order, d.Placeholder(n+1), d.Placeholder(n+2)), args
}

// Args converts the values of row to driver arguments
func (d Dialect) Args(row model.Row) []any {
	fields := row.Fields()
	args := make([]any, len(fields))
	for i, f := range fields {
		args[i] = d.Arg(f.Value)
	}
	return args
}

// Arg converts one value to a driver argument
func (d Dialect) Arg(v model.Value) any {
	switch v.Kind() {
	case model.KindString:
		s, _ := v.AsString()
		return s
	case model.KindNumber:
		n, _ := v.AsNumber()
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return nil
		}
		return n
	case model.KindBool:
		b, _ := v.AsBool()
		return b
	case model.KindDate:
		t, _ := v.AsDate()
		if d.DateAsText {
			return model.FormatDate(t)
		}
		return t
	default:
		return nil
	}
}

// FromDB converts a scanned column value to a Value
func FromDB(src any) model.Value {
	switch v := src.(type) {
	case nil:
		return model.NullValue()
	case string:
		return model.StringValue(v)
	case []byte:
		return model.StringValue(string(v))
	case bool:
		return model.BoolValue(v)
	case float64:
		return model.NumberValue(v)
	case float32:
		return model.NumberValue(float64(v))
	case int64:
		return model.NumberValue(float64(v))
	case int32:
		return model.NumberValue(float64(v))
	case int16:
		return model.NumberValue(float64(v))
	case int:
		return model.NumberValue(float64(v))
	case time.Time:
		return model.DateValue(v)
	default:
		if val, ok := model.ValueOf(v); ok {
			return val
		}
		return model.StringValue(fmt.Sprint(v))
	}
}

// BuildRow pairs column names with scanned values
func BuildRow(columns []string, values []any) model.Row {
	b := model.NewRowBuilder(len(columns))
	for i, c := range columns {
		var v any
		if i < len(values) {
			v = values[i]
		}
		b.Set(c, FromDB(v))
	}
	return b.Build()
}
