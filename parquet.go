package rowflow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/apache/arrow/go/v18/arrow"
	"github.com/apache/arrow/go/v18/arrow/array"
	"github.com/apache/arrow/go/v18/arrow/memory"
	"github.com/apache/arrow/go/v18/parquet"
	"github.com/apache/arrow/go/v18/parquet/compress"
	pqfile "github.com/apache/arrow/go/v18/parquet/file"
	"github.com/apache/arrow/go/v18/parquet/pqarrow"

	"github.com/nao1215/rowflow/domain/model"
)

// ParquetReader reads a Parquet file. Parquet requires random access, so the input is read
// into memory first.
type ParquetReader struct {
	table arrow.Table
	tr    *array.TableReader
	rec   arrow.Record
	pos   int
	names []string
	done  bool
}

// NewParquetReader reads r completely and prepares a row reader over it.
// When r implements io.Closer it is closed before NewParquetReader returns.
func NewParquetReader(ctx context.Context, r io.Reader) (_ *ParquetReader, err error) {
	defer func() {
		if c, ok := r.(io.Closer); ok {
			err = errors.Join(err, c.Close())
		}
	}()

	// Read all data into memory (Parquet requires random access)
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &ParseError{Err: fmt.Errorf("failed to read parquet data: %w", err)}
	}
	if len(data) == 0 {
		return nil, &ParseError{Err: ErrEmptyData}
	}

	pqReader, err := pqfile.NewParquetReader(bytes.NewReader(data))
	if err != nil {
		return nil, &ParseError{Err: fmt.Errorf("failed to create parquet reader: %w", err)}
	}
	defer pqReader.Close()

	arrowReader, err := pqarrow.NewFileReader(pqReader, pqarrow.ArrowReadProperties{}, memory.DefaultAllocator)
	if err != nil {
		return nil, &ParseError{Err: fmt.Errorf("failed to create arrow reader: %w", err)}
	}

	table, err := arrowReader.ReadTable(ctx)
	if err != nil {
		return nil, &ParseError{Err: fmt.Errorf("failed to read table: %w", err)}
	}

	names := make([]string, table.Schema().NumFields())
	for i, f := range table.Schema().Fields() {
		names[i] = f.Name
	}

	return &ParquetReader{
		table: table,
		tr:    array.NewTableReader(table, int64(DefaultBatchSize)),
		names: names,
	}, nil
}

// Read returns the next row
func (r *ParquetReader) Read() (Row, error) {
	for {
		if r.done {
			return Row{}, io.EOF
		}
		if r.rec != nil && int64(r.pos) < r.rec.NumRows() {
			b := model.NewRowBuilder(len(r.names))
			for j, col := range r.rec.Columns() {
				b.Set(r.names[j], arrowValue(col, r.pos))
			}
			r.pos++
			return b.Build(), nil
		}
		if !r.tr.Next() {
			err := r.tr.Err()
			r.release()
			if err != nil {
				return Row{}, &ParseError{Err: err}
			}
			return Row{}, io.EOF
		}
		r.rec = r.tr.Record()
		r.pos = 0
	}
}

// Close releases the table
func (r *ParquetReader) Close() error {
	r.release()
	return nil
}

func (r *ParquetReader) release() {
	if r.done {
		return
	}
	r.done = true
	r.rec = nil
	r.tr.Release()
	r.table.Release()
}

// arrowValue converts element i of col
func arrowValue(col arrow.Array, i int) Value {
	if col.IsNull(i) {
		return NullValue()
	}
	switch a := col.(type) {
	case *array.String:
		return StringValue(a.Value(i))
	case *array.LargeString:
		return StringValue(a.Value(i))
	case *array.Binary:
		return StringValue(string(a.Value(i)))
	case *array.Boolean:
		return BoolValue(a.Value(i))
	case *array.Float64:
		return NumberValue(a.Value(i))
	case *array.Float32:
		return NumberValue(float64(a.Value(i)))
	case *array.Int64:
		return NumberValue(float64(a.Value(i)))
	case *array.Int32:
		return NumberValue(float64(a.Value(i)))
	case *array.Int16:
		return NumberValue(float64(a.Value(i)))
	case *array.Int8:
		return NumberValue(float64(a.Value(i)))
	case *array.Uint64:
		return NumberValue(float64(a.Value(i)))
	case *array.Uint32:
		return NumberValue(float64(a.Value(i)))
	case *array.Timestamp:
		unit := a.DataType().(*arrow.TimestampType).Unit
		return DateValue(a.Value(i).ToTime(unit))
	case *array.Date32:
		return DateValue(a.Value(i).ToTime())
	case *array.Date64:
		return DateValue(a.Value(i).ToTime())
	default:
		return StringValue(col.ValueStr(i))
	}
}

// ParquetWriter writes rows to a Parquet file. The schema is derived from the first row:
// numbers become DOUBLE, booleans BOOLEAN, dates TIMESTAMP(us, UTC) and everything else UTF8.
// Every column is nullable; values that do not match the column type are written as text in
// string columns and as null in typed columns.
type ParquetWriter struct {
	out       io.Writer
	columns   []string
	batchSize int
	schema    *arrow.Schema
	fw        *pqarrow.FileWriter
	builder   *array.RecordBuilder
	pending   int
}

// NewParquetWriter creates a writer. columns fixes the order; when empty the first row decides.
func NewParquetWriter(w io.Writer, columns []string, batchSize int) *ParquetWriter {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &ParquetWriter{out: w, columns: columns, batchSize: batchSize}
}

func (w *ParquetWriter) open(first Row) error {
	if len(w.columns) == 0 {
		w.columns = first.Keys()
	}

	fields := make([]arrow.Field, len(w.columns))
	for i, c := range w.columns {
		v, _ := first.Get(c)
		fields[i] = arrow.Field{Name: c, Type: arrowType(v.Kind()), Nullable: true}
	}
	w.schema = arrow.NewSchema(fields, nil)

	props := parquet.NewWriterProperties(parquet.WithCompression(compress.Codecs.Snappy))
	fw, err := pqarrow.NewFileWriter(w.schema, writerOnly{w.out}, props, pqarrow.DefaultWriterProps())
	if err != nil {
		return fmt.Errorf("failed to create parquet writer: %w", err)
	}
	w.fw = fw
	w.builder = array.NewRecordBuilder(memory.DefaultAllocator, w.schema)
	return nil
}

// Write appends one row
func (w *ParquetWriter) Write(row Row) error {
	if w.fw == nil {
		if err := w.open(row); err != nil {
			return err
		}
	}

	for i, c := range w.columns {
		v, _ := row.Get(c)
		appendArrowValue(w.builder.Field(i), v)
	}
	w.pending++
	if w.pending >= w.batchSize {
		return w.flush()
	}
	return nil
}

func (w *ParquetWriter) flush() error {
	if w.pending == 0 {
		return nil
	}
	rec := w.builder.NewRecord()
	defer rec.Release()
	w.pending = 0
	return w.fw.Write(rec)
}

// Close writes the remaining rows and the file footer
func (w *ParquetWriter) Close() error {
	if w.fw == nil {
		if len(w.columns) == 0 {
			return nil
		}
		if err := w.open(Row{}); err != nil {
			return err
		}
	}
	defer w.builder.Release()

	if err := w.flush(); err != nil {
		_ = w.fw.Close() // Ignore close error
		return err
	}
	return w.fw.Close()
}

func arrowType(k model.Kind) arrow.DataType {
	switch k {
	case model.KindNumber:
		return arrow.PrimitiveTypes.Float64
	case model.KindBool:
		return arrow.FixedWidthTypes.Boolean
	case model.KindDate:
		return &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}
	default:
		return arrow.BinaryTypes.String
	}
}

func appendArrowValue(b array.Builder, v Value) {
	if v.IsNull() {
		b.AppendNull()
		return
	}
	switch fb := b.(type) {
	case *array.StringBuilder:
		fb.Append(v.Text())
	case *array.Float64Builder:
		if n, ok := v.AsNumber(); ok {
			fb.Append(n)
			return
		}
		fb.AppendNull()
	case *array.BooleanBuilder:
		if x, ok := v.AsBool(); ok {
			fb.Append(x)
			return
		}
		fb.AppendNull()
	case *array.TimestampBuilder:
		if t, ok := v.AsDate(); ok {
			fb.Append(arrow.Timestamp(t.UTC().Truncate(time.Microsecond).UnixMicro()))
			return
		}
		fb.AppendNull()
	default:
		b.AppendNull()
	}
}

// writerOnly hides Close so the parquet writer cannot close the caller's output
type writerOnly struct {
	io.Writer
}
