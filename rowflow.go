package rowflow

import (
	"errors"
	"io"

	"github.com/nao1215/rowflow/domain/model"
)

// Domain types re-exported for callers of this package
type (
	// Value is a tagged scalar: string, number, boolean, date or null
	Value = model.Value
	// Kind identifies the variant of a Value
	Kind = model.Kind
	// Row is an immutable ordered mapping of column name to Value
	Row = model.Row
	// Field is one named value of a Row
	Field = model.Field
	// ImportJob is the running summary of one import
	ImportJob = model.ImportJob
	// ImportError is one row-level problem found during an import
	ImportError = model.ImportError
	// MappingWarning is a non-fatal mapping problem
	MappingWarning = model.MappingWarning
	// ExportTask is the running summary of one export
	ExportTask = model.ExportTask
	// JobStatus is the lifecycle state of a job
	JobStatus = model.JobStatus
	// InferredSchema is the result of schema inference
	InferredSchema = model.InferredSchema
	// FieldSchema describes one inferred column
	FieldSchema = model.FieldSchema
	// FieldType is the inferred semantic type of a column
	FieldType = model.FieldType
	// Filter selects records by column equality
	Filter = model.Filter
	// RecordSink is the destination of an import
	RecordSink = model.RecordSink
	// RecordSource is the origin of an export
	RecordSource = model.RecordSource
	// SinkTx is a transaction opened on a sink
	SinkTx = model.SinkTx
	// TxBeginner is implemented by sinks that support transactions
	TxBeginner = model.TxBeginner
)

// Value constructors
var (
	NullValue   = model.NullValue
	StringValue = model.StringValue
	NumberValue = model.NumberValue
	BoolValue   = model.BoolValue
	DateValue   = model.DateValue
	NewRow      = model.NewRow
)

// RowReader yields rows one at a time. Read returns io.EOF after the last row.
type RowReader interface {
	Read() (Row, error)
	Close() error
}

// RowWriter consumes rows. Close flushes buffered output.
type RowWriter interface {
	Write(row Row) error
	Close() error
}

// ReadAll drains r and closes it
func ReadAll(r RowReader) (rows []Row, err error) {
	defer func() {
		if closeErr := r.Close(); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
	}()

	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return rows, err
		}
		rows = append(rows, row)
	}
}

// WriteRows writes every row to w and closes it
func WriteRows(w RowWriter, rows []Row) (err error) {
	defer func() {
		if closeErr := w.Close(); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
	}()

	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return nil
}

// sliceReader serves rows from memory
type sliceReader struct {
	rows []Row
	pos  int
}

// NewSliceReader returns a RowReader over rows
func NewSliceReader(rows []Row) RowReader {
	return &sliceReader{rows: rows}
}

func (r *sliceReader) Read() (Row, error) {
	if r.pos >= len(r.rows) {
		return Row{}, io.EOF
	}
	row := r.rows[r.pos]
	r.pos++
	return row, nil
}

func (r *sliceReader) Close() error {
	return nil
}
