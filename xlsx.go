package rowflow

import (
	"errors"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/nao1215/rowflow/domain/model"
)

// defaultSheet is the sheet written by XLSXWriter
const defaultSheet = "Sheet1"

// XLSXReader reads one worksheet. The first row is the header.
// Workbooks are zip archives, so the whole input is opened before the first row is returned.
type XLSXReader struct {
	file   *excelize.File
	rows   *excelize.Rows
	src    io.Reader
	header []string
	cast   caster
	done   bool
	closed bool
	line   int
}

// NewXLSXReader opens the named sheet of r, or the first sheet when sheet is empty.
// Cell text is cast with the casting options of cfg.
func NewXLSXReader(r io.Reader, sheet string, cfg ReaderConfig) (*XLSXReader, error) {
	xr := &XLSXReader{src: r, cast: cfg.caster()}

	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, errors.Join(&ParseError{Err: fmt.Errorf("failed to open xlsx: %w", err)}, xr.closeSource())
	}
	xr.file = f

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, errors.Join(&ParseError{Err: errors.New("workbook has no sheets")}, xr.Close())
		}
		sheet = sheets[0]
	}

	rows, err := f.Rows(sheet)
	if err != nil {
		return nil, errors.Join(&ParseError{Err: fmt.Errorf("failed to read sheet %s: %w", sheet, err)}, xr.Close())
	}
	xr.rows = rows
	return xr, nil
}

// Read returns the next non-empty row
func (r *XLSXReader) Read() (Row, error) {
	for {
		if r.done {
			return Row{}, io.EOF
		}
		if !r.rows.Next() {
			r.done = true
			err := r.rows.Error()
			if closeErr := r.Close(); closeErr != nil {
				err = errors.Join(err, closeErr)
			}
			if err != nil {
				return Row{}, &ParseError{Line: r.line, Err: err}
			}
			return Row{}, io.EOF
		}
		r.line++

		cells, err := r.rows.Columns()
		if err != nil {
			r.done = true
			return Row{}, errors.Join(&ParseError{Line: r.line, Err: err}, r.Close())
		}
		if len(cells) == 0 {
			continue
		}

		if r.header == nil {
			header := make([]string, len(cells))
			seen := make(map[string]struct{}, len(cells))
			for i, c := range cells {
				if c == "" {
					c = syntheticColumn(i)
				}
				if _, dup := seen[c]; dup {
					r.done = true
					return Row{}, errors.Join(&ParseError{Line: r.line, Err: fmt.Errorf("%w: %s", model.ErrDuplicateColumnName, c)}, r.Close())
				}
				seen[c] = struct{}{}
				header[i] = c
			}
			r.header = header
			continue
		}

		n := max(len(cells), len(r.header))
		b := model.NewRowBuilder(n)
		for i := range n {
			var name string
			if i < len(r.header) {
				name = r.header[i]
			} else {
				name = surplusColumn(b, i)
			}
			if i >= len(cells) {
				b.Set(name, NullValue())
				continue
			}
			b.Set(name, r.cast.cast(cells[i]))
		}
		return b.Build(), nil
	}
}

// Close releases the workbook and closes the source
func (r *XLSXReader) Close() error {
	r.done = true
	var err error
	if r.rows != nil {
		err = r.rows.Close()
		r.rows = nil
	}
	if r.file != nil {
		err = errors.Join(err, r.file.Close())
		r.file = nil
	}
	return errors.Join(err, r.closeSource())
}

func (r *XLSXReader) closeSource() error {
	if r.closed {
		return nil
	}
	r.closed = true
	if c, ok := r.src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// XLSXWriter writes rows to a single worksheet with a header row.
// The workbook is streamed into memory and serialized to the output on Close.
type XLSXWriter struct {
	out     io.Writer
	file    *excelize.File
	sw      *excelize.StreamWriter
	columns []string
	next    int
}

// NewXLSXWriter creates a writer. columns fixes the order; when empty the first row decides.
func NewXLSXWriter(w io.Writer, columns []string) (*XLSXWriter, error) {
	f := excelize.NewFile()
	sw, err := f.NewStreamWriter(defaultSheet)
	if err != nil {
		_ = f.Close() // Ignore close error
		return nil, fmt.Errorf("failed to create xlsx stream writer: %w", err)
	}
	return &XLSXWriter{out: w, file: f, sw: sw, columns: columns, next: 1}, nil
}

func (w *XLSXWriter) writeCells(values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, w.next)
	if err != nil {
		return err
	}
	w.next++
	return w.sw.SetRow(cell, values)
}

func (w *XLSXWriter) writeHeader() error {
	values := make([]any, len(w.columns))
	for i, c := range w.columns {
		values[i] = c
	}
	return w.writeCells(values)
}

// Write appends one row
func (w *XLSXWriter) Write(row Row) error {
	if w.next == 1 {
		if len(w.columns) == 0 {
			w.columns = row.Keys()
		}
		if err := w.writeHeader(); err != nil {
			return err
		}
	}

	values := make([]any, len(w.columns))
	for i, c := range w.columns {
		v, _ := row.Get(c)
		switch v.Kind() {
		case model.KindNull:
			values[i] = nil
		case model.KindNumber:
			values[i], _ = v.AsNumber()
		case model.KindBool:
			values[i], _ = v.AsBool()
		default:
			values[i] = v.Text()
		}
	}
	return w.writeCells(values)
}

// Close finishes the sheet and writes the workbook to the output
func (w *XLSXWriter) Close() error {
	defer func() {
		_ = w.file.Close() // Ignore close error
	}()

	if w.next == 1 && len(w.columns) > 0 {
		if err := w.writeHeader(); err != nil {
			return err
		}
	}
	if err := w.sw.Flush(); err != nil {
		return fmt.Errorf("failed to flush xlsx sheet: %w", err)
	}
	if err := w.file.Write(w.out); err != nil {
		return fmt.Errorf("failed to write xlsx: %w", err)
	}
	return nil
}
