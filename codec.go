package rowflow

import (
	"context"
	"fmt"
	"io"
)

// NewRowReader returns a reader for format over r. TSV input defaults to a tab delimiter.
// XML is an export-only format.
func NewRowReader(ctx context.Context, format Format, r io.Reader, cfg ReaderConfig) (RowReader, error) {
	switch format {
	case FormatCSV:
		return NewCSVReader(r, cfg)
	case FormatTSV:
		if cfg.Delimiter == 0 {
			cfg.Delimiter = '\t'
		}
		return NewCSVReader(r, cfg)
	case FormatJSON, FormatNDJSON:
		return NewJSONReader(r), nil
	case FormatXLSX:
		return NewXLSXReader(r, cfg.Sheet, cfg)
	case FormatParquet:
		return NewParquetReader(ctx, r)
	default:
		return nil, fmt.Errorf("%w: cannot read %s", ErrUnsupportedFormat, format)
	}
}

// NewRowWriter returns a writer for format over w. total is the expected number of rows,
// announced by formats that carry a count; pass -1 when unknown.
func NewRowWriter(format Format, w io.Writer, cfg WriterConfig, total int) (RowWriter, error) {
	switch format {
	case FormatCSV:
		return NewCSVWriter(w, cfg), nil
	case FormatTSV:
		if cfg.Delimiter == 0 {
			cfg.Delimiter = '\t'
		}
		return NewCSVWriter(w, cfg), nil
	case FormatJSON:
		return NewJSONWriter(w, false), nil
	case FormatNDJSON:
		return NewJSONWriter(w, true), nil
	case FormatXLSX:
		return NewXLSXWriter(w, cfg.Columns)
	case FormatParquet:
		return NewParquetWriter(w, cfg.Columns, 0), nil
	case FormatXML:
		return NewXMLWriter(w, "", "", total), nil
	default:
		return nil, fmt.Errorf("%w: cannot write %s", ErrUnsupportedFormat, format)
	}
}
