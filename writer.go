package rowflow

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// WriterConfig configures CSVWriter. The zero value writes comma separated UTF-8 with a header line.
type WriterConfig struct {
	// Delimiter separates fields. Default ','.
	Delimiter rune
	// Quote encloses fields. Default '"'.
	Quote rune
	// Escape, when set and different from Quote, prefixes embedded quotes instead of doubling them.
	Escape rune
	// NoHeader suppresses the header line.
	NoHeader bool
	// Columns fixes the column order. Default: the keys of the first row.
	Columns []string
	// RecordDelimiter terminates every record. Default "\n".
	RecordDelimiter string
	// QuoteAll quotes every field.
	QuoteAll bool
	// BOM writes a UTF-8 byte order mark first.
	BOM bool
}

// withDefaults fills unset fields
func (c WriterConfig) withDefaults() WriterConfig {
	if c.Delimiter == 0 {
		c.Delimiter = ','
	}
	if c.Quote == 0 {
		c.Quote = '"'
	}
	if c.Escape == 0 {
		c.Escape = c.Quote
	}
	if c.RecordDelimiter == "" {
		c.RecordDelimiter = "\n"
	}
	return c
}

// Validate reports invalid combinations
func (c WriterConfig) Validate() error {
	c = c.withDefaults()
	switch {
	case c.Delimiter == '\n' || c.Delimiter == '\r':
		return configErr("Delimiter", "line breaks cannot delimit fields")
	case c.Delimiter == c.Quote:
		return configErr("Quote", "quote %q equals the delimiter", c.Quote)
	case strings.ContainsRune(c.RecordDelimiter, c.Delimiter):
		return configErr("RecordDelimiter", "contains the field delimiter")
	}
	return nil
}

// CSVWriter streams rows as delimited text
type CSVWriter struct {
	cfg     WriterConfig
	w       *bufio.Writer
	columns []string
	started bool
}

// NewCSVWriter creates a writer over w. Invalid options surface on the first Write.
func NewCSVWriter(w io.Writer, cfg WriterConfig) *CSVWriter {
	cfg = cfg.withDefaults()
	return &CSVWriter{
		cfg:     cfg,
		w:       bufio.NewWriter(w),
		columns: cfg.Columns,
	}
}

// Columns returns the column order in use. It is empty before the first row unless configured.
func (w *CSVWriter) Columns() []string {
	return w.columns
}

// Write formats row. Columns missing from row are written empty.
func (w *CSVWriter) Write(row Row) error {
	if !w.started {
		if err := w.start(row); err != nil {
			return err
		}
	}

	for i, col := range w.columns {
		if i > 0 {
			if _, err := w.w.WriteRune(w.cfg.Delimiter); err != nil {
				return err
			}
		}
		v, _ := row.Get(col)
		if err := w.writeField(v.Text()); err != nil {
			return err
		}
	}
	_, err := w.w.WriteString(w.cfg.RecordDelimiter)
	return err
}

// Flush writes buffered data to the underlying writer
func (w *CSVWriter) Flush() error {
	return w.w.Flush()
}

// Close flushes buffered data. A writer that never received a row still emits BOM and header
// when Columns were configured.
func (w *CSVWriter) Close() error {
	var err error
	if !w.started && len(w.columns) > 0 {
		err = w.start(Row{})
	}
	return errors.Join(err, w.w.Flush())
}

func (w *CSVWriter) start(first Row) error {
	if err := w.cfg.Validate(); err != nil {
		return err
	}
	w.started = true
	if len(w.columns) == 0 {
		w.columns = first.Keys()
	}

	if w.cfg.BOM {
		if _, err := w.w.WriteString(utf8BOM); err != nil {
			return err
		}
	}
	if w.cfg.NoHeader {
		return nil
	}
	for i, col := range w.columns {
		if i > 0 {
			if _, err := w.w.WriteRune(w.cfg.Delimiter); err != nil {
				return err
			}
		}
		if err := w.writeField(col); err != nil {
			return err
		}
	}
	_, err := w.w.WriteString(w.cfg.RecordDelimiter)
	return err
}

// needsQuotes reports whether s must be enclosed in quotes
func (w *CSVWriter) needsQuotes(s string) bool {
	if w.cfg.QuoteAll {
		return true
	}
	return strings.ContainsRune(s, w.cfg.Delimiter) ||
		strings.ContainsRune(s, w.cfg.Quote) ||
		strings.ContainsAny(s, "\r\n")
}

func (w *CSVWriter) writeField(s string) error {
	if !w.needsQuotes(s) {
		_, err := w.w.WriteString(s)
		return err
	}

	if _, err := w.w.WriteRune(w.cfg.Quote); err != nil {
		return err
	}
	for _, r := range s {
		if r == w.cfg.Quote {
			if _, err := w.w.WriteRune(w.cfg.Escape); err != nil {
				return err
			}
		}
		if _, err := w.w.WriteRune(r); err != nil {
			return err
		}
	}
	_, err := w.w.WriteRune(w.cfg.Quote)
	return err
}
