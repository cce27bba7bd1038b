package rowflow

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"

	"github.com/nao1215/rowflow/domain/model"
)

const (
	utf8BOM = "\ufeff"

	// readChunkSize is the size of the read buffer of CSVReader
	readChunkSize = 64 * 1024
)

// numberPattern accepts plain decimal numbers. Hex floats, NaN and Inf stay strings.
var numberPattern = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?$`)

// ReaderConfig configures CSVReader. The zero value reads comma separated UTF-8 with a header line.
type ReaderConfig struct {
	// Delimiter separates fields. Default ','.
	Delimiter rune
	// Quote encloses fields that contain the delimiter. Default '"'.
	Quote rune
	// Escape, when set and different from Quote, makes Escape+Quote a literal quote inside quotes.
	Escape rune
	// Encoding is a WHATWG encoding label such as "utf-8", "utf-16le", "latin1" or "shift_jis".
	Encoding string
	// Trim removes surrounding whitespace from every field.
	Trim bool
	// CastNumbers turns numeric fields into number values.
	CastNumbers bool
	// CastDates turns date and datetime fields into date values.
	CastDates bool
	// CastBooleans turns "true"/"false" (any case) into boolean values.
	CastBooleans bool
	// EmptyAsNull turns empty fields into null values.
	EmptyAsNull bool
	// KeepEmptyLines emits blank lines as rows instead of skipping them.
	KeepEmptyLines bool
	// NoHeader treats the first line as data and names columns column1..N.
	NoHeader bool
	// Columns overrides the column names. The header line, if any, is still consumed.
	Columns []string
	// Comment skips lines starting with this prefix.
	Comment string
	// MaxRows stops after this many rows. 0 means unlimited.
	MaxRows int
	// FromLine skips physical lines before this 1-based line number.
	FromLine int
	// ToLine stops after this 1-based physical line number. 0 means unlimited.
	ToLine int
	// LenientQuotes accepts quoted fields left open at the end of a line.
	LenientQuotes bool
	// Sheet selects the worksheet of XLSX input. Default: the first sheet.
	Sheet string
}

// NewReaderConfig returns the default configuration for the given delimiter
func NewReaderConfig(delimiter rune) ReaderConfig {
	return ReaderConfig{Delimiter: delimiter}.withDefaults()
}

// withDefaults fills unset fields
func (c ReaderConfig) withDefaults() ReaderConfig {
	if c.Delimiter == 0 {
		c.Delimiter = ','
	}
	if c.Quote == 0 {
		c.Quote = '"'
	}
	if c.Escape == 0 {
		c.Escape = c.Quote
	}
	if c.Encoding == "" {
		c.Encoding = "utf-8"
	}
	return c
}

// Validate reports invalid combinations
func (c ReaderConfig) Validate() error {
	c = c.withDefaults()
	switch {
	case c.Delimiter == '\n' || c.Delimiter == '\r':
		return configErr("Delimiter", "line breaks cannot delimit fields")
	case c.Delimiter == c.Quote:
		return configErr("Quote", "quote %q equals the delimiter", c.Quote)
	case c.Escape == c.Delimiter:
		return configErr("Escape", "escape %q equals the delimiter", c.Escape)
	case c.MaxRows < 0:
		return configErr("MaxRows", "must not be negative, got %d", c.MaxRows)
	case c.FromLine < 0 || c.ToLine < 0:
		return configErr("FromLine", "line numbers must not be negative")
	case c.ToLine > 0 && c.FromLine > c.ToLine:
		return configErr("ToLine", "ToLine %d is before FromLine %d", c.ToLine, c.FromLine)
	}
	if _, err := lookupEncoding(c.Encoding); err != nil {
		return err
	}
	return nil
}

// lookupEncoding resolves a WHATWG label. UTF-8 returns a nil transformer.
func lookupEncoding(label string) (transform.Transformer, error) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "", "utf-8", "utf8":
		return nil, nil
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, configErr("Encoding", "unknown encoding %q", label)
	}
	return enc.NewDecoder(), nil
}

// CSVReader is a forward-only reader of delimited text.
// It buffers one read chunk plus the current line, so memory does not grow with input size.
type CSVReader struct {
	cfg      ReaderConfig
	tok      tokenizer
	cast     caster
	src      io.Reader
	buf      *bufio.Reader
	header   []string
	line     int
	rowLine  int
	emitted  int
	done     bool
	closed   bool
	closeErr error
}

// NewCSVReader creates a reader over r. Nothing is read until the first call to Read.
// When r implements io.Closer it is closed once reading stops.
func NewCSVReader(r io.Reader, cfg ReaderConfig) (*CSVReader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	decoder, err := lookupEncoding(cfg.Encoding)
	if err != nil {
		return nil, err
	}

	in := r
	if decoder != nil {
		in = transform.NewReader(r, decoder)
	}

	return &CSVReader{
		cfg:  cfg,
		tok:  tokenizer{delimiter: cfg.Delimiter, quote: cfg.Quote, escape: cfg.Escape},
		cast: cfg.caster(),
		src:  r,
		buf:  bufio.NewReaderSize(in, readChunkSize),
	}, nil
}

// Header returns the column names. It is empty until the first row has been read.
func (r *CSVReader) Header() []string {
	out := make([]string, len(r.header))
	copy(out, r.header)
	return out
}

// Line returns the physical line number of the last row returned by Read
func (r *CSVReader) Line() int {
	return r.rowLine
}

// Read returns the next row, or io.EOF when the input, MaxRows or ToLine is exhausted.
func (r *CSVReader) Read() (Row, error) {
	for {
		if r.done {
			return Row{}, r.eof()
		}
		if r.cfg.ToLine > 0 && r.line >= r.cfg.ToLine {
			r.finish()
			continue
		}

		line, err := r.nextLine()
		if errors.Is(err, io.EOF) {
			r.finish()
			continue
		}
		if err != nil {
			r.done = true
			return Row{}, errors.Join(&ParseError{Line: r.line + 1, Err: err}, r.closeSource())
		}

		if r.line < r.cfg.FromLine {
			continue
		}
		if r.cfg.Comment != "" && strings.HasPrefix(strings.TrimLeft(line, " \t"), r.cfg.Comment) {
			continue
		}
		if !r.cfg.KeepEmptyLines && strings.TrimSpace(line) == "" {
			continue
		}

		fields, ok := r.tok.split(line)
		if !ok && !r.cfg.LenientQuotes {
			r.done = true
			return Row{}, errors.Join(&ParseError{Line: r.line, Err: ErrUnterminatedQuote}, r.closeSource())
		}
		if r.cfg.Trim {
			for i := range fields {
				fields[i] = strings.TrimSpace(fields[i])
			}
		}

		if r.header == nil {
			header, err := r.buildHeader(fields)
			if err != nil {
				r.done = true
				return Row{}, errors.Join(&ParseError{Line: r.line, Err: err}, r.closeSource())
			}
			r.header = header
			if !r.cfg.NoHeader {
				continue
			}
		}

		row := r.buildRow(fields)
		r.emitted++
		r.rowLine = r.line
		if r.cfg.MaxRows > 0 && r.emitted >= r.cfg.MaxRows {
			r.finish()
		}
		return row, nil
	}
}

// Close stops reading and closes the source
func (r *CSVReader) Close() error {
	r.done = true
	return r.closeSource()
}

// finish marks the reader exhausted and closes the source without draining it
func (r *CSVReader) finish() {
	r.done = true
	r.closeErr = r.closeSource()
}

// eof reports a pending close error once, then io.EOF
func (r *CSVReader) eof() error {
	if err := r.closeErr; err != nil {
		r.closeErr = nil
		return err
	}
	return io.EOF
}

func (r *CSVReader) closeSource() error {
	if r.closed {
		return nil
	}
	r.closed = true
	if c, ok := r.src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// nextLine reads one physical line without its terminator
func (r *CSVReader) nextLine() (string, error) {
	raw, err := r.buf.ReadString('\n')
	if raw == "" && err != nil {
		return "", err
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	r.line++
	line := strings.TrimRight(raw, "\r\n")
	if r.line == 1 {
		line = strings.TrimPrefix(line, utf8BOM)
	}
	return line, nil
}

// buildHeader decides the column names from the first qualifying line
func (r *CSVReader) buildHeader(fields []string) ([]string, error) {
	header := make([]string, len(fields))
	switch {
	case len(r.cfg.Columns) > 0:
		header = append(header[:0], r.cfg.Columns...)
	case r.cfg.NoHeader:
		for i := range header {
			header[i] = syntheticColumn(i)
		}
	default:
		for i, f := range fields {
			name := strings.TrimSpace(f)
			if name == "" {
				name = syntheticColumn(i)
			}
			header[i] = name
		}
	}

	seen := make(map[string]struct{}, len(header))
	for _, name := range header {
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("%w: %s", model.ErrDuplicateColumnName, name)
		}
		seen[name] = struct{}{}
	}
	return header, nil
}

// buildRow pairs fields with the header. Short lines are padded with nulls.
func (r *CSVReader) buildRow(fields []string) Row {
	n := max(len(fields), len(r.header))
	b := model.NewRowBuilder(n)
	for i := range n {
		var name string
		if i < len(r.header) {
			name = r.header[i]
		} else {
			name = surplusColumn(b, i)
		}
		if i >= len(fields) {
			b.Set(name, NullValue())
			continue
		}
		b.Set(name, r.cast.cast(fields[i]))
	}
	return b.Build()
}

// caster converts raw text fields into typed values
type caster struct {
	numbers     bool
	dates       bool
	booleans    bool
	emptyAsNull bool
}

func (c ReaderConfig) caster() caster {
	return caster{numbers: c.CastNumbers, dates: c.CastDates, booleans: c.CastBooleans, emptyAsNull: c.EmptyAsNull}
}

// cast converts one field. Numbers win over booleans, booleans over dates.
func (c caster) cast(s string) Value {
	if s == "" {
		if c.emptyAsNull {
			return NullValue()
		}
		return StringValue(s)
	}
	if c.numbers {
		if f, ok := parseNumber(s); ok {
			return NumberValue(f)
		}
	}
	if c.booleans {
		if b, ok := parseBool(s); ok {
			return BoolValue(b)
		}
	}
	if c.dates {
		if t, ok := model.ParseDatetime(s); ok {
			return DateValue(t)
		}
	}
	return StringValue(s)
}

func syntheticColumn(i int) string {
	return "column" + strconv.Itoa(i+1)
}

// surplusColumn names field i of a line longer than the header. A suffix is added while the
// synthetic name is already taken by a header column.
func surplusColumn(b *model.RowBuilder, i int) string {
	name := syntheticColumn(i)
	for k := 2; b.Has(name); k++ {
		name = syntheticColumn(i) + "_" + strconv.Itoa(k)
	}
	return name
}

// parseNumber parses plain decimal numbers
func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if !numberPattern.MatchString(s) {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// parseBool accepts true and false in any case
func parseBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true":
		return true, true
	case "false":
		return false, true
	default:
		return false, false
	}
}
