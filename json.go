package rowflow

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/nao1215/rowflow/domain/model"
)

// JSONReader reads a JSON array of objects or a stream of objects (NDJSON).
// Object key order is preserved. Nested objects and arrays are kept as their JSON text.
type JSONReader struct {
	src    io.Reader
	dec    *json.Decoder
	array  bool
	begun  bool
	done   bool
	closed bool
	n      int
}

// NewJSONReader creates a reader over r. When r implements io.Closer it is closed once reading stops.
func NewJSONReader(r io.Reader) *JSONReader {
	dec := json.NewDecoder(bufio.NewReaderSize(r, readChunkSize))
	dec.UseNumber()
	return &JSONReader{src: r, dec: dec}
}

// Read returns the next object as a Row
func (r *JSONReader) Read() (Row, error) {
	if r.done {
		return Row{}, io.EOF
	}

	if !r.begun {
		r.begun = true
		tok, err := r.dec.Token()
		if errors.Is(err, io.EOF) {
			return Row{}, r.finish()
		}
		if err != nil {
			return Row{}, r.fail(err)
		}
		switch tok {
		case json.Delim('['):
			r.array = true
		case json.Delim('{'):
			return r.readObject()
		default:
			return Row{}, r.fail(fmt.Errorf("expected an array or object, got %v", tok))
		}
	}

	if r.array {
		if !r.dec.More() {
			if _, err := r.dec.Token(); err != nil {
				return Row{}, r.fail(err)
			}
			return Row{}, r.finish()
		}
	}

	tok, err := r.dec.Token()
	if errors.Is(err, io.EOF) && !r.array {
		return Row{}, r.finish()
	}
	if err != nil {
		return Row{}, r.fail(err)
	}
	if tok != json.Delim('{') {
		return Row{}, r.fail(fmt.Errorf("expected an object, got %v", tok))
	}
	return r.readObject()
}

// readObject reads the members of an object whose '{' was already consumed
func (r *JSONReader) readObject() (Row, error) {
	b := model.NewRowBuilder(8)
	for r.dec.More() {
		tok, err := r.dec.Token()
		if err != nil {
			return Row{}, r.fail(err)
		}
		key, ok := tok.(string)
		if !ok {
			return Row{}, r.fail(fmt.Errorf("expected an object key, got %v", tok))
		}
		var raw json.RawMessage
		if err := r.dec.Decode(&raw); err != nil {
			return Row{}, r.fail(err)
		}
		v, err := jsonValue(raw)
		if err != nil {
			return Row{}, r.fail(err)
		}
		b.Set(key, v)
	}
	if _, err := r.dec.Token(); err != nil {
		return Row{}, r.fail(err)
	}
	r.n++
	return b.Build(), nil
}

// Close stops reading and closes the source
func (r *JSONReader) Close() error {
	r.done = true
	return r.closeSource()
}

func (r *JSONReader) finish() error {
	r.done = true
	if err := r.closeSource(); err != nil {
		return err
	}
	return io.EOF
}

// fail ends reading with a parse error. Input that stops inside an array or object is
// reported as io.ErrUnexpectedEOF so that callers never mistake it for the end of the data.
func (r *JSONReader) fail(err error) error {
	r.done = true
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return errors.Join(&ParseError{Line: r.n + 1, Err: err}, r.closeSource())
}

func (r *JSONReader) closeSource() error {
	if r.closed {
		return nil
	}
	r.closed = true
	if c, ok := r.src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// jsonValue converts one raw JSON value
func jsonValue(raw json.RawMessage) (Value, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return NullValue(), nil
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return NullValue(), err
		}
		return StringValue(s), nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return NullValue(), err
		}
		return BoolValue(b), nil
	case 'n':
		return NullValue(), nil
	case '{', '[':
		return StringValue(string(raw)), nil
	default:
		f, err := strconv.ParseFloat(string(raw), 64)
		if err != nil {
			return NullValue(), err
		}
		return NumberValue(f), nil
	}
}

// JSONWriter writes rows as a JSON array of objects, or one object per line when NDJSON is set.
// Separators precede every object but the first, so the output stays valid however many rows arrive.
type JSONWriter struct {
	w       *bufio.Writer
	ndjson  bool
	written int
	buf     []byte
}

// NewJSONWriter creates a writer over w
func NewJSONWriter(w io.Writer, ndjson bool) *JSONWriter {
	return &JSONWriter{w: bufio.NewWriter(w), ndjson: ndjson}
}

// Write appends one object
func (w *JSONWriter) Write(row Row) error {
	buf := w.buf[:0]
	switch {
	case w.ndjson:
	case w.written == 0:
		buf = append(buf, "[\n"...)
	default:
		buf = append(buf, ",\n"...)
	}

	buf = append(buf, '{')
	for i, f := range row.Fields() {
		if i > 0 {
			buf = append(buf, ',')
		}
		key, err := json.Marshal(f.Name)
		if err != nil {
			return err
		}
		buf = append(buf, key...)
		buf = append(buf, ':')
		if buf, err = appendJSONValue(buf, f.Value); err != nil {
			return err
		}
	}
	buf = append(buf, '}')
	if w.ndjson {
		buf = append(buf, '\n')
	}

	w.buf = buf
	w.written++
	_, err := w.w.Write(buf)
	return err
}

// Close terminates the array and flushes
func (w *JSONWriter) Close() error {
	if !w.ndjson {
		closing := "\n]\n"
		if w.written == 0 {
			closing = "[]\n"
		}
		if _, err := w.w.WriteString(closing); err != nil {
			return err
		}
	}
	return w.w.Flush()
}

func appendJSONValue(buf []byte, v Value) ([]byte, error) {
	switch v.Kind() {
	case model.KindNull:
		return append(buf, "null"...), nil
	case model.KindNumber:
		n, _ := v.AsNumber()
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return append(buf, "null"...), nil
		}
		return append(buf, model.FormatNumber(n)...), nil
	case model.KindBool:
		b, _ := v.AsBool()
		return strconv.AppendBool(buf, b), nil
	default:
		s, err := json.Marshal(v.Text())
		if err != nil {
			return buf, err
		}
		return append(buf, s...), nil
	}
}
