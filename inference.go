package rowflow

import (
	"errors"
	"io"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/nao1215/rowflow/domain/model"
)

const (
	// maxDistinctTracked caps the distinct values remembered per field.
	// Uniqueness above this many distinct values is approximate.
	maxDistinctTracked = 100
	// maxExamples is the number of example values kept per field
	maxExamples = 3
	// defaultSchemaSample is the number of rows kept in InferredSchema.Sample
	defaultSchemaSample = 5
)

var emailPattern = regexp.MustCompile(`^[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}$`)

// InferOptions limits schema inference
type InferOptions struct {
	// MaxRows caps the rows inspected. 0 inspects every row.
	MaxRows int
	// SampleSize is the number of rows kept in the result. Default 5.
	SampleSize int
}

// fieldStats accumulates observations for one column
type fieldStats struct {
	name      string
	kinds     map[model.Kind]int
	nulls     int
	distinct  map[string]struct{}
	duplicate bool
	examples  []Value
}

func newFieldStats(name string) *fieldStats {
	return &fieldStats{
		name:     name,
		kinds:    make(map[model.Kind]int),
		distinct: make(map[string]struct{}),
	}
}

func (s *fieldStats) observe(v Value) {
	if v.IsEmpty() {
		s.nulls++
		return
	}
	s.kinds[v.Kind()]++

	key := v.Kind().String() + "\x00" + v.Text()
	if _, ok := s.distinct[key]; ok {
		s.duplicate = true
	} else if len(s.distinct) < maxDistinctTracked {
		s.distinct[key] = struct{}{}
	}

	if len(s.examples) < maxExamples {
		s.examples = append(s.examples, v)
	}
}

// fieldType applies the precedence date > number > boolean > string and refines strings
// by looking at the first example.
func (s *fieldStats) fieldType() model.FieldType {
	switch {
	case s.kinds[model.KindDate] > 0:
		return model.FieldTypeDate
	case s.kinds[model.KindNumber] > 0:
		return model.FieldTypeNumber
	case s.kinds[model.KindBool] > 0:
		return model.FieldTypeBoolean
	}
	if len(s.examples) == 0 {
		return model.FieldTypeString
	}
	return refineStringType(s.examples[0].Text())
}

// refineStringType classifies text that was not cast by the reader
func refineStringType(text string) model.FieldType {
	text = strings.TrimSpace(text)
	switch {
	case emailPattern.MatchString(text):
		return model.FieldTypeEmail
	case isUUID(text):
		return model.FieldTypeUUID
	case model.IsDatetime(text):
		return model.FieldTypeDate
	}
	if _, ok := parseNumber(text); ok {
		return model.FieldTypeNumber
	}
	if _, ok := parseBool(text); ok {
		return model.FieldTypeBoolean
	}
	return model.FieldTypeString
}

// isUUID accepts the canonical 36 character form only
func isUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

// schemaBuilder accumulates rows into an InferredSchema
type schemaBuilder struct {
	opts   InferOptions
	order  []*fieldStats
	fields map[string]*fieldStats
	rows   int
	sample []Row
}

func newSchemaBuilder(opts InferOptions) *schemaBuilder {
	if opts.SampleSize <= 0 {
		opts.SampleSize = defaultSchemaSample
	}
	return &schemaBuilder{opts: opts, fields: make(map[string]*fieldStats)}
}

// full reports whether MaxRows rows were seen
func (b *schemaBuilder) full() bool {
	return b.opts.MaxRows > 0 && b.rows >= b.opts.MaxRows
}

func (b *schemaBuilder) add(row Row) {
	b.rows++
	if len(b.sample) < b.opts.SampleSize {
		b.sample = append(b.sample, row)
	}

	for _, f := range row.Fields() {
		st, ok := b.fields[f.Name]
		if !ok {
			st = newFieldStats(f.Name)
			// rows seen before this column appeared lacked it
			st.nulls = b.rows - 1
			b.fields[f.Name] = st
			b.order = append(b.order, st)
		}
		st.observe(f.Value)
	}
	for _, st := range b.order {
		if !row.Has(st.name) {
			st.nulls++
		}
	}
}

func (b *schemaBuilder) build() InferredSchema {
	fields := make([]model.FieldSchema, len(b.order))
	for i, st := range b.order {
		example := NullValue()
		if len(st.examples) > 0 {
			example = st.examples[0]
		}
		fields[i] = model.FieldSchema{
			Name:          st.name,
			Type:          st.fieldType(),
			Nullable:      st.nulls > 0,
			Unique:        b.rows > 0 && st.nulls == 0 && !st.duplicate,
			Example:       example,
			Examples:      st.examples,
			NullCount:     st.nulls,
			DistinctCount: len(st.distinct),
		}
	}
	return InferredSchema{
		Fields:      fields,
		RowCount:    b.rows,
		ColumnCount: len(fields),
		Sample:      b.sample,
	}
}

// InferSchema derives field types, nullability and uniqueness from rows
func InferSchema(rows []Row, opts InferOptions) InferredSchema {
	b := newSchemaBuilder(opts)
	for _, row := range rows {
		if b.full() {
			break
		}
		b.add(row)
	}
	return b.build()
}

// InferSchemaFrom reads up to opts.MaxRows rows from r, infers their schema and closes r
func InferSchemaFrom(r RowReader, opts InferOptions) (_ InferredSchema, err error) {
	defer func() {
		if closeErr := r.Close(); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
	}()

	b := newSchemaBuilder(opts)
	for !b.full() {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return InferredSchema{}, err
		}
		b.add(row)
	}
	return b.build(), nil
}
