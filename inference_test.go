package rowflow

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInferSchema(t *testing.T) {
	t.Parallel()

	rows := readCSV(t, `id,email,uid,joined,active,note,score
1,alice@example.com,6ba7b810-9dad-11d1-80b4-00c04fd430c8,2024-01-15,true,hello,
2,bob@example.com,6ba7b811-9dad-11d1-80b4-00c04fd430c8,2024-02-01,false,hello,3.5
3,carol@example.com,6ba7b812-9dad-11d1-80b4-00c04fd430c8,2024-03-10,true,,4
`, ReaderConfig{EmptyAsNull: true})

	schema := InferSchema(rows, InferOptions{})
	assert.Equal(t, 3, schema.RowCount)
	assert.Equal(t, 7, schema.ColumnCount)
	assert.Equal(t, []string{"id", "email", "uid", "joined", "active", "note", "score"}, schema.Columns())
	assert.Len(t, schema.Sample, 3)

	tests := []struct {
		name     string
		typ      FieldType
		nullable bool
		unique   bool
	}{
		{"id", TypeNumber, false, true},
		{"email", TypeEmail, false, true},
		{"uid", TypeUUID, false, true},
		{"joined", TypeDate, false, true},
		{"active", TypeBoolean, false, false},
		{"note", TypeString, true, false},
		{"score", TypeNumber, true, false},
	}
	for _, tt := range tests {
		f, ok := schema.Field(tt.name)
		require.True(t, ok, tt.name)
		assert.Equal(t, tt.typ, f.Type, tt.name)
		assert.Equal(t, tt.nullable, f.Nullable, tt.name)
		assert.Equal(t, tt.unique, f.Unique, tt.name)
	}

	note, _ := schema.Field("note")
	assert.Equal(t, 1, note.NullCount)
	assert.Equal(t, 1, note.DistinctCount)
	assert.Equal(t, StringValue("hello"), note.Example)
}

func TestInferSchemaCastValuesWin(t *testing.T) {
	t.Parallel()

	rows := readCSV(t, "n,b\n1,true\nx,false\n", ReaderConfig{CastNumbers: true, CastBooleans: true})
	schema := InferSchema(rows, InferOptions{})

	n, _ := schema.Field("n")
	assert.Equal(t, TypeNumber, n.Type)
	b, _ := schema.Field("b")
	assert.Equal(t, TypeBoolean, b.Type)
}

func TestInferSchemaSparseColumns(t *testing.T) {
	t.Parallel()

	rows := []Row{
		NewRow(Field{Name: "a", Value: NumberValue(1)}),
		NewRow(Field{Name: "a", Value: NumberValue(2)}, Field{Name: "b", Value: StringValue("x")}),
	}
	schema := InferSchema(rows, InferOptions{})
	b, ok := schema.Field("b")
	require.True(t, ok)
	assert.True(t, b.Nullable)
	assert.Equal(t, 1, b.NullCount)
	assert.False(t, b.Unique)
}

func TestInferSchemaLimits(t *testing.T) {
	t.Parallel()

	rows := make([]Row, 20)
	for i := range rows {
		rows[i] = NewRow(Field{Name: "i", Value: NumberValue(float64(i))})
	}

	schema := InferSchema(rows, InferOptions{MaxRows: 10, SampleSize: 2})
	assert.Equal(t, 10, schema.RowCount)
	assert.Len(t, schema.Sample, 2)

	empty := InferSchema(nil, InferOptions{})
	assert.Zero(t, empty.RowCount)
	assert.Empty(t, empty.Fields)
}

type failingReader struct {
	rows   []Row
	err    error
	closed bool
}

func (r *failingReader) Read() (Row, error) {
	if len(r.rows) == 0 {
		return Row{}, r.err
	}
	row := r.rows[0]
	r.rows = r.rows[1:]
	return row, nil
}

func (r *failingReader) Close() error {
	r.closed = true
	return nil
}

func TestInferSchemaFrom(t *testing.T) {
	t.Parallel()

	t.Run("stops at MaxRows", func(t *testing.T) {
		t.Parallel()
		r := &failingReader{
			rows: []Row{NewRow(Field{Name: "a", Value: StringValue("x")}), NewRow(Field{Name: "a", Value: StringValue("y")})},
			err:  errors.New("must not be reached"),
		}
		schema, err := InferSchemaFrom(r, InferOptions{MaxRows: 2})
		require.NoError(t, err)
		assert.Equal(t, 2, schema.RowCount)
		assert.True(t, r.closed)
	})

	t.Run("EOF", func(t *testing.T) {
		t.Parallel()
		r := &failingReader{rows: []Row{NewRow(Field{Name: "a", Value: StringValue("x")})}, err: io.EOF}
		schema, err := InferSchemaFrom(r, InferOptions{})
		require.NoError(t, err)
		assert.Equal(t, 1, schema.RowCount)
	})

	t.Run("read error", func(t *testing.T) {
		t.Parallel()
		r := &failingReader{err: &ParseError{Line: 3, Err: errors.New("bad")}}
		_, err := InferSchemaFrom(r, InferOptions{})
		assert.ErrorIs(t, err, ErrParse)
		assert.True(t, r.closed)
	})
}
