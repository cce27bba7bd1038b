package rowflow

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nao1215/rowflow/domain/model"
)

// trackingReader records whether Close was called
type trackingReader struct {
	io.Reader
	closed int
}

func (r *trackingReader) Close() error {
	r.closed++
	return nil
}

func readCSV(t *testing.T, input string, cfg ReaderConfig) []Row {
	t.Helper()
	r, err := NewCSVReader(strings.NewReader(input), cfg)
	require.NoError(t, err)
	rows, err := ReadAll(r)
	require.NoError(t, err)
	return rows
}

func TestCSVReaderBasic(t *testing.T) {
	t.Parallel()

	r, err := NewCSVReader(strings.NewReader("id,name\n1,alice\n2,\"bob, jr\"\n"), ReaderConfig{})
	require.NoError(t, err)

	row, err := r.Read()
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name"}, r.Header())
	assert.Equal(t, 2, r.Line())
	assert.Equal(t, []string{"1", "alice"}, row.Texts())

	row, err = r.Read()
	require.NoError(t, err)
	v, ok := row.Get("name")
	require.True(t, ok)
	assert.Equal(t, "bob, jr", v.Text())
	assert.Equal(t, model.KindString, v.Kind())

	_, err = r.Read()
	assert.ErrorIs(t, err, io.EOF)
	_, err = r.Read()
	assert.ErrorIs(t, err, io.EOF)
	require.NoError(t, r.Close())
}

func TestCSVReaderCasting(t *testing.T) {
	t.Parallel()

	cfg := ReaderConfig{CastNumbers: true, CastBooleans: true, CastDates: true, EmptyAsNull: true}
	rows := readCSV(t, "n,b,d,e,s\n3.5,TRUE,2024-01-15,,0x1F\n", cfg)
	require.Len(t, rows, 1)

	tests := []struct {
		column string
		kind   model.Kind
	}{
		{"n", model.KindNumber},
		{"b", model.KindBool},
		{"d", model.KindDate},
		{"e", model.KindNull},
		{"s", model.KindString},
	}
	for _, tt := range tests {
		v, ok := rows[0].Get(tt.column)
		require.True(t, ok, tt.column)
		assert.Equal(t, tt.kind, v.Kind(), tt.column)
	}

	n, _ := rows[0].Get("n")
	num, _ := n.AsNumber()
	assert.Equal(t, 3.5, num)
}

func TestCSVReaderNoCastingByDefault(t *testing.T) {
	t.Parallel()

	rows := readCSV(t, "n,e\n42,\n", ReaderConfig{})
	require.Len(t, rows, 1)
	n, _ := rows[0].Get("n")
	e, _ := rows[0].Get("e")
	assert.Equal(t, model.KindString, n.Kind())
	assert.Equal(t, model.KindString, e.Kind())
	assert.True(t, e.IsEmpty())
}

func TestCSVReaderBOMAndLineEndings(t *testing.T) {
	t.Parallel()

	rows := readCSV(t, "\ufeffid,name\r\n1,alice\r\n", ReaderConfig{})
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"id", "name"}, rows[0].Keys())
	assert.Equal(t, []string{"1", "alice"}, rows[0].Texts())
}

func TestCSVReaderRaggedRows(t *testing.T) {
	t.Parallel()

	rows := readCSV(t, "a,b\n1\n1,2,3\n", ReaderConfig{})
	require.Len(t, rows, 2)

	b, ok := rows[0].Get("b")
	require.True(t, ok)
	assert.True(t, b.IsNull())

	assert.Equal(t, []string{"a", "b", "column3"}, rows[1].Keys())
}

func TestCSVReaderSurplusFieldKeepsHeaderColumn(t *testing.T) {
	t.Parallel()

	rows := readCSV(t, "a,column3\n1,2,3,4\n", ReaderConfig{})
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"a", "column3", "column3_2", "column4"}, rows[0].Keys())
	assert.Equal(t, []string{"1", "2", "3", "4"}, rows[0].Texts())
}

func TestCSVReaderHeaderOptions(t *testing.T) {
	t.Parallel()

	t.Run("no header", func(t *testing.T) {
		t.Parallel()
		rows := readCSV(t, "1,alice\n2,bob\n", ReaderConfig{NoHeader: true})
		require.Len(t, rows, 2)
		assert.Equal(t, []string{"column1", "column2"}, rows[0].Keys())
	})

	t.Run("explicit columns replace the header", func(t *testing.T) {
		t.Parallel()
		rows := readCSV(t, "x,y\n1,alice\n", ReaderConfig{Columns: []string{"id", "name"}})
		require.Len(t, rows, 1)
		assert.Equal(t, []string{"id", "name"}, rows[0].Keys())
	})

	t.Run("blank header names", func(t *testing.T) {
		t.Parallel()
		rows := readCSV(t, "id,\n1,2\n", ReaderConfig{})
		assert.Equal(t, []string{"id", "column2"}, rows[0].Keys())
	})
}

func TestCSVReaderDuplicateHeader(t *testing.T) {
	t.Parallel()

	r, err := NewCSVReader(strings.NewReader("id,id\n1,2\n"), ReaderConfig{})
	require.NoError(t, err)
	_, err = r.Read()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrParse)
	assert.ErrorIs(t, err, model.ErrDuplicateColumnName)
}

func TestCSVReaderUnterminatedQuote(t *testing.T) {
	t.Parallel()

	input := "id,name\n1,\"alice\n2,bob\n"
	src := &trackingReader{Reader: strings.NewReader(input)}
	r, err := NewCSVReader(src, ReaderConfig{})
	require.NoError(t, err)

	_, err = r.Read()
	require.Error(t, err)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 2, perr.Line)
	assert.ErrorIs(t, err, ErrUnterminatedQuote)
	assert.Equal(t, 1, src.closed)

	lenient := readCSV(t, input, ReaderConfig{LenientQuotes: true})
	require.Len(t, lenient, 2)
	assert.Equal(t, []string{"1", "alice"}, lenient[0].Texts())
}

func TestCSVReaderLimitsCloseSource(t *testing.T) {
	t.Parallel()

	input := "id\n1\n2\n3\n4\n5\n"

	t.Run("max rows", func(t *testing.T) {
		t.Parallel()
		src := &trackingReader{Reader: strings.NewReader(input)}
		r, err := NewCSVReader(src, ReaderConfig{MaxRows: 2})
		require.NoError(t, err)
		rows, err := ReadAll(r)
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, 1, src.closed)
	})

	t.Run("line window", func(t *testing.T) {
		t.Parallel()
		src := &trackingReader{Reader: strings.NewReader(input)}
		r, err := NewCSVReader(src, ReaderConfig{FromLine: 1, ToLine: 4})
		require.NoError(t, err)
		rows, err := ReadAll(r)
		require.NoError(t, err)
		require.Len(t, rows, 3)
		assert.Equal(t, "3", rows[2].Texts()[0])
		assert.Equal(t, 1, src.closed)
	})
}

func TestCSVReaderSkipsCommentsAndBlankLines(t *testing.T) {
	t.Parallel()

	rows := readCSV(t, "# exported\nid\n\n1\n  # note\n2\n", ReaderConfig{Comment: "#"})
	require.Len(t, rows, 2)

	kept := readCSV(t, "id\n\n1\n", ReaderConfig{KeepEmptyLines: true})
	require.Len(t, kept, 2)
	assert.True(t, kept[0].Fields()[0].Value.IsEmpty())
}

func TestCSVReaderTrim(t *testing.T) {
	t.Parallel()

	rows := readCSV(t, " id , name \n 1 , alice \n", ReaderConfig{Trim: true})
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"id", "name"}, rows[0].Keys())
	assert.Equal(t, []string{"1", "alice"}, rows[0].Texts())
}

func TestCSVReaderEncoding(t *testing.T) {
	t.Parallel()

	rows := readCSV(t, "name\ncaf\xe9\n", ReaderConfig{Encoding: "latin1"})
	require.Len(t, rows, 1)
	assert.Equal(t, "café", rows[0].Texts()[0])

	_, err := NewCSVReader(strings.NewReader(""), ReaderConfig{Encoding: "klingon"})
	assert.True(t, errors.Is(err, ErrConfiguration))
}

func TestReaderConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  ReaderConfig
	}{
		{name: "newline delimiter", cfg: ReaderConfig{Delimiter: '\n'}},
		{name: "quote equals delimiter", cfg: ReaderConfig{Delimiter: '"'}},
		{name: "negative max rows", cfg: ReaderConfig{MaxRows: -1}},
		{name: "inverted line window", cfg: ReaderConfig{FromLine: 5, ToLine: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			require.Error(t, err)
			var cerr *ConfigError
			assert.ErrorAs(t, err, &cerr)
		})
	}

	assert.NoError(t, NewReaderConfig(';').Validate())
}
