package rowflow

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nao1215/rowflow/domain/model"
)

// closingBuffer is an output that records Close calls
type closingBuffer struct {
	bytes.Buffer
	closed int
}

func (b *closingBuffer) Close() error {
	b.closed++
	return nil
}

func people() *memSink {
	return &memSink{rows: []Row{
		NewRow(Field{Name: "id", Value: NumberValue(1)}, Field{Name: "name", Value: StringValue("alice")}, Field{Name: "team", Value: StringValue("a")}),
		NewRow(Field{Name: "id", Value: NumberValue(2)}, Field{Name: "name", Value: StringValue("bob")}, Field{Name: "team", Value: StringValue("b")}),
		NewRow(Field{Name: "id", Value: NumberValue(3)}, Field{Name: "name", Value: StringValue("carol")}, Field{Name: "team", Value: StringValue("a")}),
	}}
}

func TestExportJSON(t *testing.T) {
	t.Parallel()

	src := people()
	out := &closingBuffer{}
	rec := &recorder{}
	opts := NewExportOptions().WithFormat(FormatJSON).WithChunkSize(2).WithObserver(rec)

	task, err := Export(context.Background(), src, out, opts)
	require.NoError(t, err)
	assert.Equal(t, "[\n"+
		"{\"id\":1,\"name\":\"alice\",\"team\":\"a\"},\n"+
		"{\"id\":2,\"name\":\"bob\",\"team\":\"b\"},\n"+
		"{\"id\":3,\"name\":\"carol\",\"team\":\"a\"}\n"+
		"]\n", out.String())

	assert.Equal(t, model.StatusCompleted, task.Status)
	assert.Equal(t, 3, task.TotalRows)
	assert.Equal(t, 3, task.ExportedRows)
	assert.Equal(t, int64(out.Len()), task.BytesWritten)
	assert.Equal(t, []string{"id", "name", "team"}, task.Columns)
	assert.Equal(t, 1, out.closed)
	assert.Equal(t, []pageCall{{2, 0}, {2, 2}}, src.pages)

	progress := rec.ofType(EventProgress)
	require.Len(t, progress, 3)
	assert.InDelta(t, 100.0, progress[2].Progress.Percent, 1e-9)
	assert.Equal(t, []JobStatus{model.StatusProcessing, model.StatusCompleted}, rec.statuses())
}

func TestExportPaging(t *testing.T) {
	t.Parallel()

	src := &memSink{rows: numberedRows(4)}
	var out bytes.Buffer
	task, err := Export(context.Background(), src, &out, NewExportOptions().WithChunkSize(2))
	require.NoError(t, err)
	assert.Equal(t, 4, task.ExportedRows)
	assert.Equal(t, []pageCall{{2, 0}, {2, 2}, {2, 4}}, src.pages)
	assert.Equal(t, "id\n1\n2\n3\n4\n", out.String())
}

func TestExportColumnsAndFilter(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	opts := NewExportOptions().
		WithColumns("name", "missing").
		WithFilter(Filter{"team": StringValue("a")})
	task, err := Export(context.Background(), people(), &out, opts)
	require.NoError(t, err)
	assert.Equal(t, 2, task.TotalRows)
	assert.Equal(t, "name,missing\nalice,\ncarol,\n", out.String())
}

func TestExportEmptySource(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		format Format
		want   string
	}{
		{FormatJSON, "[]\n"},
		{FormatNDJSON, ""},
		{FormatCSV, ""},
	} {
		src := &memSink{}
		var out bytes.Buffer
		task, err := Export(context.Background(), src, &out, NewExportOptions().WithFormat(tt.format))
		require.NoError(t, err, tt.format.String())
		assert.Equal(t, tt.want, out.String(), tt.format.String())
		assert.Zero(t, task.ExportedRows)
		assert.Len(t, src.pages, 1)
	}
}

func TestExportCompressed(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	opts := NewExportOptions().WithFormat(FormatTSV).WithCompression(CompressionGZ)
	task, err := Export(context.Background(), people(), &out, opts)
	require.NoError(t, err)
	assert.Equal(t, int64(out.Len()), task.BytesWritten)
	assert.Equal(t, "tsv", task.Format)
	assert.Equal(t, ".tsv.gz", opts.FileExtension())

	zr, err := gzip.NewReader(&out)
	require.NoError(t, err)
	data, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, "id\tname\tteam\n1\talice\ta\n2\tbob\tb\n3\tcarol\ta\n", string(data))
}

func TestExportXMLAnnouncesCount(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	_, err := Export(context.Background(), people(), &out, NewExportOptions().WithFormat(FormatXML).WithRateLimit(1000))
	require.NoError(t, err)
	assert.Contains(t, out.String(), `<rows count="3">`)
	assert.Contains(t, out.String(), `<row n="3">`)
}

func TestExportErrors(t *testing.T) {
	t.Parallel()

	t.Run("page failure closes the output", func(t *testing.T) {
		t.Parallel()

		boom := errors.New("connection reset")
		src := people()
		src.failPage = boom
		out := &closingBuffer{}
		task, err := Export(context.Background(), src, out, NewExportOptions())
		require.Error(t, err)
		assert.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), task.ID)
		assert.Equal(t, model.StatusFailed, task.Status)
		assert.Equal(t, 1, out.closed)
	})

	t.Run("invalid options", func(t *testing.T) {
		t.Parallel()

		out := &closingBuffer{}
		task, err := Export(context.Background(), people(), out, NewExportOptions().WithCompression(CompressionBZ2))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrConfiguration)
		require.NotNil(t, task)
		assert.Equal(t, model.StatusFailed, task.Status)
		assert.Equal(t, 1, out.closed)
		assert.Zero(t, out.Len())
	})

	t.Run("missing source", func(t *testing.T) {
		t.Parallel()

		_, err := Export(context.Background(), nil, io.Discard, NewExportOptions())
		assert.ErrorIs(t, err, ErrConfiguration)
	})

	t.Run("canceled", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		task, err := Export(ctx, people(), io.Discard, NewExportOptions())
		assert.ErrorIs(t, err, context.Canceled)
		assert.Zero(t, task.ExportedRows)
	})
}

func TestExportShrinksPagesUnderMemoryPressure(t *testing.T) {
	t.Parallel()

	src := &memSink{rows: numberedRows(5)}
	e := newExporter(NewExportOptions().WithChunkSize(4))
	e.memory = fixedHeap(10, 9)

	var out bytes.Buffer
	require.NoError(t, e.stream(context.Background(), src, NewCSVWriter(&out, WriterConfig{})))
	assert.Equal(t, []pageCall{{2, 0}, {2, 2}, {2, 4}}, src.pages)
	assert.Equal(t, 5, e.task.ExportedRows)
}
