package rowflow

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewImportOptions(t *testing.T) {
	t.Parallel()

	opts := NewImportOptions()
	assert.Equal(t, FormatCSV, opts.Format)
	assert.Equal(t, CompressionNone, opts.Compression)
	assert.Equal(t, ErrorStrategySkip, opts.ErrorStrategy)
	assert.Equal(t, DefaultBatchSize, opts.BatchSize)
	assert.Equal(t, 1, opts.Parallelism)
	assert.Equal(t, DefaultSampleLines, opts.SampleLines)
	assert.Equal(t, rune(0), opts.Reader.Delimiter)
	assert.Equal(t, ',', opts.normalize().Reader.Delimiter)
	assert.Equal(t, '"', opts.Reader.Quote)
	assert.Equal(t, "utf-8", opts.Reader.Encoding)
	assert.NotNil(t, opts.Observer)
	assert.NotNil(t, opts.Logger)
	require.NoError(t, opts.Validate())
}

func TestImportOptionsBuilders(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.DiscardHandler)
	rec := &recorder{}
	base := NewImportOptions()
	opts := base.
		WithFormat(FormatNDJSON).
		WithCompression(CompressionAuto).
		WithDelimiterDetection(5).
		WithMapping(MappingRule{Source: "a", Target: "b", Strategy: Exact{}}).
		WithValidation(ValidationRule{Field: "b", Required: true}).
		WithErrorStrategy(ErrorStrategyAbort).
		WithDeduplication("b").
		WithDryRun(true).
		WithBatchSize(10).
		WithTransaction(true).
		WithUpsertKeys("b").
		WithParallelism(4).
		WithMemoryLimit(512).
		WithObserver(rec).
		WithLogger(logger)

	assert.Equal(t, FormatNDJSON, opts.Format)
	assert.Equal(t, CompressionAuto, opts.Compression)
	assert.True(t, opts.DetectDelimiter)
	assert.Equal(t, 5, opts.SampleLines)
	assert.Len(t, opts.Mapping, 1)
	assert.Len(t, opts.Validation, 1)
	assert.Equal(t, ErrorStrategyAbort, opts.ErrorStrategy)
	assert.Equal(t, []string{"b"}, opts.DeduplicateBy)
	assert.True(t, opts.DryRun)
	assert.Equal(t, 10, opts.BatchSize)
	assert.True(t, opts.UseTransaction)
	assert.Equal(t, []string{"b"}, opts.UpsertKeys)
	assert.Equal(t, 4, opts.Parallelism)
	assert.Equal(t, int64(512), opts.MemoryLimitMB)
	assert.Same(t, logger, opts.Logger)
	require.NoError(t, opts.Validate())

	// builders work on copies
	assert.Equal(t, FormatCSV, base.Format)
	assert.False(t, base.DryRun)
}

func TestImportOptionsNormalizeTSV(t *testing.T) {
	t.Parallel()

	opts := ImportOptions{Format: FormatTSV}.normalize()
	assert.Equal(t, '\t', opts.Reader.Delimiter)

	opts = ImportOptions{Format: FormatTSV, Reader: ReaderConfig{Delimiter: ';'}}.normalize()
	assert.Equal(t, ';', opts.Reader.Delimiter)
}

func TestImportOptionsValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		opts        ImportOptions
		unsupported bool
	}{
		{name: "xml input", opts: ImportOptions{Format: FormatXML}},
		{name: "unknown compression", opts: ImportOptions{Compression: Compression(99)}},
		{name: "unknown strategy", opts: ImportOptions{ErrorStrategy: "retry"}},
		{name: "quarantine", opts: ImportOptions{ErrorStrategy: ErrorStrategyQuarantine}, unsupported: true},
		{name: "fix", opts: ImportOptions{ErrorStrategy: ErrorStrategyFix}, unsupported: true},
		{name: "prompt", opts: ImportOptions{ErrorStrategy: ErrorStrategyPrompt}, unsupported: true},
		{name: "negative batch", opts: ImportOptions{BatchSize: -1}},
		{name: "negative parallelism", opts: ImportOptions{Parallelism: -2}},
		{name: "negative sample", opts: ImportOptions{SampleLines: -1}},
		{name: "negative memory limit", opts: ImportOptions{MemoryLimitMB: -1}},
		{name: "empty dedup column", opts: ImportOptions{DeduplicateBy: []string{" "}}},
		{name: "repeated upsert key", opts: ImportOptions{UpsertKeys: []string{"id", "id"}}},
		{name: "quote equals delimiter", opts: ImportOptions{Reader: ReaderConfig{Delimiter: '"'}}},
		{name: "unknown encoding", opts: ImportOptions{Reader: ReaderConfig{Encoding: "klingon"}}},
		{name: "mapping without strategy", opts: ImportOptions{Mapping: []MappingRule{{Source: "a", Target: "a"}}}},
		{name: "validation without field", opts: ImportOptions{Validation: []ValidationRule{{Required: true}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.opts.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrConfiguration), err.Error())
			assert.Equal(t, tt.unsupported, errors.Is(err, ErrUnsupportedStrategy))

			var cfgErr *ConfigError
			assert.True(t, errors.As(err, &cfgErr))
		})
	}
}

func TestExportOptions(t *testing.T) {
	t.Parallel()

	opts := NewExportOptions()
	assert.Equal(t, FormatCSV, opts.Format)
	assert.Equal(t, DefaultChunkSize, opts.ChunkSize)
	assert.Equal(t, "\n", opts.Writer.RecordDelimiter)
	require.NoError(t, opts.Validate())

	opts = opts.
		WithFormat(FormatTSV).
		WithCompression(CompressionGZ).
		WithColumns("id", "name").
		WithFilter(Filter{"active": BoolValue(true)}).
		WithChunkSize(50).
		WithRateLimit(10).
		WithMemoryLimit(256)
	require.NoError(t, opts.Validate())
	assert.Equal(t, ".tsv.gz", opts.FileExtension())
	assert.Equal(t, 50, opts.ChunkSize)
	assert.InDelta(t, 10, opts.PagesPerSecond, 1e-9)
	assert.Equal(t, int64(256), opts.MemoryLimitMB)

	normalized := opts.normalize()
	assert.Equal(t, '\t', normalized.Writer.Delimiter)
	assert.Equal(t, []string{"id", "name"}, normalized.Writer.Columns)
}

func TestExportOptionsFileExtension(t *testing.T) {
	t.Parallel()

	tests := []struct {
		format      Format
		compression Compression
		want        string
	}{
		{FormatCSV, CompressionNone, ".csv"},
		{FormatJSON, CompressionXZ, ".json.xz"},
		{FormatXML, CompressionZSTD, ".xml.zst"},
		{FormatXLSX, CompressionGZ, ".xlsx.gz"},
	}
	for _, tt := range tests {
		opts := NewExportOptions().WithFormat(tt.format).WithCompression(tt.compression)
		assert.Equal(t, tt.want, opts.FileExtension())
	}
}

func TestExportOptionsValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		opts ExportOptions
	}{
		{name: "unknown format", opts: ExportOptions{Format: Format(42)}},
		{name: "bzip2 output", opts: ExportOptions{Compression: CompressionBZ2}},
		{name: "auto output", opts: ExportOptions{Compression: CompressionAuto}},
		{name: "negative chunk", opts: ExportOptions{ChunkSize: -1}},
		{name: "negative rate", opts: ExportOptions{PagesPerSecond: -1}},
		{name: "negative memory limit", opts: ExportOptions{MemoryLimitMB: -5}},
		{name: "repeated column", opts: ExportOptions{Columns: []string{"a", "a"}}},
		{name: "line break delimiter", opts: ExportOptions{Writer: WriterConfig{Delimiter: '\n'}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.opts.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrConfiguration), err.Error())
		})
	}
}
