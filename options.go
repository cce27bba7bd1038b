package rowflow

import (
	"fmt"
	"log/slog"
	"strings"
)

const (
	// DefaultBatchSize is the number of rows persisted per batch
	DefaultBatchSize = 1000
	// DefaultChunkSize is the number of records fetched per export page
	DefaultChunkSize = 1000
)

// ErrorStrategy decides what a row-level error does to an import
type ErrorStrategy string

const (
	// ErrorStrategySkip records errors and continues. The job ends partial.
	ErrorStrategySkip ErrorStrategy = "skip"
	// ErrorStrategyAbort stops at the first validation or persistence error. The job ends failed.
	ErrorStrategyAbort ErrorStrategy = "abort"
	// ErrorStrategyQuarantine is recognised but not supported
	ErrorStrategyQuarantine ErrorStrategy = "quarantine"
	// ErrorStrategyFix is recognised but not supported
	ErrorStrategyFix ErrorStrategy = "fix"
	// ErrorStrategyPrompt is recognised but not supported
	ErrorStrategyPrompt ErrorStrategy = "prompt"
)

// ImportOptions configures Import. Build it with NewImportOptions and the With methods,
// or as a literal; unset fields take their defaults when the import starts.
//
// Example:
//
//	opts := NewImportOptions().
//		WithFormat(FormatCSV).
//		WithValidation(rules...).
//		WithErrorStrategy(ErrorStrategyAbort).
//		WithUpsertKeys("id")
type ImportOptions struct {
	// Format of the input. Default CSV.
	Format Format
	// Compression of the input. Default none; CompressionAuto sniffs magic bytes.
	Compression Compression
	// Reader configures delimited and spreadsheet parsing.
	Reader ReaderConfig
	// DetectDelimiter samples the input to choose Reader.Delimiter.
	DetectDelimiter bool
	// SampleLines is the delimiter detection sample. Default 10.
	SampleLines int
	// Mapping rules; empty means rows are persisted as parsed.
	Mapping []MappingRule
	// KeepUnmapped copies source columns that no mapping rule consumed.
	KeepUnmapped bool
	// Validation rules; empty means no validation.
	Validation []ValidationRule
	// ErrorStrategy is skip or abort. Default skip.
	ErrorStrategy ErrorStrategy
	// DeduplicateBy lists the columns of the composite dedup key.
	DeduplicateBy []string
	// DryRun computes counts without persisting.
	DryRun bool
	// BatchSize is the number of rows per batch. Default 1000.
	BatchSize int
	// UseTransaction wraps every batch in a sink transaction.
	UseTransaction bool
	// UpsertKeys switches persistence from create to upsert on these columns.
	UpsertKeys []string
	// Parallelism is the number of batches persisted concurrently. Default 1.
	Parallelism int
	// MemoryLimitMB fails the job when the heap reaches this size while rows are read.
	// 0 disables the check.
	MemoryLimitMB int64
	// Observer receives lifecycle, progress and row error events.
	Observer Observer
	// Logger receives structured logs. Default slog.Default().
	Logger *slog.Logger
	// JobID overrides the generated job identifier.
	JobID string
}

// NewImportOptions returns fully populated defaults. The field delimiter stays unset so that
// it follows the format chosen later: ',' for CSV and '\t' for TSV.
func NewImportOptions() ImportOptions {
	o := ImportOptions{}.normalize()
	o.Reader.Delimiter = 0
	return o
}

// WithFormat sets the input format
func (o ImportOptions) WithFormat(format Format) ImportOptions {
	o.Format = format
	return o
}

// WithCompression sets the input compression
func (o ImportOptions) WithCompression(compression Compression) ImportOptions {
	o.Compression = compression
	return o
}

// WithReader sets the parsing options
func (o ImportOptions) WithReader(cfg ReaderConfig) ImportOptions {
	o.Reader = cfg
	return o
}

// WithDelimiterDetection samples sampleLines lines to choose the delimiter
func (o ImportOptions) WithDelimiterDetection(sampleLines int) ImportOptions {
	o.DetectDelimiter = true
	o.SampleLines = sampleLines
	return o
}

// WithMapping sets the mapping rules
func (o ImportOptions) WithMapping(rules ...MappingRule) ImportOptions {
	o.Mapping = rules
	return o
}

// WithValidation sets the validation rules
func (o ImportOptions) WithValidation(rules ...ValidationRule) ImportOptions {
	o.Validation = rules
	return o
}

// WithErrorStrategy sets the error strategy
func (o ImportOptions) WithErrorStrategy(strategy ErrorStrategy) ImportOptions {
	o.ErrorStrategy = strategy
	return o
}

// WithDeduplication drops later rows whose columns repeat an earlier row
func (o ImportOptions) WithDeduplication(columns ...string) ImportOptions {
	o.DeduplicateBy = columns
	return o
}

// WithDryRun toggles dry run mode
func (o ImportOptions) WithDryRun(dryRun bool) ImportOptions {
	o.DryRun = dryRun
	return o
}

// WithBatchSize sets the rows per batch
func (o ImportOptions) WithBatchSize(size int) ImportOptions {
	o.BatchSize = size
	return o
}

// WithTransaction toggles one transaction per batch
func (o ImportOptions) WithTransaction(useTransaction bool) ImportOptions {
	o.UseTransaction = useTransaction
	return o
}

// WithUpsertKeys persists rows by upsert on keys
func (o ImportOptions) WithUpsertKeys(keys ...string) ImportOptions {
	o.UpsertKeys = keys
	return o
}

// WithParallelism persists up to n batches concurrently
func (o ImportOptions) WithParallelism(n int) ImportOptions {
	o.Parallelism = n
	return o
}

// WithMemoryLimit fails the import when the heap reaches limitMB megabytes while reading
func (o ImportOptions) WithMemoryLimit(limitMB int64) ImportOptions {
	o.MemoryLimitMB = limitMB
	return o
}

// WithObserver sets the event observer
func (o ImportOptions) WithObserver(observer Observer) ImportOptions {
	o.Observer = observer
	return o
}

// WithLogger sets the logger
func (o ImportOptions) WithLogger(logger *slog.Logger) ImportOptions {
	o.Logger = logger
	return o
}

// normalize fills every unset field with its default. It has no side effects.
func (o ImportOptions) normalize() ImportOptions {
	if o.ErrorStrategy == "" {
		o.ErrorStrategy = ErrorStrategySkip
	}
	if o.BatchSize == 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.Parallelism == 0 {
		o.Parallelism = 1
	}
	if o.SampleLines == 0 {
		o.SampleLines = DefaultSampleLines
	}
	if o.Observer == nil {
		o.Observer = nopObserver{}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Format == FormatTSV && o.Reader.Delimiter == 0 {
		o.Reader.Delimiter = '\t'
	}
	o.Reader = o.Reader.withDefaults()
	return o
}

// Validate rejects invalid options. It never touches the input.
func (o ImportOptions) Validate() error {
	o = o.normalize()

	switch o.Format {
	case FormatCSV, FormatTSV, FormatJSON, FormatNDJSON, FormatXLSX, FormatParquet:
	default:
		return configErr("Format", "%s cannot be imported", o.Format)
	}
	if o.Compression < CompressionNone || o.Compression > CompressionAuto {
		return configErr("Compression", "unknown compression %d", o.Compression)
	}
	if err := validateErrorStrategy(o.ErrorStrategy); err != nil {
		return err
	}
	if o.BatchSize < 0 {
		return configErr("BatchSize", "must be positive, got %d", o.BatchSize)
	}
	if o.Parallelism < 0 {
		return configErr("Parallelism", "must be positive, got %d", o.Parallelism)
	}
	if o.SampleLines < 0 {
		return configErr("SampleLines", "must be positive, got %d", o.SampleLines)
	}
	if o.MemoryLimitMB < 0 {
		return configErr("MemoryLimitMB", "must not be negative, got %d", o.MemoryLimitMB)
	}
	if err := checkColumnList("DeduplicateBy", o.DeduplicateBy); err != nil {
		return err
	}
	if err := checkColumnList("UpsertKeys", o.UpsertKeys); err != nil {
		return err
	}
	if err := o.Reader.Validate(); err != nil {
		return err
	}
	if err := ValidateMappingRules(o.Mapping); err != nil {
		return err
	}
	if _, err := NewValidator(o.Validation); err != nil {
		return err
	}
	return nil
}

func validateErrorStrategy(s ErrorStrategy) error {
	switch s {
	case ErrorStrategySkip, ErrorStrategyAbort:
		return nil
	case ErrorStrategyQuarantine, ErrorStrategyFix, ErrorStrategyPrompt:
		return &ConfigError{
			Field:  "ErrorStrategy",
			Reason: fmt.Sprintf("%q is not supported, use skip or abort", s),
			Err:    ErrUnsupportedStrategy,
		}
	default:
		return configErr("ErrorStrategy", "unknown strategy %q", s)
	}
}

func checkColumnList(field string, columns []string) error {
	seen := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		if strings.TrimSpace(c) == "" {
			return configErr(field, "column names must not be empty")
		}
		if _, dup := seen[c]; dup {
			return configErr(field, "column %q listed twice", c)
		}
		seen[c] = struct{}{}
	}
	return nil
}

// ExportOptions configures Export
type ExportOptions struct {
	// Format of the output. Default CSV.
	Format Format
	// Compression of the output. Default none.
	Compression Compression
	// Writer configures delimited output.
	Writer WriterConfig
	// Columns fixes the exported columns. Default: the keys of the first fetched record.
	Columns []string
	// Filter selects the exported records.
	Filter Filter
	// ChunkSize is the number of records per page. Default 1000.
	ChunkSize int
	// PagesPerSecond throttles page fetches. 0 disables throttling.
	PagesPerSecond float64
	// MemoryLimitMB shrinks the page size while the heap is close to this size.
	// 0 disables the check.
	MemoryLimitMB int64
	// Observer receives lifecycle and progress events.
	Observer Observer
	// Logger receives structured logs. Default slog.Default().
	Logger *slog.Logger
	// TaskID overrides the generated task identifier.
	TaskID string
}

// NewExportOptions returns fully populated defaults. As with NewImportOptions the field
// delimiter follows the format unless set explicitly.
func NewExportOptions() ExportOptions {
	o := ExportOptions{}.normalize()
	o.Writer.Delimiter = 0
	return o
}

// WithFormat sets the output format
func (o ExportOptions) WithFormat(format Format) ExportOptions {
	o.Format = format
	return o
}

// WithCompression sets the output compression
func (o ExportOptions) WithCompression(compression Compression) ExportOptions {
	o.Compression = compression
	return o
}

// WithColumns fixes the exported columns
func (o ExportOptions) WithColumns(columns ...string) ExportOptions {
	o.Columns = columns
	return o
}

// WithFilter selects the exported records
func (o ExportOptions) WithFilter(filter Filter) ExportOptions {
	o.Filter = filter
	return o
}

// WithChunkSize sets the page size
func (o ExportOptions) WithChunkSize(size int) ExportOptions {
	o.ChunkSize = size
	return o
}

// WithRateLimit throttles page fetches
func (o ExportOptions) WithRateLimit(pagesPerSecond float64) ExportOptions {
	o.PagesPerSecond = pagesPerSecond
	return o
}

// WithMemoryLimit shrinks pages while the heap is close to limitMB megabytes
func (o ExportOptions) WithMemoryLimit(limitMB int64) ExportOptions {
	o.MemoryLimitMB = limitMB
	return o
}

// WithObserver sets the event observer
func (o ExportOptions) WithObserver(observer Observer) ExportOptions {
	o.Observer = observer
	return o
}

// WithLogger sets the logger
func (o ExportOptions) WithLogger(logger *slog.Logger) ExportOptions {
	o.Logger = logger
	return o
}

// FileExtension returns the complete file extension including compression
func (o ExportOptions) FileExtension() string {
	return o.Format.Extension() + o.Compression.Extension()
}

// normalize fills every unset field with its default. It has no side effects.
func (o ExportOptions) normalize() ExportOptions {
	if o.ChunkSize == 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.Observer == nil {
		o.Observer = nopObserver{}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if len(o.Columns) > 0 && len(o.Writer.Columns) == 0 {
		o.Writer.Columns = o.Columns
	}
	if o.Format == FormatTSV && o.Writer.Delimiter == 0 {
		o.Writer.Delimiter = '\t'
	}
	o.Writer = o.Writer.withDefaults()
	return o
}

// Validate rejects invalid options
func (o ExportOptions) Validate() error {
	o = o.normalize()

	if o.Format < FormatCSV || o.Format > FormatXML {
		return configErr("Format", "unknown format %d", o.Format)
	}
	if !o.Compression.canWrite() {
		return configErr("Compression", "%s is not supported for output", o.Compression)
	}
	if o.ChunkSize < 0 {
		return configErr("ChunkSize", "must be positive, got %d", o.ChunkSize)
	}
	if o.PagesPerSecond < 0 {
		return configErr("PagesPerSecond", "must not be negative")
	}
	if o.MemoryLimitMB < 0 {
		return configErr("MemoryLimitMB", "must not be negative, got %d", o.MemoryLimitMB)
	}
	if err := checkColumnList("Columns", o.Columns); err != nil {
		return err
	}
	return o.Writer.Validate()
}
