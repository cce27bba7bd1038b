package model

import (
	"fmt"
	"time"
)

// JobStatus is the lifecycle state of an import job or export task
type JobStatus string

const (
	// StatusPending means the job was created but has not started
	StatusPending JobStatus = "pending"
	// StatusValidating means rows are being mapped and validated
	StatusValidating JobStatus = "validating"
	// StatusProcessing means rows are being persisted or written
	StatusProcessing JobStatus = "processing"
	// StatusCompleted means the job finished without errors
	StatusCompleted JobStatus = "completed"
	// StatusPartial means the job finished with errors but was not aborted
	StatusPartial JobStatus = "partial"
	// StatusFailed means the job was aborted
	StatusFailed JobStatus = "failed"
)

// IsTerminal reports whether s is a final state
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusPartial || s == StatusFailed
}

// Severity of an ImportError
type Severity string

const (
	// SeverityError blocks the row
	SeverityError Severity = "error"
	// SeverityWarning is informational
	SeverityWarning Severity = "warning"
)

// ErrorCode classifies an ImportError
type ErrorCode string

// Error codes produced by the validator and the import pipeline
const (
	CodeRequired  ErrorCode = "REQUIRED"
	CodeType      ErrorCode = "TYPE"
	CodeMinLength ErrorCode = "MIN_LENGTH"
	CodeMaxLength ErrorCode = "MAX_LENGTH"
	CodeMin       ErrorCode = "MIN"
	CodeMax       ErrorCode = "MAX"
	CodePattern   ErrorCode = "PATTERN"
	CodeEnum      ErrorCode = "ENUM"
	CodeCustom    ErrorCode = "CUSTOM"
	CodePersist   ErrorCode = "PERSIST"
	CodeParse     ErrorCode = "PARSE"
)

// ImportError is one row-level problem. Row is the 1-based data row number.
type ImportError struct {
	Row         int
	Field       string
	Value       Value
	Code        ErrorCode
	Message     string
	Severity    Severity
	Recoverable bool
	Raw         Row
}

// Error implements error
func (e ImportError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("row %d: %s", e.Row, e.Message)
	}
	return fmt.Sprintf("row %d, field %s: %s", e.Row, e.Field, e.Message)
}

// MappingWarning is a non-fatal problem raised while mapping a row
type MappingWarning struct {
	Row     int
	Source  string
	Target  string
	Value   Value
	Message string
}

// String implements fmt.Stringer
func (w MappingWarning) String() string {
	return fmt.Sprintf("row %d, %s -> %s: %s", w.Row, w.Source, w.Target, w.Message)
}

// ConfigSnapshot records the effective options of a job
type ConfigSnapshot struct {
	Format          string
	Compression     string
	Delimiter       string
	BatchSize       int
	ErrorStrategy   string
	UseTransaction  bool
	UpsertKeys      []string
	DeduplicateBy   []string
	DryRun          bool
	Parallelism     int
	MappingRules    int
	ValidationRules int
}

// ImportJob is the running summary of one import
type ImportJob struct {
	ID            string
	Format        string
	Status        JobStatus
	TotalRows     int
	ProcessedRows int
	ValidRows     int
	InvalidRows   int
	SkippedRows   int
	SuccessRows   int
	FailedRows    int
	Warnings      []MappingWarning
	Errors        []ImportError
	Config        ConfigSnapshot
	StartedAt     time.Time
	FinishedAt    time.Time
	Throughput    float64
	Summary       string
}

// Duration returns the elapsed time of a finished job, or the time since start otherwise
func (j *ImportJob) Duration() time.Duration {
	if j.FinishedAt.IsZero() {
		return time.Since(j.StartedAt)
	}
	return j.FinishedAt.Sub(j.StartedAt)
}

// ExportTask is the running summary of one export
type ExportTask struct {
	ID           string
	Format       string
	Compression  string
	Status       JobStatus
	TotalRows    int
	ExportedRows int
	Columns      []string
	BytesWritten int64
	StartedAt    time.Time
	FinishedAt   time.Time
	Throughput   float64
}

// Duration returns the elapsed time of a finished task, or the time since start otherwise
func (t *ExportTask) Duration() time.Duration {
	if t.FinishedAt.IsZero() {
		return time.Since(t.StartedAt)
	}
	return t.FinishedAt.Sub(t.StartedAt)
}
