package rowflow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nao1215/rowflow/domain/model"
)

// Error taxonomy shared with the domain model
var (
	// ErrParse indicates a malformed line or an unreadable stream. Always fatal to a job.
	ErrParse = model.ErrParse

	// ErrConfiguration indicates invalid options. Returned before any I/O happens.
	ErrConfiguration = model.ErrConfiguration

	// ErrValidation indicates rule violations that aborted an import
	ErrValidation = model.ErrValidation

	// ErrPersistence indicates a sink rejection that aborted an import
	ErrPersistence = model.ErrPersistence
)

var (
	// ErrEmptyData indicates that the data source contains no records
	ErrEmptyData = errors.New("rowflow: empty data source")

	// ErrUnsupportedFormat indicates an unsupported file format
	ErrUnsupportedFormat = errors.New("rowflow: unsupported file format")

	// ErrUnterminatedQuote indicates a quoted field that is still open at the end of a line
	ErrUnterminatedQuote = errors.New("unterminated quoted field")

	// ErrUnsupportedStrategy indicates a declared but unimplemented mapping or error strategy
	ErrUnsupportedStrategy = errors.New("rowflow: unsupported strategy")
)

// Typed errors of the taxonomy
type (
	// ParseError reports a malformed line
	ParseError = model.ParseError
	// ConfigError reports one invalid option
	ConfigError = model.ConfigError
	// PersistenceError reports a row the sink rejected
	PersistenceError = model.PersistenceError
	// ValidationFailedError is returned when validation aborts an import
	ValidationFailedError = model.ValidationFailedError
)

// ErrorContext provides context for where an error occurred
type ErrorContext struct {
	Operation string
	JobID     string
	Format    string
	Details   string
}

// NewErrorContext creates a new error context
func NewErrorContext(operation, jobID string) *ErrorContext {
	return &ErrorContext{
		Operation: operation,
		JobID:     jobID,
	}
}

// WithFormat adds format context to the error
func (ec *ErrorContext) WithFormat(format string) *ErrorContext {
	ec.Format = format
	return ec
}

// WithDetails adds details to the error context
func (ec *ErrorContext) WithDetails(details string) *ErrorContext {
	ec.Details = details
	return ec
}

// Error creates a formatted error with context
func (ec *ErrorContext) Error(baseErr error) error {
	var parts []string
	parts = append(parts, fmt.Sprintf("rowflow: %s failed", ec.Operation))

	if ec.JobID != "" {
		parts = append(parts, "job: "+ec.JobID)
	}

	if ec.Format != "" {
		parts = append(parts, "format: "+ec.Format)
	}

	if ec.Details != "" {
		parts = append(parts, "details: "+ec.Details)
	}

	context := strings.Join(parts, ", ")
	if baseErr != nil {
		return fmt.Errorf("%s: %w", context, baseErr)
	}
	return errors.New(context)
}

// configErr is shorthand for a *ConfigError
func configErr(field, format string, args ...any) error {
	return model.NewConfigError(field, format, args...)
}
