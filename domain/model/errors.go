package model

import (
	"errors"
	"fmt"
)

var (
	// ErrParse indicates a malformed line or an unreadable stream
	ErrParse = errors.New("rowflow: parse error")

	// ErrConfiguration indicates invalid options
	ErrConfiguration = errors.New("rowflow: invalid configuration")

	// ErrValidation indicates that rows violated validation rules
	ErrValidation = errors.New("rowflow: validation failed")

	// ErrPersistence indicates that the record sink rejected a row
	ErrPersistence = errors.New("rowflow: persistence failed")

	// ErrDuplicateColumnName is returned when a header contains duplicate column names
	ErrDuplicateColumnName = errors.New("rowflow: duplicate column name")
)

// ParseError reports a malformed line
type ParseError struct {
	Line int
	Err  error
}

// Error implements error
func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("rowflow: parse error at line %d: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("rowflow: parse error: %v", e.Err)
}

// Unwrap returns the cause
func (e *ParseError) Unwrap() []error {
	return []error{ErrParse, e.Err}
}

// ConfigError reports one invalid option
type ConfigError struct {
	Field  string
	Reason string
	// Err is an optional cause such as an unsupported feature sentinel
	Err error
}

// NewConfigError creates a ConfigError
func NewConfigError(field, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Error implements error
func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "rowflow: invalid configuration: " + e.Reason
	}
	return fmt.Sprintf("rowflow: invalid configuration: %s: %s", e.Field, e.Reason)
}

// Unwrap returns ErrConfiguration and the cause, if any
func (e *ConfigError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrConfiguration}
	}
	return []error{ErrConfiguration, e.Err}
}

// PersistenceError reports a row the sink rejected
type PersistenceError struct {
	Row int
	Err error
}

// Error implements error
func (e *PersistenceError) Error() string {
	return fmt.Sprintf("rowflow: persisting row %d: %v", e.Row, e.Err)
}

// Unwrap returns the cause
func (e *PersistenceError) Unwrap() []error {
	return []error{ErrPersistence, e.Err}
}

// ValidationFailedError is returned when validation aborts an import
type ValidationFailedError struct {
	InvalidRows int
	Errors      int
}

// Error implements error
func (e *ValidationFailedError) Error() string {
	return fmt.Sprintf("rowflow: validation failed: %d invalid rows, %d errors", e.InvalidRows, e.Errors)
}

// Unwrap returns ErrValidation
func (e *ValidationFailedError) Unwrap() error {
	return ErrValidation
}
