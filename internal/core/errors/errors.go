// Package errors provides centralized error definitions for the application.
// Errors are organized by domain to avoid duplication and provide consistent naming.
//
// Naming conventions:
//   - Exported errors (Err*): Use for errors that callers need to check with errors.Is
//   - All sentinel errors should be defined as variables, not inline errors.New calls
//   - Use fmt.Errorf with %w to wrap sentinel errors with context
package errors

import "errors"

// Transport and HTTP errors.
var (
	// ErrTransport indicates the request never produced an HTTP response
	// after all retry attempts were exhausted.
	ErrTransport = errors.New("transport failure")
)

// Response parsing errors.
var (
	// ErrNoScore indicates a judge response contained no parseable score.
	ErrNoScore = errors.New("no score in judge response")

	// ErrEmptyResponse indicates an empty response was received.
	ErrEmptyResponse = errors.New("empty response")
)

// Dataset errors.
var (
	// ErrMissingColumns indicates a dataset lacks one or more required columns.
	ErrMissingColumns = errors.New("missing required columns")

	// ErrDuplicateID indicates the dataset id column contains duplicates.
	ErrDuplicateID = errors.New("duplicate row id")

	// ErrEmptyInput indicates a dataset row has an empty input cell.
	ErrEmptyInput = errors.New("empty input cell")

	// ErrUnsupportedFormat indicates a file extension that is neither csv nor xlsx.
	ErrUnsupportedFormat = errors.New("unsupported file format")
)

// Stream writer errors.
var (
	// ErrWriterClosed indicates an append on a writer that was already closed.
	ErrWriterClosed = errors.New("writer closed")

	// ErrColumnCount indicates a row whose value count does not match the header.
	ErrColumnCount = errors.New("row length does not match columns")

	// ErrLockTimeout indicates the lock file could not be acquired in time.
	ErrLockTimeout = errors.New("lock acquire timeout")
)

// Configuration and CLI errors.
var (
	// ErrNoDataset indicates no dataset path was provided.
	ErrNoDataset = errors.New("dataset path not set")

	// ErrNoEndpoint indicates a required endpoint URL was not configured.
	ErrNoEndpoint = errors.New("endpoint not configured")

	// ErrNoInput indicates evaluate was invoked without an input file.
	ErrNoInput = errors.New("input file not set")
)

// Is is a convenience wrapper around errors.Is.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As is a convenience wrapper around errors.As.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
