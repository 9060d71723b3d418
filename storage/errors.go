package storage

import "errors"

// Storage error constants
var (
	// ErrAlertNotFound is returned when an alert is not found
	ErrAlertNotFound = errors.New("alert not found")

	// ErrNotFound is a generic "not found" error
	ErrNotFound = errors.New("not found")

	// ErrValidation is returned when an operation is invoked with malformed
	// input; it is detected before any database I/O happens
	ErrValidation = errors.New("validation failed")

	// ErrDatabaseClosed is returned when attempting to use a closed database connection
	ErrDatabaseClosed = errors.New("database is closed")
)
