package storage

import "errors"

// Storage error constants
var (
	// ErrNotFound is a generic "not found" error
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when a write violates a unique index
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrDatabaseClosed is returned when attempting to use a closed database connection
	ErrDatabaseClosed = errors.New("database is closed")

	// ErrUnknownCollection is returned for a collection name the store does not manage
	ErrUnknownCollection = errors.New("unknown collection")

	// ErrDispatcherClosed is returned when a backup job is submitted after Close
	ErrDispatcherClosed = errors.New("backup dispatcher is closed")
)
