package store

import "errors"

// The store classifies failures into three error kinds; a driver error it
// cannot classify is returned as is. It never retries internally —
// retries, if any, are a policy of the caller.
var (
	// ErrNotFound means an id lookup returned no row.
	ErrNotFound = errors.New("store: not found")
	// ErrIntegrityViolation means a foreign key or unique constraint failed.
	ErrIntegrityViolation = errors.New("store: integrity violation")
	// ErrStorageUnavailable means disk I/O failed or the database is corrupt.
	ErrStorageUnavailable = errors.New("store: storage unavailable")
)
