package domain

import "errors"

var (
	// ErrConfiguration aborts the run before any file is touched
	ErrConfiguration = errors.New("configuration error")

	// ErrFileAccess skips the current file, the run continues
	ErrFileAccess = errors.New("file access error")

	// ErrStorage rolls back the current file's unit of work
	// Fatal only when the store cannot be opened at all
	ErrStorage = errors.New("storage error")

	// ErrLockHeld means another invocation is running; the run is skipped
	ErrLockHeld = errors.New("run lock is held by another invocation")
)
