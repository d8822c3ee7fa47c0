package domain

import "errors"

// Error taxonomy surfaced to the API layer. Admission, quota and
// storage failures are distinguished so clients can react specifically.
var (
	// ErrQuotaExceeded is returned when projected or actual usage would
	// exceed the user's byte ceiling (plus the oversize grace).
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrTooManyRequests is returned when the user has too many upload
	// sessions inside the configured time window.
	ErrTooManyRequests = errors.New("too many requests")

	// ErrLargeFileSize is returned when a single file exceeds the
	// absolute per-file ceiling.
	ErrLargeFileSize = errors.New("large file size")

	// ErrNoFile is returned when an upload completes with zero bytes.
	ErrNoFile = errors.New("no file")

	// ErrMalformedInput is returned on invalid declared metadata.
	ErrMalformedInput = errors.New("malformed input")

	// ErrStorageIO is returned on filesystem failures that survive one
	// retry at the storage layer.
	ErrStorageIO = errors.New("storage i/o failure")

	// ErrNotFound is returned when a referenced record is absent.
	ErrNotFound = errors.New("not found")
)
