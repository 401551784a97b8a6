package s3

import "errors"

var (
	// ErrInvalidConfig is returned when required configuration is missing.
	ErrInvalidConfig = errors.New("invalid s3 config")

	// ErrObjectNotFound is returned when the requested object does not exist.
	ErrObjectNotFound = errors.New("object not found")

	// ErrBucketNotFound is returned when the bucket does not exist.
	ErrBucketNotFound = errors.New("bucket not found")

	// ErrAccessDenied is returned when the caller lacks permission.
	ErrAccessDenied = errors.New("access denied")

	// ErrServiceUnavailable is returned for throttling and availability
	// failures that are worth retrying.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrStreamClosed is returned when reading from or seeking a closed
	// stream.
	ErrStreamClosed = errors.New("stream closed")

	// ErrInvalidSeek is returned when a seek would land before the start of
	// the object.
	ErrInvalidSeek = errors.New("invalid seek")
)
