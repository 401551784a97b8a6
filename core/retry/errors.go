package retry

import "errors"

var (
	// ErrInvalidDelay is returned when a policy is constructed with a negative
	// initial delay or increment.
	ErrInvalidDelay = errors.New("retry delay must be non-negative")

	// ErrInvalidRetryCount is returned when a policy is constructed with a
	// negative maximum retry count.
	ErrInvalidRetryCount = errors.New("retry count must be non-negative")
)
