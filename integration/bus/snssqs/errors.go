package snssqs

import "errors"

var (
	// ErrInvalidConfig is returned when the endpoint configuration fails
	// validation. Fatal, never retried.
	ErrInvalidConfig = errors.New("invalid bus configuration")

	// ErrAlreadyInitialized is returned when Init is called twice on the
	// same endpoint instance.
	ErrAlreadyInitialized = errors.New("endpoint already initialized")

	// ErrNotInitialized is returned when Publish or Receive is called
	// before Init.
	ErrNotInitialized = errors.New("endpoint not initialized")

	// ErrResourceNotFound marks a topic, queue, or subscription that no
	// longer exists. Benign during teardown and reaping.
	ErrResourceNotFound = errors.New("resource not found")

	// ErrServiceUnavailable marks throttling or availability errors that
	// are safe to retry.
	ErrServiceUnavailable = errors.New("service unavailable")
)
