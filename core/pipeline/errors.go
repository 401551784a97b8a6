package pipeline

import "errors"

var (
	// ErrNilEndpoint is returned when constructing a pipeline without an
	// endpoint.
	ErrNilEndpoint = errors.New("endpoint must not be nil")

	// ErrNotStarted is returned when Send or Stop is called on a pipeline
	// that is not running.
	ErrNotStarted = errors.New("pipeline not started")

	// ErrAlreadyStarted is returned when Start is called on a running
	// pipeline.
	ErrAlreadyStarted = errors.New("pipeline already started")

	// ErrSendBufferFull is returned when the send stage cannot accept
	// another message without blocking. The message is dropped.
	ErrSendBufferFull = errors.New("send buffer full, message dropped")

	// ErrShutdownTimeout is returned when stage workers do not finish
	// queued work within the shutdown timeout. Remaining work is abandoned.
	ErrShutdownTimeout = errors.New("shutdown timeout exceeded")
)
