package runner

import "errors"

// ErrAwaitTimeout is returned by Handle.AwaitWithTimeout when the loop is
// still running after the timeout elapses.
var ErrAwaitTimeout = errors.New("await timeout exceeded")
