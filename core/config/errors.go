package config

import "errors"

var (
	// ErrNilConfig is returned when Load receives a nil pointer.
	ErrNilConfig = errors.New("config target must not be nil")

	// ErrParseFailed wraps environment parsing failures, including missing
	// required variables.
	ErrParseFailed = errors.New("failed to parse environment")
)
