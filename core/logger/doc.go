// Package logger provides nil-safe slog attribute constructors shared across
// the module. Helpers return an empty Attr for zero values so call sites never
// need explicit nil checks.
package logger
