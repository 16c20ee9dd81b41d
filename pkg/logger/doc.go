// Package logger provides structured logging with configurable log levels.
// It wraps log/slog, selecting a JSON handler for production-like
// environments and a text handler everywhere else.
package logger
