// Package logging defines the logging contract used across the pipeline.
// Services depend on the Logger interface so tests can swap in a silent or
// capturing implementation.
package logging

import "context"

// Logger is the structured logging interface accepted by all services
type Logger interface {
	Debug(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)

	// With returns a logger that includes the given attributes in every record
	With(args ...any) Logger
}
