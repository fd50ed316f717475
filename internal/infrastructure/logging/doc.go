// Package logging provides structured logging for EspHive Core.
//
// It wraps log/slog with level-based filtering, JSON or text output,
// and default service/version attributes. Components that must not
// import infrastructure declare their own narrow Logger interface and
// accept this logger through it.
package logging
