// Package logging assembles the structured slog loggers used across the
// daemon.
//
// It owns the console and JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so pipeline code automatically
// tags log lines with task IDs, stages, and correlation IDs. A no-op logger
// is provided for tests and wiring code that cannot fail.
package logging
