// Package logging assembles structured slog loggers and formatting helpers used
// across the batchvec daemon and CLI.
//
// It owns the console and JSON handlers, centralizes level and output plumbing,
// and exposes context-aware helpers so engine and API code can tag log lines
// with queue item names and request correlation IDs. A no-op logger is
// provided for tests and wiring code that cannot fail.
package logging
