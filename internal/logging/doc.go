// Package logging assembles structured slog loggers and formatting helpers used
// across bookdrop components.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so delivery code automatically
// tags log lines with book IDs, formats, recipients, and correlation IDs. The
// package also provides a no-op logger for tests and wiring code that cannot
// fail.
package logging
