// Package services defines shared utilities consumed by the delivery pipeline
// and its external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp book IDs, formats, recipients, and
//     correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that translate failures
//     into consistent user-facing reasons (not found vs try later).
//
// Use these helpers when wiring new components so operational behaviour (error
// handling, observability, retries) stays uniform across the pipeline.
package services
