// Package logs tails the daemon log file for the CLI.
//
// Tail reads with bounded memory: a negative offset returns the last N lines,
// a non-negative offset resumes where a previous call stopped. Follow keeps
// polling until its context ends, which is how `bookdrop logs --follow`
// streams new lines. A Filter narrows output to one delivery (correlation id),
// one book, one component, or one event type. JSON lines are matched on their
// structured fields; console lines fall back to substring matching.
package logs
