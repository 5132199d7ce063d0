// Package api defines the JSON payloads exchanged with the daemon's HTTP API
// and a small client for them.
//
// The daemon converts domain values with the From* helpers; the CLI uses
// Client to reach a running daemon. Timestamps are RFC3339 with milliseconds
// in UTC.
package api
