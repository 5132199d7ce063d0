// Package daemon coordinates the long-running bookdrop process.
//
// It holds the single-instance flock, runs the eviction scheduler, dispatches
// bot webhook updates through the router in the background, and serves the
// HTTP API (delivery, refresh, handle cache and staging maintenance, status
// and Prometheus metrics). Delivery semantics live in package delivery; the
// daemon only owns startup, shutdown, and transport.
package daemon
