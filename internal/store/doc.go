// Package store persists bookdrop's shared state in SQLite: the handle cache
// keyed by (book, format) and the eviction records keyed by staged file name.
//
// Every write is a single-row upsert or delete, retried with backoff when the
// database is busy. Failures are returned wrapped in services.ErrStorage so
// callers decide whether to surface or tolerate them.
package store
