// Package eviction reclaims staged files whose lifetime has expired.
//
// A Sweeper performs one pass over the staging directory: files whose record
// has expired are deleted with their record, files with no record at all are
// deleted as orphans, abandoned partial writes are removed, and records
// pointing at files that no longer exist are dropped. Each file is inspected
// under the staging store's exclusive lock, which is what makes the orphan
// rule safe against concurrent writers.
//
// A Scheduler drives the Sweeper on a fixed interval and stops cooperatively
// when its context is cancelled or Stop is called.
package eviction
