// Package staging owns the shared directory that holds artifacts too large
// to deliver inline.
//
// Every create, touch, and delete of a staged name runs under a per-name
// in-process mutex followed by an advisory lock on LockFileName in the
// staging directory: shared for writers, exclusive for the reclaimer. Files
// are written to a hidden partial file and renamed into place, and the
// eviction record is upserted before the lock is released, so a sweep never
// sees a half-written file or a file whose record has not yet been stored.
//
// Staging a name that already exists does not rewrite it; the expiry is reset
// to now plus the TTL instead.
package staging
