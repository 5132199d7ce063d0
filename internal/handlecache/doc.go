// Package handlecache remembers the opaque handles the delivery surface
// issues for uploaded documents, keyed by book and format, so a repeat
// request can be served by a cheap resend instead of a fresh download and
// upload.
//
// Backends: SQLite (default, shares the bookdrop database) and Redis (for
// several instances behind one bot). Either may be fronted by an in-memory
// LRU layer.
package handlecache
