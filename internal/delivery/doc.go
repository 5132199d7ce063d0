// Package delivery coordinates a book request end to end.
//
// Deliver tries, in order: resending a cached delivery-surface handle,
// uploading a freshly downloaded artifact inline when it is under the inline
// threshold, and staging the artifact with a time-limited share link. A
// rejected cached handle is invalidated before falling through, and a
// rejected inline upload falls back to staging rather than failing.
//
// Refresh extends a staged file's lifetime (re-fetching it if the reclaimer
// already removed it) and ReportBroken drops a handle the user could not
// open.
package delivery
