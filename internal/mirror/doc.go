// Package mirror downloads book artifacts from an ordered list of upstream
// mirrors.
//
// Each mirror has its own HTTP client, proxy, and deadline. A mirror that
// refuses the connection, answers with a non-200 status, or returns an HTML
// error page (even with a 200 status) is skipped in favour of the next one.
// Only a binary 200 response is accepted.
package mirror
