// Package preflight provides readiness checks for the filesystem paths and
// upstream services bookdrop depends on.
//
// These checks run in two contexts:
//   - The daemon runs RunAll once at startup and logs every failing check
//     as a warning. Failures never block startup; mirrors and the Bot API
//     are routinely flaky and the delivery pipeline already fails over.
//   - The CLI "bookdrop check" command prints every result and exits
//     non-zero when any check fails.
package preflight
