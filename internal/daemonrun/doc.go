// Package daemonrun wires configuration into a running daemon process:
// per-run log files and retention, the PID file, the delivery pipeline built
// by Build, the HTTP API, and webhook registration.
package daemonrun
