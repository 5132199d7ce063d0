// Command bookdrop runs the book delivery daemon and offers maintenance
// commands for its handle cache and staging directory.
//
// `bookdrop serve` starts the daemon. `deliver`, `refresh`, and `status` talk
// to a running daemon over its HTTP API (or run in-process with --local).
// `cache` and `staging` operate on local storage directly.
package main
