// Package router maps incoming bot updates onto delivery operations.
//
// The routing table is explicit: NewBookRouter registers every command and
// callback pattern once through a Builder, and Dispatch walks the table in
// registration order. Handlers reply to the requester themselves; Dispatch
// only reports transport failures and ErrNoRoute.
package router
