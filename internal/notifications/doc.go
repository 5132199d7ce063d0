// Package notifications delivers operator alerts via pluggable notifiers.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and degrades to a no-op when no topic is set. Alerts cover the
// conditions an operator has to act on: deliveries failing with internal
// errors, eviction sweeps that could not reclaim files, and failed startup
// checks. Publishing is rate limited so a broken mirror or a full disk
// produces a handful of alerts rather than one per request.
package notifications
