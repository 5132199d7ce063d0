// Package config loads, normalizes, and validates bookdrop configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// BOOKDROP_BOT_TOKEN. The Config type centralizes every knob the daemon and
// CLI need: staging and data directories, the ordered mirror list, the
// inline-size threshold and staged-file lifetime, and the handle cache
// backend.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
