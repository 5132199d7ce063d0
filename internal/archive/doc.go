// Package archive unpacks book artifacts that mirrors serve inside zip
// containers. Only the member matching the requested format is read; a
// container that cannot be opened or lacks a matching member is reported as a
// not-found class failure so nothing partial is ever delivered.
package archive
