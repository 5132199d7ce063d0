// Package textutil turns catalog metadata into file names the delivery
// surface and the staging filesystem accept.
//
// NormalizeFileName is the single entry point used by the delivery pipeline:
// it transliterates Cyrillic titles and author names to ASCII, folds Latin
// diacritics, removes punctuation, and appends the format extension. The
// result is deterministic so re-staging the same book collides with, rather
// than duplicates, an earlier copy.
package textutil
