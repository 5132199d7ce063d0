// Package catalog resolves book metadata (title, authors) from the catalog
// service so deliveries can be named and captioned.
package catalog
