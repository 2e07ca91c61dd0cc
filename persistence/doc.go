// Package persistence stores serialized indexes in checksummed,
// optionally compressed container files and manages a directory of them.
package persistence
