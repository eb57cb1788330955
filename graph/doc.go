// Package graph implements the typed medical knowledge graph: entity
// resolution, hop-bounded traversal, and a SQLite-backed snapshot with a
// Hetionet-style TSV loader.
package graph
