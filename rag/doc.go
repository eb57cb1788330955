// Package rag implements the retrieval side of medflow: document chunking,
// the namespaced vector index, the ingestion indexer, and evidence fusion
// across the vector and graph sources.
package rag
