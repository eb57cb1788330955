// Package metrics defines the Prometheus instrumentation for ingestion,
// retrieval, tool routing, and the reasoning pipeline.
package metrics
