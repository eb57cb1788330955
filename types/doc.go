// Package types defines the shared data model of the medflow pipeline:
// chunks, evidence, stage results, pipeline runs, the report shape, and the
// unified error taxonomy. It is dependency-free so every other package can
// import it without cycles.
package types
