package types

import (
	"fmt"
	"strings"
)

// NamespaceMedicalKB is the shared reference-knowledge partition of the
// vector index. Patient partitions are derived with PatientNamespace.
const NamespaceMedicalKB = "medical_kb"

// PatientNamespace returns the vector-index partition for a single patient.
func PatientNamespace(patientID string) string {
	return "patient_" + patientID
}

// IsPatientNamespace reports whether ns is a per-patient partition.
func IsPatientNamespace(ns string) bool {
	return strings.HasPrefix(ns, "patient_")
}

// OffsetRange is a half-open [Start, End) byte range into the source
// document text.
type OffsetRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Chunk is one embedded window of a source document. Chunks are immutable
// once written: re-ingestion deletes the document's old chunks and writes
// new ones. The ID is deterministic from (document, offset range) so
// re-ingesting unchanged text produces identical IDs.
type Chunk struct {
	ID         string      `json:"id"`
	DocumentID string      `json:"document_id"`
	Namespace  string      `json:"namespace"`
	Text       string      `json:"text"`
	Vector     []float64   `json:"vector,omitempty"`
	Offset     OffsetRange `json:"offset"`
	TokenCount int         `json:"token_count,omitempty"`
}

// ChunkID derives the deterministic chunk identifier.
func ChunkID(documentID string, offset OffsetRange) string {
	return fmt.Sprintf("%s:%d-%d", documentID, offset.Start, offset.End)
}

// ProvenanceKind identifies which retrieval source produced an evidence item.
type ProvenanceKind string

const (
	ProvenanceVector ProvenanceKind = "vector"
	ProvenanceGraph  ProvenanceKind = "graph"
)

// Provenance tags an evidence item with its origin: the source namespace for
// vector hits, the rendered path for graph hits.
type Provenance struct {
	Kind   ProvenanceKind `json:"kind"`
	Source string         `json:"source"`
}

// EvidenceItem is one retrieved fragment with a calibrated [0,1] score.
// Produced fresh per query, never persisted.
type EvidenceItem struct {
	Text       string     `json:"text"`
	Score      float64    `json:"score"`
	Provenance Provenance `json:"provenance"`
}

// EvidenceBundle is the deduplicated, ranked evidence set handed to a
// reasoning stage. Degraded is set when one or both retrieval sources
// failed; the bundle is still usable (possibly empty).
type EvidenceBundle struct {
	Query    string         `json:"query"`
	Items    []EvidenceItem `json:"items"`
	Degraded bool           `json:"degraded"`
}

// NormalizeEvidenceText canonicalizes evidence text for deduplication:
// lowercase, whitespace collapsed, trailing sentence punctuation stripped.
func NormalizeEvidenceText(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Join(strings.Fields(s), " ")
	return strings.TrimRight(s, ".!? ")
}
