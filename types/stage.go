package types

import (
	"encoding/json"
	"time"
)

// StageName identifies one reasoning stage of the pipeline.
type StageName string

const (
	StageDiagnosis  StageName = "diagnosis"
	StagePrognosis  StageName = "prognosis"
	StageLifestyle  StageName = "lifestyle"
	StageMedication StageName = "medication"
)

// StageOrder is the fixed execution order. Each stage's output is an
// explicit input to later stages, so the order is not configurable.
var StageOrder = []StageName{StageDiagnosis, StagePrognosis, StageLifestyle, StageMedication}

// StageStatus is the terminal state of one stage execution.
type StageStatus string

const (
	StageStatusOK      StageStatus = "ok"
	StageStatusPartial StageStatus = "partial"
	StageStatusFailed  StageStatus = "failed"
)

// StageResult records one stage execution. Immutable after creation;
// appended to the run in execution order. Output is always schema-valid:
// a failed stage carries the schema-default payload, with the raw model
// output preserved in RawOutput for diagnostics.
type StageResult struct {
	Stage       StageName       `json:"stage"`
	Status      StageStatus     `json:"status"`
	Output      json.RawMessage `json:"output"`
	RawOutput   string          `json:"raw_output,omitempty"`
	Err         string          `json:"error,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt time.Time       `json:"completed_at"`
}

// Degraded reports whether downstream consumers should treat this result's
// output as defaults rather than model-produced content.
func (r StageResult) Degraded() bool {
	return r.Status != StageStatusOK
}

// PipelineRun is the full record of one pipeline execution. Owned by the
// orchestrator for the run's duration; consumed by the report aggregator.
type PipelineRun struct {
	RunID       string        `json:"run_id"`
	PatientID   string        `json:"patient_id"`
	DocumentRef string        `json:"document_ref"`
	Stages      []StageResult `json:"stages"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Cancelled   bool          `json:"cancelled"`
}

// StageResultFor returns the recorded result for a stage, if present.
func (r *PipelineRun) StageResultFor(name StageName) (StageResult, bool) {
	for _, s := range r.Stages {
		if s.Stage == name {
			return s, true
		}
	}
	return StageResult{}, false
}
