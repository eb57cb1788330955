package pipeline

import (
	"encoding/json"

	"github.com/BaSui01/medflow/types"
)

// section decodes a stage's payload into its typed form. A missing or
// undecodable result yields schema defaults, flagged degraded.
func section[T any](run *types.PipelineRun, stage types.StageName, defaults func() T, pick func(json.RawMessage) (T, bool)) (T, bool) {
	result, ok := run.StageResultFor(stage)
	if !ok {
		return defaults(), true
	}
	value, decoded := pick(result.Output)
	if !decoded {
		return defaults(), true
	}
	return value, result.Degraded()
}

func decodeAs[T any](raw json.RawMessage) (T, bool) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		var zero T
		return zero, false
	}
	return v, true
}

// Aggregate builds the final report from a run. The shape is stable: every
// section is present whatever happened upstream, with degraded sections
// carrying whatever was salvaged plus schema defaults.
func Aggregate(run *types.PipelineRun) types.Report {
	diagnosis, diagDegraded := section(run, types.StageDiagnosis,
		func() types.DiagnosisOutput { return types.DiagnosisOutput{Conditions: []types.Condition{}} },
		decodeAs[types.DiagnosisOutput])

	prognosis, progDegraded := section(run, types.StagePrognosis,
		func() types.PrognosisOutput { return types.PrognosisOutput{Risks: []types.Risk{}} },
		decodeAs[types.PrognosisOutput])

	lifestyle, lifeDegraded := section(run, types.StageLifestyle,
		func() types.LifestyleOutput {
			return types.LifestyleOutput{
				Diet:      types.DietPlan{Recommended: []string{}, Avoid: []string{}},
				Exercises: []types.Exercise{},
			}
		},
		decodeAs[types.LifestyleOutput])

	medication, medDegraded := section(run, types.StageMedication,
		func() types.MedicationOutput {
			return types.MedicationOutput{
				Medications:  []types.Medication{},
				Interactions: []string{},
				StopReview:   []string{},
			}
		},
		decodeAs[types.MedicationOutput])

	return types.Report{
		RunID:      run.RunID,
		PatientID:  run.PatientID,
		Incomplete: run.Cancelled,
		Summary: types.Section[string]{
			Degraded: diagDegraded,
			Value:    diagnosis.Summary,
		},
		Conditions: types.Section[[]types.Condition]{
			Degraded: diagDegraded,
			Value:    nonNil(diagnosis.Conditions),
		},
		Risks: types.Section[[]types.Risk]{
			Degraded: progDegraded,
			Value:    nonNil(prognosis.Risks),
		},
		Diet: types.Section[types.DietPlan]{
			Degraded: lifeDegraded,
			Value:    lifestyle.Diet,
		},
		Exercises: types.Section[[]types.Exercise]{
			Degraded: lifeDegraded,
			Value:    nonNil(lifestyle.Exercises),
		},
		Medications: types.Section[[]types.Medication]{
			Degraded: medDegraded,
			Value:    nonNil(medication.Medications),
		},
		Interactions: types.Section[[]string]{
			Degraded: medDegraded,
			Value:    nonNil(medication.Interactions),
		},
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
