package types

// Stage output payloads. Field names follow the JSON schemas each stage is
// instructed to produce; defaults (the zero values plus empty slices) are
// substituted when a stage fails so no consumer ever sees an absent field.

// Condition is one diagnosed or suspected condition.
type Condition struct {
	Name        string  `json:"name"`
	ICD10       string  `json:"icd10"`
	Severity    string  `json:"severity"` // low|medium|high
	Confidence  float64 `json:"confidence"`
	Description string  `json:"description,omitempty"`
	Evidence    string  `json:"evidence,omitempty"`
	Source      string  `json:"source,omitempty"`
}

// DiagnosisOutput is the diagnosis stage's structured payload.
type DiagnosisOutput struct {
	Summary    string      `json:"summary"`
	Conditions []Condition `json:"conditions"`
	RiskScore  float64     `json:"risk_score"`
}

// RiskHorizon is the prediction window for a prognosis risk.
type RiskHorizon string

const (
	Horizon3Months RiskHorizon = "3mo"
	Horizon1Year   RiskHorizon = "1yr"
	Horizon5Years  RiskHorizon = "5yr"
)

// Risk is one predicted future health risk.
type Risk struct {
	Name        string      `json:"name"`
	Horizon     RiskHorizon `json:"horizon"`
	Probability float64     `json:"probability"` // 0-1
	Description string      `json:"description,omitempty"`
	Prevention  string      `json:"prevention,omitempty"`
}

// PrognosisOutput is the prognosis stage's structured payload.
type PrognosisOutput struct {
	Risks []Risk `json:"risks"`
}

// DietPlan holds dietary guidance from the lifestyle stage.
type DietPlan struct {
	Recommended []string          `json:"recommended"`
	Avoid       []string          `json:"avoid"`
	MealPlan    string            `json:"meal_plan,omitempty"`
	Macros      map[string]string `json:"macros,omitempty"`
	Supplements []string          `json:"supplements,omitempty"`
}

// Exercise is one recommended exercise regimen entry.
type Exercise struct {
	Name        string `json:"name"`
	Intensity   string `json:"intensity"` // low|moderate|high
	Duration    string `json:"duration,omitempty"`
	Frequency   string `json:"frequency,omitempty"`
	Description string `json:"description,omitempty"`
}

// LifestyleOutput is the lifestyle stage's structured payload.
type LifestyleOutput struct {
	Diet      DietPlan   `json:"diet"`
	Exercises []Exercise `json:"exercises"`
	Sleep     string     `json:"sleep,omitempty"`
	Stress    string     `json:"stress,omitempty"`
}

// Medication is one recommended medication entry.
type Medication struct {
	Name       string `json:"name"`
	Generic    string `json:"generic_name,omitempty"`
	DosageNote string `json:"dosage_note"`
	Purpose    string `json:"purpose,omitempty"`
	Monitoring string `json:"monitoring,omitempty"`
	Source     string `json:"source,omitempty"` // e.g. DrugBank ID
}

// MedicationOutput is the medication stage's structured payload.
type MedicationOutput struct {
	Medications  []Medication `json:"medications"`
	Interactions []string     `json:"interactions"`
	StopReview   []string     `json:"stop_medications"`
}

// Section wraps a report section's payload with its degradation state, so
// the presentation layer can render a warning instead of fabricated
// completeness.
type Section[T any] struct {
	Degraded bool `json:"degraded"`
	Value    T    `json:"value"`
}

// Report is the final multi-section assessment. The shape is stable: every
// section is present regardless of upstream failures, degraded sections
// carry whatever fields were salvaged plus schema defaults.
type Report struct {
	RunID        string                 `json:"run_id"`
	PatientID    string                 `json:"patient_id"`
	Incomplete   bool                   `json:"incomplete"` // run was cancelled mid-flight
	Summary      Section[string]        `json:"summary"`
	Conditions   Section[[]Condition]   `json:"conditions"`
	Risks        Section[[]Risk]        `json:"risks"`
	Diet         Section[DietPlan]      `json:"diet"`
	Exercises    Section[[]Exercise]    `json:"exercises"`
	Medications  Section[[]Medication]  `json:"medications"`
	Interactions Section[[]string]      `json:"interactions"`
}
