package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/BaSui01/medflow/types"
)

// stageInput carries everything a stage prompt is built from: the patient
// document plus the typed outputs of the stages it depends on. Degraded
// dependencies arrive as schema defaults, never nulls.
type stageInput struct {
	PatientID    string
	DocumentText string

	Diagnosis         types.DiagnosisOutput
	DiagnosisDegraded bool
	Lifestyle         types.LifestyleOutput
	LifestyleDegraded bool
}

// stageSpec defines one reasoning stage: its prompts, output decoder, and
// schema-default payload.
type stageSpec struct {
	name   types.StageName
	system string
	user   func(in stageInput) string
	decode func(raw string) (json.RawMessage, error)
}

// DefaultAllowLists is the tool policy per stage. Anything not listed is
// denied before execution.
var DefaultAllowLists = map[types.StageName][]string{
	types.StageDiagnosis:  {"vector_search", "graph_query", "pubmed_search"},
	types.StagePrognosis:  {"vector_search", "graph_query", "pubmed_search"},
	types.StageLifestyle:  {"vector_search"},
	types.StageMedication: {"vector_search", "graph_query", "drugbank_lookup", "pubmed_search"},
}

const jsonOnlyRule = "Respond with a single JSON object matching the schema. No prose outside the JSON."

func conditionsBlock(in stageInput) string {
	var b strings.Builder
	if in.DiagnosisDegraded {
		b.WriteString("Diagnosed conditions: unavailable (diagnosis stage failed; treat as unknown, do not invent conditions).\n")
		return b.String()
	}
	if len(in.Diagnosis.Conditions) == 0 {
		b.WriteString("Diagnosed conditions: none identified.\n")
		return b.String()
	}
	b.WriteString("Diagnosed conditions:\n")
	for _, c := range in.Diagnosis.Conditions {
		fmt.Fprintf(&b, "- %s (ICD-10 %s, severity %s, confidence %.2f)\n", c.Name, c.ICD10, c.Severity, c.Confidence)
	}
	return b.String()
}

func dietBlock(in stageInput) string {
	if in.LifestyleDegraded {
		return "Dietary constraints: unavailable (lifestyle stage failed).\n"
	}
	var b strings.Builder
	b.WriteString("Dietary constraints from the lifestyle plan:\n")
	if len(in.Lifestyle.Diet.Recommended) > 0 {
		fmt.Fprintf(&b, "- recommended: %s\n", strings.Join(in.Lifestyle.Diet.Recommended, ", "))
	}
	if len(in.Lifestyle.Diet.Avoid) > 0 {
		fmt.Fprintf(&b, "- avoid: %s\n", strings.Join(in.Lifestyle.Diet.Avoid, ", "))
	}
	if len(in.Lifestyle.Diet.Recommended) == 0 && len(in.Lifestyle.Diet.Avoid) == 0 {
		b.WriteString("- none recorded\n")
	}
	return b.String()
}

var stageSpecs = []stageSpec{
	{
		name: types.StageDiagnosis,
		system: "You are a clinical analysis assistant. Analyze the patient document and identify " +
			"current and suspected conditions. Use the available tools to ground every condition in " +
			"indexed evidence before answering. " + jsonOnlyRule + ` Schema: {"summary": string, ` +
			`"conditions": [{"name": string, "icd10": string, "severity": "low"|"medium"|"high", ` +
			`"confidence": number in [0,1], "description": string, "evidence": string, "source": string}], ` +
			`"risk_score": number in [0,1]}`,
		user: func(in stageInput) string {
			return fmt.Sprintf("Patient %s record:\n\n%s", in.PatientID, in.DocumentText)
		},
		decode: decodeDiagnosis,
	},
	{
		name: types.StagePrognosis,
		system: "You are a clinical prognosis assistant. Given the diagnosed conditions, predict " +
			"future health risks over 3-month, 1-year, and 5-year horizons. " + jsonOnlyRule +
			` Schema: {"risks": [{"name": string, "horizon": "3mo"|"1yr"|"5yr", ` +
			`"probability": number in [0,1], "description": string, "prevention": string}]}`,
		user: func(in stageInput) string {
			return fmt.Sprintf("Patient %s record:\n\n%s\n\n%s", in.PatientID, in.DocumentText, conditionsBlock(in))
		},
		decode: decodePrognosis,
	},
	{
		name: types.StageLifestyle,
		system: "You are a lifestyle medicine assistant. Produce diet, exercise, sleep, and stress " +
			"guidance appropriate to the patient's conditions. " + jsonOnlyRule +
			` Schema: {"diet": {"recommended": [string], "avoid": [string], "meal_plan": string, ` +
			`"macros": object, "supplements": [string]}, "exercises": [{"name": string, ` +
			`"intensity": "low"|"moderate"|"high", "duration": string, "frequency": string, ` +
			`"description": string}], "sleep": string, "stress": string}`,
		user: func(in stageInput) string {
			return fmt.Sprintf("Patient %s record:\n\n%s\n\n%s", in.PatientID, in.DocumentText, conditionsBlock(in))
		},
		decode: decodeLifestyle,
	},
	{
		name: types.StageMedication,
		system: "You are a medication review assistant. Recommend medications for the diagnosed " +
			"conditions, flag interactions, and list current medications that need stop review. " +
			"Check every recommendation against drugbank_lookup before including it. " + jsonOnlyRule +
			` Schema: {"medications": [{"name": string, "generic_name": string, "dosage_note": string, ` +
			`"purpose": string, "monitoring": string, "source": string}], "interactions": [string], ` +
			`"stop_medications": [string]}`,
		user: func(in stageInput) string {
			return fmt.Sprintf("Patient %s record:\n\n%s\n\n%s\n%s",
				in.PatientID, in.DocumentText, conditionsBlock(in), dietBlock(in))
		},
		decode: decodeMedication,
	},
}

const correctiveInstruction = "Your previous response did not validate: %s. " +
	"Respond again with only the JSON object, matching the schema exactly."
