package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/BaSui01/medflow/types"
)

// ExtractJSON pulls the first JSON object out of a model response. It
// handles fenced code blocks and prose-wrapped objects; the returned slice
// is the raw object text, not yet validated against any schema.
func ExtractJSON(raw string) (json.RawMessage, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, types.NewError(types.ErrValidation, "empty model output")
	}

	// fenced block first: ```json ... ``` or bare ```
	if idx := strings.Index(s, "```"); idx >= 0 {
		rest := s[idx+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:]
		}
		if end := strings.Index(rest, "```"); end >= 0 {
			if obj, err := firstObject(rest[:end]); err == nil {
				return obj, nil
			}
		}
	}

	return firstObject(s)
}

// firstObject finds the first balanced {...} in s, respecting strings.
func firstObject(s string) (json.RawMessage, error) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return nil, types.NewError(types.ErrValidation, "no JSON object in model output")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				candidate := s[start : i+1]
				if !json.Valid([]byte(candidate)) {
					return nil, types.NewError(types.ErrValidation, "extracted object is not valid JSON")
				}
				return json.RawMessage(candidate), nil
			}
		}
	}
	return nil, types.NewError(types.ErrValidation, "unbalanced JSON object in model output")
}

func invalid(stage types.StageName, format string, args ...any) error {
	return types.NewError(types.ErrValidation,
		fmt.Sprintf("%s output: %s", stage, fmt.Sprintf(format, args...)))
}

var (
	severities  = map[string]bool{"low": true, "medium": true, "high": true}
	horizons    = map[types.RiskHorizon]bool{types.Horizon3Months: true, types.Horizon1Year: true, types.Horizon5Years: true}
	intensities = map[string]bool{"low": true, "moderate": true, "high": true}
)

// decodeDiagnosis parses and field-checks the diagnosis payload.
func decodeDiagnosis(raw string) (json.RawMessage, error) {
	obj, err := ExtractJSON(raw)
	if err != nil {
		return nil, err
	}
	var out types.DiagnosisOutput
	if err := json.Unmarshal(obj, &out); err != nil {
		return nil, invalid(types.StageDiagnosis, "decode: %v", err)
	}
	if out.RiskScore < 0 || out.RiskScore > 1 {
		return nil, invalid(types.StageDiagnosis, "risk_score %v outside [0,1]", out.RiskScore)
	}
	for i, c := range out.Conditions {
		if c.Name == "" {
			return nil, invalid(types.StageDiagnosis, "conditions[%d] has no name", i)
		}
		if !severities[c.Severity] {
			return nil, invalid(types.StageDiagnosis, "conditions[%d] severity %q", i, c.Severity)
		}
		if c.Confidence < 0 || c.Confidence > 1 {
			return nil, invalid(types.StageDiagnosis, "conditions[%d] confidence %v outside [0,1]", i, c.Confidence)
		}
	}
	if out.Conditions == nil {
		out.Conditions = []types.Condition{}
	}
	return json.Marshal(out)
}

// decodePrognosis parses and field-checks the prognosis payload.
func decodePrognosis(raw string) (json.RawMessage, error) {
	obj, err := ExtractJSON(raw)
	if err != nil {
		return nil, err
	}
	var out types.PrognosisOutput
	if err := json.Unmarshal(obj, &out); err != nil {
		return nil, invalid(types.StagePrognosis, "decode: %v", err)
	}
	for i, r := range out.Risks {
		if r.Name == "" {
			return nil, invalid(types.StagePrognosis, "risks[%d] has no name", i)
		}
		if !horizons[r.Horizon] {
			return nil, invalid(types.StagePrognosis, "risks[%d] horizon %q", i, r.Horizon)
		}
		if r.Probability < 0 || r.Probability > 1 {
			return nil, invalid(types.StagePrognosis, "risks[%d] probability %v outside [0,1]", i, r.Probability)
		}
	}
	if out.Risks == nil {
		out.Risks = []types.Risk{}
	}
	return json.Marshal(out)
}

// decodeLifestyle parses and field-checks the lifestyle payload.
func decodeLifestyle(raw string) (json.RawMessage, error) {
	obj, err := ExtractJSON(raw)
	if err != nil {
		return nil, err
	}
	var out types.LifestyleOutput
	if err := json.Unmarshal(obj, &out); err != nil {
		return nil, invalid(types.StageLifestyle, "decode: %v", err)
	}
	for i, e := range out.Exercises {
		if e.Name == "" {
			return nil, invalid(types.StageLifestyle, "exercises[%d] has no name", i)
		}
		if !intensities[e.Intensity] {
			return nil, invalid(types.StageLifestyle, "exercises[%d] intensity %q", i, e.Intensity)
		}
	}
	if out.Diet.Recommended == nil {
		out.Diet.Recommended = []string{}
	}
	if out.Diet.Avoid == nil {
		out.Diet.Avoid = []string{}
	}
	if out.Exercises == nil {
		out.Exercises = []types.Exercise{}
	}
	return json.Marshal(out)
}

// decodeMedication parses and field-checks the medication payload.
func decodeMedication(raw string) (json.RawMessage, error) {
	obj, err := ExtractJSON(raw)
	if err != nil {
		return nil, err
	}
	var out types.MedicationOutput
	if err := json.Unmarshal(obj, &out); err != nil {
		return nil, invalid(types.StageMedication, "decode: %v", err)
	}
	for i, m := range out.Medications {
		if m.Name == "" {
			return nil, invalid(types.StageMedication, "medications[%d] has no name", i)
		}
	}
	if out.Medications == nil {
		out.Medications = []types.Medication{}
	}
	if out.Interactions == nil {
		out.Interactions = []string{}
	}
	if out.StopReview == nil {
		out.StopReview = []string{}
	}
	return json.Marshal(out)
}

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// defaultPayload returns the schema-default payload for a stage: zero
// values with empty slices, never nulls.
func defaultPayload(stage types.StageName) json.RawMessage {
	switch stage {
	case types.StageDiagnosis:
		return mustMarshal(types.DiagnosisOutput{Conditions: []types.Condition{}})
	case types.StagePrognosis:
		return mustMarshal(types.PrognosisOutput{Risks: []types.Risk{}})
	case types.StageLifestyle:
		return mustMarshal(types.LifestyleOutput{
			Diet:      types.DietPlan{Recommended: []string{}, Avoid: []string{}},
			Exercises: []types.Exercise{},
		})
	case types.StageMedication:
		return mustMarshal(types.MedicationOutput{
			Medications:  []types.Medication{},
			Interactions: []string{},
			StopReview:   []string{},
		})
	}
	return json.RawMessage(`{}`)
}
