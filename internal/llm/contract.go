package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/resumemate/backend/internal/models"
)

// Passage is a retrieved excerpt handed to the drafting model.
type Passage struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type DraftRequest struct {
	OwnerName     string
	Question      string
	Language      models.Language
	Context       []string
	Category      models.Category
	Passages      []Passage
	PreviousDraft string
	Suggestions   []string
}

// DraftOutput is the projection of a drafting response onto the fields the
// pipeline accepts. Anything else the model returns is dropped.
type DraftOutput struct {
	DraftAnswer string
	Sources     []string
	Confidence  float64
	Category    models.Category
	Decision    models.Decision
	Metadata    map[string]any
}

type ReviewRequest struct {
	OwnerName          string
	Question           string
	Language           models.Language
	Category           models.Category
	DraftAnswer        string
	Sources            []string
	AnalysisConfidence float64
	Passages           []Passage
}

type ReviewOutput struct {
	FinalAnswer string
	Sources     []string
	Confidence  float64
	Status      models.Status
	Metadata    map[string]any
}

// DecodeDraft strictly decodes a drafting response. The fields
// draft_answer, confidence, question_type and decision are required;
// sources and metadata must have the right type when present.
func DecodeDraft(raw string) (DraftOutput, error) {
	const stage = "draft"
	fields, err := decodeObject(stage, raw)
	if err != nil {
		return DraftOutput{}, err
	}

	var out DraftOutput
	var category, decision string
	if err := requireField(fields, stage, raw, "draft_answer", &out.DraftAnswer); err != nil {
		return DraftOutput{}, err
	}
	if err := requireField(fields, stage, raw, "confidence", &out.Confidence); err != nil {
		return DraftOutput{}, err
	}
	if err := requireField(fields, stage, raw, "question_type", &category); err != nil {
		return DraftOutput{}, err
	}
	if err := requireField(fields, stage, raw, "decision", &decision); err != nil {
		return DraftOutput{}, err
	}
	if err := optionalField(fields, stage, raw, "sources", &out.Sources); err != nil {
		return DraftOutput{}, err
	}
	if err := optionalField(fields, stage, raw, "metadata", &out.Metadata); err != nil {
		return DraftOutput{}, err
	}
	if out.Confidence < 0 || out.Confidence > 1 {
		return DraftOutput{}, malformed(stage, raw, "confidence outside [0,1]")
	}

	out.Category = models.ParseCategory(category)
	out.Decision = models.ParseDecision(decision)
	if out.Sources == nil {
		out.Sources = []string{}
	}
	if out.Metadata == nil {
		out.Metadata = map[string]any{}
	}
	return out, nil
}

// DecodeReview strictly decodes a review response. final_answer,
// confidence and status are required.
func DecodeReview(raw string) (ReviewOutput, error) {
	const stage = "review"
	fields, err := decodeObject(stage, raw)
	if err != nil {
		return ReviewOutput{}, err
	}

	var out ReviewOutput
	var status string
	if err := requireField(fields, stage, raw, "final_answer", &out.FinalAnswer); err != nil {
		return ReviewOutput{}, err
	}
	if err := requireField(fields, stage, raw, "confidence", &out.Confidence); err != nil {
		return ReviewOutput{}, err
	}
	if err := requireField(fields, stage, raw, "status", &status); err != nil {
		return ReviewOutput{}, err
	}
	if err := optionalField(fields, stage, raw, "sources", &out.Sources); err != nil {
		return ReviewOutput{}, err
	}
	if err := optionalField(fields, stage, raw, "metadata", &out.Metadata); err != nil {
		return ReviewOutput{}, err
	}
	if out.Confidence < 0 || out.Confidence > 1 {
		return ReviewOutput{}, malformed(stage, raw, "confidence outside [0,1]")
	}

	out.Status = models.ParseStatus(status)
	if out.Sources == nil {
		out.Sources = []string{}
	}
	if out.Metadata == nil {
		out.Metadata = map[string]any{}
	}
	return out, nil
}

func decodeObject(stage, raw string) (map[string]json.RawMessage, error) {
	dec := json.NewDecoder(strings.NewReader(strings.TrimSpace(raw)))
	var fields map[string]json.RawMessage
	if err := dec.Decode(&fields); err != nil {
		return nil, malformed(stage, raw, "not a JSON object")
	}
	if fields == nil {
		return nil, malformed(stage, raw, "null object")
	}
	if dec.More() {
		return nil, malformed(stage, raw, "trailing data after object")
	}
	return fields, nil
}

func requireField(fields map[string]json.RawMessage, stage, raw, name string, dst any) error {
	v, ok := fields[name]
	if !ok || string(v) == "null" {
		return malformed(stage, raw, fmt.Sprintf("missing field %q", name))
	}
	if err := json.Unmarshal(v, dst); err != nil {
		return malformed(stage, raw, fmt.Sprintf("field %q has the wrong type", name))
	}
	return nil
}

func optionalField(fields map[string]json.RawMessage, stage, raw, name string, dst any) error {
	v, ok := fields[name]
	if !ok || string(v) == "null" {
		return nil
	}
	if err := json.Unmarshal(v, dst); err != nil {
		return malformed(stage, raw, fmt.Sprintf("field %q has the wrong type", name))
	}
	return nil
}

func malformed(stage, raw, reason string) error {
	return &MalformedOutputError{Stage: stage, Raw: raw, Reason: reason}
}
