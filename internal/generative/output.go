package generative

import (
	"encoding/json"
	"fmt"
	"strings"

	"h2o-proposal-system/internal/domain"
)

// RawGenerativeOutput is the structured design returned by one completion,
// before any toolset recalculation.
type RawGenerativeOutput struct {
	NarrativeSummary        string                           `json:"narrative_summary"`
	Equipment               []domain.EquipmentSpec           `json:"equipment"`
	Assumptions             []string                         `json:"assumptions"`
	AlternativesConsidered  []string                         `json:"alternatives_considered"`
	TechnologyJustification []domain.TechnologyJustification `json:"technology_justification"`
}

// ParseOutput extracts the JSON object from a completion. Markdown code
// fences and surrounding prose are tolerated.
func ParseOutput(raw string) (RawGenerativeOutput, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return RawGenerativeOutput{}, fmt.Errorf("%w: no JSON object found", ErrMalformedOutput)
	}

	var out RawGenerativeOutput
	if err := json.Unmarshal([]byte(raw[start:end+1]), &out); err != nil {
		return RawGenerativeOutput{}, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}

	out.NarrativeSummary = strings.TrimSpace(out.NarrativeSummary)
	if out.NarrativeSummary == "" {
		return RawGenerativeOutput{}, fmt.Errorf("%w: narrative_summary is empty", ErrMalformedOutput)
	}
	if len(out.Equipment) == 0 {
		return RawGenerativeOutput{}, fmt.Errorf("%w: equipment list is empty", ErrMalformedOutput)
	}
	for i := range out.Equipment {
		e := &out.Equipment[i]
		e.Type = strings.TrimSpace(e.Type)
		e.Stage = domain.EquipmentStage(strings.ToLower(strings.TrimSpace(string(e.Stage))))
		if err := domain.Validator().Struct(e); err != nil {
			return RawGenerativeOutput{}, fmt.Errorf("%w: equipment %d: %v", ErrMalformedOutput, i, err)
		}
	}
	out.Assumptions = nonEmpty(out.Assumptions)
	out.AlternativesConsidered = nonEmpty(out.AlternativesConsidered)
	return out, nil
}

func nonEmpty(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := strings.TrimSpace(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}
