package domain

import (
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"h2o-proposal-system/pkg/treatment"
)

// InfluentParameter is one measured influent quality parameter.
type InfluentParameter struct {
	Name        string   `json:"name" validate:"required"`
	Value       float64  `json:"value" validate:"gte=0"`
	Unit        string   `json:"unit"`
	TargetValue *float64 `json:"target_value,omitempty" validate:"omitempty,gte=0"`
}

// DesignRequest is the immutable input of one proposal generation.
type DesignRequest struct {
	FlowRateM3Day      float64             `json:"flow_rate_m3_day" validate:"required,gt=0"`
	Sector             string              `json:"sector" validate:"required"`
	Location           string              `json:"location"`
	InfluentParameters []InfluentParameter `json:"influent_parameters" validate:"required,min=1,unique=Name,dive"`
	Objectives         []string            `json:"objectives" validate:"required,min=1,dive,required"`
	Constraints        []string            `json:"constraints"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Validator returns the shared struct validator.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// Validate checks the request and wraps failures in treatment.ErrInvalidInput.
func (r DesignRequest) Validate() error {
	if err := Validator().Struct(r); err != nil {
		return fmt.Errorf("%w: %s", treatment.ErrInvalidInput, describeValidation(err))
	}
	seen := make(map[string]struct{}, len(r.InfluentParameters))
	for _, p := range r.InfluentParameters {
		key := strings.ToLower(strings.TrimSpace(p.Name))
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: duplicate influent parameter %q", treatment.ErrInvalidInput, p.Name)
		}
		seen[key] = struct{}{}
	}
	return nil
}

func describeValidation(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	issues := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		issues = append(issues, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(issues, "; ")
}

// Concentrations converts the influent parameters for the calculation toolset.
func (r DesignRequest) Concentrations() []treatment.Concentration {
	out := make([]treatment.Concentration, 0, len(r.InfluentParameters))
	for _, p := range r.InfluentParameters {
		out = append(out, treatment.Concentration{Name: p.Name, Value: p.Value, Unit: p.Unit})
	}
	return out
}

// Targets returns the effluent targets keyed by parameter name.
func (r DesignRequest) Targets() map[string]float64 {
	targets := make(map[string]float64)
	for _, p := range r.InfluentParameters {
		if p.TargetValue != nil {
			targets[p.Name] = *p.TargetValue
		}
	}
	return targets
}

// Parameter returns the influent parameter matching name through treatment.CanonicalParameter.
func (r DesignRequest) Parameter(name string) (InfluentParameter, bool) {
	want := treatment.CanonicalParameter(name)
	for _, p := range r.InfluentParameters {
		if treatment.CanonicalParameter(p.Name) == want {
			return p, true
		}
	}
	return InfluentParameter{}, false
}

// FlowRange is an inclusive flow window in m3/day.
type FlowRange struct {
	Min float64 `gorethink:"min_m3_day" json:"min_m3_day" yaml:"min_m3_day"`
	Max float64 `gorethink:"max_m3_day" json:"max_m3_day" yaml:"max_m3_day"`
}

// Contains reports whether flow lies in the range.
func (f FlowRange) Contains(flow float64) bool {
	return flow >= f.Min && flow <= f.Max
}

// Midpoint is the centre of the range.
func (f FlowRange) Midpoint() float64 {
	return (f.Min + f.Max) / 2
}

// ParameterRange is the span of one contaminant in a reference design.
type ParameterRange struct {
	Name string  `gorethink:"name" json:"name" yaml:"name"`
	Min  float64 `gorethink:"min" json:"min" yaml:"min"`
	Max  float64 `gorethink:"max" json:"max" yaml:"max"`
	Unit string  `gorethink:"unit" json:"unit" yaml:"unit"`
}

// ProvenCase is a read-only reference design.
type ProvenCase struct {
	ID                      string           `gorethink:"id" json:"id" yaml:"id"`
	Name                    string           `gorethink:"name" json:"name" yaml:"name"`
	ApplicationType         string           `gorethink:"application_type" json:"application_type" yaml:"application_type"`
	FlowRange               FlowRange        `gorethink:"flow_range" json:"flow_range" yaml:"flow_range"`
	ContaminantProfile      []ParameterRange `gorethink:"contaminant_profile" json:"contaminant_profile" yaml:"contaminant_profile"`
	TreatmentTrain          []string         `gorethink:"treatment_train" json:"treatment_train" yaml:"treatment_train"`
	CapexBenchmarkUSD       float64          `gorethink:"capex_benchmark_usd" json:"capex_benchmark_usd" yaml:"capex_benchmark_usd"`
	OpexBenchmarkUSDPerYear float64          `gorethink:"opex_benchmark_usd_per_year" json:"opex_benchmark_usd_per_year" yaml:"opex_benchmark_usd_per_year"`
}

// BiologicalSteps returns the reactor types of the case's train in order.
func (c ProvenCase) BiologicalSteps() []treatment.ReactorType {
	var steps []treatment.ReactorType
	for _, technology := range c.TreatmentTrain {
		if rt, err := treatment.ParseReactorType(technology); err == nil {
			steps = append(steps, rt)
		}
	}
	return steps
}

// EquipmentStage positions a piece of equipment in the train.
type EquipmentStage string

const (
	StagePrimary   EquipmentStage = "primary"
	StageSecondary EquipmentStage = "secondary"
	StageTertiary  EquipmentStage = "tertiary"
	StageAuxiliary EquipmentStage = "auxiliary"
)

// EquipmentSpec is one unit of the treatment train, upstream to downstream.
type EquipmentSpec struct {
	Type           string         `json:"type" validate:"required"`
	Stage          EquipmentStage `json:"stage" validate:"oneof=primary secondary tertiary auxiliary"`
	CapacityM3Day  float64        `json:"capacity_m3_day" validate:"gte=0"`
	PowerKW        float64        `json:"power_kw" validate:"gte=0"`
	CapexUSD       float64        `json:"capex_usd" validate:"gte=0"`
	Specifications string         `json:"specifications"`
	Justification  string         `json:"justification"`
}

// TechnologyJustification explains the choice of one equipment type.
type TechnologyJustification struct {
	Technology    string `json:"technology"`
	Justification string `json:"justification"`
}

// ProvenCaseReference names the baseline a proposal was checked against.
type ProvenCaseReference struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	ApplicationType string  `json:"application_type"`
	RelevanceScore  float64 `json:"relevance_score"`
}

// ProposalResult is the accepted output of one workflow run.
type ProposalResult struct {
	NarrativeSummary        string                          `json:"narrative_summary"`
	FlowRateM3Day           float64                         `json:"flow_rate_m3_day"`
	Equipment               []EquipmentSpec                 `json:"equipment"`
	CapexUSD                float64                         `json:"capex_usd"`
	AnnualOpexUSD           float64                         `json:"annual_opex_usd"`
	OpexBreakdown           map[string]float64              `json:"opex_breakdown"`
	Assumptions             []string                        `json:"assumptions"`
	AlternativesConsidered  []string                        `json:"alternatives_considered"`
	TechnologyJustification []TechnologyJustification       `json:"technology_justification"`
	ProvenCaseReference     *ProvenCaseReference            `json:"proven_case_reference"`
	TreatmentPerformance    []treatment.ParameterRemoval    `json:"treatment_performance"`
	SizingResults           []treatment.ReactorSizingResult `json:"sizing_results"`
	SizingPasses            int                             `json:"sizing_passes"`
	Warnings                []string                        `json:"warnings"`
}

// Train returns the equipment types in order.
func (p ProposalResult) Train() []string {
	train := make([]string, 0, len(p.Equipment))
	for _, e := range p.Equipment {
		train = append(train, e.Type)
	}
	return train
}
