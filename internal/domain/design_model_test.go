package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"h2o-proposal-system/pkg/treatment"
)

func validRequest() DesignRequest {
	target := 150.0
	return DesignRequest{
		FlowRateM3Day: 242,
		Sector:        "food_beverage",
		Location:      "Guadalajara, Mexico",
		InfluentParameters: []InfluentParameter{
			{Name: "BOD", Value: 3700, Unit: "mg/L", TargetValue: &target},
			{Name: "pH", Value: 6.2, Unit: "pH"},
		},
		Objectives: []string{"meet discharge limits"},
	}
}

func TestDesignRequest_Validate(t *testing.T) {
	require.NoError(t, validRequest().Validate())

	tests := []struct {
		name   string
		mutate func(r *DesignRequest)
	}{
		{"zero flow", func(r *DesignRequest) { r.FlowRateM3Day = 0 }},
		{"missing sector", func(r *DesignRequest) { r.Sector = "" }},
		{"no objectives", func(r *DesignRequest) { r.Objectives = nil }},
		{"blank objective", func(r *DesignRequest) { r.Objectives = []string{""} }},
		{"no parameters", func(r *DesignRequest) { r.InfluentParameters = nil }},
		{"negative value", func(r *DesignRequest) { r.InfluentParameters[0].Value = -1 }},
		{"duplicate names", func(r *DesignRequest) {
			r.InfluentParameters = append(r.InfluentParameters, InfluentParameter{Name: "bod", Value: 1, Unit: "mg/L"})
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRequest()
			tt.mutate(&r)
			assert.ErrorIs(t, r.Validate(), treatment.ErrInvalidInput)
		})
	}
}

func TestDesignRequest_Helpers(t *testing.T) {
	r := validRequest()
	assert.Equal(t, map[string]float64{"BOD": 150}, r.Targets())
	assert.Len(t, r.Concentrations(), 2)

	p, ok := r.Parameter("BOD5")
	require.True(t, ok)
	assert.Equal(t, 3700.0, p.Value)
}

func TestProvenCase_BiologicalSteps(t *testing.T) {
	c := ProvenCase{TreatmentTrain: []string{"screening", "UASB", "activated sludge", "clarifier"}}
	assert.Equal(t, []treatment.ReactorType{treatment.ReactorUASB, treatment.ReactorActivatedSludge}, c.BiologicalSteps())
}
