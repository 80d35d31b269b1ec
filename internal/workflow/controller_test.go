package workflow

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"h2o-proposal-system/internal/domain"
	"h2o-proposal-system/internal/generative"
	"h2o-proposal-system/internal/provencase"
	"h2o-proposal-system/internal/repository"
	"h2o-proposal-system/pkg/treatment"
)

type fakeGenerator struct {
	out   generative.RawGenerativeOutput
	err   error
	calls atomic.Int32
	seen  []domain.ProvenCase
}

func (g *fakeGenerator) GenerateDesign(_ context.Context, _ domain.DesignRequest, _ treatment.MassBalance,
	cases []domain.ProvenCase, _ generative.ToolContext) (generative.RawGenerativeOutput, error) {
	g.calls.Add(1)
	g.seen = cases
	return g.out, g.err
}

func float(v float64) *float64 { return &v }

func dairyRequest() domain.DesignRequest {
	return domain.DesignRequest{
		FlowRateM3Day: 242,
		Sector:        "food_beverage",
		Location:      "Guadalajara, Mexico",
		InfluentParameters: []domain.InfluentParameter{
			{Name: "BOD", Value: 3700, Unit: "mg/L", TargetValue: float(150)},
			{Name: "COD", Value: 7000, Unit: "mg/L"},
			{Name: "TSS", Value: 1200, Unit: "mg/L"},
			{Name: "Temperature", Value: 25, Unit: "C"},
		},
		Objectives: []string{"comply with discharge limits"},
	}
}

func equipment(types ...string) []domain.EquipmentSpec {
	out := make([]domain.EquipmentSpec, 0, len(types))
	for _, typ := range types {
		stage := domain.StagePrimary
		if treatment.IsBiological(typ) {
			stage = domain.StageSecondary
		}
		out = append(out, domain.EquipmentSpec{
			Type:          typ,
			Stage:         stage,
			CapacityM3Day: 242,
			PowerKW:       10,
			CapexUSD:      100000,
		})
	}
	return out
}

func design(narrative string, types ...string) generative.RawGenerativeOutput {
	return generative.RawGenerativeOutput{
		NarrativeSummary:       narrative,
		Equipment:              equipment(types...),
		Assumptions:            []string{"Wastewater is free of toxic inhibitors"},
		AlternativesConsidered: []string{"MBR in place of activated sludge"},
		TechnologyJustification: []domain.TechnologyJustification{
			{Technology: "UASB", Justification: "High-strength organic load"},
		},
	}
}

func dairyCase() domain.ProvenCase {
	return domain.ProvenCase{
		ID:              "fb-dairy",
		Name:            "Dairy plant",
		ApplicationType: "food_beverage",
		FlowRange:       domain.FlowRange{Min: 150, Max: 600},
		ContaminantProfile: []domain.ParameterRange{
			{Name: "BOD", Min: 2000, Max: 6000, Unit: "mg/L"},
			{Name: "TSS", Min: 500, Max: 2000, Unit: "mg/L"},
		},
		TreatmentTrain:          []string{"screening", "daf", "uasb", "activated_sludge"},
		CapexBenchmarkUSD:       800000,
		OpexBenchmarkUSDPerYear: 90000,
	}
}

func lookupOf(cases ...domain.ProvenCase) *provencase.Lookup {
	return provencase.NewLookup(repository.NewStaticRepository(cases), nil)
}

type recorder struct {
	reports []Progress
}

func (r *recorder) record(p Progress) { r.reports = append(r.reports, p) }

func (r *recorder) percents() []int {
	out := make([]int, 0, len(r.reports))
	for _, p := range r.reports {
		out = append(out, p.Percent)
	}
	return out
}

func TestController_Nominal(t *testing.T) {
	gen := &fakeGenerator{out: design("The plant treats 242 m3/d of dairy effluent.",
		"Screening", "Equalization", "DAF", "UASB", "Activated Sludge", "Secondary Clarifier")}
	rec := &recorder{}

	result, err := NewController(lookupOf(dairyCase()), gen, DefaultConfig(), nil).
		Run(context.Background(), dairyRequest(), rec.record)
	require.NoError(t, err)

	assert.Equal(t, int32(1), gen.calls.Load())
	require.Len(t, gen.seen, 1)
	assert.Equal(t, []int{0, 10, 20, 30, 55, 75, 85, 95, 100}, rec.percents())
	assert.Equal(t, StateDone, rec.reports[len(rec.reports)-1].State)

	assert.Equal(t, 1, result.SizingPasses)
	require.Len(t, result.SizingResults, 2)
	assert.Equal(t, treatment.ReactorUASB, result.SizingResults[0].ReactorType)
	assert.Equal(t, treatment.ReactorActivatedSludge, result.SizingResults[1].ReactorType)
	for _, s := range result.SizingResults {
		assert.InDelta(t, s.VolumeM3/(242.0/24), s.HydraulicRetentionTimeHours, 1e-9)
		assert.False(t, s.Oversized())
	}
	// COD reaching the UASB is reduced by the DAF: 1694 kg/d * 0.65
	assert.InDelta(t, 1101.1, result.SizingResults[0].LoadKgPerDay, 1e-6)

	// six units at $100k, Mexico factor 0.75, 30% build-up
	assert.InDelta(t, 585000.0, result.CapexUSD, 1e-6)
	assert.Equal(t, 242.0, result.FlowRateM3Day)
	assert.Len(t, result.OpexBreakdown, 4)
	assert.Greater(t, result.AnnualOpexUSD, 0.0)

	require.NotNil(t, result.ProvenCaseReference)
	assert.Equal(t, "fb-dairy", result.ProvenCaseReference.ID)
	assert.NotEmpty(t, result.Assumptions)
	assert.NotEmpty(t, result.AlternativesConsidered)
	assert.Len(t, result.TechnologyJustification, 6)
	assert.Equal(t, "High-strength organic load", result.TechnologyJustification[3].Justification)

	require.NotEmpty(t, result.TreatmentPerformance)
	assert.Equal(t, "BOD", result.TreatmentPerformance[0].Parameter)
	assert.True(t, result.TreatmentPerformance[0].MeetsTarget)
	assert.NotNil(t, result.Warnings)
}

func TestController_OversizedReactorWithoutBaseline(t *testing.T) {
	req := dairyRequest()
	req.InfluentParameters = []domain.InfluentParameter{
		{Name: "BOD", Value: 3700, Unit: "mg/L"},
		{Name: "Temperature", Value: 20, Unit: "°C"},
	}
	gen := &fakeGenerator{out: design("A single SBR treats the flow.", "Screening", "SBR")}

	result, err := NewController(lookupOf(), gen, DefaultConfig(), nil).Run(context.Background(), req, nil)
	require.NoError(t, err)

	assert.Nil(t, result.ProvenCaseReference)
	assert.Equal(t, 1, result.SizingPasses)
	require.Len(t, result.SizingResults, 1)
	assert.True(t, result.SizingResults[0].Oversized())
	assert.InDelta(t, 253.71, result.SizingResults[0].HydraulicRetentionTimeHours, 0.01)

	joined := strings.Join(result.Warnings, "\n")
	assert.Contains(t, joined, "SBR: HRT 253.7h")
	assert.Contains(t, joined, "typical maximum of 24h")
}

func TestController_ResizesFromBaseline(t *testing.T) {
	req := dairyRequest()
	req.InfluentParameters = []domain.InfluentParameter{
		{Name: "BOD", Value: 3700, Unit: "mg/L"},
		{Name: "Temperature", Value: 20, Unit: "C"},
	}
	gen := &fakeGenerator{out: design("Screening followed by an SBR.", "Screening", "SBR")}

	result, err := NewController(lookupOf(dairyCase()), gen, DefaultConfig(), nil).Run(context.Background(), req, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, result.SizingPasses)
	assert.Equal(t, []string{"Screening", "UASB", "ActivatedSludge"}, result.Train())
	require.Len(t, result.SizingResults, 2)

	uasb, as := result.SizingResults[0], result.SizingResults[1]
	assert.Equal(t, treatment.ReactorUASB, uasb.ReactorType)
	assert.InDelta(t, 895.4*2, uasb.LoadKgPerDay, 1e-6)
	assert.Contains(t, uasb.Warnings, "COD load estimated from BOD")
	// second stage sees the BOD left by the UASB
	assert.InDelta(t, 895.4*0.2, as.LoadKgPerDay, 1e-6)
	assert.False(t, uasb.Oversized())
	assert.False(t, as.Oversized())

	// replacement reactors share the SBR's cost
	assert.InDelta(t, 50000.0, result.Equipment[1].CapexUSD, 1e-9)
	assert.Contains(t, strings.Join(result.Warnings, "\n"), "following proven case fb-dairy")
	// the first pass's oversize finding stays on the result
	assert.Contains(t, strings.Join(result.Warnings, "\n"), "pass 1: SBR: HRT 253.7h")
}

func TestController_SameArrangementDoesNotResize(t *testing.T) {
	req := dairyRequest()
	req.InfluentParameters = []domain.InfluentParameter{
		{Name: "BOD", Value: 3700, Unit: "mg/L"},
		{Name: "Temperature", Value: 20, Unit: "C"},
	}
	baseline := dairyCase()
	baseline.TreatmentTrain = []string{"screening", "sbr"}
	gen := &fakeGenerator{out: design("Screening and SBR.", "Screening", "SBR")}

	result, err := NewController(lookupOf(baseline), gen, DefaultConfig(), nil).Run(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.SizingPasses)
	assert.True(t, result.SizingResults[0].Oversized())
}

func TestController_BudgetExceeded(t *testing.T) {
	gen := &fakeGenerator{out: design("x", "DAF", "UASB", "Activated Sludge")}
	cfg := DefaultConfig()
	cfg.CallBudget = 3

	rec := &recorder{}
	_, err := NewController(lookupOf(), gen, cfg, nil).Run(context.Background(), dairyRequest(), rec.record)
	require.ErrorIs(t, err, ErrBudgetExceeded)
	assert.Equal(t, int32(1), gen.calls.Load())
	assert.Equal(t, StateEquipmentSizing, rec.reports[len(rec.reports)-1].State)
}

func TestController_StrictConsistency(t *testing.T) {
	out := design("Total CAPEX is $99.", "DAF", "UASB", "Activated Sludge")

	cfg := DefaultConfig()
	cfg.StrictConsistency = true
	_, err := NewController(lookupOf(), &fakeGenerator{out: out}, cfg, nil).Run(context.Background(), dairyRequest(), nil)
	require.ErrorIs(t, err, ErrInconsistentOutput)

	result, err := NewController(lookupOf(), &fakeGenerator{out: out}, DefaultConfig(), nil).
		Run(context.Background(), dairyRequest(), nil)
	require.NoError(t, err)
	assert.Contains(t, strings.Join(result.Warnings, "\n"), "capex_usd")
}

func TestController_GenerationFailure(t *testing.T) {
	gen := &fakeGenerator{err: errors.Join(generative.ErrGenerationFailed, errors.New("timeout"))}
	rec := &recorder{}

	_, err := NewController(lookupOf(), gen, DefaultConfig(), nil).Run(context.Background(), dairyRequest(), rec.record)
	require.ErrorIs(t, err, generative.ErrGenerationFailed)
	assert.Equal(t, []int{0, 10, 20, 30}, rec.percents())
}

func TestController_InvalidRequest(t *testing.T) {
	req := dairyRequest()
	req.FlowRateM3Day = -1
	gen := &fakeGenerator{}

	_, err := NewController(lookupOf(), gen, DefaultConfig(), nil).Run(context.Background(), req, nil)
	require.ErrorIs(t, err, treatment.ErrInvalidInput)
	assert.Equal(t, int32(0), gen.calls.Load())
}

func TestController_IncompleteTrain(t *testing.T) {
	req := dairyRequest()
	req.InfluentParameters = append(req.InfluentParameters,
		domain.InfluentParameter{Name: "FecalColiform", Value: 1e6, Unit: "MPN/100mL", TargetValue: float(1000)})
	gen := &fakeGenerator{out: design("x", "DAF", "UASB", "Activated Sludge")}

	_, err := NewController(lookupOf(), gen, DefaultConfig(), nil).Run(context.Background(), req, nil)
	require.ErrorIs(t, err, treatment.ErrIncompleteTrain)
}

func TestController_UntreatableTargetFails(t *testing.T) {
	req := dairyRequest()
	req.InfluentParameters = append(req.InfluentParameters,
		domain.InfluentParameter{Name: "Arsenic", Value: 0.5, Unit: "mg/L", TargetValue: float(0.01)})
	gen := &fakeGenerator{out: design("x", "Screening", "DAF", "UASB", "Activated Sludge")}

	_, err := NewController(lookupOf(), gen, DefaultConfig(), nil).Run(context.Background(), req, nil)
	require.ErrorIs(t, err, treatment.ErrIncompleteTrain)
	assert.Contains(t, err.Error(), "Arsenic")
}

func TestController_NarrativeTruncated(t *testing.T) {
	gen := &fakeGenerator{out: design(strings.Repeat("é", 50), "DAF", "UASB")}
	cfg := DefaultConfig()
	cfg.MaxNarrativeChars = 10

	result, err := NewController(lookupOf(), gen, cfg, nil).Run(context.Background(), dairyRequest(), nil)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("é", 10), result.NarrativeSummary)
}

func TestController_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewController(lookupOf(), &fakeGenerator{}, DefaultConfig(), nil).Run(ctx, dairyRequest(), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPlausibilityWarnings(t *testing.T) {
	c := dairyCase() // midpoint 375 m3/d
	expected := scaledBenchmark(800000, 375, 242)

	assert.Empty(t, plausibilityWarnings(c, 242, expected*1.4, 90000*0.9, 0.5))

	warnings := plausibilityWarnings(c, 242, expected*1.6, 0, 0.5)
	require.Len(t, warnings, 2)
	assert.Contains(t, warnings[0], "CAPEX")
	assert.Contains(t, warnings[0], "fb-dairy")
	assert.Contains(t, warnings[1], "annual OPEX")
}

func TestState_Progress(t *testing.T) {
	states := []State{StateInit, StateBaselineLookup, StateMassBalance, StateTrainDesign,
		StateEquipmentSizing, StateValidation, StateCosting, StateOutputAssembly, StateDone}
	for i := 1; i < len(states); i++ {
		assert.Greater(t, states[i].Progress(), states[i-1].Progress())
	}
	assert.Equal(t, 100, StateDone.Progress())
}
