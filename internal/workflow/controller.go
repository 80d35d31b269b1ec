package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"h2o-proposal-system/internal/domain"
	"h2o-proposal-system/internal/generative"
	"h2o-proposal-system/internal/provencase"
	"h2o-proposal-system/internal/validation"
	"h2o-proposal-system/pkg/treatment"
)

// maxSizingPasses caps EquipmentSizing at the first pass plus one revision.
const maxSizingPasses = 2

// CaseRanker finds ranked proven cases for a request.
type CaseRanker interface {
	Rank(ctx context.Context, sector string, flowRateM3Day float64, contaminants []string) ([]provencase.Match, error)
}

// DesignGenerator is the single generative step.
type DesignGenerator interface {
	GenerateDesign(ctx context.Context, req domain.DesignRequest, massBalance treatment.MassBalance,
		cases []domain.ProvenCase, tools generative.ToolContext) (generative.RawGenerativeOutput, error)
}

type Config struct {
	CallBudget          int
	StrictConsistency   bool
	MaxNarrativeChars   int
	DefaultTemperatureC float64
	EnergyRateUSDPerKWh float64
	CostTolerance       float64
	Labor               treatment.LaborModel
	Chemicals           treatment.ChemicalModel
}

func DefaultConfig() Config {
	return Config{
		CallBudget:          10,
		MaxNarrativeChars:   4000,
		DefaultTemperatureC: 25,
		EnergyRateUSDPerKWh: 0.10,
		CostTolerance:       defaultCostTolerance,
		Labor:               treatment.LaborModel{AnnualCostPerStaff: 20000},
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.CallBudget <= 0 {
		c.CallBudget = d.CallBudget
	}
	if c.MaxNarrativeChars <= 0 {
		c.MaxNarrativeChars = d.MaxNarrativeChars
	}
	if c.DefaultTemperatureC == 0 {
		c.DefaultTemperatureC = d.DefaultTemperatureC
	}
	if c.CostTolerance <= 0 {
		c.CostTolerance = d.CostTolerance
	}
	return c
}

// Controller sequences the toolset around one generative call.
type Controller struct {
	cases     CaseRanker
	generator DesignGenerator
	cfg       Config
	logger    *zap.Logger
}

func NewController(cases CaseRanker, generator DesignGenerator, cfg Config, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		cases:     cases,
		generator: generator,
		cfg:       cfg.withDefaults(),
		logger:    logger,
	}
}

// run is the mutable state of one execution.
type run struct {
	c        *Controller
	req      domain.DesignRequest
	budget   budget
	warnings []string

	temperatureC float64
	matches      []provencase.Match
	massBalance  treatment.MassBalance
	design       generative.RawGenerativeOutput
	equipment    []domain.EquipmentSpec
	sizing       []treatment.ReactorSizingResult
	sizingPasses int
	efficiency   treatment.EfficiencyResult
	capex        float64
	opex         treatment.OpexResult
	result       domain.ProposalResult
}

// Run executes the workflow. progress may be nil.
func (c *Controller) Run(ctx context.Context, req domain.DesignRequest, progress ProgressFunc) (domain.ProposalResult, error) {
	if progress == nil {
		progress = func(Progress) {}
	}
	r := &run{
		c:      c,
		req:    req,
		budget: budget{limit: c.cfg.CallBudget},
	}

	start := time.Now()
	state := StateInit
	for state != StateDone {
		if err := ctx.Err(); err != nil {
			return domain.ProposalResult{}, fmt.Errorf("%s: %w", state, err)
		}
		progress(Progress{State: state, Percent: state.Progress(), Message: state.Description()})

		next, err := r.step(ctx, state)
		if err != nil {
			c.logger.Warn("workflow step failed",
				zap.String("step", string(state)),
				zap.Int("calls", r.budget.used),
				zap.Error(err))
			return domain.ProposalResult{}, fmt.Errorf("%s: %w", state, err)
		}
		state = next
	}
	progress(Progress{State: StateDone, Percent: StateDone.Progress(), Message: StateDone.Description()})

	c.logger.Info("workflow completed",
		zap.Int("calls", r.budget.used),
		zap.Int("sizing_passes", r.sizingPasses),
		zap.Int("warnings", len(r.result.Warnings)),
		zap.Duration("duration", time.Since(start)))
	return r.result, nil
}

func (r *run) step(ctx context.Context, state State) (State, error) {
	switch state {
	case StateInit:
		return r.init()
	case StateBaselineLookup:
		return r.baselineLookup(ctx)
	case StateMassBalance:
		return r.calculateMassBalance()
	case StateTrainDesign:
		return r.trainDesign(ctx)
	case StateEquipmentSizing:
		return r.sizeEquipment()
	case StateValidation:
		return r.validateEfficiency()
	case StateCosting:
		return r.estimateCosts()
	case StateOutputAssembly:
		return r.assembleOutput()
	default:
		return "", fmt.Errorf("unknown workflow state %q", state)
	}
}

func (r *run) init() (State, error) {
	if err := r.req.Validate(); err != nil {
		return "", err
	}
	r.temperatureC = designTemperature(r.req, r.c.cfg.DefaultTemperatureC)
	return StateBaselineLookup, nil
}

func (r *run) baselineLookup(ctx context.Context) (State, error) {
	matches, err := r.c.cases.Rank(ctx, r.req.Sector, r.req.FlowRateM3Day, contaminants(r.req))
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		r.c.logger.Warn("proven case lookup failed, continuing without baseline", zap.Error(err))
		r.warn("proven case lookup unavailable; design has no baseline comparison")
		matches = nil
	}
	r.matches = matches
	return StateMassBalance, nil
}

func (r *run) calculateMassBalance() (State, error) {
	if err := r.budget.spend("mass balance"); err != nil {
		return "", err
	}
	mb, err := treatment.CalculateMassBalance(r.req.FlowRateM3Day, r.req.Concentrations())
	if err != nil {
		return "", err
	}
	r.massBalance = mb
	return StateTrainDesign, nil
}

func (r *run) trainDesign(ctx context.Context) (State, error) {
	if err := r.budget.spend("generative design"); err != nil {
		return "", err
	}
	cases := make([]domain.ProvenCase, 0, len(r.matches))
	for _, m := range r.matches {
		cases = append(cases, m.Case)
	}
	design, err := r.c.generator.GenerateDesign(ctx, r.req, r.massBalance, cases, r.toolContext())
	if err != nil {
		return "", err
	}
	r.design = design
	r.equipment = append([]domain.EquipmentSpec(nil), design.Equipment...)
	return StateEquipmentSizing, nil
}

func (r *run) toolContext() generative.ToolContext {
	return generative.ToolContext{
		DesignTemperatureC:  r.temperatureC,
		LocationFactor:      treatment.LocationFactor(r.req.Location),
		EnergyRateUSDPerKWh: r.c.cfg.EnergyRateUSDPerKWh,
		Technologies:        treatment.Technologies(),
		ReactorTypes: []treatment.ReactorType{
			treatment.ReactorUASB,
			treatment.ReactorSBR,
			treatment.ReactorActivatedSludge,
			treatment.ReactorMBR,
		},
	}
}

func (r *run) sizeEquipment() (State, error) {
	r.sizingPasses++
	if r.sizingPasses > maxSizingPasses {
		return "", fmt.Errorf("%w: equipment sizing entered %d times", ErrBudgetExceeded, r.sizingPasses)
	}

	train := trainOf(r.equipment)
	results := make([]treatment.ReactorSizingResult, 0, 2)
	for i, technology := range train {
		rt, err := treatment.ParseReactorType(technology)
		if err != nil {
			continue
		}
		load, basis, ok := r.organicLoad(rt, train[:i])
		if !ok {
			r.warn(fmt.Sprintf("no BOD or COD load available; %s not sized", technology))
			continue
		}
		if err := r.budget.spend("size " + string(rt)); err != nil {
			return "", err
		}
		res, err := treatment.SizeBiologicalReactor(rt, load, r.req.FlowRateM3Day, r.temperatureC)
		if err != nil {
			return "", err
		}
		if basis != "" {
			res.Warnings = append(res.Warnings, basis)
		}
		results = append(results, res)
	}
	r.sizing = results

	if r.sizingPasses < maxSizingPasses && anyOversized(results) {
		if revised, baseline, ok := r.alternativeArrangement(results); ok {
			r.c.logger.Info("re-sizing biological stage from proven case",
				zap.String("case_id", baseline.ID),
				zap.Strings("train", trainOf(revised)))
			r.warnSizing("pass 1: ")
			r.warn(fmt.Sprintf("biological stage revised to %s following proven case %s after an oversize warning",
				strings.Join(biologicalTypes(revised), " + "), baseline.ID))
			r.equipment = revised
			return StateEquipmentSizing, nil
		}
	}

	r.warnSizing("")
	return StateValidation, nil
}

func (r *run) warnSizing(prefix string) {
	for _, res := range r.sizing {
		for _, w := range res.Warnings {
			r.warn(fmt.Sprintf("%s%s: %s", prefix, res.ReactorType, w))
		}
	}
}

// organicLoad returns the load a reactor sees after the upstream steps:
// COD for anaerobic reactors, BOD for aerobic ones. When only the other
// parameter is measured it is converted at COD = 2 x BOD and basis says so.
func (r *run) organicLoad(rt treatment.ReactorType, upstream []string) (load float64, basis string, ok bool) {
	primary, secondary, factor := treatment.ParamBOD, treatment.ParamCOD, 0.5
	if rt.Anaerobic() {
		primary, secondary, factor = treatment.ParamCOD, treatment.ParamBOD, 2.0
	}
	if raw, found := r.massBalance.Load(primary); found {
		return treatment.ResidualLoad(upstream, primary, raw), "", true
	}
	if raw, found := r.massBalance.Load(secondary); found {
		residual := treatment.ResidualLoad(upstream, secondary, raw)
		return residual * factor, fmt.Sprintf("%s load estimated from %s", primary, secondary), true
	}
	return 0, "", false
}

// alternativeArrangement proposes replacing the biological steps with those
// of the best-ranked proven case when it names a different arrangement.
func (r *run) alternativeArrangement(previous []treatment.ReactorSizingResult) ([]domain.EquipmentSpec, domain.ProvenCase, bool) {
	if len(r.matches) == 0 {
		return nil, domain.ProvenCase{}, false
	}
	baseline := r.matches[0].Case
	steps := baseline.BiologicalSteps()
	current := make([]treatment.ReactorType, 0, len(previous))
	for _, res := range previous {
		current = append(current, res.ReactorType)
	}
	if len(steps) == 0 || sameArrangement(steps, current) {
		return nil, domain.ProvenCase{}, false
	}

	var capex, power float64
	first := -1
	var revised []domain.EquipmentSpec
	for i, e := range r.equipment {
		if treatment.IsBiological(e.Type) {
			if first < 0 {
				first = i
			}
			capex += e.CapexUSD
			power += e.PowerKW
			continue
		}
		revised = append(revised, e)
	}
	if first < 0 {
		return nil, domain.ProvenCase{}, false
	}

	// The replacement reactors share the replaced equipment's cost and power.
	share := 1 / float64(len(steps))
	replacement := make([]domain.EquipmentSpec, 0, len(steps))
	for _, rt := range steps {
		replacement = append(replacement, domain.EquipmentSpec{
			Type:           string(rt),
			Stage:          domain.StageSecondary,
			CapacityM3Day:  r.req.FlowRateM3Day,
			PowerKW:        power * share,
			CapexUSD:       capex * share,
			Specifications: "sized by the reactor model on the upstream-reduced load",
			Justification:  fmt.Sprintf("arrangement of proven case %s (%s)", baseline.ID, baseline.Name),
		})
	}

	out := make([]domain.EquipmentSpec, 0, len(revised)+len(replacement))
	out = append(out, revised[:first]...)
	out = append(out, replacement...)
	out = append(out, revised[first:]...)
	return out, baseline, true
}

func (r *run) validateEfficiency() (State, error) {
	if err := r.budget.spend("treatment efficiency"); err != nil {
		return "", err
	}
	eff, err := treatment.ValidateTreatmentEfficiency(trainOf(r.equipment), r.req.Concentrations(), r.req.Targets())
	if err != nil {
		return "", err
	}
	r.efficiency = eff
	r.warn(eff.Warnings...)
	return StateCosting, nil
}

func (r *run) estimateCosts() (State, error) {
	costs := make(map[string]float64, len(r.equipment))
	power := make(map[string]float64, len(r.equipment))
	for i, e := range r.equipment {
		key := fmt.Sprintf("%02d %s", i+1, e.Type)
		costs[key] = e.CapexUSD
		power[key] = e.PowerKW
	}

	if err := r.budget.spend("capex"); err != nil {
		return "", err
	}
	capex, err := treatment.CalculateTotalCapex(costs, treatment.LocationFactor(r.req.Location))
	if err != nil {
		return "", err
	}

	if err := r.budget.spend("opex"); err != nil {
		return "", err
	}
	opex, err := treatment.CalculateAnnualOpex(power, r.req.FlowRateM3Day, r.c.cfg.EnergyRateUSDPerKWh,
		r.c.cfg.Labor, r.c.cfg.Chemicals)
	if err != nil {
		return "", err
	}

	r.capex = capex
	r.opex = opex
	return StateOutputAssembly, nil
}

func (r *run) assembleOutput() (State, error) {
	result := domain.ProposalResult{
		NarrativeSummary:        truncate(r.design.NarrativeSummary, r.c.cfg.MaxNarrativeChars),
		FlowRateM3Day:           r.req.FlowRateM3Day,
		Equipment:               r.equipment,
		CapexUSD:                r.capex,
		AnnualOpexUSD:           r.opex.Total,
		OpexBreakdown:           r.opex.Breakdown,
		Assumptions:             r.assumptions(),
		AlternativesConsidered:  r.alternatives(),
		TechnologyJustification: r.justifications(),
		SizingResults:           r.sizing,
		SizingPasses:            r.sizingPasses,
	}
	for _, name := range r.efficiency.Order {
		result.TreatmentPerformance = append(result.TreatmentPerformance, r.efficiency.Removal[name])
	}

	if len(r.matches) > 0 {
		best := r.matches[0]
		result.ProvenCaseReference = &domain.ProvenCaseReference{
			ID:              best.Case.ID,
			Name:            best.Case.Name,
			ApplicationType: best.Case.ApplicationType,
			RelevanceScore:  best.Score,
		}
		r.warn(plausibilityWarnings(best.Case, r.req.FlowRateM3Day, r.capex, r.opex.Total, r.c.cfg.CostTolerance)...)
	}

	report := validation.Validate(result.NarrativeSummary, result)
	if !report.IsConsistent {
		issues := make([]string, 0, len(report.Mismatches))
		for _, m := range report.Mismatches {
			issues = append(issues, m.String())
		}
		if r.c.cfg.StrictConsistency {
			return "", fmt.Errorf("%w: %s", ErrInconsistentOutput, strings.Join(issues, "; "))
		}
		r.warn(issues...)
	}

	result.Warnings = r.warnings
	if result.Warnings == nil {
		result.Warnings = []string{}
	}
	r.result = result
	return StateDone, nil
}

func (r *run) assumptions() []string {
	out := append([]string(nil), r.design.Assumptions...)
	out = append(out,
		fmt.Sprintf("Design temperature %.1f C", r.temperatureC),
		fmt.Sprintf("Location cost factor %.2f and %.0f%% installation build-up applied to equipment CAPEX",
			treatment.LocationFactor(r.req.Location), treatment.CapexBuildUp*100),
		fmt.Sprintf("Energy at $%.3f/kWh", r.c.cfg.EnergyRateUSDPerKWh),
	)
	return out
}

func (r *run) alternatives() []string {
	out := append([]string(nil), r.design.AlternativesConsidered...)
	current := strings.Join(trainOf(r.equipment), " -> ")
	for _, m := range r.matches {
		train := strings.Join(m.Case.TreatmentTrain, " -> ")
		if train != current {
			out = append(out, fmt.Sprintf("Proven case %s train: %s", m.Case.ID, train))
		}
	}
	if len(out) == 0 {
		out = append(out, "No alternative arrangement was identified for this sector and flow")
	}
	return out
}

// justifications returns exactly one entry per distinct equipment type.
func (r *run) justifications() []domain.TechnologyJustification {
	given := make(map[string]string, len(r.design.TechnologyJustification))
	for _, j := range r.design.TechnologyJustification {
		given[strings.ToLower(strings.TrimSpace(j.Technology))] = j.Justification
	}

	seen := make(map[string]struct{}, len(r.equipment))
	out := make([]domain.TechnologyJustification, 0, len(r.equipment))
	for _, e := range r.equipment {
		key := strings.ToLower(e.Type)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		text := given[key]
		if text == "" {
			text = e.Justification
		}
		if text == "" {
			text = fmt.Sprintf("%s stage of the treatment train", e.Stage)
		}
		out = append(out, domain.TechnologyJustification{Technology: e.Type, Justification: text})
	}
	return out
}

func (r *run) warn(messages ...string) {
	r.warnings = append(r.warnings, messages...)
}

func designTemperature(req domain.DesignRequest, fallback float64) float64 {
	for _, p := range req.InfluentParameters {
		name := strings.ToLower(strings.TrimSpace(p.Name))
		if name != "temperature" && name != "temp" {
			continue
		}
		unit := strings.ToUpper(strings.Trim(p.Unit, "° "))
		if unit == "F" {
			return (p.Value - 32) * 5 / 9
		}
		return p.Value
	}
	return fallback
}

func contaminants(req domain.DesignRequest) []string {
	var names []string
	for _, p := range req.InfluentParameters {
		if treatment.IsMassUnit(p.Unit) {
			names = append(names, p.Name)
		}
	}
	return names
}

func trainOf(equipment []domain.EquipmentSpec) []string {
	train := make([]string, 0, len(equipment))
	for _, e := range equipment {
		train = append(train, e.Type)
	}
	return train
}

func biologicalTypes(equipment []domain.EquipmentSpec) []string {
	var out []string
	for _, e := range equipment {
		if treatment.IsBiological(e.Type) {
			out = append(out, e.Type)
		}
	}
	return out
}

func anyOversized(results []treatment.ReactorSizingResult) bool {
	for _, res := range results {
		if res.Oversized() {
			return true
		}
	}
	return false
}

func sameArrangement(a, b []treatment.ReactorType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if max <= 0 || len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
