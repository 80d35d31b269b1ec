package treatment

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/floats"
)

// CapexBuildUp is the engineering and installation overhead applied on top
// of equipment purchase cost.
const CapexBuildUp = 0.30

// locationFactors scale equipment cost to the project region.
var locationFactors = map[string]float64{
	"usa":            1.00,
	"united states":  1.00,
	"canada":         1.10,
	"mexico":         0.75,
	"brazil":         0.80,
	"chile":          0.85,
	"colombia":       0.78,
	"peru":           0.80,
	"argentina":      0.82,
	"spain":          0.95,
	"germany":        1.15,
	"united kingdom": 1.12,
	"india":          0.60,
	"china":          0.65,
	"australia":      1.20,
}

// LocationFactor returns the cost multiplier for a free-form location. The
// last comma-separated token decides ("Monterrey, Mexico" -> mexico);
// unknown locations get 1.0.
func LocationFactor(location string) float64 {
	parts := strings.Split(strings.ToLower(location), ",")
	for i := len(parts) - 1; i >= 0; i-- {
		if f, ok := locationFactors[strings.TrimSpace(parts[i])]; ok {
			return f
		}
	}
	return 1.0
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// CalculateTotalCapex sums equipment costs, applies the location factor and
// the fixed build-up, and rounds to cents.
func CalculateTotalCapex(equipmentCosts map[string]float64, locationFactor float64) (float64, error) {
	if len(equipmentCosts) == 0 {
		return 0, fmt.Errorf("%w: no equipment costs", ErrInvalidInput)
	}
	if !finite(locationFactor) || locationFactor <= 0 {
		return 0, fmt.Errorf("%w: location factor must be positive, got %v", ErrInvalidInput, locationFactor)
	}

	total := decimal.Zero
	for _, name := range sortedKeys(equipmentCosts) {
		cost := equipmentCosts[name]
		if !finite(cost) || cost < 0 {
			return 0, fmt.Errorf("%w: cost of %q must be a non-negative number, got %v", ErrInvalidInput, name, cost)
		}
		total = total.Add(decimal.NewFromFloat(cost))
	}

	total = total.
		Mul(decimal.NewFromFloat(locationFactor)).
		Mul(decimal.NewFromFloat(1 + CapexBuildUp)).
		Round(2)

	return total.InexactFloat64(), nil
}

// LaborModel describes plant staffing. Operators of zero means "derive from
// flow": one operator per started 1000 m3/day plus one supervisor.
type LaborModel struct {
	Operators          int     `json:"operators"`
	AnnualCostPerStaff float64 `json:"annual_cost_per_staff_usd"`
}

// StaffFor returns the headcount used for a flow rate.
func (l LaborModel) StaffFor(flowRateM3Day float64) int {
	if l.Operators > 0 {
		return l.Operators
	}
	return int(math.Ceil(flowRateM3Day/1000)) + 1
}

// Chemical is one dosed reagent.
type Chemical struct {
	Name          string  `json:"name"`
	DoseMgL       float64 `json:"dose_mg_l"`
	PriceUSDPerKg float64 `json:"price_usd_per_kg"`
}

// ChemicalModel lists the dosed reagents.
type ChemicalModel struct {
	Chemicals []Chemical `json:"chemicals"`
}

// Operating assumptions for the OPEX rollup.
const (
	hoursPerYear            = 8760
	energyDutyFactor        = 0.80
	maintenanceUSDPerKWYear = 180.0
	OpexCategoryEnergy      = "energy"
	OpexCategoryChemicals   = "chemicals"
	OpexCategoryLabor       = "labor"
	OpexCategoryMaintenance = "maintenance"
)

// OpexResult is the annual operating cost with its fixed four-way breakdown.
type OpexResult struct {
	Total     float64            `json:"total"`
	Breakdown map[string]float64 `json:"breakdown"`
}

// CalculateAnnualOpex rolls up annual operating cost into energy, chemicals,
// labor and maintenance.
func CalculateAnnualOpex(equipmentPowerKW map[string]float64, flowRateM3Day, energyRate float64, labor LaborModel, chemicals ChemicalModel) (OpexResult, error) {
	if len(equipmentPowerKW) == 0 {
		return OpexResult{}, fmt.Errorf("%w: equipment power list is empty", ErrInvalidInput)
	}
	if !finite(flowRateM3Day) || flowRateM3Day <= 0 {
		return OpexResult{}, fmt.Errorf("%w: flow rate must be positive, got %v", ErrInvalidInput, flowRateM3Day)
	}
	if !finite(energyRate) || energyRate < 0 {
		return OpexResult{}, fmt.Errorf("%w: energy rate must be non-negative, got %v", ErrInvalidInput, energyRate)
	}
	if !finite(labor.AnnualCostPerStaff) || labor.AnnualCostPerStaff < 0 || labor.Operators < 0 {
		return OpexResult{}, fmt.Errorf("%w: invalid labor model %+v", ErrInvalidInput, labor)
	}

	names := sortedKeys(equipmentPowerKW)
	power := make([]float64, 0, len(names))
	for _, name := range names {
		kw := equipmentPowerKW[name]
		if !finite(kw) || kw < 0 {
			return OpexResult{}, fmt.Errorf("%w: power of %q must be non-negative, got %v", ErrInvalidInput, name, kw)
		}
		power = append(power, kw)
	}
	installedKW := floats.Sum(power)

	energy := decimal.NewFromFloat(installedKW).
		Mul(decimal.NewFromInt(hoursPerYear)).
		Mul(decimal.NewFromFloat(energyDutyFactor)).
		Mul(decimal.NewFromFloat(energyRate))

	chemical := decimal.Zero
	for _, c := range chemicals.Chemicals {
		if !finite(c.DoseMgL) || c.DoseMgL < 0 || !finite(c.PriceUSDPerKg) || c.PriceUSDPerKg < 0 {
			return OpexResult{}, fmt.Errorf("%w: invalid chemical %q", ErrInvalidInput, c.Name)
		}
		kgPerYear := decimal.NewFromFloat(flowRateM3Day).
			Mul(decimal.NewFromFloat(c.DoseMgL)).
			Div(decimal.NewFromInt(1000)).
			Mul(decimal.NewFromInt(365))
		chemical = chemical.Add(kgPerYear.Mul(decimal.NewFromFloat(c.PriceUSDPerKg)))
	}

	staff := decimal.NewFromInt(int64(labor.StaffFor(flowRateM3Day))).
		Mul(decimal.NewFromFloat(labor.AnnualCostPerStaff))

	maintenance := decimal.NewFromFloat(installedKW).Mul(decimal.NewFromFloat(maintenanceUSDPerKWYear))

	breakdown := map[string]float64{
		OpexCategoryEnergy:      energy.Round(2).InexactFloat64(),
		OpexCategoryChemicals:   chemical.Round(2).InexactFloat64(),
		OpexCategoryLabor:       staff.Round(2).InexactFloat64(),
		OpexCategoryMaintenance: maintenance.Round(2).InexactFloat64(),
	}
	total := energy.Round(2).Add(chemical.Round(2)).Add(staff.Round(2)).Add(maintenance.Round(2))

	return OpexResult{Total: total.InexactFloat64(), Breakdown: breakdown}, nil
}
