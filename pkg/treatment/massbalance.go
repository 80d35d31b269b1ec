package treatment

import (
	"fmt"
	"sort"
)

// MassBalance holds the daily pollutant load per influent parameter.
type MassBalance struct {
	FlowRateM3Day float64            `json:"flow_rate_m3_day"`
	Loads         map[string]float64 `json:"loads_kg_per_day"`
}

// CalculateMassBalance converts influent concentrations into daily loads:
// load (kg/day) = flow (m3/day) x concentration (mg/L) / 1000.
// Parameters that are not mass concentrations are left out of the result.
func CalculateMassBalance(flowRateM3Day float64, parameters []Concentration) (MassBalance, error) {
	if !finite(flowRateM3Day) || flowRateM3Day <= 0 {
		return MassBalance{}, fmt.Errorf("%w: flow rate must be positive, got %v", ErrInvalidInput, flowRateM3Day)
	}

	loads := make(map[string]float64, len(parameters))
	for _, p := range parameters {
		if !finite(p.Value) || p.Value < 0 {
			return MassBalance{}, fmt.Errorf("%w: concentration of %q must be non-negative, got %v",
				ErrInvalidInput, p.Name, p.Value)
		}
		factor, ok := massUnitFactor(p.Unit)
		if !ok {
			continue
		}
		if _, dup := loads[p.Name]; dup {
			return MassBalance{}, fmt.Errorf("%w: duplicate parameter %q", ErrInvalidInput, p.Name)
		}
		loads[p.Name] = flowRateM3Day * p.Value * factor / 1000
	}

	return MassBalance{FlowRateM3Day: flowRateM3Day, Loads: loads}, nil
}

// Load returns the load of a parameter, matching names through CanonicalParameter.
func (m MassBalance) Load(parameter string) (float64, bool) {
	if v, ok := m.Loads[parameter]; ok {
		return v, true
	}
	want := CanonicalParameter(parameter)
	for _, name := range m.Names() {
		if CanonicalParameter(name) == want {
			return m.Loads[name], true
		}
	}
	return 0, false
}

// Names returns the parameter names in sorted order.
func (m MassBalance) Names() []string {
	names := make([]string, 0, len(m.Loads))
	for name := range m.Loads {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
