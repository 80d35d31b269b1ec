package treatment

import (
	"fmt"
	"sort"
	"strings"
)

// removalTable holds fractional removal efficiencies per technology and
// canonical parameter. Values are typical mid-range design figures.
var removalTable = map[string]map[string]float64{
	"screening":           {ParamTSS: 0.05, ParamFOG: 0.05},
	"grit_removal":        {ParamTSS: 0.08},
	"equalization":        {},
	"oil_water_separator": {ParamFOG: 0.70, ParamTSS: 0.20, ParamBOD: 0.05, ParamCOD: 0.05},
	"daf":                 {ParamTSS: 0.85, ParamFOG: 0.90, ParamBOD: 0.35, ParamCOD: 0.35, ParamTP: 0.50},
	"primary_clarifier":   {ParamTSS: 0.60, ParamBOD: 0.30, ParamCOD: 0.30, ParamFOG: 0.30},
	"coagulation":         {ParamTSS: 0.60, ParamTP: 0.80, ParamTurbidity: 0.70, ParamCOD: 0.20},
	"uasb":                {ParamCOD: 0.75, ParamBOD: 0.80, ParamTSS: 0.60},
	"sbr":                 {ParamBOD: 0.95, ParamCOD: 0.90, ParamTSS: 0.90, ParamNH3N: 0.90, ParamTN: 0.70, ParamTP: 0.50},
	"activated_sludge":    {ParamBOD: 0.90, ParamCOD: 0.85, ParamTSS: 0.85, ParamNH3N: 0.85, ParamTN: 0.30, ParamTP: 0.30},
	"mbr":                 {ParamBOD: 0.97, ParamCOD: 0.93, ParamTSS: 0.99, ParamNH3N: 0.95, ParamTN: 0.75, ParamTP: 0.60, ParamTurbidity: 0.98, ParamColiform: 0.9999},
	"anoxic_tank":         {ParamTN: 0.60},
	"secondary_clarifier": {ParamTSS: 0.50},
	"sand_filter":         {ParamTSS: 0.70, ParamTurbidity: 0.70, ParamBOD: 0.20},
	"activated_carbon":    {ParamCOD: 0.60, ParamBOD: 0.50},
	"ultrafiltration":     {ParamTSS: 0.99, ParamTurbidity: 0.98, ParamColiform: 0.999},
	"reverse_osmosis":     {ParamTDS: 0.97, ParamCOD: 0.90, ParamBOD: 0.90, ParamTN: 0.90, ParamTP: 0.95, ParamTSS: 0.99},
	"uv_disinfection":     {ParamColiform: 0.9999},
	"chlorination":        {ParamColiform: 0.999},
	"sludge_thickener":    {},
	"sludge_dewatering":   {},
}

var technologyAliases = map[string]string{
	"screen":                      "screening",
	"finescreen":                  "screening",
	"rotaryscreen":                "screening",
	"barscreen":                   "screening",
	"grit":                        "grit_removal",
	"gritchamber":                 "grit_removal",
	"equalizationtank":            "equalization",
	"eq":                          "equalization",
	"eqtank":                      "equalization",
	"oilwaterseparator":           "oil_water_separator",
	"apiseparator":                "oil_water_separator",
	"greasetrap":                  "oil_water_separator",
	"dissolvedairflotation":       "daf",
	"primaryclarifier":            "primary_clarifier",
	"primarysedimentation":        "primary_clarifier",
	"coagulationflocculation":     "coagulation",
	"chemicalprecipitation":       "coagulation",
	"uasbreactor":                 "uasb",
	"anaerobicreactor":            "uasb",
	"sequencingbatchreactor":      "sbr",
	"activatedsludge":             "activated_sludge",
	"conventionalactivatedsludge": "activated_sludge",
	"cas":                         "activated_sludge",
	"aerationtank":                "activated_sludge",
	"extendedaeration":            "activated_sludge",
	"membranebioreactor":          "mbr",
	"anoxic":                      "anoxic_tank",
	"anoxictank":                  "anoxic_tank",
	"denitrification":             "anoxic_tank",
	"secondaryclarifier":          "secondary_clarifier",
	"clarifier":                   "secondary_clarifier",
	"sandfilter":                  "sand_filter",
	"multimediafilter":            "sand_filter",
	"filtration":                  "sand_filter",
	"activatedcarbon":             "activated_carbon",
	"gac":                         "activated_carbon",
	"uf":                          "ultrafiltration",
	"ro":                          "reverse_osmosis",
	"reverseosmosis":              "reverse_osmosis",
	"uv":                          "uv_disinfection",
	"uvdisinfection":              "uv_disinfection",
	"chlorine":                    "chlorination",
	"chlorinecontact":             "chlorination",
	"sludgethickener":             "sludge_thickener",
	"thickener":                   "sludge_thickener",
	"sludgedewatering":            "sludge_dewatering",
	"beltpress":                   "sludge_dewatering",
	"filterpress":                 "sludge_dewatering",
	"centrifuge":                  "sludge_dewatering",
}

// CanonicalTechnology maps a technology name onto a removal-table key. The
// second return is false when the technology has no removal data.
func CanonicalTechnology(name string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	if _, ok := removalTable[key]; ok {
		return key, true
	}
	compact := strings.NewReplacer(" ", "", "-", "", "_", "", "/", "", "(", "", ")", "").Replace(key)
	if _, ok := removalTable[compact]; ok {
		return compact, true
	}
	if alias, ok := technologyAliases[compact]; ok {
		return alias, true
	}
	return key, false
}

// Technologies lists the canonical technology names with known removal data.
func Technologies() []string {
	names := make([]string, 0, len(removalTable))
	for name := range removalTable {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func removable(parameter string) bool {
	for _, table := range removalTable {
		if table[parameter] > 0 {
			return true
		}
	}
	return false
}

// RemovalEfficiency returns the fractional removal of a parameter by one technology.
func RemovalEfficiency(technology, parameter string) float64 {
	key, ok := CanonicalTechnology(technology)
	if !ok {
		return 0
	}
	return removalTable[key][CanonicalParameter(parameter)]
}

// ResidualFraction is the fraction of a parameter left after passing through
// the train in order.
func ResidualFraction(train []string, parameter string) float64 {
	fraction := 1.0
	for _, technology := range train {
		fraction *= 1 - RemovalEfficiency(technology, parameter)
	}
	return fraction
}

// ResidualLoad applies the removal of trainPrefix to a load in kg/day.
func ResidualLoad(trainPrefix []string, parameter string, loadKgPerDay float64) float64 {
	return loadKgPerDay * ResidualFraction(trainPrefix, parameter)
}

// ParameterRemoval describes the simulated fate of one influent parameter.
type ParameterRemoval struct {
	Parameter      string   `json:"parameter"`
	Unit           string   `json:"unit"`
	Influent       float64  `json:"influent"`
	Effluent       float64  `json:"effluent"`
	RemovalPercent float64  `json:"removal_percent"`
	Target         *float64 `json:"target,omitempty"`
	MeetsTarget    bool     `json:"meets_target"`
	RemovedBy      []string `json:"removed_by"`
}

// EfficiencyResult is the outcome of a treatment-train simulation.
type EfficiencyResult struct {
	Removal  map[string]ParameterRemoval `json:"removal_by_parameter"`
	Order    []string                    `json:"order"`
	Warnings []string                    `json:"warnings"`
}

// ValidateTreatmentEfficiency simulates sequential removal through the train.
// targets are effluent limits keyed by parameter name. A targeted parameter
// that exceeds its limit in the influent and that no step in the train
// removes yields ErrIncompleteTrain, including parameters no technology in
// the removal table treats at all.
func ValidateTreatmentEfficiency(train []string, influent []Concentration, targets map[string]float64) (EfficiencyResult, error) {
	if len(train) == 0 {
		return EfficiencyResult{}, fmt.Errorf("%w: treatment train is empty", ErrInvalidInput)
	}

	canonicalTargets := make(map[string]float64, len(targets))
	for name, v := range targets {
		if !finite(v) || v < 0 {
			return EfficiencyResult{}, fmt.Errorf("%w: target for %q must be non-negative, got %v", ErrInvalidInput, name, v)
		}
		canonicalTargets[CanonicalParameter(name)] = v
	}

	res := EfficiencyResult{
		Removal:  make(map[string]ParameterRemoval, len(influent)),
		Order:    make([]string, 0, len(influent)),
		Warnings: []string{},
	}

	for _, technology := range train {
		if _, ok := CanonicalTechnology(technology); !ok {
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("no removal data for %q; treated as pass-through", technology))
		}
	}

	for _, p := range influent {
		if !finite(p.Value) || p.Value < 0 {
			return EfficiencyResult{}, fmt.Errorf("%w: influent %q must be non-negative, got %v", ErrInvalidInput, p.Name, p.Value)
		}
		canonical := CanonicalParameter(p.Name)
		target, hasTarget := canonicalTargets[canonical]

		if !removable(canonical) {
			if hasTarget && p.Value > target {
				return EfficiencyResult{}, fmt.Errorf("%w: no technology removes %s (influent %.4g, target %.4g)",
					ErrIncompleteTrain, p.Name, p.Value, target)
			}
			if hasTarget {
				res.Warnings = append(res.Warnings,
					fmt.Sprintf("%s is not simulated by the removal model; target not verified", p.Name))
			}
			continue
		}

		c := p.Value
		removedBy := []string{}
		for _, technology := range train {
			eta := RemovalEfficiency(technology, canonical)
			if eta > 0 {
				removedBy = append(removedBy, technology)
			}
			c *= 1 - eta
		}

		removal := ParameterRemoval{
			Parameter: p.Name,
			Unit:      p.Unit,
			Influent:  p.Value,
			Effluent:  c,
			RemovedBy: removedBy,
		}
		if p.Value > 0 {
			removal.RemovalPercent = (p.Value - c) / p.Value * 100
		}

		if hasTarget {
			t := target
			removal.Target = &t
			if len(removedBy) == 0 && p.Value > target {
				return EfficiencyResult{}, fmt.Errorf("%w: no step in the train removes %s (influent %.4g, target %.4g)",
					ErrIncompleteTrain, p.Name, p.Value, target)
			}
			removal.MeetsTarget = c <= target
			if !removal.MeetsTarget {
				res.Warnings = append(res.Warnings,
					fmt.Sprintf("%s effluent %.4g %s exceeds target %.4g %s", p.Name, c, p.Unit, target, p.Unit))
			}
		} else {
			removal.MeetsTarget = true
		}

		res.Removal[p.Name] = removal
		res.Order = append(res.Order, p.Name)
	}

	return res, nil
}
