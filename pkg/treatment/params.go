package treatment

import (
	"math"
	"strings"
)

// Canonical parameter names used by the removal tables and sizing models.
const (
	ParamBOD       = "BOD"
	ParamCOD       = "COD"
	ParamTSS       = "TSS"
	ParamFOG       = "FOG"
	ParamTN        = "TN"
	ParamNH3N      = "NH3N"
	ParamTP        = "TP"
	ParamTurbidity = "Turbidity"
	ParamColiform  = "FecalColiform"
	ParamTDS       = "TDS"
)

var parameterAliases = map[string]string{
	"bod":                  ParamBOD,
	"bod5":                 ParamBOD,
	"dbo":                  ParamBOD,
	"dbo5":                 ParamBOD,
	"cod":                  ParamCOD,
	"dqo":                  ParamCOD,
	"tss":                  ParamTSS,
	"sst":                  ParamTSS,
	"totalsuspendedsolids": ParamTSS,
	"fog":                  ParamFOG,
	"o&g":                  ParamFOG,
	"oilandgrease":         ParamFOG,
	"oilgrease":            ParamFOG,
	"grasasyaceites":       ParamFOG,
	"tn":                   ParamTN,
	"totalnitrogen":        ParamTN,
	"tkn":                  ParamTN,
	"nh3n":                 ParamNH3N,
	"nh4n":                 ParamNH3N,
	"nh3":                  ParamNH3N,
	"ammonia":              ParamNH3N,
	"tp":                   ParamTP,
	"totalphosphorus":      ParamTP,
	"turbidity":            ParamTurbidity,
	"ntu":                  ParamTurbidity,
	"fecalcoliform":        ParamColiform,
	"fecalcoliforms":       ParamColiform,
	"coliforms":            ParamColiform,
	"tds":                  ParamTDS,
	"totaldissolvedsolids": ParamTDS,
}

// CanonicalParameter maps a free-form parameter name onto the name used by
// the removal tables. Unknown names are returned trimmed and unchanged.
func CanonicalParameter(name string) string {
	key := strings.ToLower(name)
	key = strings.NewReplacer(" ", "", "-", "", "_", "", ".", "").Replace(key)
	if canonical, ok := parameterAliases[key]; ok {
		return canonical
	}
	return strings.TrimSpace(name)
}

// Concentration is a single influent measurement.
type Concentration struct {
	Name  string
	Value float64
	Unit  string
}

// massUnitFactor returns the multiplier converting the unit to mg/L.
// The second return is false for units that are not mass concentrations
// (pH, temperature, turbidity, counts).
func massUnitFactor(unit string) (float64, bool) {
	u := strings.ToLower(strings.TrimSpace(unit))
	u = strings.ReplaceAll(u, " ", "")
	switch u {
	case "mg/l", "ppm", "g/m3", "g/m³", "mgl":
		return 1, true
	case "g/l":
		return 1000, true
	case "ug/l", "µg/l", "μg/l", "ppb":
		return 0.001, true
	case "kg/m3", "kg/m³":
		return 1000, true
	default:
		return 0, false
	}
}

// IsMassUnit reports whether the unit is a mass concentration the mass
// balance can convert.
func IsMassUnit(unit string) bool {
	_, ok := massUnitFactor(unit)
	return ok
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
