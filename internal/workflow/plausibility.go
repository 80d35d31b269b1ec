package workflow

import (
	"fmt"
	"math"

	"h2o-proposal-system/internal/domain"
)

const (
	scaleExponent        = 0.6
	defaultCostTolerance = 0.5
)

// scaledBenchmark applies the six-tenths rule to move a benchmark cost from
// the case's mid-range flow to the design flow.
func scaledBenchmark(benchmark, caseFlow, designFlow float64) float64 {
	if caseFlow <= 0 || designFlow <= 0 {
		return benchmark
	}
	return benchmark * math.Pow(designFlow/caseFlow, scaleExponent)
}

// plausibilityWarnings compares calculated costs against the baseline's
// scaled benchmarks.
func plausibilityWarnings(c domain.ProvenCase, designFlow, capex, opex, tolerance float64) []string {
	var warnings []string
	mid := c.FlowRange.Midpoint()
	check := func(label string, value, benchmark float64) {
		if benchmark <= 0 {
			return
		}
		expected := scaledBenchmark(benchmark, mid, designFlow)
		deviation := (value - expected) / expected
		if math.Abs(deviation) > tolerance {
			warnings = append(warnings, fmt.Sprintf(
				"%s $%.0f deviates %+.0f%% from the flow-scaled benchmark $%.0f of proven case %s",
				label, value, deviation*100, expected, c.ID))
		}
	}
	check("CAPEX", capex, c.CapexBenchmarkUSD)
	check("annual OPEX", opex, c.OpexBenchmarkUSDPerYear)
	return warnings
}
