package generative

import (
	"fmt"
	"strconv"
	"strings"

	"h2o-proposal-system/internal/domain"
	"h2o-proposal-system/pkg/treatment"
)

const systemPrompt = `You are a senior wastewater process engineer. Design a treatment train for the
request below. Use only the technologies listed under "Available technologies" and reuse
the proven cases where they fit. Respond with a single JSON object with the keys:
narrative_summary (string), equipment (array of {type, stage, capacity_m3_day, power_kw,
capex_usd, specifications, justification}, ordered upstream to downstream; stage is one of
primary, secondary, tertiary, auxiliary), assumptions (array of strings),
alternatives_considered (array of strings), technology_justification (array of
{technology, justification}, one per equipment type). Do not include any text outside the JSON.`

// ToolContext carries toolset facts the reasoning step should design around.
type ToolContext struct {
	DesignTemperatureC  float64
	LocationFactor      float64
	EnergyRateUSDPerKWh float64
	Technologies        []string
	ReactorTypes        []treatment.ReactorType
}

// BuildPrompt renders the request in a fixed order: request fields, influent
// parameters in request order, loads sorted by name, proven cases in rank
// order, then tool context. The same input always yields the same prompt.
func BuildPrompt(req domain.DesignRequest, massBalance treatment.MassBalance, cases []domain.ProvenCase, tools ToolContext) string {
	var b strings.Builder

	b.WriteString("## Request\n")
	fmt.Fprintf(&b, "Sector: %s\n", req.Sector)
	fmt.Fprintf(&b, "Location: %s\n", orNone(req.Location))
	fmt.Fprintf(&b, "Design flow: %s m3/day\n", num(req.FlowRateM3Day))
	b.WriteString("Objectives:\n")
	for _, o := range req.Objectives {
		fmt.Fprintf(&b, "- %s\n", o)
	}
	b.WriteString("Constraints:\n")
	if len(req.Constraints) == 0 {
		b.WriteString("- none\n")
	}
	for _, c := range req.Constraints {
		fmt.Fprintf(&b, "- %s\n", c)
	}

	b.WriteString("\n## Influent parameters\n")
	for _, p := range req.InfluentParameters {
		fmt.Fprintf(&b, "- %s: %s %s", p.Name, num(p.Value), p.Unit)
		if p.TargetValue != nil {
			fmt.Fprintf(&b, " (target %s %s)", num(*p.TargetValue), p.Unit)
		}
		b.WriteString("\n")
	}

	b.WriteString("\n## Mass balance (kg/day)\n")
	for _, name := range massBalance.Names() {
		fmt.Fprintf(&b, "- %s: %s\n", name, num(massBalance.Loads[name]))
	}

	b.WriteString("\n## Proven cases\n")
	if len(cases) == 0 {
		b.WriteString("No sufficiently similar reference design is available; reason from first principles.\n")
	}
	for i, c := range cases {
		fmt.Fprintf(&b, "%d. %s (%s), %s: %s-%s m3/day\n", i+1, c.ID, orNone(c.Name), c.ApplicationType,
			num(c.FlowRange.Min), num(c.FlowRange.Max))
		fmt.Fprintf(&b, "   Train: %s\n", strings.Join(c.TreatmentTrain, " -> "))
		fmt.Fprintf(&b, "   CAPEX benchmark: $%s; OPEX benchmark: $%s/yr\n", num(c.CapexBenchmarkUSD), num(c.OpexBenchmarkUSDPerYear))
	}

	b.WriteString("\n## Tool context\n")
	fmt.Fprintf(&b, "Design temperature: %s C\n", num(tools.DesignTemperatureC))
	fmt.Fprintf(&b, "Location cost factor: %s\n", num(tools.LocationFactor))
	fmt.Fprintf(&b, "Energy rate: %s USD/kWh\n", num(tools.EnergyRateUSDPerKWh))
	reactors := make([]string, 0, len(tools.ReactorTypes))
	for _, rt := range tools.ReactorTypes {
		reactors = append(reactors, string(rt))
	}
	fmt.Fprintf(&b, "Sizable biological reactors: %s\n", strings.Join(reactors, ", "))
	fmt.Fprintf(&b, "Available technologies: %s\n", strings.Join(tools.Technologies, ", "))

	return b.String()
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "n/a"
	}
	return s
}
