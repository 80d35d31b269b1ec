package validation

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"h2o-proposal-system/internal/domain"
	"h2o-proposal-system/pkg/treatment"
)

// Fields a narrative number can be checked against.
const (
	FieldCapex   = "capex_usd"
	FieldOpex    = "annual_opex_usd"
	FieldCost    = "cost"
	FieldRemoval = "removal_percent"
	FieldFlow    = "flow_m3_day"
)

const contextWindowLen = 80

var (
	currencyPattern = regexp.MustCompile(`(?i)(?:\$|USD\s?)\s?(\d{1,3}(?:,\d{3})+|\d+)(?:\.(\d+))?(?:\s?(million|thousand|mm|m|k)\b)?`)
	percentPattern  = regexp.MustCompile(`(\d+)(?:\.(\d+))?\s?%`)
	flowPattern     = regexp.MustCompile(`(?i)(\d{1,3}(?:,\d{3})+|\d+)(?:\.(\d+))?\s?(?:m3|m³)\s?(?:/|per)\s?(?:d|day)\b`)
	wordPattern     = regexp.MustCompile(`[A-Za-z][A-Za-z0-9&]*(?:-[A-Za-z0-9]+)?`)

	capexKeywords  = []string{"capex", "capital", "investment", "installed cost", "construction"}
	opexKeywords   = []string{"opex", "operating", "operation", "annual", "running cost"}
	yearlySuffixes = []string{"per year", "/year", "/yr", "a year", "annually", "per annum"}
	removalWords   = []string{"removal", "reduction", "reduce", "removes", "efficiency"}
)

// Mismatch is one narrative figure that disagrees with the structured output.
type Mismatch struct {
	Field    string  `json:"field"`
	Text     string  `json:"text"`
	Stated   float64 `json:"stated"`
	Expected float64 `json:"expected"`
}

func (m Mismatch) String() string {
	return fmt.Sprintf("narrative states %q for %s but the calculated value is %s",
		m.Text, m.Field, strconv.FormatFloat(m.Expected, 'f', -1, 64))
}

type Report struct {
	IsConsistent bool       `json:"is_consistent"`
	Mismatches   []Mismatch `json:"mismatches"`
}

// figure is a number printed in the narrative with its rounding tolerance.
type figure struct {
	text      string
	value     float64
	tolerance float64
	start     int
	end       int
}

// Validate reconciles the numbers printed in narrative against result.
// Figures that cannot be tied to a structured field are ignored.
func Validate(narrative string, result domain.ProposalResult) Report {
	var mismatches []Mismatch
	mismatches = append(mismatches, checkCurrency(narrative, result)...)
	mismatches = append(mismatches, checkPercentages(narrative, result)...)
	mismatches = append(mismatches, checkFlows(narrative, result)...)
	if mismatches == nil {
		mismatches = []Mismatch{}
	}
	return Report{IsConsistent: len(mismatches) == 0, Mismatches: mismatches}
}

func checkCurrency(narrative string, result domain.ProposalResult) []Mismatch {
	var out []Mismatch
	for _, f := range extract(narrative, currencyPattern, true) {
		following := strings.ToLower(after(narrative, f.end, 20))
		yearly := hasAnyPrefix(strings.TrimSpace(following), yearlySuffixes)
		if !yearly && (strings.HasPrefix(following, "/") || strings.HasPrefix(strings.TrimSpace(following), "per ")) {
			// unit price such as $/kWh
			continue
		}

		field := ""
		if yearly {
			field = FieldOpex
		} else {
			field = closestKeywordField(strings.ToLower(before(narrative, f.start)))
		}

		switch field {
		case FieldCapex:
			if !f.matches(result.CapexUSD) {
				out = append(out, Mismatch{Field: FieldCapex, Text: f.text, Stated: f.value, Expected: result.CapexUSD})
			}
		case FieldOpex:
			if !f.matches(result.AnnualOpexUSD) {
				out = append(out, Mismatch{Field: FieldOpex, Text: f.text, Stated: f.value, Expected: result.AnnualOpexUSD})
			}
		default:
			candidates := costCandidates(result)
			if best, ok := f.matchAny(candidates); !ok {
				out = append(out, Mismatch{Field: FieldCost, Text: f.text, Stated: f.value, Expected: best})
			}
		}
	}
	return out
}

func checkPercentages(narrative string, result domain.ProposalResult) []Mismatch {
	if len(result.TreatmentPerformance) == 0 {
		return nil
	}
	byParameter := make(map[string]float64, len(result.TreatmentPerformance))
	candidates := make([]float64, 0, len(result.TreatmentPerformance))
	for _, p := range result.TreatmentPerformance {
		byParameter[treatment.CanonicalParameter(p.Parameter)] = p.RemovalPercent
		candidates = append(candidates, p.RemovalPercent)
	}

	var out []Mismatch
	for _, f := range extract(narrative, percentPattern, false) {
		preceding := before(narrative, f.start)
		if parameter, ok := closestParameter(preceding, byParameter); ok {
			if expected := byParameter[parameter]; !f.matches(expected) {
				out = append(out, Mismatch{Field: FieldRemoval + ":" + parameter, Text: f.text, Stated: f.value, Expected: expected})
			}
			continue
		}
		lower := strings.ToLower(preceding + after(narrative, f.end, 20))
		if !containsAny(lower, removalWords) {
			continue
		}
		if best, ok := f.matchAny(candidates); !ok {
			out = append(out, Mismatch{Field: FieldRemoval, Text: f.text, Stated: f.value, Expected: best})
		}
	}
	return out
}

func checkFlows(narrative string, result domain.ProposalResult) []Mismatch {
	var candidates []float64
	if result.FlowRateM3Day > 0 {
		candidates = append(candidates, result.FlowRateM3Day)
	}
	for _, e := range result.Equipment {
		if e.CapacityM3Day > 0 {
			candidates = append(candidates, e.CapacityM3Day)
		}
	}
	for _, s := range result.SizingResults {
		candidates = append(candidates, s.FlowRateM3Day)
	}
	if len(candidates) == 0 {
		return nil
	}

	var out []Mismatch
	for _, f := range extract(narrative, flowPattern, false) {
		if best, ok := f.matchAny(candidates); !ok {
			out = append(out, Mismatch{Field: FieldFlow, Text: f.text, Stated: f.value, Expected: best})
		}
	}
	return out
}

func costCandidates(result domain.ProposalResult) []float64 {
	candidates := []float64{result.CapexUSD, result.AnnualOpexUSD}
	for _, e := range result.Equipment {
		candidates = append(candidates, e.CapexUSD)
	}
	for _, v := range result.OpexBreakdown {
		candidates = append(candidates, v)
	}
	return candidates
}

// extract finds the figures matched by pattern. Submatch 1 is the integer
// part, 2 the decimals and, when withSuffix is set, 3 a magnitude suffix.
func extract(text string, pattern *regexp.Regexp, withSuffix bool) []figure {
	var figures []figure
	for _, loc := range pattern.FindAllStringSubmatchIndex(text, -1) {
		integer := strings.ReplaceAll(text[loc[2]:loc[3]], ",", "")
		decimals := ""
		if loc[4] >= 0 {
			decimals = text[loc[4]:loc[5]]
		}
		multiplier := 1.0
		if withSuffix && len(loc) > 7 && loc[6] >= 0 {
			multiplier = magnitude(text[loc[6]:loc[7]])
		}

		raw := integer
		if decimals != "" {
			raw += "." + decimals
		}
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}

		figures = append(figures, figure{
			text:      strings.TrimSpace(text[loc[0]:loc[1]]),
			value:     value * multiplier,
			tolerance: precision(integer, decimals) * multiplier,
			start:     loc[0],
			end:       loc[1],
		})
	}
	return figures
}

func magnitude(suffix string) float64 {
	switch strings.ToLower(suffix) {
	case "k", "thousand":
		return 1e3
	case "m", "mm", "million":
		return 1e6
	default:
		return 1
	}
}

// precision is half a unit in the last printed place. Trailing zeros of a
// whole number count as rounding, so "1,940,000" tolerates +/-5000.
func precision(integer, decimals string) float64 {
	if decimals != "" {
		return 0.5 * math.Pow(10, -float64(len(decimals)))
	}
	trimmed := strings.TrimRight(integer, "0")
	zeros := len(integer) - len(trimmed)
	if trimmed == "" {
		zeros = 0
	}
	return 0.5 * math.Pow(10, float64(zeros))
}

func (f figure) matches(expected float64) bool {
	return math.Abs(f.value-expected) <= f.tolerance+1e-9*math.Abs(expected)
}

// matchAny reports whether any candidate matches; otherwise it returns the
// closest candidate.
func (f figure) matchAny(candidates []float64) (float64, bool) {
	best := math.NaN()
	for _, c := range candidates {
		if f.matches(c) {
			return c, true
		}
		if math.IsNaN(best) || math.Abs(c-f.value) < math.Abs(best-f.value) {
			best = c
		}
	}
	if math.IsNaN(best) {
		best = 0
	}
	return best, false
}

// before returns the text preceding pos within the same sentence, capped
// at contextWindowLen bytes.
func before(text string, pos int) string {
	start := pos - contextWindowLen
	if start < 0 {
		start = 0
	}
	window := text[start:pos]
	for _, sep := range []string{". ", "; ", "\n"} {
		if i := strings.LastIndex(window, sep); i >= 0 {
			window = window[i+len(sep):]
		}
	}
	return window
}

func after(text string, pos, n int) string {
	end := pos + n
	if end > len(text) {
		end = len(text)
	}
	return text[pos:end]
}

func closestKeywordField(lowerContext string) string {
	bestField, bestIdx := "", -1
	for field, keywords := range map[string][]string{FieldCapex: capexKeywords, FieldOpex: opexKeywords} {
		for _, kw := range keywords {
			if i := strings.LastIndex(lowerContext, kw); i > bestIdx || (i == bestIdx && i >= 0 && field < bestField) {
				bestField, bestIdx = field, i
			}
		}
	}
	if bestIdx < 0 {
		return ""
	}
	return bestField
}

func closestParameter(preceding string, known map[string]float64) (string, bool) {
	words := wordPattern.FindAllString(preceding, -1)
	for i := len(words) - 1; i >= 0; i-- {
		canonical := treatment.CanonicalParameter(words[i])
		if _, ok := known[canonical]; ok {
			return canonical, true
		}
	}
	return "", false
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
