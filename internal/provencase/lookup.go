package provencase

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"h2o-proposal-system/internal/domain"
	"h2o-proposal-system/internal/repository"
	"h2o-proposal-system/pkg/treatment"
)

const (
	// MinRelevance is the score below which a candidate is not a usable baseline.
	MinRelevance = 0.55
	// MaxResults caps the cases handed to the generative step.
	MaxResults = 3

	// candidates are fetched for flows within this factor of the request
	flowWindowFactor = 4.0
)

// weights for sector, flow and contaminant similarity, in that order
var weights = []float64{0.5, 0.3, 0.2}

// relatedSectors are sector pairs whose designs transfer reasonably well.
var relatedSectors = map[string][]string{
	"food_beverage":  {"agriculture"},
	"agriculture":    {"food_beverage"},
	"chemical":       {"pharmaceutical", "oil_gas"},
	"pharmaceutical": {"chemical"},
	"oil_gas":        {"chemical"},
}

// Match is a ranked proven case.
type Match struct {
	Case  domain.ProvenCase
	Score float64
}

type Lookup struct {
	repo   repository.ProvenCaseRepository
	logger *zap.Logger
}

func NewLookup(repo repository.ProvenCaseRepository, logger *zap.Logger) *Lookup {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Lookup{repo: repo, logger: logger}
}

// FindProvenCases returns up to MaxResults cases relevant to the request,
// most relevant first. No relevant case is not an error.
func (l *Lookup) FindProvenCases(ctx context.Context, sector string, flowRateM3Day float64, contaminants []string) ([]domain.ProvenCase, error) {
	matches, err := l.Rank(ctx, sector, flowRateM3Day, contaminants)
	if err != nil {
		return nil, err
	}
	cases := make([]domain.ProvenCase, 0, len(matches))
	for _, m := range matches {
		cases = append(cases, m.Case)
	}
	return cases, nil
}

// Rank is FindProvenCases with the relevance scores attached.
func (l *Lookup) Rank(ctx context.Context, sector string, flowRateM3Day float64, contaminants []string) ([]Match, error) {
	if flowRateM3Day <= 0 || math.IsNaN(flowRateM3Day) || math.IsInf(flowRateM3Day, 0) {
		return nil, fmt.Errorf("%w: flow rate must be positive, got %v", treatment.ErrInvalidInput, flowRateM3Day)
	}

	window := domain.FlowRange{Min: flowRateM3Day / flowWindowFactor, Max: flowRateM3Day * flowWindowFactor}
	candidates, err := l.repo.Find(ctx, sector, window, contaminants)
	if err != nil {
		return nil, fmt.Errorf("failed to find proven cases: %w", err)
	}

	matches := make([]Match, 0, len(candidates))
	for _, c := range candidates {
		score := Score(c, sector, flowRateM3Day, contaminants)
		if score < MinRelevance {
			l.logger.Debug("proven case below relevance threshold",
				zap.String("case_id", c.ID), zap.Float64("score", score))
			continue
		}
		matches = append(matches, Match{Case: c, Score: score})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		da := math.Abs(a.Case.FlowRange.Midpoint() - flowRateM3Day)
		db := math.Abs(b.Case.FlowRange.Midpoint() - flowRateM3Day)
		if da != db {
			return da < db
		}
		return a.Case.ID < b.Case.ID
	})
	if len(matches) > MaxResults {
		matches = matches[:MaxResults]
	}

	l.logger.Info("proven case lookup",
		zap.String("sector", sector),
		zap.Float64("flow_m3_day", flowRateM3Day),
		zap.Int("candidates", len(candidates)),
		zap.Int("matches", len(matches)))
	return matches, nil
}

// Score is the weighted relevance of a case in [0, 1].
func Score(c domain.ProvenCase, sector string, flowRateM3Day float64, contaminants []string) float64 {
	components := []float64{
		sectorSimilarity(c.ApplicationType, sector),
		flowSimilarity(c.FlowRange, flowRateM3Day),
		contaminantOverlap(c.ContaminantProfile, contaminants),
	}
	return floats.Dot(weights, components)
}

func sectorSimilarity(caseSector, sector string) float64 {
	a := strings.ToLower(strings.TrimSpace(caseSector))
	b := strings.ToLower(strings.TrimSpace(sector))
	if a == b {
		return 1
	}
	for _, related := range relatedSectors[b] {
		if related == a {
			return 0.5
		}
	}
	return 0
}

// flowSimilarity is 1 inside the range and the ratio to the nearest edge outside it.
func flowSimilarity(r domain.FlowRange, flow float64) float64 {
	switch {
	case r.Contains(flow):
		return 1
	case flow < r.Min:
		return flow / r.Min
	case flow > 0:
		return r.Max / flow
	default:
		return 0
	}
}

// contaminantOverlap is the share of requested contaminants present in the case profile.
func contaminantOverlap(profile []domain.ParameterRange, contaminants []string) float64 {
	if len(contaminants) == 0 {
		return 0
	}
	inCase := make(map[string]struct{}, len(profile))
	for _, p := range profile {
		inCase[treatment.CanonicalParameter(p.Name)] = struct{}{}
	}
	seen := make(map[string]struct{}, len(contaminants))
	hits := 0
	for _, name := range contaminants {
		key := treatment.CanonicalParameter(name)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if _, ok := inCase[key]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(seen))
}
