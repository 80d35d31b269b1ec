package provencase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"h2o-proposal-system/internal/domain"
	"h2o-proposal-system/internal/repository"
	"h2o-proposal-system/pkg/treatment"
)

func provenCase(id, sector string, min, max float64, params ...string) domain.ProvenCase {
	profile := make([]domain.ParameterRange, 0, len(params))
	for _, p := range params {
		profile = append(profile, domain.ParameterRange{Name: p, Min: 100, Max: 1000, Unit: "mg/L"})
	}
	return domain.ProvenCase{
		ID:                 id,
		Name:               id,
		ApplicationType:    sector,
		FlowRange:          domain.FlowRange{Min: min, Max: max},
		ContaminantProfile: profile,
		TreatmentTrain:     []string{"daf", "activated_sludge"},
	}
}

func fixtureLookup() *Lookup {
	return NewLookup(repository.NewStaticRepository([]domain.ProvenCase{
		provenCase("dairy", "food_beverage", 150, 600, "BOD", "TSS"),
		provenCase("brewery", "food_beverage", 200, 400, "BOD5", "TSS"),
		provenCase("dairy-big", "food_beverage", 1000, 4000, "BOD", "TSS"),
		provenCase("swine", "agriculture", 100, 500, "BOD"),
		provenCase("textile", "textile", 200, 800, "BOD", "TSS"),
	}), nil)
}

func TestLookup_Rank(t *testing.T) {
	matches, err := fixtureLookup().Rank(context.Background(), "food_beverage", 300, []string{"BOD", "TSS"})
	require.NoError(t, err)
	require.Len(t, matches, MaxResults)

	assert.Equal(t, "brewery", matches[0].Case.ID, "equal score, closer midpoint wins")
	assert.Equal(t, "dairy", matches[1].Case.ID)
	assert.Equal(t, "dairy-big", matches[2].Case.ID)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-9)
	assert.InDelta(t, 0.79, matches[2].Score, 1e-9)

	for i := 1; i < len(matches); i++ {
		assert.GreaterOrEqual(t, matches[i-1].Score, matches[i].Score)
	}
}

func TestLookup_ThresholdDropsUnrelatedSector(t *testing.T) {
	cases, err := fixtureLookup().FindProvenCases(context.Background(), "textile", 300, []string{"BOD", "TSS"})
	require.NoError(t, err)
	require.Len(t, cases, 1)
	assert.Equal(t, "textile", cases[0].ID)
}

func TestLookup_RelatedSector(t *testing.T) {
	matches, err := fixtureLookup().Rank(context.Background(), "agriculture", 300, []string{"BOD"})
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Equal(t, "swine", matches[0].Case.ID)
	// food_beverage cases are related: 0.25 + 0.3 + 0.2
	assert.InDelta(t, 0.75, matches[1].Score, 1e-9)
}

func TestLookup_TieBreakByID(t *testing.T) {
	l := NewLookup(repository.NewStaticRepository([]domain.ProvenCase{
		provenCase("b", "municipal", 100, 500, "TSS"),
		provenCase("a", "municipal", 100, 500, "TSS"),
	}), nil)

	cases, err := l.FindProvenCases(context.Background(), "municipal", 300, []string{"TSS"})
	require.NoError(t, err)
	require.Len(t, cases, 2)
	assert.Equal(t, "a", cases[0].ID)
	assert.Equal(t, "b", cases[1].ID)
}

func TestLookup_NoRelevantCases(t *testing.T) {
	cases, err := fixtureLookup().FindProvenCases(context.Background(), "aerospace", 1e6, []string{"BOD"})
	require.NoError(t, err)
	assert.NotNil(t, cases)
	assert.Empty(t, cases)
}

func TestLookup_BuiltinDataset(t *testing.T) {
	builtin, err := repository.BuiltinProvenCases(nil)
	require.NoError(t, err)

	cases, err := NewLookup(repository.NewStaticRepository(builtin), nil).
		FindProvenCases(context.Background(), "food_beverage", 242, []string{"BOD", "TSS", "FOG"})
	require.NoError(t, err)
	require.NotEmpty(t, cases)
	assert.LessOrEqual(t, len(cases), MaxResults)
	assert.Equal(t, "food_beverage", cases[0].ApplicationType)
}

func TestLookup_InvalidFlow(t *testing.T) {
	_, err := fixtureLookup().Rank(context.Background(), "municipal", 0, nil)
	assert.ErrorIs(t, err, treatment.ErrInvalidInput)
}

type failingRepository struct{}

func (failingRepository) Find(context.Context, string, domain.FlowRange, []string) ([]domain.ProvenCase, error) {
	return nil, errors.New("table unavailable")
}

func TestLookup_RepositoryError(t *testing.T) {
	_, err := NewLookup(failingRepository{}, nil).Rank(context.Background(), "municipal", 100, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "table unavailable")
}

func TestScore(t *testing.T) {
	c := provenCase("x", "chemical", 100, 200, "COD", "TDS")
	assert.InDelta(t, 1.0, Score(c, "Chemical", 150, []string{"COD", "TDS"}), 1e-9)
	assert.InDelta(t, 0.25+0.15+0.1, Score(c, "pharmaceutical", 400, []string{"COD", "TSS"}), 1e-9)
	assert.InDelta(t, 0.3, Score(c, "municipal", 150, nil), 1e-9)
}
