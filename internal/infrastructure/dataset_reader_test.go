package infrastructure

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDataset = `
version: 1
cases:
  - id: dairy-01
    name: Dairy plant
    application_type: food_beverage
    flow_range: {min_m3_day: 100, max_m3_day: 500}
    contaminant_profile:
      - {name: BOD, min: 2000, max: 5000, unit: mg/L}
    treatment_train: [screening, daf, uasb, activated_sludge]
    capex_benchmark_usd: 1200000
    opex_benchmark_usd_per_year: 150000
  - id: ""
    name: nameless
    flow_range: {min_m3_day: 1, max_m3_day: 2}
    treatment_train: [screening]
  - id: bad-range
    flow_range: {min_m3_day: 50, max_m3_day: 10}
    treatment_train: [screening]
  - id: dairy-01
    flow_range: {min_m3_day: 1, max_m3_day: 2}
    treatment_train: [screening]
`

func TestDatasetReader_ReadProvenCases(t *testing.T) {
	cases, err := NewDatasetReader(nil).ReadProvenCases([]byte(sampleDataset))
	require.NoError(t, err)
	require.Len(t, cases, 1)

	c := cases[0]
	assert.Equal(t, "dairy-01", c.ID)
	assert.Equal(t, 500.0, c.FlowRange.Max)
	assert.Equal(t, []string{"screening", "daf", "uasb", "activated_sludge"}, c.TreatmentTrain)
	require.Len(t, c.ContaminantProfile, 1)
	assert.Equal(t, "BOD", c.ContaminantProfile[0].Name)
}

func TestDatasetReader_InvalidContent(t *testing.T) {
	r := NewDatasetReader(nil)

	_, err := r.ReadProvenCases(nil)
	assert.ErrorIs(t, err, ErrInvalidFileFormat)

	_, err = r.ReadProvenCases([]byte("version: 1\ncases: []\n"))
	assert.ErrorIs(t, err, ErrInvalidFileFormat)

	_, err = r.ReadProvenCases([]byte("version: 1\nunknown_field: true\n"))
	assert.ErrorIs(t, err, ErrInvalidFileFormat)
}

func TestDatasetReader_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cases.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleDataset), 0o600))

	cases, err := NewDatasetReader(nil).ReadProvenCasesFromFile(path)
	require.NoError(t, err)
	assert.Len(t, cases, 1)

	_, err = NewDatasetReader(nil).ReadProvenCasesFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
