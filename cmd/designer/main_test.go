package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"h2o-proposal-system/internal/domain"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestReadRequest_YAML(t *testing.T) {
	path := writeFile(t, "request.yaml", `
flow_rate_m3_day: 242
sector: food_beverage
location: Guadalajara
influent_parameters:
  - {name: BOD, value: 3700, unit: mg/L, target_value: 150}
  - {name: TSS, value: 1200, unit: mg/L}
objectives: [discharge compliance]
`)

	req, err := readRequest(path)
	require.NoError(t, err)
	assert.Equal(t, 242.0, req.FlowRateM3Day)
	assert.Equal(t, "food_beverage", req.Sector)
	require.Len(t, req.InfluentParameters, 2)
	require.NotNil(t, req.InfluentParameters[0].TargetValue)
	assert.Equal(t, 150.0, *req.InfluentParameters[0].TargetValue)
	assert.Nil(t, req.InfluentParameters[1].TargetValue)
	assert.NoError(t, req.Validate())
}

func TestReadRequest_JSON(t *testing.T) {
	path := writeFile(t, "request.json", `{"flow_rate_m3_day": 50, "sector": "municipal",
		"influent_parameters": [{"name": "COD", "value": 500, "unit": "mg/L"}], "objectives": ["reuse"]}`)

	req, err := readRequest(path)
	require.NoError(t, err)
	assert.Equal(t, "municipal", req.Sector)
	assert.Equal(t, "COD", req.InfluentParameters[0].Name)
}

func TestReadRequest_Errors(t *testing.T) {
	_, err := readRequest(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	_, err = readRequest(writeFile(t, "bad.yml", "flow_rate_m3_day: [unclosed"))
	assert.Error(t, err)

	_, err = readRequest(writeFile(t, "bad.json", "{"))
	assert.Error(t, err)
}

type scriptedJobs struct {
	polls     int
	snapshots []domain.JobSnapshot
	submitErr error
}

func (s *scriptedJobs) Submit(context.Context, domain.DesignRequest) (string, error) {
	return "job-1", s.submitErr
}

func (s *scriptedJobs) Poll(context.Context, string) (domain.JobSnapshot, error) {
	snap := s.snapshots[min(s.polls, len(s.snapshots)-1)]
	s.polls++
	return snap, nil
}

func TestSubmitAndWait(t *testing.T) {
	svc := &scriptedJobs{snapshots: []domain.JobSnapshot{
		{JobID: "job-1", Status: domain.JobStatusQueued, CurrentStep: "queued"},
		{JobID: "job-1", Status: domain.JobStatusProcessing, CurrentStep: "train_design", ProgressPercent: 30},
		{JobID: "job-1", Status: domain.JobStatusCompleted, CurrentStep: "done", ProgressPercent: 100,
			Result: &domain.ProposalResult{NarrativeSummary: "ok"}},
	}}

	snap, err := submitAndWait(context.Background(), svc, domain.DesignRequest{}, time.Millisecond, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, snap.Status)
	assert.Equal(t, 3, svc.polls)
}

func TestSubmitAndWait_Errors(t *testing.T) {
	svc := &scriptedJobs{submitErr: errors.New("invalid")}
	_, err := submitAndWait(context.Background(), svc, domain.DesignRequest{}, time.Millisecond, zap.NewNop())
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc = &scriptedJobs{snapshots: []domain.JobSnapshot{{Status: domain.JobStatusProcessing}}}
	_, err = submitAndWait(ctx, svc, domain.DesignRequest{}, time.Millisecond, zap.NewNop())
	assert.ErrorIs(t, err, context.Canceled)
}
