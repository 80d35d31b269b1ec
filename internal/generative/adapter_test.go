package generative

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"h2o-proposal-system/internal/domain"
	"h2o-proposal-system/pkg/treatment"
)

const validOutput = `{
  "narrative_summary": "A DAF, UASB and activated sludge train treats 242 m3/d of dairy wastewater.",
  "equipment": [
    {"type": "DAF", "stage": "primary", "capacity_m3_day": 242, "power_kw": 7.5, "capex_usd": 120000},
    {"type": "UASB", "stage": "Secondary", "capacity_m3_day": 242, "power_kw": 3, "capex_usd": 350000},
    {"type": "Activated Sludge", "stage": "secondary", "capacity_m3_day": 242, "power_kw": 22, "capex_usd": 280000}
  ],
  "assumptions": ["Influent temperature 25 C", " "],
  "alternatives_considered": ["MBR instead of activated sludge"],
  "technology_justification": [{"technology": "UASB", "justification": "High-strength COD"}]
}`

type scriptedClient struct {
	mu        sync.Mutex
	responses []func(ctx context.Context) (string, error)
	calls     atomic.Int32
}

func (c *scriptedClient) Complete(ctx context.Context, _ string) (string, error) {
	n := int(c.calls.Add(1)) - 1
	c.mu.Lock()
	fn := c.responses[len(c.responses)-1]
	if n < len(c.responses) {
		fn = c.responses[n]
	}
	c.mu.Unlock()
	return fn(ctx)
}

func reply(raw string) func(context.Context) (string, error) {
	return func(context.Context) (string, error) { return raw, nil }
}

func fail(err error) func(context.Context) (string, error) {
	return func(context.Context) (string, error) { return "", err }
}

func waitForCancel(ctx context.Context) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func adapterInput() (domain.DesignRequest, treatment.MassBalance) {
	req := domain.DesignRequest{
		FlowRateM3Day: 242,
		Sector:        "food_beverage",
		InfluentParameters: []domain.InfluentParameter{
			{Name: "BOD", Value: 3700, Unit: "mg/L"},
		},
		Objectives: []string{"discharge compliance"},
	}
	return req, treatment.MassBalance{FlowRateM3Day: 242, Loads: map[string]float64{"BOD": 895.4}}
}

func generate(t *testing.T, client Client, timeout time.Duration, ctx context.Context) (RawGenerativeOutput, error) {
	t.Helper()
	req, mb := adapterInput()
	return NewAdapter(client, timeout, nil).GenerateDesign(ctx, req, mb, nil, ToolContext{})
}

func TestAdapter_Success(t *testing.T) {
	client := &scriptedClient{responses: []func(context.Context) (string, error){reply(validOutput)}}

	out, err := generate(t, client, time.Second, context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), client.calls.Load())
	require.Len(t, out.Equipment, 3)
	assert.Equal(t, domain.StageSecondary, out.Equipment[1].Stage)
	assert.Equal(t, []string{"Influent temperature 25 C"}, out.Assumptions)
}

func TestAdapter_RetriesMalformedOnce(t *testing.T) {
	client := &scriptedClient{responses: []func(context.Context) (string, error){
		reply("I cannot help with that."),
		reply(validOutput),
	}}

	_, err := generate(t, client, time.Second, context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), client.calls.Load())
}

func TestAdapter_MalformedTwiceFails(t *testing.T) {
	client := &scriptedClient{responses: []func(context.Context) (string, error){reply(`{"narrative_summary": ""}`)}}

	_, err := generate(t, client, time.Second, context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.ErrorIs(t, err, ErrMalformedOutput)
	assert.Equal(t, int32(2), client.calls.Load())
}

func TestAdapter_RetriesTimeoutOnce(t *testing.T) {
	client := &scriptedClient{responses: []func(context.Context) (string, error){waitForCancel}}

	start := time.Now()
	_, err := generate(t, client, 20*time.Millisecond, context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.Equal(t, int32(2), client.calls.Load())
	assert.Less(t, time.Since(start), time.Second)
}

func TestAdapter_ClientIgnoringContext(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	client := &scriptedClient{responses: []func(context.Context) (string, error){
		func(context.Context) (string, error) {
			<-release
			return validOutput, nil
		},
	}}

	_, err := generate(t, client, 20*time.Millisecond, context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.Equal(t, int32(2), client.calls.Load())
}

func TestAdapter_NoRetryAfterParentCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := &scriptedClient{responses: []func(context.Context) (string, error){
		func(ctx context.Context) (string, error) {
			cancel()
			return waitForCancel(ctx)
		},
	}}

	_, err := generate(t, client, time.Second, ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), client.calls.Load())
}

func TestAdapter_NoRetryOnServiceError(t *testing.T) {
	client := &scriptedClient{responses: []func(context.Context) (string, error){fail(ErrUnauthorized)}}

	_, err := generate(t, client, time.Second, context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, int32(1), client.calls.Load())
}

func TestAdapter_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	client := &scriptedClient{responses: []func(context.Context) (string, error){reply(validOutput)}}

	_, err := generate(t, client, time.Second, ctx)
	assert.True(t, errors.Is(err, ErrGenerationFailed))
	assert.Equal(t, int32(0), client.calls.Load())
}
