package handler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/pwvault/internal/config"
	"github.com/TheMichaelB/pwvault/internal/events"
	"github.com/TheMichaelB/pwvault/internal/lambda/progress"
	"github.com/TheMichaelB/pwvault/internal/services/keygen"
)

func newTestHandler(t *testing.T, maxCount int) *Handler {
	t.Helper()
	gen, err := keygen.NewGenerator("PWV", "salt")
	require.NoError(t, err)
	service := keygen.NewService(gen, keygen.NewMemoryStore(), events.Nop())
	return New(service, maxCount, events.Nop())
}

func TestProcessEvent(t *testing.T) {
	h := newTestHandler(t, 10)
	ctx := context.Background()

	t.Run("unknown action", func(t *testing.T) {
		resp, err := h.ProcessEvent(ctx, Event{Action: "sync"})
		require.NoError(t, err)
		assert.False(t, resp.Success)
		assert.Contains(t, resp.Message, "Unknown action")
	})

	t.Run("provision bounds", func(t *testing.T) {
		for _, n := range []int{0, -1, 11} {
			resp, err := h.ProcessEvent(ctx, Event{Action: "provision", Count: n})
			require.NoError(t, err)
			assert.False(t, resp.Success, "count %d", n)
		}
	})

	t.Run("provision then redeem", func(t *testing.T) {
		resp, err := h.ProcessEvent(ctx, Event{Action: "provision", Count: 2})
		require.NoError(t, err)
		require.True(t, resp.Success)
		require.Len(t, resp.Keys, 2)
		assert.NotEmpty(t, resp.Metadata["execution_time"])

		redeem, err := h.ProcessEvent(ctx, Event{Action: "redeem", Code: resp.Keys[0], Device: "d1"})
		require.NoError(t, err)
		assert.True(t, redeem.Success)
		assert.NotNil(t, redeem.RedeemedAt)

		again, err := h.ProcessEvent(ctx, Event{Action: "redeem", Code: resp.Keys[0], Device: "d2"})
		require.NoError(t, err)
		assert.False(t, again.Success)
		assert.Equal(t, "Licence key already redeemed", again.Message)
	})

	t.Run("redeem unknown", func(t *testing.T) {
		resp, err := h.ProcessEvent(ctx, Event{Action: "redeem", Code: "PWV-AAAA-BBBB-CCCC-DDDD", Device: "d"})
		require.NoError(t, err)
		assert.False(t, resp.Success)
		assert.Equal(t, "Unknown licence key", resp.Message)
	})

	t.Run("redeem missing fields", func(t *testing.T) {
		resp, err := h.ProcessEvent(ctx, Event{Action: "redeem", Code: "x"})
		require.NoError(t, err)
		assert.False(t, resp.Success)
	})
}

func TestResolveSaltFromEnvironment(t *testing.T) {
	salt, err := resolveSalt(context.Background(), &config.LambdaConfig{KeySalt: "from-env"}, events.Nop())
	require.NoError(t, err)
	assert.Equal(t, "from-env", salt)

	_, err = resolveSalt(context.Background(), &config.LambdaConfig{}, events.Nop())
	assert.Error(t, err)
}

type recordedRuns struct {
	runs []progress.Run
	err  error
}

func (r *recordedRuns) SaveRun(ctx context.Context, run progress.Run) error {
	r.runs = append(r.runs, run)
	return r.err
}

type failingKeys struct{}

func (failingKeys) Provision(ctx context.Context, n int) ([]keygen.Key, error) {
	return nil, errors.New("table unavailable")
}

func (failingKeys) Redeem(ctx context.Context, code, device string) (*keygen.Record, error) {
	return nil, errors.New("table unavailable")
}

func TestProvisionRecordsRuns(t *testing.T) {
	ctx := context.Background()
	runs := &recordedRuns{}
	h := newTestHandler(t, 10).WithRuns(runs, "PWV")

	resp, err := h.ProcessEvent(ctx, Event{Action: "provision", Count: 3})
	require.NoError(t, err)
	require.True(t, resp.Success)

	require.Len(t, runs.runs, 2)
	assert.Equal(t, progress.StatusRunning, runs.runs[0].Status)
	assert.Equal(t, progress.StatusComplete, runs.runs[1].Status)
	assert.Equal(t, 3, runs.runs[1].Stored)
	assert.Equal(t, runs.runs[0].ID, runs.runs[1].ID)
	assert.Equal(t, runs.runs[0].ID, resp.Metadata["run_id"])

	// A failing tracker does not fail provisioning.
	runs.err = errors.New("throttled")
	resp, err = h.ProcessEvent(ctx, Event{Action: "provision", Count: 1})
	require.NoError(t, err)
	assert.True(t, resp.Success)
}

func TestProvisionFailureRecordsRun(t *testing.T) {
	runs := &recordedRuns{}
	h := New(failingKeys{}, 10, events.Nop()).WithRuns(runs, "PWV")

	resp, err := h.ProcessEvent(context.Background(), Event{Action: "provision", Count: 1})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	require.Len(t, runs.runs, 2)
	assert.Equal(t, progress.StatusFailed, runs.runs[1].Status)
	assert.Equal(t, "table unavailable", runs.runs[1].Error)
}
