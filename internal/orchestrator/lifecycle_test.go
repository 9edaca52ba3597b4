package orchestrator

import (
	"context"
	"errors"
	"github.com/pgacloud/manager/internal/backend"
	"github.com/pgacloud/manager/internal/naming"
	perrors "github.com/pgacloud/manager/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"net/http"
	"testing"
)

func backendFilter(id naming.ClusterID) backend.Filter {
	return backend.Filter{Labels: naming.Labels(id)}
}

func deployed(t *testing.T) (*harness, naming.ClusterID) {
	t.Helper()
	h := newHarness(t)
	h.upload(t, "1", "config.yml", "population.yml")
	id, err := h.o.SetupCluster(context.Background(), masterSlave())
	require.NoError(t, err)
	return h, id
}

func state(t *testing.T, h *harness, id naming.ClusterID) State {
	t.Helper()
	st, err := h.o.Status(context.Background(), id)
	require.NoError(t, err)
	return st.State
}

func TestTeardown_RemovesWhateverStopReports(t *testing.T) {
	tests := []struct {
		name     string
		stopCode int
		stopErr  error
		wantCode int
	}{
		{name: "accepted", stopCode: http.StatusAccepted, wantCode: http.StatusAccepted},
		{name: "ok instead of accepted", stopCode: http.StatusOK, wantCode: http.StatusOK},
		{name: "server error", stopCode: http.StatusInternalServerError, wantCode: http.StatusInternalServerError},
		{name: "runner unreachable", stopErr: errors.New("connection refused")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, id := deployed(t)
			h.runner.stopCode = tt.stopCode
			h.runner.stopErr = tt.stopErr

			code, err := h.o.Teardown(context.Background(), id)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCode, code)

			calls := h.b.Calls()
			assert.Equal(t, 1, countOf(calls, "remove-network pga-overlay-1"), "remove runs exactly once")
			assert.Equal(t, 1, countOf(calls, "remove-service runner--1"))
			assert.Empty(t, h.b.ServiceNames())
			assert.Empty(t, h.b.ConfigNames())
			assert.Empty(t, h.b.NetworkNames())
			assert.Equal(t, []string{"stop"}, h.runner.seen())
			assert.Equal(t, StateRemoved, state(t, h, id))

			if tt.stopCode != http.StatusAccepted && tt.stopErr == nil {
				assert.Equal(t, 1, h.logs.count("unexpected code", `"warning"=true`))
			}
		})
	}
}

func TestTeardown_AfterStop(t *testing.T) {
	h, id := deployed(t)
	_, err := h.o.StopCluster(context.Background(), id)
	require.NoError(t, err)

	_, err = h.o.Teardown(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 1, countOf(h.b.Calls(), "remove-network pga-overlay-1"))
	assert.Equal(t, []string{"stop"}, h.runner.seen())
}

func TestTeardown_UnknownCluster(t *testing.T) {
	h := newHarness(t)
	_, err := h.o.Teardown(context.Background(), "42")
	assert.True(t, errors.Is(err, perrors.ErrClusterNotFound), "got %v", err)
	assert.Empty(t, h.b.Calls())
}

func TestLifecycle_Transitions(t *testing.T) {
	h, id := deployed(t)
	ctx := context.Background()

	code, err := h.o.StartCluster(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StateStarted, state(t, h, id))

	_, err = h.o.StartCluster(ctx, id)
	assert.True(t, errors.Is(err, perrors.ErrInvalidTransition), "restart: %v", err)

	code, err = h.o.StopCluster(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, StateStopped, state(t, h, id))

	_, err = h.o.StartCluster(ctx, id)
	assert.True(t, errors.Is(err, perrors.ErrInvalidTransition), "start after stop: %v", err)

	require.NoError(t, h.o.RemoveCluster(ctx, id))
	assert.Equal(t, StateRemoved, state(t, h, id))

	err = h.o.RemoveCluster(ctx, id)
	assert.True(t, errors.Is(err, perrors.ErrInvalidTransition), "remove twice: %v", err)
	assert.Equal(t, perrors.KindConflict, perrors.KindOf(err))

	_, err = h.o.DistributeProperties(ctx, id, map[string]interface{}{})
	assert.True(t, errors.Is(err, perrors.ErrInvalidTransition), "properties after remove: %v", err)

	assert.Equal(t, []string{"start", "stop"}, h.runner.seen())
}

func TestState_CanMove(t *testing.T) {
	states := []State{StateCreated, StateStarted, StateStopped, StateRemoved}
	for _, from := range states {
		for _, to := range states {
			want := from != StateRemoved && to > from
			assert.Equal(t, want, from.CanMove(to), "%s -> %s", from, to)
		}
	}
}

func TestRunnerCalls(t *testing.T) {
	h, id := deployed(t)
	ctx := context.Background()

	code, err := h.o.DistributeProperties(ctx, id, map[string]interface{}{"MAX_GENERATIONS": 50})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, code)

	code, err = h.o.InitializePopulation(ctx, id, []interface{}{"0101", "1100"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, code)

	assert.Equal(t, []string{"properties", "population"}, h.runner.seen())
	assert.Equal(t, StateCreated, state(t, h, id))
}

func TestRemoveCluster_AggregatesErrors(t *testing.T) {
	h, id := deployed(t)
	h.b.FailRemove["selection--1"] = errors.New("service is updating")
	h.b.FailRemove["1--config.yml"] = errors.New("config is in use")

	err := h.o.RemoveCluster(context.Background(), id)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "selection--1")
	assert.Contains(t, err.Error(), "1--config.yml")

	assert.Equal(t, []string{"selection--1"}, h.b.ServiceNames())
	assert.Equal(t, []string{"1--config.yml"}, h.b.ConfigNames())
	assert.Empty(t, h.b.NetworkNames())
}

func TestRemoveCluster_RetriesAfterPartialFailure(t *testing.T) {
	h, id := deployed(t)
	ctx := context.Background()
	h.b.FailRemove["pga-overlay-1"] = errors.New("network is in use by task")

	err := h.o.RemoveCluster(ctx, id)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pga-overlay-1")
	assert.Equal(t, StateCreated, state(t, h, id))
	assert.Equal(t, []string{"pga-overlay-1"}, h.b.NetworkNames())

	delete(h.b.FailRemove, "pga-overlay-1")
	require.NoError(t, h.o.RemoveCluster(ctx, id))
	assert.Empty(t, h.b.NetworkNames())
	assert.Empty(t, h.b.ServiceNames())
	assert.Equal(t, StateRemoved, state(t, h, id))
}

func TestTeardown_RetriesRemoval(t *testing.T) {
	h, id := deployed(t)
	ctx := context.Background()
	h.b.FailRemove["pga-overlay-1"] = errors.New("network is in use by task")

	_, err := h.o.Teardown(ctx, id)
	require.Error(t, err)
	assert.Equal(t, StateStopped, state(t, h, id))

	delete(h.b.FailRemove, "pga-overlay-1")
	require.NoError(t, h.o.RemoveCluster(ctx, id))
	assert.Equal(t, StateRemoved, state(t, h, id))
}

func TestStartCluster_Failures(t *testing.T) {
	tests := []struct {
		name      string
		startCode int
		startErr  error
		wantState State
	}{
		{
			name:      "runner unreachable",
			startErr:  errors.New("connection refused"),
			wantState: StateCreated,
		},
		{
			name:      "runner rejected the run",
			startCode: http.StatusInternalServerError,
			startErr:  errors.New("runner answered 500"),
			wantState: StateStarted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, id := deployed(t)
			ctx := context.Background()
			h.runner.startCode = tt.startCode
			h.runner.startErr = tt.startErr

			_, err := h.o.StartCluster(ctx, id)
			require.Error(t, err)
			assert.Equal(t, tt.wantState, state(t, h, id))

			h.runner.startErr = nil
			code, err := h.o.StartCluster(ctx, id)
			if tt.wantState == StateCreated {
				require.NoError(t, err)
				assert.Equal(t, http.StatusOK, code)
				assert.Equal(t, StateStarted, state(t, h, id))
			} else {
				assert.True(t, errors.Is(err, perrors.ErrInvalidTransition), "restart: %v", err)
			}
		})
	}
}

func TestRemoveCluster_LeavesOtherClusters(t *testing.T) {
	h, id := deployed(t)
	h.b.AddService(backend.ServiceSpec{Name: "runner--2", Replicas: 1, Labels: naming.Labels("2")})
	h.b.AddService(backend.ServiceSpec{Name: "selection--10", Replicas: 1, Labels: naming.Labels("10")})

	require.NoError(t, h.o.RemoveCluster(context.Background(), id))
	assert.Equal(t, []string{"runner--2", "selection--10"}, h.b.ServiceNames())

	_, err := h.store.List(id)
	assert.Error(t, err, "uploaded files are removed with the cluster")
}
