package orchestrator

import (
	"context"
	"errors"
	"github.com/pgacloud/manager/internal/backend"
	"github.com/pgacloud/manager/internal/naming"
	perrors "github.com/pgacloud/manager/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

func addCluster(t *testing.T, h *harness, id naming.ClusterID) {
	t.Helper()
	_, err := h.b.CreateNetwork(context.Background(), backend.NetworkSpec{
		Name:   naming.NetworkName(id),
		Labels: naming.Labels(id),
	})
	require.NoError(t, err)
	h.b.AddService(backend.ServiceSpec{Name: naming.ServiceName(naming.RoleRunner, id), Replicas: 1, Labels: naming.Labels(id)})
}

func TestSeed(t *testing.T) {
	h := newHarness(t)
	addCluster(t, h, "41")
	addCluster(t, h, "7")
	addCluster(t, h, "exp-a")

	require.NoError(t, h.o.Seed(context.Background()))
	h.upload(t, "42", "config.yml")
	s := masterSlave()
	s.Files = []string{"config.yml"}

	id, err := h.o.SetupCluster(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, naming.ClusterID("42"), id)
}

func TestSeed_RandomIDs(t *testing.T) {
	h := newHarness(t)
	h.o.SetIDGenerator(naming.Random{})
	addCluster(t, h, "41")

	require.NoError(t, h.o.Seed(context.Background()))
	assert.NotEqual(t, naming.ClusterID("42"), h.o.ids.Next())
}

func TestClusters_DiscoversBackend(t *testing.T) {
	h, _ := deployed(t)
	addCluster(t, h, "9")

	clusters, err := h.o.Clusters(context.Background())
	require.NoError(t, err)
	require.Len(t, clusters, 2)
	assert.Equal(t, naming.ClusterID("1"), clusters[0].ID)
	assert.Equal(t, naming.ClusterID("9"), clusters[1].ID)
	assert.Equal(t, StateCreated, clusters[1].State)
}

func TestResolve_AdoptsExistingCluster(t *testing.T) {
	h := newHarness(t)
	addCluster(t, h, "5")

	code, err := h.o.Teardown(context.Background(), "5")
	require.NoError(t, err)
	assert.Equal(t, 202, code)
	assert.Empty(t, h.b.ServiceNames())
	assert.Empty(t, h.b.NetworkNames())
}

func TestStatus(t *testing.T) {
	h, id := deployed(t)
	h.b.SetRunning("selection--1", 2)

	st, err := h.o.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, st.ID)
	require.Len(t, st.Live, 8)

	byName := make(map[string]ServiceStatus)
	for _, s := range st.Live {
		byName[s.Name] = s
	}
	assert.Equal(t, ServiceStatus{Name: "selection--1", Image: "pgacloud/selection", Replicas: 3, Running: 2}, byName["selection--1"])
	assert.Equal(t, uint64(4), byName["fitness--1"].Replicas)

	_, err = h.o.Status(context.Background(), "404")
	assert.True(t, errors.Is(err, perrors.ErrClusterNotFound), "got %v", err)
	assert.Equal(t, perrors.KindNotFound, perrors.KindOf(err))
}

func TestHasConfig(t *testing.T) {
	tests := []struct {
		files []string
		want  bool
	}{
		{files: []string{"config.yml"}, want: true},
		{files: []string{"population.yml", "config.yaml"}, want: true},
		{files: []string{"config"}, want: true},
		{files: []string{"configs.yml", "my-config.yml"}, want: false},
		{files: nil, want: false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, hasConfig(tt.files), "%v", tt.files)
	}
}
