package orchestrator

import (
	"context"
	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
	"github.com/pgacloud/manager/internal/backend/backendtest"
	"github.com/pgacloud/manager/internal/naming"
	"github.com/pgacloud/manager/internal/planner"
	"github.com/pgacloud/manager/internal/readiness"
	"github.com/pgacloud/manager/internal/storage"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"strings"
	"sync"
	"testing"
)

type logSink struct {
	mu    sync.Mutex
	lines []string
}

func (s *logSink) logger() logr.Logger {
	return funcr.New(func(prefix, args string) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.lines = append(s.lines, args)
	}, funcr.Options{})
}

func (s *logSink) count(substrs ...string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
next:
	for _, l := range s.lines {
		for _, sub := range substrs {
			if !strings.Contains(l, sub) {
				continue next
			}
		}
		n++
	}
	return n
}

type fakeRunner struct {
	mu       sync.Mutex
	calls    []string
	stopCode int
	stopErr  error
	// startErr fails Start with startCode.
	startCode int
	startErr  error
}

func (r *fakeRunner) record(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *fakeRunner) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *fakeRunner) Start(context.Context) (int, error) {
	r.record("start")
	if r.startErr != nil {
		return r.startCode, r.startErr
	}
	return 200, nil
}

func (r *fakeRunner) Stop(context.Context) (int, error) {
	r.record("stop")
	return r.stopCode, r.stopErr
}

func (r *fakeRunner) DistributeProperties(context.Context, interface{}) (int, error) {
	r.record("properties")
	return 200, nil
}

func (r *fakeRunner) InitializePopulation(context.Context, interface{}) (int, error) {
	r.record("population")
	return 200, nil
}

// probeLog records the services probed for readiness, in order.
type probeLog struct {
	mu    sync.Mutex
	names []string
	// existing is the set of services present when each probe ran.
	existing [][]string
}

func (p *probeLog) probe(b *backendtest.Backend) readiness.Probe {
	return readiness.ProbeFunc(func(_ context.Context, service string) (bool, error) {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.names = append(p.names, service)
		p.existing = append(p.existing, b.ServiceNames())
		return true, nil
	})
}

func (p *probeLog) seen() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.names...)
}

type harness struct {
	o      *Orchestrator
	b      *backendtest.Backend
	store  *storage.Store
	runner *fakeRunner
	probes *probeLog
	logs   *logSink
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		b:      backendtest.New(),
		store:  storage.New(afero.NewMemMapFs(), "/var/lib/pga"),
		runner: &fakeRunner{stopCode: 202},
		probes: &probeLog{},
		logs:   &logSink{},
	}
	probe := h.probes.probe(h.b)
	h.o = New(h.b, h.store).
		SetLogger(h.logs.logger()).
		SetRunnerDialer(func(naming.ClusterID) Runner { return h.runner }).
		SetProbe(ProbeTasks, probe).
		SetProbe(ProbeHTTP, probe)
	return h
}

// upload stores the files of a cluster about to be deployed.
func (h *harness) upload(t *testing.T, id naming.ClusterID, files ...string) {
	t.Helper()
	for _, f := range files {
		require.NoError(t, h.store.Save(id, f, strings.NewReader("file: "+f)))
	}
}

func masterSlave() Setup {
	return Setup{
		Model: planner.MasterSlave,
		Supports: []StageSpec{
			{Role: "rabbitmq", Image: "rabbitmq:3-management"},
			{Role: "redis", Image: "redis:7"},
		},
		Setups: []StageSpec{
			{Role: naming.RoleRunner, Image: "pgacloud/runner", Replicas: 1},
			{Role: naming.RoleInitializer, Image: "pgacloud/initializer", Replicas: 2},
		},
		Operators: []StageSpec{
			{Role: naming.RoleSelection, Image: "pgacloud/selection", Replicas: 3},
			{Role: naming.RoleCrossover, Image: "pgacloud/crossover", Replicas: 2},
			{Role: naming.RoleMutation, Image: "pgacloud/mutation", Replicas: 2},
			{Role: naming.RoleFitness, Image: "pgacloud/fitness", Replicas: 4},
		},
		Population: map[string]interface{}{KeyUseInitialPopulation: false, "size": 100},
		Properties: map[string]interface{}{KeyUseInit: false, "MAX_GENERATIONS": 50},
		Files:      []string{"config.yml", "population.yml"},
	}
}

func indexOf(calls []string, call string) int {
	for i, c := range calls {
		if c == call {
			return i
		}
	}
	return -1
}

func countOf(calls []string, call string) int {
	n := 0
	for _, c := range calls {
		if c == call {
			n++
		}
	}
	return n
}
