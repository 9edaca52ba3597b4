// Package orchestrator turns a cluster setup into a running, networked and
// scaled set of services on a ClusterBackend, and drives the lifecycle of
// the clusters it deployed.
package orchestrator

import (
	"context"
	"github.com/go-logr/logr"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/pgacloud/manager/internal/backend"
	"github.com/pgacloud/manager/internal/metrics"
	"github.com/pgacloud/manager/internal/naming"
	"github.com/pgacloud/manager/internal/planner"
	"github.com/pgacloud/manager/internal/readiness"
	"github.com/pgacloud/manager/internal/runner"
	"github.com/pgacloud/manager/internal/storage"
	perrors "github.com/pgacloud/manager/pkg/errors"
	"github.com/pkg/errors"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultManagementNetwork is the network the runner shares with the manager.
const DefaultManagementNetwork = "pga-management"

// requiredConfig is the base name of the one file every setup must carry.
const requiredConfig = "config"

type run struct {
	mu sync.Mutex
	c  Cluster
}

type Orchestrator struct {
	log     logr.Logger
	backend backend.ClusterBackend
	store   *storage.Store
	ids     naming.IDGenerator
	waiter  *readiness.Waiter
	probes  map[ProbeKind]readiness.Probe
	dial    RunnerDialer

	managementNetwork string

	// in-memory run registry keyed by cluster id
	clusters cmap.ConcurrentMap[string, *run]
}

func New(b backend.ClusterBackend, store *storage.Store) *Orchestrator {
	return &Orchestrator{
		log:     logr.Discard(),
		backend: b,
		store:   store,
		ids:     naming.NewSequence(0),
		waiter:  readiness.NewWaiter(),
		probes: map[ProbeKind]readiness.Probe{
			ProbeTasks: readiness.TaskProbe{Backend: b},
			ProbeHTTP:  readiness.NewHTTPProbe(runner.DefaultPort),
		},
		dial: func(id naming.ClusterID) Runner {
			return runner.New(runner.URL(id, runner.DefaultPort))
		},
		managementNetwork: DefaultManagementNetwork,
		clusters:          cmap.New[*run](),
	}
}

func (o *Orchestrator) SetLogger(l logr.Logger) *Orchestrator {
	o.log = l
	return o
}

func (o *Orchestrator) SetIDGenerator(g naming.IDGenerator) *Orchestrator {
	o.ids = g
	return o
}

func (o *Orchestrator) SetWaiter(w *readiness.Waiter) *Orchestrator {
	o.waiter = w
	return o
}

func (o *Orchestrator) SetProbe(kind ProbeKind, p readiness.Probe) *Orchestrator {
	o.probes[kind] = p
	return o
}

func (o *Orchestrator) SetRunnerDialer(d RunnerDialer) *Orchestrator {
	o.dial = d
	return o
}

func (o *Orchestrator) SetManagementNetwork(name string) *Orchestrator {
	o.managementNetwork = name
	return o
}

// NextID reserves a cluster id, for callers that need it before SetupCluster,
// to store uploads under.
func (o *Orchestrator) NextID() naming.ClusterID {
	return o.ids.Next()
}

// Seed moves a sequence id generator past the ids of clusters already
// present on the backend.
func (o *Orchestrator) Seed(ctx context.Context) error {
	seq, ok := o.ids.(*naming.Sequence)
	if !ok {
		return nil
	}
	ids, err := o.discover(ctx)
	if err != nil {
		return err
	}
	seq.Seed(ids)
	return nil
}

// SetupCluster validates the setup, plans the model graph and deploys the
// cluster. Invalid setups fail before any resource is created; a failure
// midway leaves what was created in place for RemoveCluster to clean up.
func (o *Orchestrator) SetupCluster(ctx context.Context, s Setup) (naming.ClusterID, error) {
	const op = "setup cluster"

	plan, err := o.validate(s)
	if err != nil {
		metrics.Deployments.WithLabelValues(metrics.ResultInvalid).Inc()
		return "", err
	}

	id := s.ID
	if id == "" {
		id = o.ids.Next()
	}
	if err = id.Validate(); err != nil {
		metrics.Deployments.WithLabelValues(metrics.ResultInvalid).Inc()
		return "", err
	}

	r := &run{c: Cluster{
		ID:                id,
		State:             StateCreated,
		Model:             s.Model,
		DeployInitializer: plan.DeployInitializer,
		CreatedAt:         time.Now(),
	}}
	if !o.clusters.SetIfAbsent(string(id), r) {
		metrics.Deployments.WithLabelValues(metrics.ResultInvalid).Inc()
		return "", perrors.E(op, perrors.ErrClusterExists, "%s", id)
	}

	log := o.log.WithValues("cluster", id)
	log.Info("deploying cluster", "model", s.Model, "deployInitializer", plan.DeployInitializer)

	services, configs, err := o.deploy(ctx, id, s, plan)

	r.mu.Lock()
	r.c.Services = services
	r.c.Configs = configs
	r.c.Failed = err != nil
	r.mu.Unlock()

	if err != nil {
		metrics.Deployments.WithLabelValues(metrics.ResultFailed).Inc()
		log.Error(err, "deployment aborted, created resources are left in place")
		return id, err
	}
	metrics.Deployments.WithLabelValues(metrics.ResultSuccess).Inc()
	log.Info("cluster deployed", "services", len(services), "configs", len(configs))
	return id, nil
}

func (o *Orchestrator) deploy(ctx context.Context, id naming.ClusterID, s Setup, plan planner.Plan) ([]string, []string, error) {
	start := time.Now()
	network, err := o.createClusterNetwork(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	metrics.ObservePhase("network", start)

	start = time.Now()
	refs := o.distribute(ctx, id, s.Files)
	metrics.ObservePhase("configs", start)

	d := &deployment{
		id:        id,
		network:   network.Name,
		plan:      plan,
		supports:  s.Supports,
		setups:    s.Setups,
		operators: s.Operators,
		refs:      refs,
	}
	services, err := o.deployStack(ctx, d)
	return services, refs, err
}

func (o *Orchestrator) validate(s Setup) (planner.Plan, error) {
	const op = "setup cluster"

	if s.Model == "" {
		return planner.Plan{}, perrors.E(op, perrors.ErrMissingTopology, "")
	}
	if !hasConfig(s.Files) {
		return planner.Plan{}, perrors.E(op, perrors.ErrMissingConfig, "no %q file among %v", requiredConfig, s.Files)
	}

	seen := make(map[string]bool)
	var roles []string
	groups := []struct {
		category Category
		specs    []StageSpec
	}{
		{CategorySupport, s.Supports},
		{CategorySetup, s.Setups},
		{CategoryOperator, s.Operators},
	}
	for _, g := range groups {
		for _, spec := range g.specs {
			if err := validateStage(g.category, spec); err != nil {
				return planner.Plan{}, err
			}
			if seen[spec.Role] {
				return planner.Plan{}, perrors.E(op, perrors.ErrInvalidStage, "role %q is declared twice", spec.Role)
			}
			seen[spec.Role] = true
			roles = append(roles, spec.Role)
		}
	}

	return planner.Build(planner.Request{
		Topology:             s.Model,
		Stages:               roles,
		UseInitialPopulation: s.UseInitialPopulation(),
		UseInit:              s.UseInit(),
	})
}

func validateStage(category Category, spec StageSpec) error {
	const op = "validate stage"

	switch {
	case spec.Role == "":
		return perrors.E(op, perrors.ErrInvalidStage, "%s stage without a role", category)
	case strings.Contains(spec.Role, naming.Separator):
		return perrors.E(op, perrors.ErrInvalidStage, "role %q contains %q", spec.Role, naming.Separator)
	case spec.Image == "":
		return perrors.E(op, perrors.ErrInvalidStage, "stage %q has no image", spec.Role)
	case spec.Category != "" && spec.Category != category:
		return perrors.E(op, perrors.ErrInvalidStage, "stage %q is a %s, not a %s", spec.Role, spec.Category, category)
	case spec.Probe != "" && spec.Probe != ProbeHTTP && spec.Probe != ProbeTasks:
		return perrors.E(op, perrors.ErrInvalidStage, "stage %q has unknown probe %q", spec.Role, spec.Probe)
	}
	if category == CategorySetup && spec.Role != naming.RoleRunner && spec.Role != naming.RoleInitializer {
		return perrors.E(op, perrors.ErrInvalidStage, "%q is not a setup role", spec.Role)
	}
	if category != CategorySetup && (spec.Role == naming.RoleRunner || spec.Role == naming.RoleInitializer) {
		return perrors.E(op, perrors.ErrInvalidStage, "%q must be declared as a setup", spec.Role)
	}
	if spec.Role == naming.RoleManager {
		return perrors.E(op, perrors.ErrInvalidStage, "%q is reserved for the manager", spec.Role)
	}
	return nil
}

// hasConfig reports whether a file named "config", whatever its extension,
// is among files.
func hasConfig(files []string) bool {
	for _, f := range files {
		base := filepath.Base(f)
		if strings.TrimSuffix(base, filepath.Ext(base)) == requiredConfig {
			return true
		}
	}
	return false
}

// Clusters lists the known clusters, including those found on the backend
// that this manager did not deploy.
func (o *Orchestrator) Clusters(ctx context.Context) ([]Cluster, error) {
	if _, err := o.discover(ctx); err != nil {
		return nil, err
	}
	var out []Cluster
	for _, r := range o.clusters.Items() {
		r.mu.Lock()
		out = append(out, r.c)
		r.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Status returns the record of a cluster and the live state of its
// services.
func (o *Orchestrator) Status(ctx context.Context, id naming.ClusterID) (ClusterStatus, error) {
	r, err := o.resolve(ctx, id)
	if err != nil {
		return ClusterStatus{}, err
	}
	r.mu.Lock()
	st := ClusterStatus{Cluster: r.c}
	r.mu.Unlock()

	services, err := o.backend.ListServices(ctx, backend.Filter{Labels: naming.Labels(id)})
	if err != nil {
		return st, errors.Wrapf(err, "unable to list services of %s", id)
	}
	for _, svc := range services {
		running, err := o.backend.RunningTasks(ctx, svc.ID)
		if err != nil {
			o.log.V(1).Info("unable to count running tasks", "service", svc.Name, "error", err.Error())
		}
		st.Live = append(st.Live, ServiceStatus{
			Name:     svc.Name,
			Image:    svc.Image,
			Replicas: svc.Replicas,
			Running:  running,
		})
	}
	return st, nil
}

// resolve finds a cluster by id, in the registry first and then by its
// network on the backend.
func (o *Orchestrator) resolve(ctx context.Context, id naming.ClusterID) (*run, error) {
	if r, ok := o.clusters.Get(string(id)); ok {
		return r, nil
	}
	networks, err := o.backend.ListNetworks(ctx, backend.Filter{Labels: naming.Labels(id)})
	if err != nil {
		return nil, errors.Wrapf(err, "unable to look up cluster %s", id)
	}
	if len(networks) == 0 {
		return nil, perrors.E("resolve cluster", perrors.ErrClusterNotFound, "%s", id)
	}
	return o.adopt(id), nil
}

// adopt registers a cluster found on the backend. Its state is unknown, so
// every lifecycle call is allowed.
func (o *Orchestrator) adopt(id naming.ClusterID) *run {
	o.clusters.SetIfAbsent(string(id), &run{c: Cluster{ID: id, State: StateCreated}})
	r, _ := o.clusters.Get(string(id))
	return r
}

// discover adopts every cluster network present on the backend and returns
// their ids.
func (o *Orchestrator) discover(ctx context.Context) ([]naming.ClusterID, error) {
	networks, err := o.backend.ListNetworks(ctx, backend.Filter{Labels: map[string]string{naming.LabelKey: ""}})
	if err != nil {
		return nil, errors.Wrap(err, "unable to list cluster networks")
	}
	var ids []naming.ClusterID
	for _, n := range networks {
		id, ok := naming.ParseLabelValue(n.Labels[naming.LabelKey])
		if !ok {
			continue
		}
		ids = append(ids, id)
		o.adopt(id)
	}
	return ids, nil
}
