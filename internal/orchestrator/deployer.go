package orchestrator

import (
	"context"
	"github.com/goccy/go-json"
	"github.com/pgacloud/manager/internal/backend"
	"github.com/pgacloud/manager/internal/metrics"
	"github.com/pgacloud/manager/internal/naming"
	"github.com/pgacloud/manager/internal/planner"
	"github.com/pgacloud/manager/internal/readiness"
	perrors "github.com/pgacloud/manager/pkg/errors"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"sort"
	"time"
)

type deployment struct {
	id        naming.ClusterID
	network   string
	plan      planner.Plan
	supports  []StageSpec
	setups    []StageSpec
	operators []StageSpec
	// refs are the distributed configs every service mounts.
	refs []string
}

// routingConfig is what a stage reads from its {role}-config.yml.
type routingConfig struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Init   string `json:"init,omitempty"`
	PGAID  string `json:"pga_id"`
}

// deployStack runs the three deployment phases and the final readiness wait.
// It returns the names of the services it created, also on failure.
func (o *Orchestrator) deployStack(ctx context.Context, d *deployment) ([]string, error) {
	var created []string
	log := o.log.WithValues("cluster", d.id)

	// supports
	start := time.Now()
	supports, err := o.deploySupports(ctx, d)
	created = append(created, names(supports)...)
	if err != nil {
		return created, err
	}
	o.awaitAll(ctx, supports)
	metrics.ObservePhase("supports", start)

	// setups
	start = time.Now()
	var setups []deployedStage
	for _, spec := range sortedStages(d.setups) {
		if spec.Role == naming.RoleInitializer && !d.plan.DeployInitializer {
			log.Info("initial population provided, initializer skipped")
			continue
		}
		s, err := o.deployStage(ctx, d, spec)
		if s.name != "" {
			created = append(created, s.name)
		}
		if err != nil {
			return created, err
		}
		setups = append(setups, s)
	}
	metrics.ObservePhase("setups", start)

	// operators
	start = time.Now()
	for _, spec := range sortedStages(d.operators) {
		s, err := o.deployStage(ctx, d, spec)
		if s.name != "" {
			created = append(created, s.name)
		}
		if err != nil {
			return created, err
		}
	}
	metrics.ObservePhase("operators", start)

	start = time.Now()
	o.awaitSetups(ctx, d, setups)
	metrics.ObservePhase("await", start)

	return created, nil
}

type deployedStage struct {
	spec StageSpec
	name string
	id   string
}

func names(stages []deployedStage) []string {
	out := make([]string, 0, len(stages))
	for _, s := range stages {
		out = append(out, s.name)
	}
	return out
}

// deploySupports creates every support service concurrently and mounts the
// distributed configs on each.
func (o *Orchestrator) deploySupports(ctx context.Context, d *deployment) ([]deployedStage, error) {
	specs := sortedStages(d.supports)
	out := make([]deployedStage, len(specs))

	wg, wgCtx := errgroup.WithContext(ctx)
	for i, spec := range specs {
		i, spec := i, spec
		wg.Go(func() error {
			svc, err := o.createService(wgCtx, d, spec, []string{d.network})
			if err != nil {
				return err
			}
			out[i] = deployedStage{spec: spec, name: svc.Name, id: svc.ID}
			return o.attachConfigs(wgCtx, svc, d.refs)
		})
	}
	err := wg.Wait()

	var created []deployedStage
	for _, s := range out {
		if s.name != "" {
			created = append(created, s)
		}
	}
	return created, err
}

// deployStage creates a setup or operator service, applies its replica count
// and mounts the distributed configs plus its routing config.
func (o *Orchestrator) deployStage(ctx context.Context, d *deployment, spec StageSpec) (deployedStage, error) {
	networks := []string{d.network}
	if spec.Role == naming.RoleRunner {
		networks = append(networks, o.managementNetwork)
	}

	svc, err := o.createService(ctx, d, spec, networks)
	if err != nil {
		return deployedStage{}, err
	}
	s := deployedStage{spec: spec, name: svc.Name, id: svc.ID}

	replicas := spec.Replicas
	if replicas == 0 {
		replicas = 1
	}
	if err = o.ScaleStage(ctx, svc.Name, replicas); err != nil {
		return s, perrors.Fatal("deploy", err)
	}

	refs := d.refs
	if route, ok := d.plan.Graph[spec.Role]; ok {
		data, err := json.Marshal(routingConfig{
			Source: route.Source,
			Target: route.Target,
			Init:   route.Init,
			PGAID:  string(d.id),
		})
		if err != nil {
			return s, perrors.Fatal("deploy", errors.Wrapf(err, "unable to encode routing config of %s", spec.Role))
		}
		name, err := o.createStageConfig(ctx, d.id, spec.Role, data)
		if err != nil {
			return s, perrors.Fatal("deploy", errors.Wrapf(err, "unable to create routing config of %s", spec.Role))
		}
		refs = append(append([]string(nil), d.refs...), name)
	} else {
		o.log.V(1).Info("stage has no route in the model graph", "cluster", d.id, "role", spec.Role)
	}

	return s, o.attachConfigs(ctx, svc, refs)
}

func (o *Orchestrator) createService(ctx context.Context, d *deployment, spec StageSpec, networks []string) (backend.Service, error) {
	name := naming.ServiceName(spec.Role, d.id)
	svc, err := o.backend.CreateService(ctx, backend.ServiceSpec{
		Name:         name,
		Image:        spec.Image,
		Hostname:     spec.Role,
		Networks:     networks,
		Labels:       naming.Labels(d.id),
		EndpointMode: backend.EndpointDNSRR,
	})
	if err != nil {
		return backend.Service{}, perrors.Fatal("deploy", errors.Wrapf(err, "unable to create service %s", name))
	}
	o.log.Info("service created", "cluster", d.id, "service", name, "image", spec.Image)
	return svc, nil
}

func (o *Orchestrator) attachConfigs(ctx context.Context, svc backend.Service, refs []string) error {
	if len(refs) == 0 {
		return nil
	}
	if err := o.backend.AttachConfigs(ctx, svc.ID, mounts(refs)); err != nil {
		return perrors.Fatal("deploy", errors.Wrapf(err, "unable to update %s with configs", svc.Name))
	}
	return nil
}

// awaitSetups waits for the initializer alone when it was deployed, and for
// every other setup otherwise.
func (o *Orchestrator) awaitSetups(ctx context.Context, d *deployment, setups []deployedStage) {
	if d.plan.DeployInitializer {
		for _, s := range setups {
			if s.spec.Role == naming.RoleInitializer {
				o.awaitAll(ctx, []deployedStage{s})
				return
			}
		}
	}
	var others []deployedStage
	for _, s := range setups {
		if s.spec.Role != naming.RoleInitializer {
			others = append(others, s)
		}
	}
	o.awaitAll(ctx, others)
}

// awaitAll waits for the stages concurrently. Timeouts are logged by the
// waiter and do not fail the deployment.
func (o *Orchestrator) awaitAll(ctx context.Context, stages []deployedStage) {
	var wg errgroup.Group
	for _, s := range stages {
		s := s
		wg.Go(func() error {
			o.waiter.AwaitReady(ctx, readiness.Target{Service: s.name, Probe: o.probeFor(s.spec)})
			return nil
		})
	}
	_ = wg.Wait()
}

func (o *Orchestrator) probeFor(spec StageSpec) readiness.Probe {
	kind := spec.Probe
	if kind == "" {
		kind = ProbeTasks
		if spec.Role == naming.RoleRunner {
			kind = ProbeHTTP
		}
	}
	return o.probes[kind]
}

func sortedStages(specs []StageSpec) []StageSpec {
	out := append([]StageSpec(nil), specs...)
	sort.Slice(out, func(i, j int) bool { return out[i].Role < out[j].Role })
	return out
}
