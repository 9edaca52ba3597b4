package orchestrator

import (
	"context"
	"github.com/hashicorp/go-multierror"
	"github.com/pgacloud/manager/internal/backend"
	"github.com/pgacloud/manager/internal/naming"
	perrors "github.com/pgacloud/manager/pkg/errors"
	"github.com/pkg/errors"
	"net/http"
)

// transition moves a cluster to the next state or fails with
// ErrInvalidTransition. It returns the state the cluster left.
func (o *Orchestrator) transition(ctx context.Context, id naming.ClusterID, to State) (*run, State, error) {
	r, err := o.allowed(ctx, id, to)
	if err != nil {
		return nil, 0, err
	}
	from, err := o.commit(r, to)
	return r, from, err
}

// allowed resolves a cluster and checks that it may move to the given state
// without moving it.
func (o *Orchestrator) allowed(ctx context.Context, id naming.ClusterID, to State) (*run, error) {
	r, err := o.resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.c.State.CanMove(to) {
		return nil, invalidTransition(r.c.ID, r.c.State, to)
	}
	return r, nil
}

func (o *Orchestrator) commit(r *run, to State) (State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	from := r.c.State
	if !from.CanMove(to) {
		return from, invalidTransition(r.c.ID, from, to)
	}
	o.log.Info("cluster state changed", "cluster", r.c.ID, "from", from.String(), "to", to.String())
	r.c.State = to
	return from, nil
}

// rollback returns a cluster to from, unless another call moved it on.
func (o *Orchestrator) rollback(r *run, to, from State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.c.State != to {
		return
	}
	o.log.Info("cluster state restored", "cluster", r.c.ID, "from", to.String(), "to", from.String())
	r.c.State = from
}

func invalidTransition(id naming.ClusterID, from, to State) error {
	return perrors.E("lifecycle", perrors.ErrInvalidTransition, "cluster %s is %s, cannot move to %s", id, from, to)
}

// active returns a cluster that has not been removed.
func (o *Orchestrator) active(ctx context.Context, id naming.ClusterID) error {
	r, err := o.resolve(ctx, id)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.c.State == StateRemoved {
		return perrors.E("lifecycle", perrors.ErrInvalidTransition, "cluster %s was removed", id)
	}
	return nil
}

// StartCluster starts the run and blocks until the runner reports it
// complete. There is no deadline besides ctx. When the runner cannot be
// reached at all the cluster stays startable.
func (o *Orchestrator) StartCluster(ctx context.Context, id naming.ClusterID) (int, error) {
	r, from, err := o.transition(ctx, id, StateStarted)
	if err != nil {
		return 0, err
	}
	log := o.log.WithValues("cluster", id)
	log.Info("starting cluster")

	code, err := o.dial(id).Start(ctx)
	if err != nil {
		if code == 0 {
			o.rollback(r, StateStarted, from)
		}
		return code, errors.Wrapf(err, "unable to start cluster %s", id)
	}
	log.Info("cluster run finished", "code", code)
	return code, nil
}

// StopCluster asks the runner to stop and returns the code it answered. A
// code other than 202 is logged, not returned as an error.
func (o *Orchestrator) StopCluster(ctx context.Context, id naming.ClusterID) (int, error) {
	if _, _, err := o.transition(ctx, id, StateStopped); err != nil {
		return 0, err
	}
	log := o.log.WithValues("cluster", id)

	code, err := o.dial(id).Stop(ctx)
	if err != nil {
		return code, errors.Wrapf(err, "unable to stop cluster %s", id)
	}
	if code != http.StatusAccepted {
		log.Info("runner answered stop with an unexpected code", "warning", true, "code", code, "expected", http.StatusAccepted)
		return code, nil
	}
	log.Info("cluster stopped", "code", code)
	return code, nil
}

// RemoveCluster deletes every service, config and network labeled with the
// cluster id, and its uploaded files. It does not depend on the runner. The
// cluster is only marked REMOVED once everything is gone, so a partial
// removal can be retried.
func (o *Orchestrator) RemoveCluster(ctx context.Context, id naming.ClusterID) error {
	r, err := o.allowed(ctx, id, StateRemoved)
	if err != nil {
		return err
	}
	log := o.log.WithValues("cluster", id)
	filter := backend.Filter{Labels: naming.Labels(id)}

	var result *multierror.Error

	services, err := o.backend.ListServices(ctx, filter)
	if err != nil {
		result = multierror.Append(result, errors.Wrap(err, "unable to list services"))
	}
	for _, s := range services {
		if err := o.backend.RemoveService(ctx, s.ID); err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "unable to remove service %s", s.Name))
			continue
		}
		log.Info("service removed", "service", s.Name)
	}

	configs, err := o.backend.ListConfigs(ctx, filter)
	if err != nil {
		result = multierror.Append(result, errors.Wrap(err, "unable to list configs"))
	}
	for _, c := range configs {
		if err := o.backend.RemoveConfig(ctx, c.ID); err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "unable to remove config %s", c.Name))
		}
	}

	networks, err := o.backend.ListNetworks(ctx, filter)
	if err != nil {
		result = multierror.Append(result, errors.Wrap(err, "unable to list networks"))
	}
	for _, n := range networks {
		if err := o.backend.RemoveNetwork(ctx, n.ID); err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "unable to remove network %s", n.Name))
		}
	}

	if o.store != nil {
		if err := o.store.Remove(id); err != nil {
			log.Error(err, "unable to remove uploaded files")
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		return err
	}
	if _, err := o.commit(r, StateRemoved); err != nil {
		return err
	}
	log.Info("cluster removed", "services", len(services), "configs", len(configs), "networks", len(networks))
	return nil
}

// Teardown stops the cluster and removes it whatever stop reported. Stop
// failures are logged; the error returned is the one of the removal.
func (o *Orchestrator) Teardown(ctx context.Context, id naming.ClusterID) (int, error) {
	code, err := o.StopCluster(ctx, id)
	if err != nil {
		if perrors.KindOf(err) == perrors.KindNotFound {
			return code, err
		}
		o.log.Error(err, "stop failed, removing anyway", "cluster", id)
	}
	return code, o.RemoveCluster(ctx, id)
}

// DistributeProperties sends the algorithm properties to the runner.
func (o *Orchestrator) DistributeProperties(ctx context.Context, id naming.ClusterID, properties map[string]interface{}) (int, error) {
	if err := o.active(ctx, id); err != nil {
		return 0, err
	}
	code, err := o.dial(id).DistributeProperties(ctx, properties)
	o.log.Info("properties distributed", "cluster", id, "code", code)
	if err != nil {
		return code, errors.Wrapf(err, "unable to distribute properties to cluster %s", id)
	}
	return code, nil
}

// InitializePopulation sends the initial population to the runner.
func (o *Orchestrator) InitializePopulation(ctx context.Context, id naming.ClusterID, population interface{}) (int, error) {
	if err := o.active(ctx, id); err != nil {
		return 0, err
	}
	code, err := o.dial(id).InitializePopulation(ctx, population)
	o.log.Info("population initialized", "cluster", id, "code", code)
	if err != nil {
		return code, errors.Wrapf(err, "unable to initialize population of cluster %s", id)
	}
	return code, nil
}
