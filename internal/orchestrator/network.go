package orchestrator

import (
	"context"
	"github.com/pgacloud/manager/internal/backend"
	"github.com/pgacloud/manager/internal/naming"
	perrors "github.com/pgacloud/manager/pkg/errors"
	"github.com/pkg/errors"
)

const (
	overlayDriver = "overlay"
	swarmScope    = "swarm"
)

// createClusterNetwork creates the isolated network of a cluster. It is the
// first resource of a deployment and is not retried: failing here aborts it.
func (o *Orchestrator) createClusterNetwork(ctx context.Context, id naming.ClusterID) (backend.Network, error) {
	name := naming.NetworkName(id)
	n, err := o.backend.CreateNetwork(ctx, backend.NetworkSpec{
		Name:       name,
		Driver:     overlayDriver,
		Scope:      swarmScope,
		Attachable: true,
		Labels:     naming.Labels(id),
	})
	if err != nil {
		return backend.Network{}, perrors.Fatal("create network", errors.Wrapf(err, "unable to create network %s", name))
	}
	o.log.Info("network created", "cluster", id, "network", name)
	return n, nil
}
