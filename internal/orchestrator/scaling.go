package orchestrator

import (
	"context"
	"github.com/pgacloud/manager/internal/backend"
	"github.com/pgacloud/manager/internal/metrics"
	"github.com/pgacloud/manager/internal/naming"
	perrors "github.com/pgacloud/manager/pkg/errors"
	"github.com/pkg/errors"
)

// ScaleStage sets the replica count of a service by name. Reserved roles are
// never scaled: the request is rejected with a warning and nil is returned.
func (o *Orchestrator) ScaleStage(ctx context.Context, name string, replicas uint64) error {
	const op = "scale"

	if naming.IsReserved(name) {
		metrics.ScaleRejections.Inc()
		o.log.Info("scaling aborted: scaling of runner or manager services not permitted", "warning", true, "service", name, "replicas", replicas)
		return nil
	}

	services, err := o.backend.ListServices(ctx, backend.Filter{Name: name})
	if err != nil {
		return errors.Wrapf(err, "unable to look up service %s", name)
	}
	if len(services) == 0 {
		return perrors.E(op, perrors.ErrServiceNotFound, "no service %s found for scaling", name)
	}
	if err = o.backend.ScaleService(ctx, services[0].ID, replicas); err != nil {
		return errors.Wrapf(err, "unable to scale %s", name)
	}
	o.log.Info("service scaled", "service", name, "replicas", replicas)
	return nil
}
