// Package metrics holds the prometheus collectors of the manager. They are
// registered on the default registry and served by the gateway on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"time"
)

const namespace = "pga"

// Deployment results.
const (
	ResultSuccess = "success"
	ResultInvalid = "invalid"
	ResultFailed  = "failed"
)

// Readiness outcomes.
const (
	OutcomeReady     = "ready"
	OutcomeTimeout   = "timeout"
	OutcomeCancelled = "cancelled"
)

var (
	// Deployments counts SetupCluster calls by result.
	Deployments = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "deployments_total",
		Help:      "Cluster deployments by result",
	}, []string{"result"})

	// DeployPhase measures each deployment phase.
	// Labels: phase (network, configs, supports, setups, operators, await)
	DeployPhase = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "deploy_phase_seconds",
		Help:      "Duration of deployment phases in seconds",
		Buckets:   []float64{0.1, 0.5, 1, 3, 5, 10, 20, 45, 90, 180},
	}, []string{"phase"})

	ReadinessWaits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "readiness_waits_total",
		Help:      "Readiness waits by outcome",
	}, []string{"outcome"})

	// ScaleRejections counts scale requests refused for a reserved role.
	ScaleRejections = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scale_rejections_total",
		Help:      "Scale requests rejected because the role is reserved",
	})
)

// ObservePhase records the time spent in a deployment phase since start.
func ObservePhase(phase string, start time.Time) {
	DeployPhase.WithLabelValues(phase).Observe(time.Since(start).Seconds())
}
