// Package readiness blocks until a service is observably healthy or a
// bounded wait runs out.
package readiness

import (
	"context"
	"fmt"
	"github.com/go-logr/logr"
	"github.com/pgacloud/manager/internal/metrics"
)

// Target is one service to wait for.
type Target struct {
	Service string
	Probe   Probe
}

// Waiter polls a probe every Interval for at most Deadline. Running out of
// time is not an error: the service may still come up shortly after.
type Waiter struct {
	clock Clock
	log   logr.Logger
}

func NewWaiter() *Waiter {
	return &Waiter{
		clock: realClock{},
		log:   logr.Discard(),
	}
}

func (w *Waiter) SetLogger(l logr.Logger) *Waiter {
	w.log = l
	return w
}

func (w *Waiter) SetClock(c Clock) *Waiter {
	w.clock = c
	return w
}

// AwaitReady returns true as soon as the probe affirms the target healthy, and
// false once the deadline passes or ctx is done.
func (w *Waiter) AwaitReady(ctx context.Context, t Target) bool {
	log := w.log.WithValues("service", t.Service)
	log.Info("waiting for service")

	start := w.clock.Now()
	var st State

	for {
		if w.check(ctx, log, t) {
			metrics.ReadinessWaits.WithLabelValues(metrics.OutcomeReady).Inc()
			log.Info("service is ready", "elapsed", st.Elapsed.String())
			return true
		}
		if st.Expired() {
			metrics.ReadinessWaits.WithLabelValues(metrics.OutcomeTimeout).Inc()
			log.Info("service did not become ready in time, continuing", "warning", true, "elapsed", st.Elapsed.String())
			return false
		}
		next := st.Next()
		if err := w.clock.Sleep(ctx, next); err != nil {
			metrics.ReadinessWaits.WithLabelValues(metrics.OutcomeCancelled).Inc()
			log.Info("wait cancelled", "reason", err.Error())
			return false
		}

		// A clock that reports less than the requested sleep still moves
		// the wait forward by that much.
		d := w.clock.Now().Sub(start) - st.Elapsed
		if d < next {
			d = next
		}
		for _, n := range st.Step(d) {
			log.Info(fmt.Sprintf("service is %s", n), "warning", true, "elapsed", st.Elapsed.String())
		}
	}
}

func (w *Waiter) check(ctx context.Context, log logr.Logger, t Target) (ready bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error(fmt.Errorf("%v", r), "probe panicked")
			ready = false
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	ok, err := t.Probe.Ready(ctx, t.Service)
	if err != nil {
		log.V(1).Info("service not ready", "reason", err.Error())
		return false
	}
	return ok
}
