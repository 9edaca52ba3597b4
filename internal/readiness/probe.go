package readiness

import (
	"context"
	"fmt"
	"github.com/pgacloud/manager/internal/backend"
	"github.com/pkg/errors"
	"io"
	"net/http"
	"strings"
	"time"
)

// Probe checks once whether a service is healthy. An error means not ready.
type Probe interface {
	Ready(ctx context.Context, service string) (bool, error)
}

// ProbeFunc adapts a function to Probe.
type ProbeFunc func(ctx context.Context, service string) (bool, error)

func (f ProbeFunc) Ready(ctx context.Context, service string) (bool, error) {
	return f(ctx, service)
}

// StatusPath is the health endpoint every stage exposes.
const StatusPath = "/status"

const maxStatusBody = 4096

// HTTPProbe asks a service's health endpoint. The service is healthy when it
// answers 200 with a body ending in "OK".
type HTTPProbe struct {
	Client *http.Client
	Port   int
	// URL overrides how the health endpoint of a service is addressed.
	URL func(service string) string
}

// NewHTTPProbe probes http://{service}:{port}/status.
func NewHTTPProbe(port int) *HTTPProbe {
	return &HTTPProbe{
		Client: &http.Client{Timeout: Interval},
		Port:   port,
	}
}

func (p *HTTPProbe) Ready(ctx context.Context, service string) (bool, error) {
	url := fmt.Sprintf("http://%s:%d%s", service, p.Port, StatusPath)
	if p.URL != nil {
		url = p.URL(service)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, errors.Wrap(err, "unable to build status request")
	}
	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: Interval}
	}
	resp, err := client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxStatusBody))
	if err != nil {
		return false, errors.Wrap(err, "unable to read status")
	}
	if resp.StatusCode != http.StatusOK {
		return false, nil
	}
	return Healthy(string(body)), nil
}

// Healthy reports whether a status body affirms health.
func Healthy(body string) bool {
	return strings.HasSuffix(strings.TrimSpace(body), "OK")
}

// TaskProbe treats a service as ready once the platform reports one of its
// tasks running.
type TaskProbe struct {
	Backend backend.ClusterBackend
}

func (p TaskProbe) Ready(ctx context.Context, service string) (bool, error) {
	services, err := p.Backend.ListServices(ctx, backend.Filter{Name: service})
	if err != nil {
		return false, err
	}
	if len(services) == 0 {
		return false, fmt.Errorf("service %s not found", service)
	}
	n, err := p.Backend.RunningTasks(ctx, services[0].ID)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

var _ Probe = (*HTTPProbe)(nil)
var _ Probe = TaskProbe{}

// probeTimeout bounds a single probe call so that a hanging service cannot
// stall the wait past its deadline.
const probeTimeout = Interval - 500*time.Millisecond
