// Package backend is the seam between the orchestrator and a container
// platform. The orchestrator only depends on ClusterBackend; swarm is the one
// implementation.
package backend

import "context"

// EndpointMode controls how a service name resolves inside a network.
type EndpointMode string

const (
	// EndpointDNSRR resolves the service name to every task, so several
	// replicas can answer on one name.
	EndpointDNSRR EndpointMode = "dnsrr"
	EndpointVIP   EndpointMode = "vip"
)

// Filter selects resources. Name matches exactly. A label with an empty value
// matches on the key alone.
type Filter struct {
	Name   string
	Labels map[string]string
}

type NetworkSpec struct {
	Name       string
	Driver     string
	Scope      string
	Attachable bool
	Labels     map[string]string
}

type Network struct {
	ID     string
	Name   string
	Labels map[string]string
}

type ConfigSpec struct {
	Name   string
	Data   []byte
	Labels map[string]string
}

type Config struct {
	ID     string
	Name   string
	Labels map[string]string
}

// ConfigMount exposes a registered config as a file inside a service's tasks.
type ConfigMount struct {
	ConfigName string
	File       string
}

type ServiceSpec struct {
	Name         string
	Image        string
	Hostname     string
	Networks     []string
	Labels       map[string]string
	Replicas     uint64
	EndpointMode EndpointMode
	Configs      []ConfigMount
}

type Service struct {
	ID       string
	Name     string
	Image    string
	Replicas uint64
	Networks []string
	Labels   map[string]string
	Configs  []ConfigMount
}

// ClusterBackend is the capability set the orchestrator needs from a
// container platform.
type ClusterBackend interface {
	CreateNetwork(ctx context.Context, spec NetworkSpec) (Network, error)
	ListNetworks(ctx context.Context, f Filter) ([]Network, error)
	RemoveNetwork(ctx context.Context, id string) error

	CreateConfig(ctx context.Context, spec ConfigSpec) (Config, error)
	ListConfigs(ctx context.Context, f Filter) ([]Config, error)
	RemoveConfig(ctx context.Context, id string) error

	CreateService(ctx context.Context, spec ServiceSpec) (Service, error)
	ListServices(ctx context.Context, f Filter) ([]Service, error)
	ScaleService(ctx context.Context, id string, replicas uint64) error
	// AttachConfigs adds config mounts to a running service, keeping the ones
	// it already has.
	AttachConfigs(ctx context.Context, id string, mounts []ConfigMount) error
	RemoveService(ctx context.Context, id string) error
	// RunningTasks counts the tasks of a service that are currently running.
	RunningTasks(ctx context.Context, serviceID string) (int, error)
}

// Matches reports whether a resource with the given name and labels passes f.
func (f Filter) Matches(name string, labels map[string]string) bool {
	if f.Name != "" && f.Name != name {
		return false
	}
	for k, v := range f.Labels {
		got, ok := labels[k]
		if !ok {
			return false
		}
		if v != "" && got != v {
			return false
		}
	}
	return true
}
