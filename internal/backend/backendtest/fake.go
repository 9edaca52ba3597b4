// Package backendtest provides an in-memory backend.ClusterBackend for tests
// of the packages built on top of it.
package backendtest

import (
	"context"
	"fmt"
	"github.com/pgacloud/manager/internal/backend"
	"sort"
	"sync"
)

// Backend keeps networks, configs and services in memory. Errors can be
// injected per resource name; every mutating call is recorded in order.
type Backend struct {
	mu sync.Mutex

	seq      int
	networks map[string]backend.Network
	configs  map[string]backend.Config
	services map[string]backend.Service
	running  map[string]int
	data     map[string][]byte

	// FailNetwork fails every CreateNetwork call.
	FailNetwork error
	// FailConfig and FailService fail creation of the named resources.
	FailConfig  map[string]error
	FailService map[string]error
	// FailRemove fails removal of the named resources.
	FailRemove map[string]error

	calls []string
}

var _ backend.ClusterBackend = (*Backend)(nil)

func New() *Backend {
	return &Backend{
		networks:    make(map[string]backend.Network),
		configs:     make(map[string]backend.Config),
		services:    make(map[string]backend.Service),
		running:     make(map[string]int),
		data:        make(map[string][]byte),
		FailConfig:  make(map[string]error),
		FailService: make(map[string]error),
		FailRemove:  make(map[string]error),
	}
}

func (b *Backend) nextID(kind string) string {
	b.seq++
	return fmt.Sprintf("%s-%d", kind, b.seq)
}

func (b *Backend) record(format string, args ...interface{}) {
	b.calls = append(b.calls, fmt.Sprintf(format, args...))
}

// Calls returns the recorded mutating calls, "create-service selection--7"
// style.
func (b *Backend) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

func (b *Backend) CreateNetwork(_ context.Context, spec backend.NetworkSpec) (backend.Network, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("create-network %s", spec.Name)
	if b.FailNetwork != nil {
		return backend.Network{}, b.FailNetwork
	}
	for _, n := range b.networks {
		if n.Name == spec.Name {
			return backend.Network{}, fmt.Errorf("network %s already exists", spec.Name)
		}
	}
	n := backend.Network{ID: b.nextID("net"), Name: spec.Name, Labels: copyLabels(spec.Labels)}
	b.networks[n.ID] = n
	return n, nil
}

func (b *Backend) ListNetworks(_ context.Context, f backend.Filter) ([]backend.Network, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []backend.Network
	for _, n := range b.networks {
		if f.Matches(n.Name, n.Labels) {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (b *Backend) RemoveNetwork(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, ok := b.networks[id]
	if !ok {
		return fmt.Errorf("network %s not found", id)
	}
	b.record("remove-network %s", n.Name)
	if err := b.FailRemove[n.Name]; err != nil {
		return err
	}
	delete(b.networks, id)
	return nil
}

func (b *Backend) CreateConfig(_ context.Context, spec backend.ConfigSpec) (backend.Config, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("create-config %s", spec.Name)
	if err := b.FailConfig[spec.Name]; err != nil {
		return backend.Config{}, err
	}
	for _, c := range b.configs {
		if c.Name == spec.Name {
			return backend.Config{}, fmt.Errorf("config %s already exists", spec.Name)
		}
	}
	c := backend.Config{ID: b.nextID("cfg"), Name: spec.Name, Labels: copyLabels(spec.Labels)}
	b.configs[c.ID] = c
	b.data[c.Name] = append([]byte(nil), spec.Data...)
	return c, nil
}

func (b *Backend) ListConfigs(_ context.Context, f backend.Filter) ([]backend.Config, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []backend.Config
	for _, c := range b.configs {
		if f.Matches(c.Name, c.Labels) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (b *Backend) RemoveConfig(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.configs[id]
	if !ok {
		return fmt.Errorf("config %s not found", id)
	}
	b.record("remove-config %s", c.Name)
	if err := b.FailRemove[c.Name]; err != nil {
		return err
	}
	delete(b.configs, id)
	delete(b.data, c.Name)
	return nil
}

func (b *Backend) CreateService(_ context.Context, spec backend.ServiceSpec) (backend.Service, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("create-service %s", spec.Name)
	if err := b.FailService[spec.Name]; err != nil {
		return backend.Service{}, err
	}
	for _, s := range b.services {
		if s.Name == spec.Name {
			return backend.Service{}, fmt.Errorf("service %s already exists", spec.Name)
		}
	}
	for _, m := range spec.Configs {
		if !b.configExists(m.ConfigName) {
			return backend.Service{}, fmt.Errorf("config %s does not exist", m.ConfigName)
		}
	}
	replicas := spec.Replicas
	if replicas == 0 {
		replicas = 1
	}
	s := backend.Service{
		ID:       b.nextID("svc"),
		Name:     spec.Name,
		Image:    spec.Image,
		Replicas: replicas,
		Networks: append([]string(nil), spec.Networks...),
		Labels:   copyLabels(spec.Labels),
		Configs:  append([]backend.ConfigMount(nil), spec.Configs...),
	}
	b.services[s.ID] = s
	return s, nil
}

func (b *Backend) ListServices(_ context.Context, f backend.Filter) ([]backend.Service, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []backend.Service
	for _, s := range b.services {
		if f.Matches(s.Name, s.Labels) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (b *Backend) ScaleService(_ context.Context, id string, replicas uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.services[id]
	if !ok {
		return fmt.Errorf("service %s not found", id)
	}
	b.record("scale-service %s %d", s.Name, replicas)
	s.Replicas = replicas
	b.services[id] = s
	return nil
}

func (b *Backend) AttachConfigs(_ context.Context, id string, mounts []backend.ConfigMount) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.services[id]
	if !ok {
		return fmt.Errorf("service %s not found", id)
	}
	b.record("attach-configs %s %d", s.Name, len(mounts))
	have := make(map[string]bool)
	for _, m := range s.Configs {
		have[m.ConfigName] = true
	}
	for _, m := range mounts {
		if !b.configExists(m.ConfigName) {
			return fmt.Errorf("config %s does not exist", m.ConfigName)
		}
		if !have[m.ConfigName] {
			s.Configs = append(s.Configs, m)
		}
	}
	b.services[id] = s
	return nil
}

func (b *Backend) RemoveService(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.services[id]
	if !ok {
		return fmt.Errorf("service %s not found", id)
	}
	b.record("remove-service %s", s.Name)
	if err := b.FailRemove[s.Name]; err != nil {
		return err
	}
	delete(b.services, id)
	return nil
}

// RunningTasks reports the count set with SetRunning, or the replica count
// when none was set.
func (b *Backend) RunningTasks(_ context.Context, serviceID string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.services[serviceID]
	if !ok {
		return 0, fmt.Errorf("service %s not found", serviceID)
	}
	if n, ok := b.running[s.Name]; ok {
		return n, nil
	}
	return int(s.Replicas), nil
}

// SetRunning overrides the running task count of a service by name.
func (b *Backend) SetRunning(name string, n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.running[name] = n
}

// Service looks a service up by name.
func (b *Backend) Service(name string) (backend.Service, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.services {
		if s.Name == name {
			return s, true
		}
	}
	return backend.Service{}, false
}

// AddService registers a service directly, bypassing CreateService.
func (b *Backend) AddService(spec backend.ServiceSpec) backend.Service {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := backend.Service{
		ID:       b.nextID("svc"),
		Name:     spec.Name,
		Image:    spec.Image,
		Replicas: spec.Replicas,
		Networks: spec.Networks,
		Labels:   copyLabels(spec.Labels),
	}
	b.services[s.ID] = s
	return s
}

// ServiceNames, ConfigNames and NetworkNames list what currently exists,
// sorted.
func (b *Backend) ServiceNames() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, s := range b.services {
		out = append(out, s.Name)
	}
	sort.Strings(out)
	return out
}

func (b *Backend) ConfigNames() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, c := range b.configs {
		out = append(out, c.Name)
	}
	sort.Strings(out)
	return out
}

func (b *Backend) NetworkNames() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, n := range b.networks {
		out = append(out, n.Name)
	}
	sort.Strings(out)
	return out
}

// ConfigData returns the payload a config was created with.
func (b *Backend) ConfigData(name string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.data[name]
	return d, ok
}

func (b *Backend) configExists(name string) bool {
	for _, c := range b.configs {
		if c.Name == name {
			return true
		}
	}
	return false
}

func copyLabels(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
