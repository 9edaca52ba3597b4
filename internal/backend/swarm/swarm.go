// Package swarm implements backend.ClusterBackend on Docker Swarm.
package swarm

import (
	"context"
	"fmt"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/swarm"
	"github.com/docker/docker/client"
	"github.com/go-logr/logr"
	"github.com/pgacloud/manager/internal/backend"
	"github.com/pkg/errors"
	"os"
	"sort"
)

const configFileMode os.FileMode = 0444

// TLSFiles point at the PEM material used to reach a TLS protected daemon.
type TLSFiles struct {
	CA   string
	Cert string
	Key  string
}

type Options struct {
	// Host is the daemon address, tcp://host:2376. Empty uses DOCKER_HOST and
	// friends from the environment.
	Host string
	TLS  *TLSFiles
	// APIVersion pins the API version; empty negotiates with the daemon.
	APIVersion string
	Registry   *RegistryAuth
}

// Backend talks to a swarm manager node.
type Backend struct {
	cli          *client.Client
	registryAuth string
	log          logr.Logger
}

var _ backend.ClusterBackend = (*Backend)(nil)

func New(opts Options) (*Backend, error) {
	var clientOpts []client.Opt
	if opts.Host == "" {
		clientOpts = append(clientOpts, client.FromEnv)
	} else {
		clientOpts = append(clientOpts, client.WithHost(opts.Host))
	}
	if opts.TLS != nil {
		clientOpts = append(clientOpts, client.WithTLSClientConfig(opts.TLS.CA, opts.TLS.Cert, opts.TLS.Key))
	}
	if opts.APIVersion != "" {
		clientOpts = append(clientOpts, client.WithVersion(opts.APIVersion))
	} else {
		clientOpts = append(clientOpts, client.WithAPIVersionNegotiation())
	}

	cli, err := client.NewClientWithOpts(clientOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "unable to create docker client")
	}

	b := &Backend{cli: cli, log: logr.Discard()}
	if opts.Registry != nil {
		if b.registryAuth, err = opts.Registry.Encode(); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (b *Backend) SetLogger(l logr.Logger) *Backend {
	b.log = l
	return b
}

func (b *Backend) Close() error {
	return b.cli.Close()
}

func (b *Backend) CreateNetwork(ctx context.Context, spec backend.NetworkSpec) (backend.Network, error) {
	resp, err := b.cli.NetworkCreate(ctx, spec.Name, types.NetworkCreate{
		Driver:     spec.Driver,
		Scope:      spec.Scope,
		Attachable: spec.Attachable,
		Labels:     spec.Labels,
	})
	if err != nil {
		return backend.Network{}, errors.Wrapf(err, "unable to create network %s", spec.Name)
	}
	if resp.Warning != "" {
		b.log.Info("network created with warning", "network", spec.Name, "warning", resp.Warning)
	}
	return backend.Network{ID: resp.ID, Name: spec.Name, Labels: spec.Labels}, nil
}

func (b *Backend) ListNetworks(ctx context.Context, f backend.Filter) ([]backend.Network, error) {
	list, err := b.cli.NetworkList(ctx, types.NetworkListOptions{Filters: toArgs(f)})
	if err != nil {
		return nil, errors.Wrap(err, "unable to list networks")
	}
	var out []backend.Network
	for _, n := range list {
		if !f.Matches(n.Name, n.Labels) {
			continue
		}
		out = append(out, backend.Network{ID: n.ID, Name: n.Name, Labels: n.Labels})
	}
	return out, nil
}

func (b *Backend) RemoveNetwork(ctx context.Context, id string) error {
	return errors.Wrapf(b.cli.NetworkRemove(ctx, id), "unable to remove network %s", id)
}

func (b *Backend) CreateConfig(ctx context.Context, spec backend.ConfigSpec) (backend.Config, error) {
	resp, err := b.cli.ConfigCreate(ctx, swarm.ConfigSpec{
		Annotations: swarm.Annotations{Name: spec.Name, Labels: spec.Labels},
		Data:        spec.Data,
	})
	if err != nil {
		return backend.Config{}, errors.Wrapf(err, "unable to create config %s", spec.Name)
	}
	return backend.Config{ID: resp.ID, Name: spec.Name, Labels: spec.Labels}, nil
}

func (b *Backend) ListConfigs(ctx context.Context, f backend.Filter) ([]backend.Config, error) {
	list, err := b.cli.ConfigList(ctx, types.ConfigListOptions{Filters: toArgs(f)})
	if err != nil {
		return nil, errors.Wrap(err, "unable to list configs")
	}
	var out []backend.Config
	for _, c := range list {
		if !f.Matches(c.Spec.Name, c.Spec.Labels) {
			continue
		}
		out = append(out, backend.Config{ID: c.ID, Name: c.Spec.Name, Labels: c.Spec.Labels})
	}
	return out, nil
}

func (b *Backend) RemoveConfig(ctx context.Context, id string) error {
	return errors.Wrapf(b.cli.ConfigRemove(ctx, id), "unable to remove config %s", id)
}

func (b *Backend) CreateService(ctx context.Context, spec backend.ServiceSpec) (backend.Service, error) {
	refs, err := b.configReferences(ctx, spec.Configs)
	if err != nil {
		return backend.Service{}, err
	}

	replicas := spec.Replicas
	if replicas == 0 {
		replicas = 1
	}
	mode := swarm.ResolutionModeVIP
	if spec.EndpointMode == backend.EndpointDNSRR {
		mode = swarm.ResolutionModeDNSRR
	}

	networks := make([]swarm.NetworkAttachmentConfig, 0, len(spec.Networks))
	for _, n := range spec.Networks {
		networks = append(networks, swarm.NetworkAttachmentConfig{Target: n})
	}

	svcSpec := swarm.ServiceSpec{
		Annotations: swarm.Annotations{Name: spec.Name, Labels: spec.Labels},
		TaskTemplate: swarm.TaskSpec{
			ContainerSpec: &swarm.ContainerSpec{
				Image:    spec.Image,
				Hostname: spec.Hostname,
				Labels:   spec.Labels,
				Configs:  refs,
			},
			Networks: networks,
		},
		Mode:         swarm.ServiceMode{Replicated: &swarm.ReplicatedService{Replicas: &replicas}},
		EndpointSpec: &swarm.EndpointSpec{Mode: mode},
	}

	resp, err := b.cli.ServiceCreate(ctx, svcSpec, types.ServiceCreateOptions{
		EncodedRegistryAuth: b.registryAuth,
	})
	if err != nil {
		return backend.Service{}, errors.Wrapf(err, "unable to create service %s", spec.Name)
	}
	for _, w := range resp.Warnings {
		b.log.Info("service created with warning", "service", spec.Name, "warning", w)
	}

	return backend.Service{
		ID:       resp.ID,
		Name:     spec.Name,
		Image:    spec.Image,
		Replicas: replicas,
		Networks: append([]string(nil), spec.Networks...),
		Labels:   spec.Labels,
		Configs:  append([]backend.ConfigMount(nil), spec.Configs...),
	}, nil
}

func (b *Backend) ListServices(ctx context.Context, f backend.Filter) ([]backend.Service, error) {
	list, err := b.cli.ServiceList(ctx, types.ServiceListOptions{Filters: toArgs(f)})
	if err != nil {
		return nil, errors.Wrap(err, "unable to list services")
	}
	var out []backend.Service
	for _, s := range list {
		// the daemon matches names by prefix
		if !f.Matches(s.Spec.Name, s.Spec.Labels) {
			continue
		}
		out = append(out, fromSwarmService(s))
	}
	return out, nil
}

func (b *Backend) ScaleService(ctx context.Context, id string, replicas uint64) error {
	return b.updateService(ctx, id, func(spec *swarm.ServiceSpec) error {
		if spec.Mode.Replicated == nil {
			return fmt.Errorf("service %s is not in replicated mode", id)
		}
		spec.Mode.Replicated.Replicas = &replicas
		return nil
	})
}

func (b *Backend) AttachConfigs(ctx context.Context, id string, mounts []backend.ConfigMount) error {
	refs, err := b.configReferences(ctx, mounts)
	if err != nil {
		return err
	}
	return b.updateService(ctx, id, func(spec *swarm.ServiceSpec) error {
		if spec.TaskTemplate.ContainerSpec == nil {
			return fmt.Errorf("service %s has no container spec", id)
		}
		existing := make(map[string]bool)
		for _, r := range spec.TaskTemplate.ContainerSpec.Configs {
			existing[r.ConfigName] = true
		}
		for _, r := range refs {
			if !existing[r.ConfigName] {
				spec.TaskTemplate.ContainerSpec.Configs = append(spec.TaskTemplate.ContainerSpec.Configs, r)
			}
		}
		return nil
	})
}

func (b *Backend) RemoveService(ctx context.Context, id string) error {
	return errors.Wrapf(b.cli.ServiceRemove(ctx, id), "unable to remove service %s", id)
}

func (b *Backend) RunningTasks(ctx context.Context, serviceID string) (int, error) {
	tasks, err := b.cli.TaskList(ctx, types.TaskListOptions{
		Filters: filters.NewArgs(
			filters.Arg("service", serviceID),
			filters.Arg("desired-state", "running"),
		),
	})
	if err != nil {
		return 0, errors.Wrapf(err, "unable to list tasks of %s", serviceID)
	}
	var running int
	for _, t := range tasks {
		if t.Status.State == swarm.TaskStateRunning {
			running++
		}
	}
	return running, nil
}

// updateService applies mutate to the current spec and pushes it back at the
// version it was read at.
func (b *Backend) updateService(ctx context.Context, id string, mutate func(spec *swarm.ServiceSpec) error) error {
	svc, _, err := b.cli.ServiceInspectWithRaw(ctx, id, types.ServiceInspectOptions{})
	if err != nil {
		return errors.Wrapf(err, "unable to inspect service %s", id)
	}
	spec := svc.Spec
	if err = mutate(&spec); err != nil {
		return err
	}
	resp, err := b.cli.ServiceUpdate(ctx, svc.ID, svc.Version, spec, types.ServiceUpdateOptions{
		EncodedRegistryAuth: b.registryAuth,
	})
	if err != nil {
		return errors.Wrapf(err, "unable to update service %s", svc.Spec.Name)
	}
	for _, w := range resp.Warnings {
		b.log.Info("service updated with warning", "service", svc.Spec.Name, "warning", w)
	}
	return nil
}

func (b *Backend) configReferences(ctx context.Context, mounts []backend.ConfigMount) ([]*swarm.ConfigReference, error) {
	if len(mounts) == 0 {
		return nil, nil
	}
	args := filters.NewArgs()
	for _, m := range mounts {
		args.Add("name", m.ConfigName)
	}
	list, err := b.cli.ConfigList(ctx, types.ConfigListOptions{Filters: args})
	if err != nil {
		return nil, errors.Wrap(err, "unable to resolve configs")
	}
	ids := make(map[string]string, len(list))
	for _, c := range list {
		ids[c.Spec.Name] = c.ID
	}

	refs := make([]*swarm.ConfigReference, 0, len(mounts))
	for _, m := range mounts {
		id, ok := ids[m.ConfigName]
		if !ok {
			return nil, fmt.Errorf("config %s does not exist", m.ConfigName)
		}
		refs = append(refs, &swarm.ConfigReference{
			File: &swarm.ConfigReferenceFileTarget{
				Name: m.File,
				UID:  "0",
				GID:  "0",
				Mode: configFileMode,
			},
			ConfigID:   id,
			ConfigName: m.ConfigName,
		})
	}
	return refs, nil
}

func toArgs(f backend.Filter) filters.Args {
	args := filters.NewArgs()
	if f.Name != "" {
		args.Add("name", f.Name)
	}
	keys := make([]string, 0, len(f.Labels))
	for k := range f.Labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if v := f.Labels[k]; v != "" {
			args.Add("label", k+"="+v)
		} else {
			args.Add("label", k)
		}
	}
	return args
}

func fromSwarmService(s swarm.Service) backend.Service {
	out := backend.Service{
		ID:     s.ID,
		Name:   s.Spec.Name,
		Labels: s.Spec.Labels,
	}
	if s.Spec.Mode.Replicated != nil && s.Spec.Mode.Replicated.Replicas != nil {
		out.Replicas = *s.Spec.Mode.Replicated.Replicas
	}
	for _, n := range s.Spec.TaskTemplate.Networks {
		out.Networks = append(out.Networks, n.Target)
	}
	if cs := s.Spec.TaskTemplate.ContainerSpec; cs != nil {
		out.Image = cs.Image
		for _, r := range cs.Configs {
			m := backend.ConfigMount{ConfigName: r.ConfigName}
			if r.File != nil {
				m.File = r.File.Name
			}
			out.Configs = append(out.Configs, m)
		}
	}
	return out
}
