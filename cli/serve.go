package cli

import (
	"github.com/pgacloud/manager/internal/api"
	"github.com/pgacloud/manager/internal/backend/swarm"
	"github.com/pgacloud/manager/internal/naming"
	"github.com/pgacloud/manager/internal/orchestrator"
	"github.com/pgacloud/manager/internal/readiness"
	"github.com/pgacloud/manager/internal/runner"
	"github.com/pgacloud/manager/internal/storage"
	"github.com/spf13/cobra"
	"net"
)

func newServeCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the manager gateway",
		Long:  `Serves the manager HTTP gateway and deploys clusters on the swarm the manager node belongs to.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, l := e.cfg, e.log

			ids, err := cfg.idGenerator()
			if err != nil {
				return err
			}

			b, err := swarm.New(cfg.swarmOptions())
			if err != nil {
				return err
			}
			defer b.Close()
			b.SetLogger(l.WithName("swarm"))

			store := storage.NewOS(cfg.Storage.Root)

			o := orchestrator.New(b, store).
				SetLogger(l.WithName("orchestrator")).
				SetIDGenerator(ids).
				SetManagementNetwork(cfg.Network.Management).
				SetWaiter(readiness.NewWaiter().SetLogger(l.WithName("readiness"))).
				SetProbe(orchestrator.ProbeHTTP, readiness.NewHTTPProbe(cfg.Probe.Port)).
				SetRunnerDialer(func(id naming.ClusterID) orchestrator.Runner {
					return runner.New(runner.URL(id, cfg.Runner.Port)).SetLogger(l.WithName("runner").WithValues("cluster", id))
				})

			ctx := cmd.Context()
			if err = o.Seed(ctx); err != nil {
				l.Error(err, "unable to look up existing clusters, ids may collide")
			}

			l.Info("Starting manager", "docker", cfg.Docker.Host, "storage", cfg.Storage.Root)
			srv := api.New(o, store).SetLogger(l.WithName("api"))
			err = srv.Start(ctx, cfg.API.Listen, func(addr net.Addr) {
				l.Info("gateway listening", "addr", addr.String())
			})
			l.Info("All done")
			return err
		},
	}

	f := cmd.Flags()
	f.String("listen", ":5000", "gateway listen address")
	f.String("docker-host", "", "swarm manager daemon, host[:port] or tcp://host:port (default from DOCKER_HOST)")
	f.String("storage-root", "/var/lib/pga", "directory holding uploaded cluster files")
	f.String("management-network", orchestrator.DefaultManagementNetwork, "network the runner joins besides the cluster network")
	f.String("ids", "sequence", "cluster id generator: sequence or random")
	bind(e.v, f.Lookup("listen"), "api.listen")
	bind(e.v, f.Lookup("docker-host"), "docker.host")
	bind(e.v, f.Lookup("storage-root"), "storage.root")
	bind(e.v, f.Lookup("management-network"), "network.management")
	bind(e.v, f.Lookup("ids"), "ids")
	return cmd
}
