package cli

import (
	"fmt"
	"github.com/pgacloud/manager/internal/api"
	"github.com/pgacloud/manager/internal/naming"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"path/filepath"
	"strconv"
)

func (e *env) client() *api.Client {
	return api.NewClient(e.cfg.API.URL).SetLogger(e.log.WithName("client"))
}

func newDeployCmd(e *env) *cobra.Command {
	var (
		configFile string
		id         string
	)
	cmd := &cobra.Command{
		Use:   "deploy -f config.yml [files...]",
		Short: "deploy a cluster",
		Long:  `Uploads the cluster descriptor and the files it refers to, deploys the cluster and hands properties and the initial population to its runner.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := fs.Open(configFile)
			if err != nil {
				return errors.Wrap(err, "unable to open cluster descriptor")
			}
			defer config.Close()

			uploads := make([]api.Upload, 0, len(args))
			for _, path := range args {
				f, err := fs.Open(path)
				if err != nil {
					return errors.Wrapf(err, "unable to open %s", path)
				}
				defer f.Close()
				uploads = append(uploads, api.Upload{Name: filepath.Base(path), Data: f})
			}

			resp, err := e.client().Deploy(cmd.Context(), naming.ClusterID(id), api.Upload{Name: "config.yml", Data: config}, uploads...)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cluster %s deployed (properties: %d", resp.ID, resp.PropertiesCode)
			if resp.PopulationCode != 0 {
				fmt.Fprintf(cmd.OutOrStdout(), ", population: %d", resp.PopulationCode)
			}
			fmt.Fprintln(cmd.OutOrStdout(), ")")
			return nil
		},
	}
	cmd.Flags().StringVarP(&configFile, "file", "f", "config.yml", "cluster descriptor")
	cmd.Flags().StringVar(&id, "id", "", "cluster id (default assigned by the manager)")
	return cmd
}

func newStartCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "start ID",
		Short: "start a cluster and wait for the run to finish",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := e.client().Start(cmd.Context(), naming.ClusterID(args[0]))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cluster %s finished with %d\n", args[0], code)
			return nil
		},
	}
}

func newStopCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "stop ID",
		Short: "stop a cluster and remove it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := e.client().Stop(cmd.Context(), naming.ClusterID(args[0]))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cluster %s stopped (runner: %d) and removed\n", args[0], code)
			return nil
		},
	}
}

func newRemoveCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "remove ID",
		Short: "remove a cluster without stopping its runner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := e.client().Remove(cmd.Context(), naming.ClusterID(args[0])); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cluster %s removed\n", args[0])
			return nil
		},
	}
}

func newScaleCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "scale ID STAGE REPLICAS",
		Short: "change the replica count of a stage",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			replicas, err := strconv.ParseUint(args[2], 10, 64)
			if err != nil || replicas == 0 {
				return fmt.Errorf("replicas must be a positive number, got %q", args[2])
			}
			if err = e.client().Scale(cmd.Context(), naming.ClusterID(args[0]), args[1], replicas); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "scale of %s requested\n", naming.ServiceName(args[1], naming.ClusterID(args[0])))
			return nil
		},
	}
}

func newListCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "list clusters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			clusters, err := e.client().List(cmd.Context())
			if err != nil {
				return err
			}
			for _, c := range clusters {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", c.ID, c.State, c.Model)
			}
			return nil
		},
	}
}

func newStatusCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "status ID",
		Short: "show the services of a cluster",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := e.client().Status(cmd.Context(), naming.ClusterID(args[0]))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cluster %s %s\n", st.ID, st.State)
			for _, s := range st.Live {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d/%d\n", s.Name, s.Image, s.Running, s.Replicas)
			}
			return nil
		},
	}
}
