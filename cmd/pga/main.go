package main

import (
	"context"
	"github.com/pgacloud/manager/cli"
	"github.com/spf13/cobra"
	"os"
	"os/signal"
	"syscall"
)

// override by ldflags
var version = "dev"

func main() {
	root := &cobra.Command{
		Use:     "pga",
		Short:   "PGA cluster manager",
		Long:    `Deploys parallel genetic algorithm clusters on Docker Swarm and drives their runs.`,
		Version: version,
	}
	cli.RegisterCommands(root)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
