package cli

import (
	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// env is shared by the commands of one root: the merged configuration and
// the logger built from it.
type env struct {
	v       *viper.Viper
	cfgFile string
	cfg     Config
	log     logr.Logger
}

func RegisterCommands(root *cobra.Command) {
	e := &env{v: viper.New(), log: logr.Discard()}

	flags := root.PersistentFlags()
	flags.StringVar(&e.cfgFile, "config", "", "config file (default ./pga.yaml or /etc/pga/pga.yaml)")
	flags.String("log-level", "info", "log level: trace, debug, info, warn, error")
	flags.String("log-format", "auto", "log format: auto, console, json")
	flags.String("manager", "http://localhost:5000", "manager gateway address")
	bind(e.v, flags.Lookup("log-level"), "log.level")
	bind(e.v, flags.Lookup("log-format"), "log.format")
	bind(e.v, flags.Lookup("manager"), "api.url")

	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		return e.load(cmd)
	}
	root.SilenceUsage = true

	root.AddCommand(newServeCmd(e))
	//
	root.AddCommand(newDeployCmd(e))
	root.AddCommand(newStartCmd(e), newStopCmd(e), newRemoveCmd(e), newScaleCmd(e))
	root.AddCommand(newListCmd(e), newStatusCmd(e))
}

func (e *env) load(cmd *cobra.Command) error {
	cfg, err := loadConfig(e.v, e.cfgFile)
	if err != nil {
		return err
	}
	l, err := newLogger(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	e.cfg, e.log = cfg, l
	return nil
}

func bind(v *viper.Viper, f *pflag.Flag, key string) {
	_ = v.BindPFlag(key, f)
}
