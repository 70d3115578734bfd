package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rendis/flowrun/internal/config"
)

type rootFlags struct {
	configFile string
	v          *viper.Viper
}

func newRootCmd() *cobra.Command {
	rf := &rootFlags{v: config.New()}

	cmd := &cobra.Command{
		Use:           "flowrun",
		Short:         "Run linear tool workflows",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := cmd.PersistentFlags()
	pf.StringVar(&rf.configFile, "config", "", "config file (YAML or JSON)")
	pf.String("log-level", "", "log level: debug, info, warn, error")
	pf.String("log-format", "", "log format: text or json")
	pf.String("db", "", "libSQL database path")
	_ = rf.v.BindPFlag("log.level", pf.Lookup("log-level"))
	_ = rf.v.BindPFlag("log.format", pf.Lookup("log-format"))
	_ = rf.v.BindPFlag("db.path", pf.Lookup("db"))

	cmd.AddCommand(
		newRunCmd(rf),
		newValidateCmd(rf),
		newToolsCmd(rf),
		newDiagramCmd(rf),
		newServeCmd(rf),
		newMCPCmd(rf),
	)
	return cmd
}

func (rf *rootFlags) load() (*config.Config, error) {
	return config.Load(rf.v, rf.configFile)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
