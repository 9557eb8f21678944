package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/router-for-me/CLIProxyAPIRouter/internal/config"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// main runs the CLI entrypoint and exits on unrecoverable command errors.
func main() {
	config.LoadEnvFiles(".env")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if errRun := newRootCommand().ExecuteContext(ctx); errRun != nil {
		log.WithError(errRun).Error("command failed")
		stop()
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:           "router",
		Short:         "Multi-provider credential and model resolution service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file path (or env CONFIG_PATH)")

	load := func() (*config.Config, error) {
		cfg, errLoad := config.Load(config.ResolveConfigPath(cfgPath))
		if errLoad != nil {
			return nil, errLoad
		}
		config.ApplyLogLevel(cfg.LogLevel)
		return cfg, nil
	}

	root.AddCommand(newServeCommand(load))
	root.AddCommand(newMigrateCommand(load))
	root.AddCommand(newResolveCommand(load))
	root.AddCommand(newUsageCommand(load))
	root.AddCommand(newModelsCommand(load))
	root.AddCommand(newTokenCommand(load))
	return root
}
