package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/input-output-hk/catalyst-forge-libs/upload/client"
	"github.com/input-output-hk/catalyst-forge-libs/upload/internal/bootstrap"
	"github.com/input-output-hk/catalyst-forge-libs/upload/internal/config"
)

type rootOptions struct {
	configPath string
	envFile    string
	v          *viper.Viper
}

func (o *rootOptions) load() (*config.Config, *slog.Logger, error) {
	if err := config.LoadEnvFile(o.envFile); err != nil {
		return nil, nil, err
	}
	cfg, err := config.LoadWith(o.v, o.configPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := bootstrap.Logger(cfg.Log, os.Stderr)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func (o *rootOptions) coordinator() (*config.Config, *slog.Logger, *client.HTTPCoordinator, error) {
	cfg, logger, err := o.load()
	if err != nil {
		return nil, nil, nil, err
	}
	coord, err := client.NewHTTPCoordinator(cfg.Client.CoordinatorURL, cfg.Client.Token)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, logger, coord, nil
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{v: config.New()}

	cmd := &cobra.Command{
		Use:           "uploadctl",
		Short:         "Upload files and maintain the upload bucket",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "config file (yaml, json or toml)")
	flags.StringVar(&opts.envFile, "env-file", "", "dotenv file to read before the environment (default .env if present)")
	flags.String("server", "", "coordinator base URL")
	flags.String("token", "", "bearer token")
	flags.String("log-level", "", "log level: debug, info, warn or error")
	_ = opts.v.BindPFlag("client.coordinator_url", flags.Lookup("server"))
	_ = opts.v.BindPFlag("client.token", flags.Lookup("token"))
	_ = opts.v.BindPFlag("log.level", flags.Lookup("log-level"))

	cmd.AddCommand(
		newPutCmd(opts),
		newStatusCmd(opts),
		newAbortCmd(opts),
		newReclaimCmd(opts),
	)
	return cmd
}
