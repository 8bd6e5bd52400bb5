package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/input-output-hk/catalyst-forge-libs/upload/internal/config"
)

type rootOptions struct {
	configPath string
	envFile    string
	v          *viper.Viper
}

func (o *rootOptions) load() (*config.Config, error) {
	if err := config.LoadEnvFile(o.envFile); err != nil {
		return nil, err
	}
	return config.LoadWith(o.v, o.configPath)
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{v: config.New()}

	cmd := &cobra.Command{
		Use:           "uploadd",
		Short:         "Coordinate direct-to-store multipart uploads",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (yaml, json or toml)")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", "", "dotenv file to read before the environment (default .env if present)")
	cmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn or error")
	_ = opts.v.BindPFlag("log.level", cmd.PersistentFlags().Lookup("log-level"))

	cmd.AddCommand(newServeCmd(opts), newTokenCmd(opts))
	return cmd
}
