package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/webhook-relay/internal/config"
	"github.com/telhawk-systems/webhook-relay/internal/logging"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "Webhook event relay",
	Long: `relay ingests signed webhooks, stores each unique event once, reshapes the
payload per client and delivers it to the client's HTTP endpoints and database
tables, retrying failures with exponential backoff.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml or /etc/webhook-relay/config.yaml)")
}

// loadConfig reads configuration and installs the process logger.
func loadConfig() (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With(logging.Service("webhook-relay"))
	logging.SetDefault(logger)

	if cfgFile != "" {
		logger.Info("Loaded configuration", "config_path", cfgFile)
	}
	return cfg, logger, nil
}
