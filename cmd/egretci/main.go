package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/USGS-R/EGRETci/internal/config"
	"github.com/USGS-R/EGRETci/internal/log"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "egretci",
		Short: "Prediction intervals for daily concentration and flux estimates",
	}

	rootCmd.AddCommand(
		newRunCmd(),
		newServeCmd(),
		newMigrateCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads .env and the environment, then initializes logging
func loadConfig() (*config.Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := log.Init(cfg.LogLevel); err != nil {
		return nil, err
	}
	return cfg, nil
}
