// Salon Payments Service
//
// This is the main entry point for the Mercado Pago integration of the salon
// booking app. It serves the HTTP API and hosts the operator commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/turnosalon/salon-payments/config"
	"github.com/turnosalon/salon-payments/internal/handlers"
	"github.com/turnosalon/salon-payments/internal/logger"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:           "salon-payments",
		Short:         "Mercado Pago payments and webhook reconciliation for salon bookings",
		Version:       handlers.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "optional yaml config file")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(webhooksCmd())
	rootCmd.AddCommand(appointmentsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig loads and validates configuration and builds the logger.
func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("configuration error: %w", err)
	}

	log, err := logger.New(cfg.Environment)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build logger: %w", err)
	}
	for _, w := range cfg.Warnings() {
		log.Warn(w)
	}
	return cfg, log, nil
}
