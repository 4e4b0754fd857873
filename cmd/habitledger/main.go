package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"habitledger/internal/config"
	pkgconfig "habitledger/pkg/config"
)

var Version = "dev"

var (
	configDir string
	configEnv string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "habitledger",
		Short:         "Habit recurrence, completion ledger and backlog reconciliation",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", pkgconfig.GetEnv("CONFIG_DIR", "config"), "directory holding base.yaml and <env>.yaml")
	rootCmd.PersistentFlags().StringVar(&configEnv, "env", pkgconfig.GetConfigEnv(), "config environment (local, production, ...)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(arrearsCmd())
	rootCmd.AddCommand(outboxCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configEnv, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}
