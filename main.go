package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/giygas/drug-registry/config"
	"github.com/giygas/drug-registry/logging"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "drug-registry",
	Short: "Drug identity resolution and ingestion arbitration service",
	Long: "drug-registry resolves free-text drug names to canonical records, arbitrates\n" +
		"conflicting submissions through a staging workflow and answers drug/disease\n" +
		"role questions from a voted knowledge base.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logging.InitLogger(cfg)
		appConfig = cfg
		return nil
	},
}

// appConfig is set by the root pre-run hook before any subcommand runs.
var appConfig *config.Config

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(reindexCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.Version = version
}

// loadConfig reads .env when present, then the environment.
func loadConfig() (*config.Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
