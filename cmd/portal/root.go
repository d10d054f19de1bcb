package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/pysugar/app-portal/internal/config"
	"github.com/pysugar/app-portal/internal/logging"
	"github.com/pysugar/app-portal/internal/version"
)

var (
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "portal",
	Short: "Account portal for the TTS and Lexicon applications",
	Long: `portal serves the account portal: email/password and Microsoft sign-in,
API key management, and the embedded TTS and Lexicon editors.

Running portal without a subcommand starts the server.`,
	SilenceUsage: true,
	RunE:         runServe,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	rootCmd.Version = version.Version
	rootCmd.SetVersionTemplate(`{{printf "portal version %s\n" .Version}}`)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $PORTAL_CONFIG or config/portal.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	addServeFlags(rootCmd)

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newAccountsCmd())
	rootCmd.AddCommand(newVersionCmd())
}

// loadConfig reads the config and applies the persistent flags on top.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return cfg, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	logging.Init(cfg.Log.Level, cfg.Log.Format, nil)
	return cfg, nil
}
