// Package app provides the entry point for the credcache command-line application.
package app

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/icanbwell/credcache/pkg/logger"
)

// Output format names accepted by the --format flags.
const (
	// FormatJSON prints machine-readable JSON.
	FormatJSON = "json"
	// FormatText prints a human-readable table.
	FormatText = "text"
)

var rootCmd = &cobra.Command{
	Use:               "credcache",
	DisableAutoGenTag: true,
	Short:             "credcache manages cached model configurations and OAuth credentials",
	Long: `credcache is the operator tool for the credential and configuration cache.

It inspects and maintains the durable token store (list, delete, purge
expired records) and the model configuration sources (show the resolved
list). The cache itself is a library consumed by the request-handling
layer; this tool never mints or prints token values.`,
	Run: func(cmd *cobra.Command, _ []string) {
		// If no subcommand is provided, print help
		if err := cmd.Help(); err != nil {
			logger.Errorf("Error displaying help: %v", err)
		}
	},
}

// NewRootCmd creates a new root command for the credcache CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Errorf("Error binding debug flag: %v", err)
	}

	rootCmd.AddCommand(newTokensCommand())
	rootCmd.AddCommand(newConfigCommand())

	return rootCmd
}
