// Package cmd provides the CLI commands for the optimizer server.
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	verbose bool
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "spot-optimizer",
	Short: "Spot Optimizer - Fleet Switching Decision Server",
	Long: `Spot Optimizer scores spot pool pricing risk against historical
baselines, applies per-agent switching policies, and serves decisions,
override commands, and savings accounting to a fleet of agents.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Enable verbose logging output")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"Path to configuration file (default: config/default.yaml)")
}

// setupLogging configures structured JSON logging using slog.
func setupLogging() error {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
	return nil
}
