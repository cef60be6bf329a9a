// Package cmd holds the CLI entrypoints.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   "throttle",
		Short: "Per-IP request throttling service",
		Long: `throttle fronts HTTP surfaces with fixed-window request limits.

Counters live in Redis so every instance sees the same numbers; when Redis
is unreachable the service falls back to per-process counters and keeps
serving. Repeat offenders are held to progressively smaller limits until
their violations age out.`,
	}
)

// Execute runs the root command. Errors are printed by cobra; the caller
// only needs the exit code.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to YAML config file (falls back to $CONFIG_FILE)")
}

func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return os.Getenv("CONFIG_FILE")
}
