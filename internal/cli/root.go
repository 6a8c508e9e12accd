// Package cli implements the TuTu command-line interface using Cobra:
// serve starts the daemon, submit/models/stats talk to a running daemon's
// HTTP API.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "tutu",
	Short: "TuTu — on-device inference orchestrator",
	Long: `TuTu schedules, batches, and thermally governs local LLM inference
across a tiered set of resident models, with a persistent prompt cache.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
