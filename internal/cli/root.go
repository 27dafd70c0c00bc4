// Package cli implements the Lemonade command-line interface using Cobra.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "lemonade",
	Short: "Lemonade — run on-device LLM inference backends",
	Long: `Lemonade is a local-host router and lifecycle manager for on-device
LLM inference backends. It downloads models, spawns the right subprocess
for each recipe, and exposes an OpenAI-compatible API on localhost.`,
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
