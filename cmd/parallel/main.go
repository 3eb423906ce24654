// pi-parallel — a multi-agent task dispatcher exposed as an MCP tool.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "parallel",
	Short: "pi-parallel — dispatch single, chain, race, parallel, and team agent runs.",
	Long: `pi-parallel coordinates single agent runs, sequential chains, multi-model
races, bounded-concurrency batches, and dependency-graph team runs behind a
single MCP tool.`,
	RunE:          runServe, // Default to serve mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
