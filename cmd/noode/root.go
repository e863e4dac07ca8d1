package main

import (
	"os"

	"github.com/spf13/cobra"
)

// serverAddr is the coordinator API base URL used by client commands.
var serverAddr string

var rootCmd = &cobra.Command{
	Use:   "noode",
	Short: "Multi-agent coordination core",
	Long: `Noode coordinates a pool of specialist workers on decomposed work
requests, assembles their output into changes, and drives each change
through tiered review to a recorded consensus decision.

Run 'noode serve' to start the coordinator, then submit work and watch
it move through review:

  noode submit request.yaml
  noode status <request-id>
  noode audit <lineage-id>`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "http://localhost:8642", "Coordinator API address")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(workersCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
