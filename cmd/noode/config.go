package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/omen4impact/noode/internal/audit"
	"github.com/omen4impact/noode/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Long: `Show the configuration the coordinator would run with, after merging
defaults, the user config, any project .noode.yaml, and NOODE_* environment
variables.`,
	RunE: runConfig,
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	heading := color.New(color.Bold).PrintfFunc()

	heading("scheduler\n")
	fmt.Printf("  retry_budget:       %d\n", cfg.Scheduler.RetryBudget)
	fmt.Printf("  retry_backoff:      %s\n", cfg.Scheduler.RetryBackoff)

	heading("registry\n")
	fmt.Printf("  heartbeat_interval: %s\n", cfg.Registry.HeartbeatInterval)
	fmt.Printf("  max_missed_beats:   %d\n", cfg.Registry.MaxMissedBeats)
	fmt.Printf("  compat_table:       %s\n", orNone(cfg.Registry.CompatTable))

	heading("review\n")
	fmt.Printf("  iteration_limit:    %d\n", cfg.Review.IterationLimit)
	for _, tier := range []string{"tier-0", "tier-1", "tier-2", "tier-3", "tier-4"} {
		if budget, ok := cfg.Review.TierBudgets[tier]; ok {
			fmt.Printf("  budget %s:       %s\n", tier, budget)
		}
	}

	heading("gate\n")
	fmt.Printf("  sensitive_domains:  %s\n", strings.Join(cfg.Gate.SensitiveDomains, ", "))
	fmt.Printf("  finding_window:     %s\n", cfg.Gate.FindingWindow)

	heading("lease\n")
	fmt.Printf("  deploy_ttl:         %s\n", cfg.Lease.DeployTTL)
	fmt.Printf("  sweep_interval:     %s\n", cfg.Lease.SweepInterval)

	heading("server\n")
	fmt.Printf("  addr:               %s\n", cfg.Server.Addr)

	heading("store\n")
	storePath := cfg.Store.Path
	if storePath == "" {
		storePath = audit.DefaultPath()
	}
	fmt.Printf("  path:               %s\n", storePath)

	fmt.Printf("\nuser config: %s\n", config.GetUserConfigPath())
	return nil
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
