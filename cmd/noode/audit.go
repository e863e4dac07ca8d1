package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/omen4impact/noode/internal/orchestrator"
	"github.com/omen4impact/noode/pkg/models"
)

var auditJSON bool

var auditCmd = &cobra.Command{
	Use:   "audit <lineage-id>",
	Short: "Show the decision history of a change lineage",
	Long: `Reconstruct the full review history of a change lineage from the
audit store: every iteration, every reviewer verdict, and every resolved
decision, in order.`,
	Args: cobra.ExactArgs(1),
	RunE: runAudit,
}

func init() {
	auditCmd.Flags().BoolVar(&auditJSON, "json", false, "Emit the raw history as JSON")
}

func runAudit(cmd *cobra.Command, args []string) error {
	var history orchestrator.LineageAudit
	if err := apiGet("/api/audit/"+args[0], &history); err != nil {
		return err
	}

	if auditJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(history)
	}

	decisions := make(map[string]models.ConsensusDecision, len(history.Decisions))
	for _, d := range history.Decisions {
		decisions[d.ChangeID] = d
	}

	for _, change := range history.Changes {
		fmt.Printf("%s iteration %d  %s  %s\n",
			change.ID, change.Iteration, change.Tier, stateGlyph(change.State))
		for _, res := range history.Results[change.ID] {
			line := fmt.Sprintf("    %-14s %s", res.Reviewer, verdictGlyph(res.Verdict))
			if res.Condition != "" {
				line += fmt.Sprintf("  condition: %s", res.Condition)
			} else if res.Justification != "" {
				line += "  " + res.Justification
			}
			fmt.Println(line)
		}
		if d, ok := decisions[change.ID]; ok {
			fmt.Printf("    decision: %s (%s)\n", d.Outcome, d.Reason)
		}
	}
	return nil
}

func stateGlyph(s models.ChangeState) string {
	switch s {
	case models.ChangeStateApproved:
		return color.GreenString(string(s))
	case models.ChangeStateRejected, models.ChangeStateEscalated:
		return color.RedString(string(s))
	case models.ChangeStateConditional:
		return color.YellowString(string(s))
	default:
		return string(s)
	}
}

func verdictGlyph(v models.Verdict) string {
	switch v {
	case models.VerdictApprove:
		return color.GreenString(string(v))
	case models.VerdictReject:
		return color.RedString(string(v))
	default:
		return color.YellowString(string(v))
	}
}
