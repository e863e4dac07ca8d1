package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/omen4impact/noode/pkg/models"
)

var statusCmd = &cobra.Command{
	Use:   "status <request-id>",
	Short: "Show the tasks of a work request",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	var status struct {
		RequestID string        `json:"request_id"`
		Tasks     []models.Task `json:"tasks"`
	}
	if err := apiGet("/api/work-requests/"+args[0], &status); err != nil {
		return err
	}

	fmt.Printf("request %s\n", status.RequestID)
	for _, t := range status.Tasks {
		line := fmt.Sprintf("  %s %s  [%s] %s", statusGlyph(t.Status), t.ID, t.Capability, t.Title)
		if t.AssignedTo != "" {
			line += fmt.Sprintf(" (worker %s)", t.AssignedTo)
		}
		if t.Error != "" {
			line += fmt.Sprintf(": %s", color.RedString(t.Error))
		}
		fmt.Println(line)
		if t.ChangeID != "" {
			fmt.Printf("      change: %s\n", t.ChangeID)
		}
	}
	return nil
}

func statusGlyph(s models.TaskStatus) string {
	switch s {
	case models.TaskStatusDone:
		return color.GreenString("✓")
	case models.TaskStatusInProgress:
		return color.CyanString("▸")
	case models.TaskStatusFailed:
		return color.RedString("✗")
	case models.TaskStatusAbandoned:
		return color.YellowString("⊘")
	default:
		return color.WhiteString("·")
	}
}
