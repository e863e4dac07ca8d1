package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/omen4impact/noode/pkg/models"
)

var workersCmd = &cobra.Command{
	Use:   "workers",
	Short: "List enrolled workers",
	RunE:  runWorkers,
}

func runWorkers(cmd *cobra.Command, args []string) error {
	var pool struct {
		Workers []models.Worker `json:"workers"`
	}
	if err := apiGet("/api/workers", &pool); err != nil {
		return err
	}

	if len(pool.Workers) == 0 {
		fmt.Println("no workers enrolled")
		return nil
	}

	for _, w := range pool.Workers {
		line := fmt.Sprintf("%s %s  %v", workerGlyph(w.Status), w.ID, w.Capabilities)
		if w.TaskID != "" {
			line += fmt.Sprintf("  task %s", w.TaskID)
		}
		if w.MissedBeats > 0 {
			line += color.YellowString("  (%d missed beats)", w.MissedBeats)
		}
		fmt.Println(line)
	}
	return nil
}

func workerGlyph(s models.WorkerStatus) string {
	switch s {
	case models.WorkerStatusIdle:
		return color.GreenString("●")
	case models.WorkerStatusBusy:
		return color.CyanString("●")
	default:
		return color.RedString("●")
	}
}
