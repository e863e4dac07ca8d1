package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/omen4impact/noode/internal/decompose"
	"github.com/omen4impact/noode/pkg/models"
)

var submitCmd = &cobra.Command{
	Use:   "submit <request.yaml>",
	Short: "Submit a work request",
	Long: `Submit a decomposed work request to the coordinator.

The request file declares the subtasks, their capability tags and
dependencies, and the metadata of the change the work will produce:

  id: add-rate-limiting
  priority: active-development
  subtasks:
    - name: limiter
      title: Implement the limiter
      capability: backend
    - name: tests
      title: Verify limits
      capability: testing
      depends_on: [limiter]
  metadata:
    domains: [backend]
    files_touched: 6
    modules_touched: 1`,
	Args: cobra.ExactArgs(1),
	RunE: runSubmit,
}

// requestFile is the on-disk shape of a work request.
type requestFile struct {
	ID          string                  `yaml:"id"`
	Description string                  `yaml:"description"`
	Priority    models.PriorityClass    `yaml:"priority"`
	Subtasks    []decompose.SubtaskSpec `yaml:"subtasks"`
	Metadata    struct {
		Domains        []models.Capability `yaml:"domains"`
		FilesTouched   int                 `yaml:"files_touched"`
		ModulesTouched int                 `yaml:"modules_touched"`
		FormattingOnly bool                `yaml:"formatting_only"`
		StagedRollout  bool                `yaml:"staged_rollout"`
	} `yaml:"metadata"`
}

func runSubmit(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read request file: %w", err)
	}

	var req requestFile
	if err := yaml.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("parse request file: %w", err)
	}

	payload := map[string]any{
		"id":          req.ID,
		"description": req.Description,
		"priority":    req.Priority,
		"subtasks":    req.Subtasks,
		"metadata": models.ChangeMetadata{
			Domains:        req.Metadata.Domains,
			FilesTouched:   req.Metadata.FilesTouched,
			ModulesTouched: req.Metadata.ModulesTouched,
			FormattingOnly: req.Metadata.FormattingOnly,
			StagedRollout:  req.Metadata.StagedRollout,
		},
	}

	var accepted struct {
		RequestID string        `json:"request_id"`
		Tasks     []models.Task `json:"tasks"`
	}
	if err := apiPost("/api/work-requests", payload, &accepted); err != nil {
		return err
	}

	fmt.Printf("%s request %s accepted with %d tasks\n",
		color.GreenString("✓"), accepted.RequestID, len(accepted.Tasks))
	for _, t := range accepted.Tasks {
		fmt.Printf("  %s  [%s] %s\n", t.ID, t.Capability, t.Title)
	}
	return nil
}
