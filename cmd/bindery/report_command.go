package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"bindery/internal/pipeline"
	"bindery/internal/runs"
)

func newReportCommand(ctx *commandContext) *cobra.Command {
	var runFlag string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "report <book-id>",
		Short: "Show the QA report for a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			bookID := args[0]
			runID, err := resolveRunID(cfg, runFlag, bookID)
			if err != nil {
				return err
			}

			dir := runs.NewDir(cfg.Paths.RunsRoot, runID, bookID)
			report, err := pipeline.LoadQAReport(dir)
			if err != nil {
				return fmt.Errorf("no QA report for %s run %s (run 'bindery approve' first): %w", bookID, runID, err)
			}
			if jsonOut {
				return writeJSON(cmd, report)
			}
			fmt.Fprint(cmd.OutOrStdout(), report.RenderMarkdown())
			return nil
		},
	}

	cmd.Flags().StringVar(&runFlag, "run", "", "Run id (default: latest run for the book)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON instead of markdown")
	return cmd
}
