package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"bindery/internal/config"
	"bindery/internal/pipeline"
	"bindery/internal/review"
	"bindery/internal/runs"
)

func resolveRunID(cfg *config.Config, runFlag, bookID string) (string, error) {
	if strings.TrimSpace(runFlag) != "" {
		return strings.TrimSpace(runFlag), nil
	}
	runID, err := runs.LatestRunID(cfg.Paths.RunsRoot, bookID)
	if err != nil {
		return "", fmt.Errorf("resolve run: %w (pass --run or start with 'bindery scan')", err)
	}
	return runID, nil
}

func newScanCommand(ctx *commandContext) *cobra.Command {
	var runFlag string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "scan <book-id>",
		Short: "Build the source manifest and scan signals for a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.newLogger(cfg)
			if err != nil {
				return err
			}
			bookID := args[0]
			runID := strings.TrimSpace(runFlag)
			if runID == "" {
				runID = runs.NewRunID(time.Now())
			}

			result, err := ctx.newPipeline(cfg, logger).Scan(cmd.Context(), runID, bookID)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, result)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Scanned %s (run %s)\n", bookID, runID)
			fmt.Fprintln(out, renderTable(
				[]string{"files", "page markers", "repeated headers", "toc hints"},
				[][]string{{
					strconv.Itoa(result.Manifest.FileCount),
					strconv.Itoa(len(result.Signals.PageMarkers)),
					strconv.Itoa(len(result.Signals.RepeatedHeaders)),
					strconv.Itoa(len(result.Signals.EmbeddedTOCHints)),
				}},
				[]columnAlignment{alignRight, alignRight, alignRight, alignRight},
			))
			return nil
		},
	}

	cmd.Flags().StringVar(&runFlag, "run", "", "Run id (default: a fresh timestamp id)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON instead of a table")
	return cmd
}

func newProposeCommand(ctx *commandContext) *cobra.Command {
	var runFlag string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "propose <book-id>",
		Short: "Score heading candidates and write the proposed chunk plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.newLogger(cfg)
			if err != nil {
				return err
			}
			bookID := args[0]
			runID, err := resolveRunID(cfg, runFlag, bookID)
			if err != nil {
				return err
			}

			metrics, err := ctx.newPipeline(cfg, logger).Propose(cmd.Context(), runID, bookID)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, metrics)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Proposed headings for %s (run %s); review is required before apply\n", bookID, runID)
			fmt.Fprintln(out, renderTable(
				[]string{"candidates", "proposed", "ambiguous", "verified", "cache hits", "blocked"},
				[][]string{{
					strconv.Itoa(metrics.Candidates),
					strconv.Itoa(metrics.ProposedHeadings),
					strconv.Itoa(metrics.Ambiguous),
					strconv.Itoa(metrics.Verified),
					strconv.Itoa(metrics.VerifierCacheHits),
					strconv.Itoa(metrics.MustNotBlocked),
				}},
				[]columnAlignment{alignRight, alignRight, alignRight, alignRight, alignRight, alignRight},
			))
			return nil
		},
	}

	cmd.Flags().StringVar(&runFlag, "run", "", "Run id (default: latest run for the book)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON instead of a table")
	return cmd
}

func newApproveCommand(ctx *commandContext) *cobra.Command {
	var runFlag string
	var decisionsPath string
	var bulkAction string
	var reviewer string
	var reason string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "approve <book-id>",
		Short: "Resolve reviewer decisions and gate the chunk plan",
		Long: `Resolve reviewer decisions against the proposed heading injections.
Every proposed item needs a decision; undecided items block the run. Decisions
come from a JSONL file (--decisions) or a bulk action applied to every item
(--bulk approve|reject).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.newLogger(cfg)
			if err != nil {
				return err
			}
			bookID := args[0]
			runID, err := resolveRunID(cfg, runFlag, bookID)
			if err != nil {
				return err
			}

			opts := pipeline.ApproveOptions{
				DecisionsPath: decisionsPath,
				Reviewer:      reviewer,
				Reason:        reason,
			}
			if bulk := strings.TrimSpace(bulkAction); bulk != "" {
				opts.BulkAction = review.Action(bulk)
				if !opts.BulkAction.Valid() || opts.BulkAction == review.ActionEdit {
					return fmt.Errorf("--bulk must be %q or %q", review.ActionApprove, review.ActionReject)
				}
			}

			result, err := ctx.newPipeline(cfg, logger).Approve(cmd.Context(), runID, bookID, opts)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, result)
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			summary := result.Summary
			fmt.Fprintln(out, renderStatusLine("resolved", statusInfo,
				fmt.Sprintf("%d approved, %d edited, %d rejected", summary.Approved, summary.Edited, summary.Rejected), colorize))
			if !summary.Passed() {
				fmt.Fprintln(out, renderStatusLine("review", statusError,
					fmt.Sprintf("%d undecided items block the run", summary.Blocked), colorize))
				for _, itemID := range summary.BlockedItems {
					fmt.Fprintf(out, "%s- %s\n", statusIndent, itemID)
				}
				return fmt.Errorf("review blocked: %d items undecided", summary.Blocked)
			}

			qaKind := statusOK
			if !result.Evaluation.Passed() {
				qaKind = statusWarn
			}
			fmt.Fprintln(out, renderStatusLine("guardrails", qaKind, result.Evaluation.Status(), colorize))
			for _, violation := range result.Evaluation.Violations {
				fmt.Fprintf(out, "%s- %s\n", statusIndent, violation)
			}
			fmt.Fprintln(out, renderStatusLine("approved", statusOK,
				fmt.Sprintf("%d injections; plan ready for apply", result.Approved), colorize))
			return nil
		},
	}

	cmd.Flags().StringVar(&runFlag, "run", "", "Run id (default: latest run for the book)")
	cmd.Flags().StringVar(&decisionsPath, "decisions", "", "Reviewer decisions JSONL file")
	cmd.Flags().StringVar(&bulkAction, "bulk", "", "Apply one action to every proposed item (approve|reject)")
	cmd.Flags().StringVar(&reviewer, "reviewer", "", "Reviewer name recorded on bulk decisions")
	cmd.Flags().StringVar(&reason, "reason", "", "Reason recorded on bulk decisions")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON instead of status lines")
	return cmd
}

func newApplyCommand(ctx *commandContext) *cobra.Command {
	var runFlag string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "apply <book-id>",
		Short: "Materialize an approved plan into the corpus and registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.newLogger(cfg)
			if err != nil {
				return err
			}
			bookID := args[0]
			runID, err := resolveRunID(cfg, runFlag, bookID)
			if err != nil {
				return err
			}

			store, err := ctx.openStore(cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			summary, err := ctx.newPipeline(cfg, logger).Apply(cmd.Context(), runID, bookID, store)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, summary)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Applied %s (run %s) -> %s\n", bookID, runID, summary.CanonicalDir)
			fmt.Fprintln(out, renderTable(
				[]string{"chunks", "assigned", "review", "projections"},
				[][]string{{
					strconv.Itoa(summary.Chunks),
					strconv.Itoa(summary.PlacedAssigned),
					strconv.Itoa(summary.PlacedReview),
					strconv.Itoa(summary.Projections),
				}},
				[]columnAlignment{alignRight, alignRight, alignRight, alignRight},
			))
			return nil
		},
	}

	cmd.Flags().StringVar(&runFlag, "run", "", "Run id (default: latest run for the book)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON instead of a table")
	return cmd
}

func newArchiveCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive <book-id>",
		Short: "Move a book's run outputs into runs/_ARCHIVE before a re-run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			bookID := args[0]
			if err := runs.ArchiveBookOutputs(cfg.Paths.RunsRoot, bookID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Archived run outputs for %s\n", bookID)
			return nil
		},
	}
	return cmd
}
