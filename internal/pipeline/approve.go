package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"bindery/internal/chunkplan"
	"bindery/internal/ingest"
	"bindery/internal/logging"
	"bindery/internal/qa"
	"bindery/internal/review"
	"bindery/internal/runs"
)

// ApproveOptions selects where reviewer decisions come from.
type ApproveOptions struct {
	// DecisionsPath points at a decisions JSONL file. Empty means the
	// review.decisions.jsonl artifact inside the run.
	DecisionsPath string
	// BulkAction, when set, generates one decision per proposed item instead
	// of reading a decisions file. Only approve and reject are allowed.
	BulkAction review.Action
	Reviewer   string
	Reason     string
}

// ApproveResult reports the gate outcome and the guardrail evaluation.
type ApproveResult struct {
	Summary    review.Summary `json:"summary"`
	Evaluation qa.Evaluation  `json:"evaluation"`
	Approved   int            `json:"approved_injections"`
}

// Approve resolves reviewer decisions against the proposed injections. Any
// undecided item blocks the run; a passing resolution rebuilds the chunk
// plan from the surviving injections and runs the QA guardrails.
func (p *Pipeline) Approve(ctx context.Context, runID, bookID string, opts ApproveOptions) (*ApproveResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir := p.runDir(runID, bookID)

	proposals, err := readJSONLArtifact[ProposedInjection](dir.ArtifactPath(artifactProposedInjection))
	if err != nil {
		return nil, fmt.Errorf("approve %s: proposal artifacts missing: %w", bookID, err)
	}
	accepted := acceptedProposals(proposals)
	itemIDs := make([]string, 0, len(accepted))
	for _, proposal := range accepted {
		itemIDs = append(itemIDs, proposal.ItemID)
	}

	decisions, err := p.resolveDecisions(dir.ArtifactPath(artifactDecisions), itemIDs, opts)
	if err != nil {
		return nil, fmt.Errorf("approve %s: %w", bookID, err)
	}

	summary, err := review.Resolve(itemIDs, decisions)
	if err != nil {
		return nil, fmt.Errorf("approve %s: %w", bookID, err)
	}
	summaryMD := review.RenderSummaryMarkdown("heading_injections", summary)
	if err := writeFileAtomic(dir.ArtifactPath(artifactReviewSummary), []byte(summaryMD)); err != nil {
		return nil, err
	}

	if !summary.Passed() {
		if err := dir.WriteState(runs.StateReviewBlocked, ""); err != nil {
			return nil, err
		}
		p.logger.Warn("review blocked",
			logging.String("book_id", bookID),
			logging.String("run_id", runID),
			logging.Int("blocked", summary.Blocked))
		return &ApproveResult{Summary: summary}, nil
	}

	approved := make([]ProposedInjection, 0, len(accepted))
	for _, proposal := range accepted {
		outcome, decided := review.Outcome(proposal.ItemID, decisions)
		if !decided {
			continue
		}
		switch outcome.Decision {
		case review.ActionReject:
			continue
		case review.ActionEdit:
			// The reviewer's text is authoritative over any verifier title.
			proposal.Text = outcome.EditedValue
			proposal.Verifier = nil
		case review.ActionApprove:
		}
		approved = append(approved, proposal)
	}
	if err := writeJSONLArtifact(dir.ArtifactPath(artifactApprovedInjection), approved); err != nil {
		return nil, err
	}

	sourceDir := filepath.Join(p.cfg.Paths.FixturesRoot, bookID)
	files, err := ingest.SortedSourceFiles(sourceDir)
	if err != nil {
		return nil, fmt.Errorf("approve %s: %w", bookID, err)
	}
	lines, _, err := deriveMarkdownLines(files, approved)
	if err != nil {
		return nil, fmt.Errorf("approve %s: %w", bookID, err)
	}
	plan := chunkplan.BuildPlan(bookID, lines, time.Now())
	plan.Status = chunkplan.StatusApproved
	if err := writeJSONArtifact(dir.ArtifactPath(artifactApprovedPlanJSON), plan); err != nil {
		return nil, err
	}

	evaluation, err := p.evaluateGuardrails(approved, len(accepted), len(plan.Boundaries))
	if err != nil {
		return nil, fmt.Errorf("approve %s: %w", bookID, err)
	}
	if err := p.writeQAReport(dir, runID, bookID, evaluation, nil); err != nil {
		return nil, err
	}

	result := &ApproveResult{Summary: summary, Evaluation: evaluation, Approved: len(approved)}
	if evaluation.Fatal() {
		_ = dir.WriteState(runs.StateFailed, "qa guardrails failed")
		return result, fmt.Errorf("approve %s: qa guardrails failed: %v", bookID, evaluation.Violations)
	}
	if err := dir.WriteState(runs.StateApproved, ""); err != nil {
		return nil, err
	}

	p.logger.Info("approve complete",
		logging.String("book_id", bookID),
		logging.String("run_id", runID),
		logging.Int("approved", len(approved)),
		logging.Int("rejected", summary.Rejected),
		logging.String("qa_status", evaluation.Status()))
	return result, nil
}

func (p *Pipeline) resolveDecisions(artifactPath string, itemIDs []string, opts ApproveOptions) ([]review.DecisionRecord, error) {
	if opts.BulkAction != "" {
		decisions, err := review.BulkDecisions("heading_injections", itemIDs, opts.BulkAction, opts.Reviewer, opts.Reason)
		if err != nil {
			return nil, err
		}
		file, err := os.Create(artifactPath)
		if err != nil {
			return nil, fmt.Errorf("write decisions artifact: %w", err)
		}
		defer file.Close()
		if err := review.WriteDecisions(file, decisions); err != nil {
			return nil, err
		}
		return decisions, nil
	}

	path := opts.DecisionsPath
	if path == "" {
		path = artifactPath
	}
	return review.ReadDecisionsFile(path)
}

// evaluateGuardrails runs QA over the approved set. Every surviving
// injection carries an explicit approval, which is what the must-not check
// honors.
func (p *Pipeline) evaluateGuardrails(approved []ProposedInjection, missesBefore, boundaries int) (qa.Evaluation, error) {
	denyList, err := qa.LoadDenyList(p.cfg.Scoring.MustNotPath)
	if err != nil {
		return qa.Evaluation{}, err
	}
	train, err := qa.LoadGoldSplit(p.cfg.QA.TrainSplitPath)
	if err != nil {
		return qa.Evaluation{}, err
	}
	holdout, err := qa.LoadGoldSplit(p.cfg.QA.HoldoutSplitPath)
	if err != nil {
		return qa.Evaluation{}, err
	}

	predicted := make([]qa.PredictedHeading, 0, len(approved))
	for _, proposal := range approved {
		predicted = append(predicted, qa.PredictedHeading{
			ItemID:   proposal.ItemID,
			Text:     proposal.Title(),
			Approved: true,
		})
	}

	anchor := qa.ComputeAnchorMetrics(missesBefore, anchorMissAfter(len(approved), boundaries))
	return qa.Evaluate(p.cfg.QA, anchor, predicted, denyList, train, holdout), nil
}

func (p *Pipeline) writeQAReport(dir runs.Dir, runID, bookID string, evaluation qa.Evaluation, trace []qa.TraceRow) error {
	report := qa.NewReport(runID, bookID, evaluation, trace)
	data, err := report.JSON()
	if err != nil {
		return err
	}
	if err := writeFileAtomic(dir.ArtifactPath(artifactQAReportJSON), append(data, '\n')); err != nil {
		return err
	}
	return writeFileAtomic(dir.ArtifactPath(artifactQAReportMD), []byte(report.RenderMarkdown()))
}
