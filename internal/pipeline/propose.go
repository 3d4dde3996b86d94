package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"bindery/internal/chunkplan"
	"bindery/internal/headings"
	"bindery/internal/ingest"
	"bindery/internal/logging"
	"bindery/internal/qa"
	"bindery/internal/runs"
	"bindery/internal/scan"
	"bindery/internal/textutil"
)

// Propose extracts and scores heading candidates, routes the ambiguous
// subset through the advisory verifier, and writes the proposed injections
// and chunk plan. The run ends in PROPOSED_REVIEW_REQUIRED: nothing is
// applied without review.
func (p *Pipeline) Propose(ctx context.Context, runID, bookID string) (*ProposalMetrics, error) {
	dir := p.runDir(runID, bookID)

	var signals scan.Signals
	if err := readJSONArtifact(dir.ArtifactPath(artifactScanSignals), &signals); err != nil {
		return nil, fmt.Errorf("propose %s: scan artifacts missing: %w", bookID, err)
	}

	sourceDir := filepath.Join(p.cfg.Paths.FixturesRoot, bookID)
	files, err := ingest.SortedSourceFiles(sourceDir)
	if err != nil {
		_ = dir.WriteState(runs.StateFailed, err.Error())
		return nil, fmt.Errorf("propose %s: %w", bookID, err)
	}

	opts := headings.OptionsFromConfig(p.cfg.Scoring)
	var candidates []headings.Candidate
	for _, file := range files {
		extracted, err := opts.ExtractCandidates(file)
		if err != nil {
			_ = dir.WriteState(runs.StateFailed, err.Error())
			return nil, fmt.Errorf("propose %s: %w", bookID, err)
		}
		candidates = append(candidates, extracted...)
	}
	if err := writeJSONLArtifact(dir.ArtifactPath(artifactCandidates), candidates); err != nil {
		return nil, err
	}

	denyList, err := qa.LoadDenyList(p.cfg.Scoring.MustNotPath)
	if err != nil {
		return nil, fmt.Errorf("propose %s: %w", bookID, err)
	}
	denied := make(map[string]struct{}, len(denyList))
	for _, entry := range denyList {
		denied[textutil.NormalizeText(entry)] = struct{}{}
	}

	metrics := ProposalMetrics{Candidates: len(candidates)}
	proposals := make([]ProposedInjection, 0, len(candidates))
	for _, candidate := range candidates {
		scored := opts.Score(candidate, &signals)
		proposal := ProposedInjection{
			ItemID:         candidate.CandidateID,
			File:           candidate.File,
			LineNo:         candidate.LineNo,
			Text:           candidate.Text,
			Signature:      candidate.Signature,
			Scored:         scored,
			ReviewRequired: true,
		}
		if hint := topicHint(candidate.Text, p.cfg.Scoring.ExerciseCues); hint != "" {
			proposal.TopicHint = hint
		}

		// Deny-list hits block outright, whatever the deterministic verdict;
		// a blocked row must never reach the verifier.
		if _, hit := denied[textutil.NormalizeText(candidate.Text)]; hit {
			proposal.Blocked = true
			proposal.BlockedReason = "must_not_heading"
			metrics.MustNotBlocked++
			proposals = append(proposals, proposal)
			continue
		}

		if p.verifier != nil && p.cfg.Verifier.Enabled && opts.IsAmbiguous(scored.Score) {
			metrics.Ambiguous++
			result, err := p.verifier.Verify(ctx, candidate)
			if err != nil {
				proposal.Error = err.Error()
				metrics.VerifierErrors++
				p.logger.Warn("verification failed",
					logging.String("candidate_id", candidate.CandidateID),
					logging.Error(err))
			} else {
				proposal.Verifier = &result
				metrics.Verified++
				if result.FromCache {
					metrics.VerifierCacheHits++
				}
			}
		}

		if proposal.Accepted() {
			metrics.ProposedHeadings++
		}
		proposals = append(proposals, proposal)
	}

	accepted := acceptedProposals(proposals)
	lines, _, err := deriveMarkdownLines(files, accepted)
	if err != nil {
		_ = dir.WriteState(runs.StateFailed, err.Error())
		return nil, fmt.Errorf("propose %s: %w", bookID, err)
	}
	plan := chunkplan.BuildPlan(bookID, lines, time.Now())

	// The raw exports carry no anchors at all, so every accepted heading is
	// an anchor miss before the run; what the plan fails to cover remains
	// one after.
	metrics.AnchorMissBefore = len(accepted)
	metrics.AnchorMissAfter = anchorMissAfter(len(accepted), len(plan.Boundaries))

	if err := writeJSONLArtifact(dir.ArtifactPath(artifactProposedInjection), proposals); err != nil {
		return nil, err
	}
	if err := writeJSONArtifact(dir.ArtifactPath(artifactProposedPlanJSON), plan); err != nil {
		return nil, err
	}
	if err := writeFileAtomic(dir.ArtifactPath(artifactProposedPlanMD), []byte(plan.RenderMarkdown())); err != nil {
		return nil, err
	}
	if err := writeJSONArtifact(dir.ArtifactPath(artifactProposalMetrics), metrics); err != nil {
		return nil, err
	}
	if err := dir.WriteState(runs.StateProposedReviewNeeded, ""); err != nil {
		return nil, err
	}

	p.logger.Info("propose complete",
		logging.String("book_id", bookID),
		logging.String("run_id", runID),
		logging.Int("candidates", metrics.Candidates),
		logging.Int("proposed_headings", metrics.ProposedHeadings),
		logging.Int("must_not_blocked", metrics.MustNotBlocked),
		logging.Int("verifier_errors", metrics.VerifierErrors))
	return &metrics, nil
}

// anchorMissAfter counts accepted headings the derived plan failed to cover.
// Source text can carry anchor-form lines of its own, which add boundaries
// without an injection; those must not drive the count negative.
func anchorMissAfter(accepted, boundaries int) int {
	if missed := accepted - boundaries; missed > 0 {
		return missed
	}
	return 0
}

func acceptedProposals(proposals []ProposedInjection) []ProposedInjection {
	var accepted []ProposedInjection
	for _, proposal := range proposals {
		if proposal.Accepted() {
			accepted = append(accepted, proposal)
		}
	}
	return accepted
}

func topicHint(text string, exerciseCues []string) string {
	for _, cue := range exerciseCues {
		if cue == "" {
			continue
		}
		if strings.Contains(text, cue) {
			return "exercises"
		}
	}
	return ""
}
