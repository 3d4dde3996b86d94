package pipeline

import (
	"log/slog"

	"bindery/internal/config"
	"bindery/internal/headings"
	"bindery/internal/logging"
	"bindery/internal/runs"
	"bindery/internal/verifier"
)

// ProposedInjection is one row of heading_injections.proposed.jsonl. Item id
// equals the candidate id, so review decisions address candidates directly.
type ProposedInjection struct {
	ItemID         string           `json:"item_id"`
	File           string           `json:"file"`
	LineNo         int              `json:"line_no"`
	Text           string           `json:"text"`
	Signature      string           `json:"signature"`
	Scored         headings.Scored  `json:"scored"`
	Verifier       *verifier.Result `json:"verifier,omitempty"`
	TopicHint      string           `json:"topic_hint,omitempty"`
	Blocked        bool             `json:"blocked,omitempty"`
	BlockedReason  string           `json:"blocked_reason,omitempty"`
	Error          string           `json:"error,omitempty"`
	ReviewRequired bool             `json:"review_required"`
}

// Accepted reports whether the proposal suggests injecting a heading. The
// verifier verdict, when present, overrides the deterministic score; blocked
// rows never inject.
func (p ProposedInjection) Accepted() bool {
	if p.Blocked || p.Error != "" {
		return false
	}
	if p.Verifier != nil {
		return p.Verifier.Decision.IsHeading
	}
	return p.Scored.IsHeading
}

// Level is the suggested heading level for an accepted proposal.
func (p ProposedInjection) Level() int {
	if p.Verifier != nil && p.Verifier.Decision.IsHeading {
		return p.Verifier.Decision.Level
	}
	return p.Scored.Level
}

// Title is the heading text an accepted proposal would inject.
func (p ProposedInjection) Title() string {
	if p.Verifier != nil && p.Verifier.Decision.NormalizedTitle != "" {
		return p.Verifier.Decision.NormalizedTitle
	}
	return p.Text
}

// ProposalMetrics is the proposal.metrics.json artifact.
type ProposalMetrics struct {
	Candidates        int `json:"candidates"`
	ProposedHeadings  int `json:"proposed_headings"`
	Ambiguous         int `json:"ambiguous"`
	Verified          int `json:"verified"`
	VerifierCacheHits int `json:"verifier_cache_hits"`
	VerifierErrors    int `json:"verifier_errors"`
	MustNotBlocked    int `json:"must_not_blocked"`
	AnchorMissBefore  int `json:"anchor_miss_before"`
	AnchorMissAfter   int `json:"anchor_miss_after"`
}

// ApplySummary is the apply.summary.json artifact.
type ApplySummary struct {
	RunID            string `json:"run_id"`
	BookID           string `json:"book_id"`
	Chunks           int    `json:"chunks"`
	PlacedAssigned   int    `json:"placed_assigned"`
	PlacedReview     int    `json:"placed_review"`
	Projections      int    `json:"projections"`
	BoundaryMismatch bool   `json:"boundary_mismatch"`
	CanonicalDir     string `json:"canonical_dir,omitempty"`
}

// Pipeline wires the stages to configuration and logging.
type Pipeline struct {
	cfg      *config.Config
	logger   *slog.Logger
	verifier *verifier.Verifier
}

// New builds a pipeline. The verifier may be nil; propose then skips
// advisory verification regardless of configuration.
func New(cfg *config.Config, logger *slog.Logger, v *verifier.Verifier) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "pipeline"),
		verifier: v,
	}
}

func (p *Pipeline) runDir(runID, bookID string) runs.Dir {
	return runs.NewDir(p.cfg.Paths.RunsRoot, runID, bookID)
}
