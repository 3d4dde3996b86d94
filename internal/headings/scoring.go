package headings

import (
	"math"

	"bindery/internal/config"
	"bindery/internal/scan"
)

// Fixed additive weights. The tunable surface (cue tokens, thresholds) lives
// in Options; the weights themselves are part of the scoring contract.
const (
	titleKindBonus       = 0.35
	headingCueBonus      = 0.25
	shortTitleBonus      = 0.10
	repeatedLinePenalty  = 0.50
	nonStructuralPenalty = 0.45
)

const deterministicReason = "deterministic_scorer"

// Options carries the cue tokens and thresholds the extractor and scorer
// operate with.
type Options struct {
	HeadingCues       []string
	SubUnitCues       []string
	MetadataCues      []string
	MaxTitleLength    int
	DecisionThreshold float64
	AmbiguousMargin   float64
}

// OptionsFromConfig builds scorer options from the scoring config section.
func OptionsFromConfig(cfg config.Scoring) Options {
	return Options{
		HeadingCues:       cfg.HeadingCues,
		SubUnitCues:       cfg.SubUnitCues,
		MetadataCues:      cfg.MetadataCues,
		MaxTitleLength:    cfg.MaxTitleLength,
		DecisionThreshold: cfg.DecisionThreshold,
		AmbiguousMargin:   cfg.AmbiguousMargin,
	}
}

// Scored is the deterministic suggestion for one candidate.
type Scored struct {
	CandidateID string   `json:"candidate_id"`
	Score       float64  `json:"score"`
	IsHeading   bool     `json:"suggested_is_heading"`
	Level       int      `json:"suggested_level"`
	Reason      string   `json:"suggested_reason"`
	Confidence  float64  `json:"suggested_confidence"`
	Rationale   []string `json:"rationale"`
}

// Score evaluates one candidate against book-wide signals. Pure and
// order-independent: identical inputs always produce byte-identical output.
func (o Options) Score(candidate Candidate, signals *scan.Signals) Scored {
	score := 0.0
	rationale := []string{}

	if candidate.Kind == KindTitle {
		score += titleKindBonus
		rationale = append(rationale, "title_kind")
	}
	if containsAny(candidate.Text, o.HeadingCues) {
		score += headingCueBonus
		rationale = append(rationale, "heading_cue")
	}
	if len([]rune(candidate.Text)) <= o.MaxTitleLength {
		score += shortTitleBonus
		rationale = append(rationale, "title_length")
	}
	if signals.IsRepeatedRunningLine(candidate.Text) {
		score -= repeatedLinePenalty
		rationale = append(rationale, "repeated_running_header_footer")
	}
	switch candidate.Kind {
	case KindMetadata, KindFootnote, KindPagehead:
		score -= nonStructuralPenalty
		rationale = append(rationale, "non_structural_zone")
	}

	score = clamp01(score)
	isHeading := score >= o.DecisionThreshold
	level := 2
	if isHeading && containsAny(candidate.Text, o.SubUnitCues) {
		level = 3
	}

	return Scored{
		CandidateID: candidate.CandidateID,
		Score:       round4(score),
		IsHeading:   isHeading,
		Level:       level,
		Reason:      deterministicReason,
		Confidence:  round4(score),
		Rationale:   rationale,
	}
}

// ScoreAll scores candidates in order.
func (o Options) ScoreAll(candidates []Candidate, signals *scan.Signals) []Scored {
	scored := make([]Scored, 0, len(candidates))
	for _, candidate := range candidates {
		scored = append(scored, o.Score(candidate, signals))
	}
	return scored
}

// IsAmbiguous reports whether a score falls inside the advisory band around
// the decision threshold. The distance is rounded like scores are, so band
// edges compare exactly.
func (o Options) IsAmbiguous(score float64) bool {
	return round4(math.Abs(score-o.DecisionThreshold)) <= o.AmbiguousMargin
}

func clamp01(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

func round4(value float64) float64 {
	return math.Round(value*10000) / 10000
}
