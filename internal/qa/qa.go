package qa

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"

	"bindery/internal/config"
	"bindery/internal/textutil"
)

// AnchorMetrics compares anchor misses before and after a run.
type AnchorMetrics struct {
	MissesBefore      int     `json:"anchor_miss_before"`
	MissesAfter       int     `json:"anchor_miss_after"`
	RelativeReduction float64 `json:"relative_reduction"`
}

// ComputeAnchorMetrics derives the relative reduction. With no misses before
// the run there is nothing to reduce: zero misses after counts as holding
// steady (0.0), any misses after count as a full regression (-1.0).
func ComputeAnchorMetrics(before, after int) AnchorMetrics {
	metrics := AnchorMetrics{MissesBefore: before, MissesAfter: after}
	switch {
	case before == 0 && after == 0:
		metrics.RelativeReduction = 0.0
	case before == 0:
		metrics.RelativeReduction = -1.0
	default:
		metrics.RelativeReduction = round4(float64(before-after) / float64(before))
	}
	return metrics
}

// PredictedHeading is one accepted heading as seen by the guardrails.
type PredictedHeading struct {
	ItemID   string `json:"item_id"`
	Text     string `json:"text"`
	Approved bool   `json:"approved"`
}

// MustNotViolations returns one violation per predicted heading whose
// normalized text appears in the deny-list without an explicit approval.
func MustNotViolations(predicted []PredictedHeading, denyList []string) []string {
	if len(denyList) == 0 {
		return nil
	}
	denied := make(map[string]struct{}, len(denyList))
	for _, entry := range denyList {
		denied[textutil.NormalizeText(entry)] = struct{}{}
	}

	var violations []string
	for _, heading := range predicted {
		normalized := textutil.NormalizeText(heading.Text)
		if _, hit := denied[normalized]; !hit {
			continue
		}
		if heading.Approved {
			continue
		}
		violations = append(violations,
			fmt.Sprintf("must-not-heading line predicted as heading without approval: %q (item %s)",
				heading.Text, heading.ItemID))
	}
	return violations
}

// GoldSplit is a list of gold-negative lines: text that must never be
// predicted as a heading.
type GoldSplit struct {
	Negatives []string `json:"negatives"`
}

// goldSnippet is one line of a gold snippet JSONL file.
type goldSnippet struct {
	Text  string `json:"text"`
	Label string `json:"label,omitempty"`
}

// LoadGoldSplit reads a gold snippet JSONL file, keeping its negative
// lines. A missing or unconfigured path yields an empty split.
func LoadGoldSplit(path string) (GoldSplit, error) {
	var split GoldSplit
	if path == "" {
		return split, nil
	}
	snippets, err := readGoldSnippets(path)
	if err != nil {
		return split, err
	}
	for _, snippet := range snippets {
		if snippet.Label == "" || snippet.Label == "negative" {
			split.Negatives = append(split.Negatives, snippet.Text)
		}
	}
	return split, nil
}

// LoadDenyList reads a must-not-heading JSONL file into its text lines.
func LoadDenyList(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	snippets, err := readGoldSnippets(path)
	if err != nil {
		return nil, err
	}
	entries := make([]string, 0, len(snippets))
	for _, snippet := range snippets {
		entries = append(entries, snippet.Text)
	}
	return entries, nil
}

func readGoldSnippets(path string) ([]goldSnippet, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read gold snippets: %w", err)
	}
	defer file.Close()

	var snippets []goldSnippet
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var snippet goldSnippet
		if err := json.Unmarshal([]byte(text), &snippet); err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, line, err)
		}
		snippets = append(snippets, snippet)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return snippets, nil
}

// FalsePositiveRate is the fraction of gold negatives predicted as headings.
// An empty split reports 0.
func FalsePositiveRate(predicted []PredictedHeading, split GoldSplit) float64 {
	if len(split.Negatives) == 0 {
		return 0
	}
	predictedSet := make(map[string]struct{}, len(predicted))
	for _, heading := range predicted {
		predictedSet[textutil.NormalizeText(heading.Text)] = struct{}{}
	}
	hits := 0
	for _, negative := range split.Negatives {
		if _, hit := predictedSet[textutil.NormalizeText(negative)]; hit {
			hits++
		}
	}
	return round4(float64(hits) / float64(len(split.Negatives)))
}

// Evaluation is the guardrail outcome for one run.
type Evaluation struct {
	Anchor        AnchorMetrics `json:"anchor_metrics"`
	TrainFPRate   float64       `json:"train_fp_rate"`
	HoldoutFPRate float64       `json:"holdout_fp_rate"`
	Violations    []string      `json:"violations,omitempty"`
	Strict        bool          `json:"strict"`
}

// Passed reports whether the run clears every guardrail.
func (e Evaluation) Passed() bool {
	return len(e.Violations) == 0
}

// Fatal reports whether the violations should abort the run.
func (e Evaluation) Fatal() bool {
	return e.Strict && !e.Passed()
}

// Status is the report-facing pass/fail label.
func (e Evaluation) Status() string {
	if e.Passed() {
		return "pass"
	}
	return "fail"
}

// Evaluate runs every guardrail and collects violations.
func Evaluate(cfg config.QA, anchor AnchorMetrics, predicted []PredictedHeading, denyList []string, train, holdout GoldSplit) Evaluation {
	evaluation := Evaluation{
		Anchor: anchor,
		Strict: cfg.Strict,
	}

	if anchor.MissesAfter > anchor.MissesBefore {
		evaluation.Violations = append(evaluation.Violations,
			fmt.Sprintf("anchor_miss_after must be lower than before: %d > %d",
				anchor.MissesAfter, anchor.MissesBefore))
	}
	if anchor.RelativeReduction < cfg.MinimumRelativeReduction {
		evaluation.Violations = append(evaluation.Violations,
			fmt.Sprintf("anchor miss reduction %.4f below minimum %.4f",
				anchor.RelativeReduction, cfg.MinimumRelativeReduction))
	}

	evaluation.Violations = append(evaluation.Violations,
		MustNotViolations(predicted, denyList)...)

	evaluation.TrainFPRate = FalsePositiveRate(predicted, train)
	evaluation.HoldoutFPRate = FalsePositiveRate(predicted, holdout)
	if evaluation.HoldoutFPRate > evaluation.TrainFPRate {
		evaluation.Violations = append(evaluation.Violations,
			fmt.Sprintf("holdout FP regression: holdout rate %.4f exceeds train rate %.4f",
				evaluation.HoldoutFPRate, evaluation.TrainFPRate))
	}

	return evaluation
}

func round4(value float64) float64 {
	return math.Round(value*10000) / 10000
}
