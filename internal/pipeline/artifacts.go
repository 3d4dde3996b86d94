package pipeline

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"bindery/internal/qa"
	"bindery/internal/runs"
)

// Artifact file names shared across stages.
const (
	artifactManifest          = "manifest.json"
	artifactScanSignals       = "scan_signals.json"
	artifactCandidates        = "heading_candidates.jsonl"
	artifactProposedInjection = "heading_injections.proposed.jsonl"
	artifactProposedPlanJSON  = "chunk_plan.proposed.json"
	artifactProposedPlanMD    = "chunk_plan.proposed.md"
	artifactProposalMetrics   = "proposal.metrics.json"
	artifactDecisions         = "review.decisions.jsonl"
	artifactApprovedInjection = "heading_injections.approved.jsonl"
	artifactApprovedPlanJSON  = "chunk_plan.approved.json"
	artifactReviewSummary     = "review_summary.md"
	artifactQAReportJSON      = "qa_report.json"
	artifactQAReportMD        = "qa_report.md"
	artifactApplySummary      = "apply.summary.json"
	artifactBoundaryMismatch  = "boundary_mismatch.json"
)

// LoadQAReport reads the run's QA report artifact.
func LoadQAReport(dir runs.Dir) (*qa.Report, error) {
	var report qa.Report
	if err := readJSONArtifact(dir.ArtifactPath(artifactQAReportJSON), &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// LoadProposalMetrics reads the run's proposal metrics artifact.
func LoadProposalMetrics(dir runs.Dir) (*ProposalMetrics, error) {
	var metrics ProposalMetrics
	if err := readJSONArtifact(dir.ArtifactPath(artifactProposalMetrics), &metrics); err != nil {
		return nil, err
	}
	return &metrics, nil
}

// LoadApplySummary reads the run's apply summary artifact.
func LoadApplySummary(dir runs.Dir) (*ApplySummary, error) {
	var summary ApplySummary
	if err := readJSONArtifact(dir.ArtifactPath(artifactApplySummary), &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// writeJSONArtifact writes an indented JSON artifact atomically.
func writeJSONArtifact(path string, payload any) error {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	return writeFileAtomic(path, append(data, '\n'))
}

// readJSONArtifact loads a JSON artifact into target.
func readJSONArtifact(path string, target any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// writeJSONLArtifact writes one JSON object per line atomically.
func writeJSONLArtifact[T any](path string, rows []T) error {
	var b strings.Builder
	encoder := json.NewEncoder(&b)
	for _, row := range rows {
		if err := encoder.Encode(row); err != nil {
			return fmt.Errorf("encode row for %s: %w", path, err)
		}
	}
	return writeFileAtomic(path, []byte(b.String()))
}

// readJSONLArtifact loads every non-blank line of a JSONL artifact.
func readJSONLArtifact[T any](path string) ([]T, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	var rows []T
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var row T
		if err := json.Unmarshal([]byte(text), &row); err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, line, err)
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return rows, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
