package qa

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
)

// TraceRow links one recorded chunk back to its source lines.
type TraceRow struct {
	ChunkKey  string `json:"chunk_key"`
	Anchor    string `json:"anchor"`
	Heading   string `json:"heading"`
	File      string `json:"file"`
	LineStart int    `json:"line_start"`
	LineEnd   int    `json:"line_end"`
}

// Report packages the evaluation with run identity and traceability.
type Report struct {
	RunID      string     `json:"run_id"`
	BookID     string     `json:"book_id"`
	Status     string     `json:"status"`
	Evaluation Evaluation `json:"evaluation"`
	Trace      []TraceRow `json:"trace,omitempty"`
}

// NewReport assembles a report from an evaluation.
func NewReport(runID, bookID string, evaluation Evaluation, trace []TraceRow) Report {
	return Report{
		RunID:      runID,
		BookID:     bookID,
		Status:     evaluation.Status(),
		Evaluation: evaluation,
		Trace:      trace,
	}
}

// JSON renders the report as indented JSON.
func (r Report) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// RenderMarkdown renders the reviewer-facing report with a traceability
// table.
func (r Report) RenderMarkdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# QA report: %s / %s\n\n", r.BookID, r.RunID)
	fmt.Fprintf(&b, "- status: %s\n", r.Status)
	fmt.Fprintf(&b, "- anchor misses: %d -> %d (reduction %.4f)\n",
		r.Evaluation.Anchor.MissesBefore,
		r.Evaluation.Anchor.MissesAfter,
		r.Evaluation.Anchor.RelativeReduction)
	fmt.Fprintf(&b, "- train FP rate: %.4f\n", r.Evaluation.TrainFPRate)
	fmt.Fprintf(&b, "- holdout FP rate: %.4f\n", r.Evaluation.HoldoutFPRate)

	if len(r.Evaluation.Violations) > 0 {
		b.WriteString("\n## Violations\n\n")
		for _, violation := range r.Evaluation.Violations {
			fmt.Fprintf(&b, "- %s\n", violation)
		}
	}

	if len(r.Trace) > 0 {
		b.WriteString("\n## Traceability\n\n")
		tw := table.NewWriter()
		tw.AppendHeader(table.Row{"chunk", "anchor", "heading", "file", "lines"})
		for _, row := range r.Trace {
			tw.AppendRow(table.Row{
				row.ChunkKey,
				row.Anchor,
				row.Heading,
				row.File,
				fmt.Sprintf("%d-%d", row.LineStart, row.LineEnd),
			})
		}
		b.WriteString(tw.RenderMarkdown())
		b.WriteString("\n")
	}
	return b.String()
}
