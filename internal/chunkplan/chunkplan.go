package chunkplan

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Plan statuses. A freshly built plan is always proposed; only the review
// gate promotes it.
const (
	StatusProposed = "proposed"
	StatusApproved = "approved"
)

// anchorPattern accepts levels two through six only. A single hash mark is a
// document title, not a chunk boundary; beyond six is not a heading at all.
var anchorPattern = regexp.MustCompile(`^(#{2,6})\s+(.*)$`)

// Boundary is one chunk start derived from an anchor line.
type Boundary struct {
	Anchor           string `json:"anchor"`
	Level            int    `json:"level"`
	Heading          string `json:"heading"`
	StartAnchorIndex int    `json:"start_anchor_index"`
}

// Plan is the proposed chunking of one book.
type Plan struct {
	BookID           string     `json:"book_id"`
	Status           string     `json:"status"`
	ApprovalRequired bool       `json:"approval_required"`
	CreatedAt        time.Time  `json:"created_at"`
	Boundaries       []Boundary `json:"boundaries"`
}

// anchorID derives the stable boundary id from book, line index, and the
// full anchor line.
func anchorID(bookID string, index int, line string) string {
	seed := fmt.Sprintf("%s|%d|%s", bookID, index, line)
	digest := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(digest[:])[:16]
}

// BuildStrictAnchorBoundaries scans proposed document lines once, in order,
// and returns a boundary for every strict anchor line. Non-matching lines,
// including level-1 titles and malformed near-anchors, are skipped.
func BuildStrictAnchorBoundaries(bookID string, lines []string) []Boundary {
	var boundaries []Boundary
	for index, line := range lines {
		match := anchorPattern.FindStringSubmatch(line)
		if match == nil {
			continue
		}
		boundaries = append(boundaries, Boundary{
			Anchor:           anchorID(bookID, index, line),
			Level:            len(match[1]),
			Heading:          strings.TrimSpace(match[2]),
			StartAnchorIndex: index,
		})
	}
	return boundaries
}

// BuildPlan assembles the proposed plan for a book from its proposed lines.
func BuildPlan(bookID string, lines []string, now time.Time) Plan {
	return Plan{
		BookID:           bookID,
		Status:           StatusProposed,
		ApprovalRequired: true,
		CreatedAt:        now.UTC(),
		Boundaries:       BuildStrictAnchorBoundaries(bookID, lines),
	}
}

// RenderMarkdown renders the reviewer-facing view of a plan.
func (p Plan) RenderMarkdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Chunk plan: %s\n\n", p.BookID)
	fmt.Fprintf(&b, "- status: %s\n", p.Status)
	fmt.Fprintf(&b, "- approval_required: %t\n", p.ApprovalRequired)
	fmt.Fprintf(&b, "- boundaries: %d\n\n", len(p.Boundaries))
	for _, boundary := range p.Boundaries {
		fmt.Fprintf(&b, "- `%s` L%d line %d: %s\n",
			boundary.Anchor, boundary.Level, boundary.StartAnchorIndex, boundary.Heading)
	}
	return b.String()
}
