package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"bindery/internal/chunkplan"
	"bindery/internal/ingest"
	"bindery/internal/logging"
	"bindery/internal/placement"
	"bindery/internal/qa"
	"bindery/internal/registry"
	"bindery/internal/runs"
)

// ErrNotApproved indicates apply was invoked without an approved plan.
var ErrNotApproved = errors.New("plan is not approved")

// boundaryMismatch is the abort report written when the approved plan no
// longer matches the derived document.
type boundaryMismatch struct {
	BookID   string               `json:"book_id"`
	RunID    string               `json:"run_id"`
	Expected []chunkplan.Boundary `json:"expected"`
	Actual   []chunkplan.Boundary `json:"actual"`
}

type derivedChunk struct {
	boundary  chunkplan.Boundary
	body      string
	lineStart int
	lineEnd   int
	chunkKey  string
}

// Apply materializes an approved plan: it splits the derived markdown by
// strict anchors, records chunk versions and placements in the registry,
// writes the canonical book output, and records projections. Any boundary
// drift between the approved plan and the re-derived document aborts before
// a single canonical write.
func (p *Pipeline) Apply(ctx context.Context, runID, bookID string, store *registry.Store) (*ApplySummary, error) {
	dir := p.runDir(runID, bookID)

	state, err := dir.ReadState()
	if err != nil {
		return nil, err
	}
	if state == nil || state.State != runs.StateApproved {
		return nil, fmt.Errorf("apply %s: %w (state %s)", bookID, ErrNotApproved, stateLabel(state))
	}

	var plan chunkplan.Plan
	if err := readJSONArtifact(dir.ArtifactPath(artifactApprovedPlanJSON), &plan); err != nil {
		return nil, fmt.Errorf("apply %s: approved plan missing: %w", bookID, err)
	}
	if plan.Status != chunkplan.StatusApproved {
		return nil, fmt.Errorf("apply %s: %w (plan status %s)", bookID, ErrNotApproved, plan.Status)
	}

	approved, err := readJSONLArtifact[ProposedInjection](dir.ArtifactPath(artifactApprovedInjection))
	if err != nil {
		return nil, fmt.Errorf("apply %s: approved injections missing: %w", bookID, err)
	}

	sourceDir := filepath.Join(p.cfg.Paths.FixturesRoot, bookID)
	files, err := ingest.SortedSourceFiles(sourceDir)
	if err != nil {
		return nil, fmt.Errorf("apply %s: %w", bookID, err)
	}
	lines, origins, err := deriveMarkdownLines(files, approved)
	if err != nil {
		return nil, fmt.Errorf("apply %s: %w", bookID, err)
	}

	boundaries := chunkplan.BuildStrictAnchorBoundaries(bookID, lines)
	if !boundariesMatch(plan.Boundaries, boundaries) {
		mismatch := boundaryMismatch{
			BookID:   bookID,
			RunID:    runID,
			Expected: plan.Boundaries,
			Actual:   boundaries,
		}
		if err := writeJSONArtifact(dir.ArtifactPath(artifactBoundaryMismatch), mismatch); err != nil {
			return nil, err
		}
		_ = dir.WriteState(runs.StateFailed, "boundary mismatch")
		return &ApplySummary{RunID: runID, BookID: bookID, BoundaryMismatch: true},
			fmt.Errorf("apply %s: derived boundaries diverge from approved plan", bookID)
	}

	chunks := splitChunks(bookID, lines, boundaries)
	trace := make([]qa.TraceRow, 0, len(chunks))
	for _, chunk := range chunks {
		trace = append(trace, qa.TraceRow{
			ChunkKey:  chunk.chunkKey,
			Anchor:    chunk.boundary.Anchor,
			Heading:   chunk.boundary.Heading,
			File:      origins[chunk.lineStart].File,
			LineStart: origins[chunk.lineStart].LineNo,
			LineEnd:   origins[chunk.lineEnd].LineNo,
		})
	}

	evaluation, err := p.evaluateGuardrails(approved, len(approved), len(boundaries))
	if err != nil {
		return nil, fmt.Errorf("apply %s: %w", bookID, err)
	}
	if err := p.writeQAReport(dir, runID, bookID, evaluation, trace); err != nil {
		return nil, err
	}
	if evaluation.Fatal() {
		_ = dir.WriteState(runs.StateFailed, "qa guardrails failed")
		return nil, fmt.Errorf("apply %s: qa guardrails failed: %v", bookID, evaluation.Violations)
	}

	topics, err := store.PlacementTopics(ctx)
	if err != nil {
		return nil, fmt.Errorf("apply %s: %w", bookID, err)
	}
	engine := placement.NewEngine(p.cfg.Placement)

	summary := ApplySummary{RunID: runID, BookID: bookID, Chunks: len(chunks)}
	assignments := make(map[string]string, len(chunks))
	for _, chunk := range chunks {
		decision := engine.Place(chunk.boundary.Heading, chunk.body, topics)
		if _, err := store.RecordChunkPlacement(ctx, registry.ChunkVersionInput{
			ChunkKey:   chunk.chunkKey,
			BookID:     bookID,
			RunID:      runID,
			Anchor:     chunk.boundary.Anchor,
			Heading:    chunk.boundary.Heading,
			LineStart:  chunk.lineStart,
			LineEnd:    chunk.lineEnd,
			BodySHA256: sha256Hex(chunk.body),
		}, decision); err != nil {
			_ = dir.WriteState(runs.StateFailed, err.Error())
			return nil, fmt.Errorf("apply %s: %w", bookID, err)
		}
		switch decision.Status {
		case placement.StatusAssigned:
			summary.PlacedAssigned++
			assignments[chunk.chunkKey] = decision.ChosenTopicID
		default:
			summary.PlacedReview++
		}
	}

	canonicalDir, err := p.writeCanonicalBook(bookID, lines, chunks)
	if err != nil {
		_ = dir.WriteState(runs.StateFailed, err.Error())
		return nil, fmt.Errorf("apply %s: %w", bookID, err)
	}
	summary.CanonicalDir = canonicalDir

	if _, err := store.AddProjection(ctx, runID, "book_summary", map[string]any{
		"book_id":         bookID,
		"chunks":          len(chunks),
		"placed_assigned": summary.PlacedAssigned,
		"placed_review":   summary.PlacedReview,
	}); err != nil {
		return nil, fmt.Errorf("apply %s: %w", bookID, err)
	}
	summary.Projections++
	if _, err := store.AddProjection(ctx, runID, "topic_assignments", assignments); err != nil {
		return nil, fmt.Errorf("apply %s: %w", bookID, err)
	}
	summary.Projections++

	if err := writeJSONArtifact(dir.ArtifactPath(artifactApplySummary), summary); err != nil {
		return nil, err
	}
	if err := dir.WriteState(runs.StateApplied, ""); err != nil {
		return nil, err
	}

	p.logger.Info("apply complete",
		logging.String("book_id", bookID),
		logging.String("run_id", runID),
		logging.Int("chunks", summary.Chunks),
		logging.Int("assigned", summary.PlacedAssigned),
		logging.Int("review", summary.PlacedReview))
	return &summary, nil
}

func stateLabel(state *runs.RunState) string {
	if state == nil {
		return "none"
	}
	return state.State
}

func boundariesMatch(expected, actual []chunkplan.Boundary) bool {
	if len(expected) != len(actual) {
		return false
	}
	for i := range expected {
		if expected[i].Anchor != actual[i].Anchor {
			return false
		}
	}
	return true
}

// splitChunks cuts the derived lines at each boundary. A chunk runs from
// its anchor line to the line before the next anchor.
func splitChunks(bookID string, lines []string, boundaries []chunkplan.Boundary) []derivedChunk {
	chunks := make([]derivedChunk, 0, len(boundaries))
	for i, boundary := range boundaries {
		start := boundary.StartAnchorIndex
		end := len(lines) - 1
		if i+1 < len(boundaries) {
			end = boundaries[i+1].StartAnchorIndex - 1
		}
		body := strings.TrimSpace(strings.Join(lines[start+1:end+1], "\n"))
		seed := fmt.Sprintf("%s|%d|%d|%s", bookID, start, end, body)
		digest := sha256.Sum256([]byte(seed))
		chunks = append(chunks, derivedChunk{
			boundary:  boundary,
			body:      body,
			lineStart: start,
			lineEnd:   end,
			chunkKey:  hex.EncodeToString(digest[:])[:20],
		})
	}
	return chunks
}

// writeCanonicalBook writes the derived markdown and per-chunk files under
// the corpus root.
func (p *Pipeline) writeCanonicalBook(bookID string, lines []string, chunks []derivedChunk) (string, error) {
	bookDir := filepath.Join(p.cfg.Paths.CorpusRoot, "books", bookID)
	chunksDir := filepath.Join(bookDir, "chunks")
	if err := os.MkdirAll(chunksDir, 0o755); err != nil {
		return "", fmt.Errorf("create canonical dir: %w", err)
	}

	document := strings.Join(lines, "\n") + "\n"
	if err := writeFileAtomic(filepath.Join(bookDir, "book.md"), []byte(document)); err != nil {
		return "", err
	}
	for _, chunk := range chunks {
		content := strings.Repeat("#", chunk.boundary.Level) + " " + chunk.boundary.Heading + "\n\n" + chunk.body + "\n"
		if err := writeFileAtomic(filepath.Join(chunksDir, chunk.boundary.Anchor+".md"), []byte(content)); err != nil {
			return "", err
		}
	}
	return bookDir, nil
}

func sha256Hex(value string) string {
	digest := sha256.Sum256([]byte(value))
	return hex.EncodeToString(digest[:])
}
