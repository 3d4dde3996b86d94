package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"bindery/internal/config"
	"bindery/internal/logging"
	"bindery/internal/review"
	"bindery/internal/runs"
	"bindery/internal/testsupport"
	"bindery/internal/verifier"
)

const testBookHTML = `<p>مقدمة المؤلف والناشر</p>
<p align="center"><b>باب الفعل الماضي</b></p>
<p>الفعل الماضي ما دل على حدث مضى</p>
<p align="center"><b>باب الفعل المضارع</b></p>
<p>المضارع ما دل على حدث يقبل الحال والاستقبال</p>
<p align="center"><b>فصل في فعل الأمر</b></p>
<p>فعل الأمر يدل على طلب وقوع الفعل</p>`

func writeBook(t *testing.T, cfg *config.Config, bookID, content string) {
	t.Helper()
	testsupport.WriteBookFixture(t, cfg, bookID, "0001.htm", content)
}

func TestPipelineEndToEnd(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	writeBook(t, cfg, "shamela_0001", testBookHTML)
	p := New(cfg, logging.NewNop(), nil)
	ctx := context.Background()
	runID := runs.NewRunID(time.Now())

	if _, err := p.Scan(ctx, runID, "shamela_0001"); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	metrics, err := p.Propose(ctx, runID, "shamela_0001")
	if err != nil {
		t.Fatalf("Propose failed: %v", err)
	}
	if metrics.ProposedHeadings != 3 {
		t.Fatalf("ProposedHeadings = %d, want 3 (metrics %+v)", metrics.ProposedHeadings, metrics)
	}
	if metrics.AnchorMissAfter != 0 {
		t.Errorf("AnchorMissAfter = %d, want 0", metrics.AnchorMissAfter)
	}

	dir := p.runDir(runID, "shamela_0001")
	state, err := dir.ReadState()
	if err != nil {
		t.Fatal(err)
	}
	if state.State != runs.StateProposedReviewNeeded {
		t.Errorf("state after propose = %s", state.State)
	}

	approveResult, err := p.Approve(ctx, runID, "shamela_0001", ApproveOptions{
		BulkAction: review.ActionApprove,
		Reviewer:   "tester",
	})
	if err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if !approveResult.Summary.Passed() {
		t.Fatalf("review blocked: %+v", approveResult.Summary)
	}
	if approveResult.Approved != 3 {
		t.Errorf("Approved = %d, want 3", approveResult.Approved)
	}
	if !approveResult.Evaluation.Passed() {
		t.Errorf("qa violations: %v", approveResult.Evaluation.Violations)
	}

	store := testsupport.MustOpenStore(t, cfg)

	summary, err := p.Apply(ctx, runID, "shamela_0001", store)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if summary.Chunks != 3 {
		t.Errorf("Chunks = %d, want 3", summary.Chunks)
	}
	if summary.BoundaryMismatch {
		t.Error("unexpected boundary mismatch")
	}
	// Empty registry: every chunk routes to review.
	if summary.PlacedReview != 3 || summary.PlacedAssigned != 0 {
		t.Errorf("placements = %d assigned / %d review", summary.PlacedAssigned, summary.PlacedReview)
	}

	count, err := store.CountChunkVersions(ctx, "shamela_0001")
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Errorf("chunk versions = %d, want 3", count)
	}

	bookMD, err := os.ReadFile(filepath.Join(cfg.Paths.CorpusRoot, "books", "shamela_0001", "book.md"))
	if err != nil {
		t.Fatalf("canonical book missing: %v", err)
	}
	if !strings.Contains(string(bookMD), "## باب الفعل الماضي") {
		t.Errorf("book.md missing injected heading:\n%s", bookMD)
	}
	if !strings.Contains(string(bookMD), "### فصل في فعل الأمر") {
		t.Errorf("sub-unit heading not level 3:\n%s", bookMD)
	}

	state, err = dir.ReadState()
	if err != nil {
		t.Fatal(err)
	}
	if state.State != runs.StateApplied {
		t.Errorf("final state = %s", state.State)
	}
}

func TestApproveBlocksOnMissingDecisions(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	writeBook(t, cfg, "shamela_0002", testBookHTML)
	p := New(cfg, logging.NewNop(), nil)
	ctx := context.Background()
	runID := runs.NewRunID(time.Now())

	if _, err := p.Scan(ctx, runID, "shamela_0002"); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Propose(ctx, runID, "shamela_0002"); err != nil {
		t.Fatal(err)
	}

	// Decide only one of the three proposed items.
	proposals, err := readJSONLArtifact[ProposedInjection](p.runDir(runID, "shamela_0002").ArtifactPath(artifactProposedInjection))
	if err != nil {
		t.Fatal(err)
	}
	accepted := acceptedProposals(proposals)
	if len(accepted) != 3 {
		t.Fatalf("accepted = %d", len(accepted))
	}
	decisionsPath := filepath.Join(t.TempDir(), "decisions.jsonl")
	file, err := os.Create(decisionsPath)
	if err != nil {
		t.Fatal(err)
	}
	decision := review.NewDecision("heading_injections", accepted[0].ItemID, review.ActionApprove, "tester", "")
	if err := review.WriteDecisions(file, []review.DecisionRecord{decision}); err != nil {
		t.Fatal(err)
	}
	file.Close()

	result, err := p.Approve(ctx, runID, "shamela_0002", ApproveOptions{DecisionsPath: decisionsPath})
	if err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if result.Summary.Passed() {
		t.Fatal("expected blocked summary")
	}
	if result.Summary.Blocked != 2 {
		t.Errorf("Blocked = %d, want 2", result.Summary.Blocked)
	}

	state, err := p.runDir(runID, "shamela_0002").ReadState()
	if err != nil {
		t.Fatal(err)
	}
	if state.State != runs.StateReviewBlocked {
		t.Errorf("state = %s, want REVIEW_BLOCKED", state.State)
	}
}

func TestApplyRefusesUnapprovedPlan(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	writeBook(t, cfg, "shamela_0003", testBookHTML)
	p := New(cfg, logging.NewNop(), nil)
	ctx := context.Background()
	runID := runs.NewRunID(time.Now())

	if _, err := p.Scan(ctx, runID, "shamela_0003"); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Propose(ctx, runID, "shamela_0003"); err != nil {
		t.Fatal(err)
	}

	store := testsupport.MustOpenStore(t, cfg)

	if _, err := p.Apply(ctx, runID, "shamela_0003", store); !errors.Is(err, ErrNotApproved) {
		t.Errorf("Apply error = %v, want ErrNotApproved", err)
	}
	if count, _ := store.CountChunkVersions(ctx, "shamela_0003"); count != 0 {
		t.Errorf("chunk versions = %d, want 0", count)
	}
}

func TestApplyAbortsOnBoundaryMismatch(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	writeBook(t, cfg, "shamela_0004", testBookHTML)
	p := New(cfg, logging.NewNop(), nil)
	ctx := context.Background()
	runID := runs.NewRunID(time.Now())

	if _, err := p.Scan(ctx, runID, "shamela_0004"); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Propose(ctx, runID, "shamela_0004"); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Approve(ctx, runID, "shamela_0004", ApproveOptions{BulkAction: review.ActionApprove}); err != nil {
		t.Fatal(err)
	}

	// The source shrinks between approve and apply: two approved injection
	// lines no longer exist, so the derived plan loses their boundaries.
	truncated := strings.Join(strings.Split(testBookHTML, "\n")[:3], "\n")
	writeBook(t, cfg, "shamela_0004", truncated)

	store := testsupport.MustOpenStore(t, cfg)

	summary, err := p.Apply(ctx, runID, "shamela_0004", store)
	if err == nil {
		t.Fatal("expected boundary mismatch error")
	}
	if summary == nil || !summary.BoundaryMismatch {
		t.Errorf("summary = %+v, want boundary mismatch flagged", summary)
	}
	if count, _ := store.CountChunkVersions(ctx, "shamela_0004"); count != 0 {
		t.Errorf("chunk versions after mismatch = %d, want 0 (no canonical writes)", count)
	}
	if _, err := os.Stat(filepath.Join(cfg.Paths.CorpusRoot, "books", "shamela_0004")); !os.IsNotExist(err) {
		t.Error("canonical book dir must not exist after mismatch")
	}

	dir := p.runDir(runID, "shamela_0004")
	if _, err := os.Stat(dir.ArtifactPath(artifactBoundaryMismatch)); err != nil {
		t.Errorf("mismatch report missing: %v", err)
	}
	state, err := dir.ReadState()
	if err != nil {
		t.Fatal(err)
	}
	if state.State != runs.StateFailed {
		t.Errorf("state = %s, want FAILED", state.State)
	}
}

func TestProposeFlagsMustNotLines(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithDenyList("باب الفعل الماضي"))
	writeBook(t, cfg, "shamela_0005", testBookHTML)

	p := New(cfg, logging.NewNop(), nil)
	ctx := context.Background()
	runID := runs.NewRunID(time.Now())
	if _, err := p.Scan(ctx, runID, "shamela_0005"); err != nil {
		t.Fatal(err)
	}
	metrics, err := p.Propose(ctx, runID, "shamela_0005")
	if err != nil {
		t.Fatal(err)
	}
	if metrics.MustNotBlocked != 1 {
		t.Errorf("MustNotBlocked = %d, want 1", metrics.MustNotBlocked)
	}
	if metrics.ProposedHeadings != 2 {
		t.Errorf("ProposedHeadings = %d, want 2 after deny-list block", metrics.ProposedHeadings)
	}
}

func TestProposeBlocksDenyListedAmbiguousCandidate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		decision := `{"is_heading": true, "level": 2, "normalized_title": "عنوان", "confidence": 0.9, "reason": "title"}`
		payload := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": decision}},
			},
		}
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			t.Error(err)
		}
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t, testsupport.WithDenyList("باب الفعل الماضي"))
	// Raise the threshold so every cue line lands under it inside the
	// advisory band and would be routed to the verifier.
	cfg.Scoring.DecisionThreshold = 0.75
	cfg.Verifier.Enabled = true
	cfg.Verifier.BaseURL = server.URL
	cfg.Verifier.Model = "test/model"
	cfg.Verifier.APIKey = "test-key"
	cfg.Verifier.MaxAttempts = 3
	cfg.Verifier.BackoffMillis = 1
	writeBook(t, cfg, "shamela_0006", testBookHTML)

	vcache := verifier.NewCache(filepath.Join(t.TempDir(), "verify_cache.json"), logging.NewNop())
	v := verifier.New(cfg.Verifier, vcache, logging.NewNop(), verifier.WithSleeper(func(time.Duration) {}))
	p := New(cfg, logging.NewNop(), v)
	ctx := context.Background()
	runID := runs.NewRunID(time.Now())

	if _, err := p.Scan(ctx, runID, "shamela_0006"); err != nil {
		t.Fatal(err)
	}
	metrics, err := p.Propose(ctx, runID, "shamela_0006")
	if err != nil {
		t.Fatal(err)
	}
	if metrics.MustNotBlocked != 1 {
		t.Errorf("MustNotBlocked = %d, want 1", metrics.MustNotBlocked)
	}
	// The two clean cue lines still consult the verifier and come back
	// accepted; the deny-listed one must not.
	if metrics.Verified != 2 {
		t.Errorf("Verified = %d, want 2", metrics.Verified)
	}
	if metrics.ProposedHeadings != 2 {
		t.Errorf("ProposedHeadings = %d, want 2", metrics.ProposedHeadings)
	}

	proposals, err := readJSONLArtifact[ProposedInjection](p.runDir(runID, "shamela_0006").ArtifactPath(artifactProposedInjection))
	if err != nil {
		t.Fatal(err)
	}
	var found bool
	for _, proposal := range proposals {
		if proposal.Text != "باب الفعل الماضي" {
			continue
		}
		found = true
		if !proposal.Blocked || proposal.BlockedReason != "must_not_heading" {
			t.Errorf("deny-listed row not blocked: %+v", proposal)
		}
		if proposal.Verifier != nil {
			t.Error("blocked row must never reach the verifier")
		}
		if proposal.Accepted() {
			t.Error("blocked row must not inject")
		}
	}
	if !found {
		t.Fatal("deny-listed candidate missing from proposals")
	}
}

func TestProposeClampsAnchorMissOnPreexistingAnchors(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	// One visible line already carries an anchor shape, so the derived plan
	// ends up with more boundaries than accepted injections.
	writeBook(t, cfg, "shamela_0007", testBookHTML+"\n## فهرس الموضوعات القديم")

	p := New(cfg, logging.NewNop(), nil)
	ctx := context.Background()
	runID := runs.NewRunID(time.Now())
	if _, err := p.Scan(ctx, runID, "shamela_0007"); err != nil {
		t.Fatal(err)
	}
	metrics, err := p.Propose(ctx, runID, "shamela_0007")
	if err != nil {
		t.Fatal(err)
	}
	if metrics.ProposedHeadings != 3 {
		t.Fatalf("ProposedHeadings = %d, want 3", metrics.ProposedHeadings)
	}
	if metrics.AnchorMissAfter != 0 {
		t.Errorf("AnchorMissAfter = %d, want 0", metrics.AnchorMissAfter)
	}

	result, err := p.Approve(ctx, runID, "shamela_0007", ApproveOptions{
		BulkAction: review.ActionApprove,
		Reviewer:   "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Evaluation.Anchor.MissesAfter != 0 {
		t.Errorf("guardrail MissesAfter = %d, want 0", result.Evaluation.Anchor.MissesAfter)
	}
	if result.Evaluation.Anchor.RelativeReduction != 1.0 {
		t.Errorf("RelativeReduction = %v, want 1.0", result.Evaluation.Anchor.RelativeReduction)
	}
}
