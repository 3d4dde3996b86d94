package registry

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"bindery/internal/logging"
	"bindery/internal/placement"
)

func openTestStore(t *testing.T, corpusRoot string) *Store {
	t.Helper()
	store, err := Open(corpusRoot, logging.NewNop())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func TestOpenEnforcesSingleWriter(t *testing.T) {
	corpusRoot := t.TempDir()
	store := openTestStore(t, corpusRoot)

	if _, err := Open(corpusRoot, logging.NewNop()); !errors.Is(err, ErrLocked) {
		t.Errorf("second Open error = %v, want ErrLocked", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	reopened, err := Open(corpusRoot, logging.NewNop())
	if err != nil {
		t.Fatalf("reopen after Close failed: %v", err)
	}
	_ = reopened.Close()
}

func TestSyncTopicsAllocatesAndExports(t *testing.T) {
	corpusRoot := t.TempDir()
	store := openTestStore(t, corpusRoot)
	ctx := context.Background()

	synced, err := store.SyncTopics(ctx, []TopicInput{
		{DisplayTitle: "الفعل الماضي", Aliases: []string{"الماضي"}, Notes: "نواة الصرف"},
		{DisplayTitle: "تدريبات"},
	})
	if err != nil {
		t.Fatalf("SyncTopics failed: %v", err)
	}
	if synced[0].TopicID != "T000001" || synced[1].TopicID != "T000002" {
		t.Errorf("allocated ids: %s, %s", synced[0].TopicID, synced[1].TopicID)
	}

	topics, err := store.ListTopics(ctx)
	if err != nil {
		t.Fatalf("ListTopics failed: %v", err)
	}
	if len(topics) != 2 {
		t.Fatalf("got %d topics", len(topics))
	}
	if topics[0].Notes != "نواة الصرف" {
		t.Errorf("Notes = %q", topics[0].Notes)
	}

	data, err := os.ReadFile(filepath.Join(corpusRoot, "topics.json"))
	if err != nil {
		t.Fatalf("topics.json not exported: %v", err)
	}
	var exported []map[string]any
	if err := json.Unmarshal(data, &exported); err != nil {
		t.Fatalf("topics.json invalid: %v", err)
	}
	if len(exported) != 2 {
		t.Errorf("export has %d entries", len(exported))
	}
	folder, _ := exported[0]["folder"].(string)
	if folder != "T000001__"+topics[0].DisplayTitle {
		t.Errorf("folder = %q", folder)
	}
}

func TestSyncTopicsBumpsFloorAndSanitizes(t *testing.T) {
	store := openTestStore(t, t.TempDir())
	ctx := context.Background()

	synced, err := store.SyncTopics(ctx, []TopicInput{
		{TopicID: "T000041", DisplayTitle: "موضوع مستورد"},
		{TopicID: "grammar!", DisplayTitle: "معرف غير صالح"},
		{DisplayTitle: "موضوع جديد"},
	})
	if err != nil {
		t.Fatalf("SyncTopics failed: %v", err)
	}
	if synced[0].TopicID != "T000041" {
		t.Errorf("well-formed id rewritten to %s", synced[0].TopicID)
	}
	// Allocations after the floor bump must land past the imported id.
	if synced[1].TopicID != "T000042" {
		t.Errorf("malformed id replaced with %s, want T000042", synced[1].TopicID)
	}
	if synced[2].TopicID != "T000043" {
		t.Errorf("post-bump allocation = %s, want T000043", synced[2].TopicID)
	}
}

func TestAllocatorMonotonicAcrossReopen(t *testing.T) {
	corpusRoot := t.TempDir()
	store := openTestStore(t, corpusRoot)
	ctx := context.Background()

	if _, err := store.SyncTopics(ctx, []TopicInput{{DisplayTitle: "أول"}}); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	reopened := openTestStore(t, corpusRoot)
	synced, err := reopened.SyncTopics(ctx, []TopicInput{{DisplayTitle: "ثان"}})
	if err != nil {
		t.Fatal(err)
	}
	if synced[0].TopicID != "T000002" {
		t.Errorf("post-reopen allocation = %s, want T000002", synced[0].TopicID)
	}
}

func TestRecordChunkPlacementVersionsAndLineage(t *testing.T) {
	store := openTestStore(t, t.TempDir())
	ctx := context.Background()

	chunk := ChunkVersionInput{
		ChunkKey:   "abc123",
		BookID:     "shamela_0001",
		RunID:      "20260801T120000Z",
		Anchor:     "deadbeefdeadbeef",
		Heading:    "باب الفعل الماضي",
		LineStart:  10,
		LineEnd:    42,
		BodySHA256: "f00d",
	}
	decision := placement.Decision{
		Status:     placement.StatusReview,
		Confidence: 0.3,
		Reasons:    []string{placement.ReasonNoExistingTopics},
	}

	firstID, err := store.RecordChunkPlacement(ctx, chunk, decision)
	if err != nil {
		t.Fatalf("first RecordChunkPlacement failed: %v", err)
	}

	chunk.RunID = "20260802T090000Z"
	chunk.BodySHA256 = "beef"
	secondID, err := store.RecordChunkPlacement(ctx, chunk, decision)
	if err != nil {
		t.Fatalf("second RecordChunkPlacement failed: %v", err)
	}

	latest, err := store.LatestChunkVersion(ctx, "abc123")
	if err != nil {
		t.Fatal(err)
	}
	if latest.ID != secondID || latest.Version != 2 {
		t.Errorf("latest = id %d version %d, want id %d version 2", latest.ID, latest.Version, secondID)
	}
	if latest.Supersedes != firstID {
		t.Errorf("Supersedes = %d, want %d", latest.Supersedes, firstID)
	}

	targets, err := store.LineageLinks(ctx, secondID)
	if err != nil {
		t.Fatal(err)
	}
	if len(targets) != 1 || targets[0] != firstID {
		t.Errorf("lineage targets = %v, want [%d]", targets, firstID)
	}

	count, err := store.CountChunkVersions(ctx, "shamela_0001")
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("chunk versions = %d, want 2 (append-only)", count)
	}
}

func TestAddProjectionRegenerationEvents(t *testing.T) {
	store := openTestStore(t, t.TempDir())
	ctx := context.Background()
	runID := "20260801T120000Z"

	type payload struct {
		Chunks int    `json:"chunks"`
		Book   string `json:"book"`
	}

	first, err := store.AddProjection(ctx, runID, "book_summary", payload{Chunks: 3, Book: "shamela_0001"})
	if err != nil {
		t.Fatalf("AddProjection failed: %v", err)
	}

	// Identical content: same row, no regeneration.
	again, err := store.AddProjection(ctx, runID, "book_summary", payload{Chunks: 3, Book: "shamela_0001"})
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != first.ID || again.PayloadSHA256 != first.PayloadSHA256 {
		t.Errorf("identical payload produced a new row: %+v vs %+v", again, first)
	}
	if count, _ := store.CountRegenerations(ctx, runID, "book_summary"); count != 0 {
		t.Errorf("regenerations after identical re-add = %d, want 0", count)
	}

	// Changed content: regeneration recorded exactly once.
	changed, err := store.AddProjection(ctx, runID, "book_summary", payload{Chunks: 4, Book: "shamela_0001"})
	if err != nil {
		t.Fatal(err)
	}
	if changed.PayloadSHA256 == first.PayloadSHA256 {
		t.Error("changed payload kept the same hash")
	}
	count, err := store.CountRegenerations(ctx, runID, "book_summary")
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("regenerations = %d, want 1", count)
	}
}
