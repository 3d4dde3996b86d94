package chunkplan

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestBuildStrictAnchorBoundaries(t *testing.T) {
	lines := []string{
		"# عنوان الكتاب",
		"",
		"## باب الفعل الماضي",
		"نص الباب",
		"### فصل في المجرد",
		"####### ليس عنوانا",
		"##بدون مسافة",
		"###### أدق مستوى",
	}

	boundaries := BuildStrictAnchorBoundaries("shamela_0001", lines)
	if len(boundaries) != 3 {
		t.Fatalf("got %d boundaries, want 3: %+v", len(boundaries), boundaries)
	}

	wantLevels := []int{2, 3, 6}
	wantIndexes := []int{2, 4, 7}
	wantHeadings := []string{"باب الفعل الماضي", "فصل في المجرد", "أدق مستوى"}
	for i, boundary := range boundaries {
		if boundary.Level != wantLevels[i] {
			t.Errorf("boundary %d level = %d, want %d", i, boundary.Level, wantLevels[i])
		}
		if boundary.StartAnchorIndex != wantIndexes[i] {
			t.Errorf("boundary %d index = %d, want %d", i, boundary.StartAnchorIndex, wantIndexes[i])
		}
		if boundary.Heading != wantHeadings[i] {
			t.Errorf("boundary %d heading = %q, want %q", i, boundary.Heading, wantHeadings[i])
		}
		if len(boundary.Anchor) != 16 {
			t.Errorf("boundary %d anchor = %q, want 16 hex chars", i, boundary.Anchor)
		}
	}
}

func TestLevelOneAndBeyondSixNeverBoundaries(t *testing.T) {
	lines := []string{
		"# مقدمة",
		"####### سبعة",
		"######## ثمانية",
	}
	if boundaries := BuildStrictAnchorBoundaries("book", lines); boundaries != nil {
		t.Errorf("expected no boundaries, got %+v", boundaries)
	}
}

func TestBoundariesDeterministic(t *testing.T) {
	lines := []string{"## باب", "نص", "### فصل"}
	first := BuildStrictAnchorBoundaries("book", lines)
	second := BuildStrictAnchorBoundaries("book", lines)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("boundaries not deterministic: %+v vs %+v", first, second)
	}
}

func TestAnchorDependsOnBookAndPosition(t *testing.T) {
	lines := []string{"## باب"}
	a := BuildStrictAnchorBoundaries("book_a", lines)[0].Anchor
	b := BuildStrictAnchorBoundaries("book_b", lines)[0].Anchor
	if a == b {
		t.Error("anchor must incorporate book id")
	}

	shifted := BuildStrictAnchorBoundaries("book_a", []string{"", "## باب"})[0].Anchor
	if a == shifted {
		t.Error("anchor must incorporate line index")
	}
}

func TestBuildPlan(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	plan := BuildPlan("shamela_0001", []string{"## باب"}, now)

	if plan.Status != StatusProposed {
		t.Errorf("Status = %q, want %q", plan.Status, StatusProposed)
	}
	if !plan.ApprovalRequired {
		t.Error("plans must always require approval")
	}
	if !plan.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v", plan.CreatedAt)
	}
	if len(plan.Boundaries) != 1 {
		t.Fatalf("Boundaries = %+v", plan.Boundaries)
	}

	rendered := plan.RenderMarkdown()
	for _, fragment := range []string{"shamela_0001", "approval_required: true", "باب"} {
		if !strings.Contains(rendered, fragment) {
			t.Errorf("markdown missing %q:\n%s", fragment, rendered)
		}
	}
}
