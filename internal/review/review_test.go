package review

import (
	"bytes"
	"reflect"
	"strings"
	"testing"
	"time"
)

func decisionAt(itemID string, action Action, edited string, at time.Time) DecisionRecord {
	return DecisionRecord{
		DecisionID:  "d-" + itemID,
		Artifact:    "heading_injections",
		ItemID:      itemID,
		Decision:    action,
		Reviewer:    "reviewer",
		Timestamp:   at,
		EditedValue: edited,
	}
}

func TestResolveFailsClosed(t *testing.T) {
	now := time.Now().UTC()
	items := []string{"item-a", "item-b", "item-c", "item-d"}
	decisions := []DecisionRecord{
		decisionAt("item-a", ActionApprove, "", now),
		decisionAt("item-b", ActionReject, "", now),
		decisionAt("item-d", ActionEdit, "", now), // edit without payload
	}

	summary, err := Resolve(items, decisions)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if summary.Approved != 1 || summary.Rejected != 1 || summary.Edited != 0 {
		t.Errorf("summary = %+v", summary)
	}
	if summary.Blocked != 2 {
		t.Errorf("Blocked = %d, want 2 (undecided + payload-less edit)", summary.Blocked)
	}
	if !reflect.DeepEqual(summary.BlockedItems, []string{"item-c", "item-d"}) {
		t.Errorf("BlockedItems = %v", summary.BlockedItems)
	}
	if summary.Passed() {
		t.Error("blocked summary must not pass")
	}
}

func TestResolveAllDecidedPasses(t *testing.T) {
	now := time.Now().UTC()
	items := []string{"item-a", "item-b"}
	decisions := []DecisionRecord{
		decisionAt("item-a", ActionApprove, "", now),
		decisionAt("item-b", ActionEdit, "## باب معدل", now),
	}

	summary, err := Resolve(items, decisions)
	if err != nil {
		t.Fatal(err)
	}
	if !summary.Passed() {
		t.Errorf("summary = %+v, want passing", summary)
	}
	if summary.Resolved != 2 || summary.Edited != 1 {
		t.Errorf("summary = %+v", summary)
	}
}

func TestResolveKeepsLatestDecision(t *testing.T) {
	earlier := time.Now().UTC().Add(-time.Hour)
	later := earlier.Add(2 * time.Hour)
	decisions := []DecisionRecord{
		decisionAt("item-a", ActionReject, "", earlier),
		decisionAt("item-a", ActionApprove, "", later),
	}

	summary, err := Resolve([]string{"item-a"}, decisions)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Approved != 1 || summary.Rejected != 0 {
		t.Errorf("summary = %+v, want latest decision to win", summary)
	}
}

func TestResolveRejectsUnknownAction(t *testing.T) {
	decisions := []DecisionRecord{decisionAt("item-a", Action("maybe"), "", time.Now())}
	if _, err := Resolve([]string{"item-a"}, decisions); err == nil {
		t.Fatal("expected error for unknown action")
	}
}

func TestOutcome(t *testing.T) {
	now := time.Now().UTC()
	decisions := []DecisionRecord{
		decisionAt("item-a", ActionEdit, "قيمة معدلة", now),
		decisionAt("item-b", ActionEdit, "", now),
	}

	outcome, found := Outcome("item-a", decisions)
	if !found || outcome.EditedValue != "قيمة معدلة" {
		t.Errorf("Outcome(item-a) = %+v, %v", outcome, found)
	}
	if _, found := Outcome("item-b", decisions); found {
		t.Error("payload-less edit must resolve as undecided")
	}
	if _, found := Outcome("item-c", decisions); found {
		t.Error("missing item must resolve as undecided")
	}
}

func TestDecisionsRoundTripJSONL(t *testing.T) {
	original := []DecisionRecord{
		NewDecision("heading_injections", "item-a", ActionApprove, "reviewer", ""),
		NewDecision("chunk_plan", "item-b", ActionReject, "reviewer", "ليس عنوانا"),
	}

	var buf bytes.Buffer
	if err := WriteDecisions(&buf, original); err != nil {
		t.Fatalf("WriteDecisions failed: %v", err)
	}
	parsed, err := ReadDecisions(strings.NewReader(buf.String() + "\n\n"))
	if err != nil {
		t.Fatalf("ReadDecisions failed: %v", err)
	}
	if len(parsed) != 2 {
		t.Fatalf("parsed %d decisions", len(parsed))
	}
	if parsed[1].Reason != "ليس عنوانا" {
		t.Errorf("Reason = %q", parsed[1].Reason)
	}
}

func TestReadDecisionsRejectsUnknownAction(t *testing.T) {
	input := `{"decision_id":"d1","artifact":"a","item_id":"i","decision":"maybe"}`
	if _, err := ReadDecisions(strings.NewReader(input)); err == nil {
		t.Fatal("expected error for unknown action in stream")
	}
}

func TestBulkDecisions(t *testing.T) {
	decisions, err := BulkDecisions("heading_injections", []string{"a", "b"}, ActionApprove, "reviewer", "bulk")
	if err != nil {
		t.Fatal(err)
	}
	if len(decisions) != 2 {
		t.Fatalf("got %d decisions", len(decisions))
	}
	if decisions[0].DecisionID == decisions[1].DecisionID {
		t.Error("decision ids must be unique")
	}

	if _, err := BulkDecisions("a", []string{"x"}, ActionEdit, "reviewer", ""); err == nil {
		t.Error("bulk edit must be rejected")
	}
}

func TestRenderSummaryMarkdown(t *testing.T) {
	summary := Summary{Resolved: 2, Approved: 1, Rejected: 1, Blocked: 1, BlockedItems: []string{"item-z"}}
	rendered := RenderSummaryMarkdown("heading_injections", summary)
	for _, fragment := range []string{"blocked: 1", "item-z", "approved: 1"} {
		if !strings.Contains(rendered, fragment) {
			t.Errorf("markdown missing %q:\n%s", fragment, rendered)
		}
	}
}
