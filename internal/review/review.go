package review

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Action is a reviewer verdict on one proposed item.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionEdit    Action = "edit"
)

// Valid reports whether the action is one of the closed set.
func (a Action) Valid() bool {
	switch a {
	case ActionApprove, ActionReject, ActionEdit:
		return true
	default:
		return false
	}
}

// DecisionRecord is one reviewer decision against one proposed item.
type DecisionRecord struct {
	DecisionID  string    `json:"decision_id"`
	Artifact    string    `json:"artifact"`
	ItemID      string    `json:"item_id"`
	Decision    Action    `json:"decision"`
	Reviewer    string    `json:"reviewer"`
	Timestamp   time.Time `json:"timestamp"`
	Reason      string    `json:"reason,omitempty"`
	EditedValue string    `json:"edited_value,omitempty"`
}

// NewDecision builds a record with a fresh id and UTC timestamp.
func NewDecision(artifact, itemID string, action Action, reviewer, reason string) DecisionRecord {
	return DecisionRecord{
		DecisionID: uuid.NewString(),
		Artifact:   artifact,
		ItemID:     itemID,
		Decision:   action,
		Reviewer:   reviewer,
		Timestamp:  time.Now().UTC(),
		Reason:     reason,
	}
}

// Summary is the fail-closed resolution of a proposal against its decisions.
type Summary struct {
	Resolved     int      `json:"resolved"`
	Approved     int      `json:"approved"`
	Edited       int      `json:"edited"`
	Rejected     int      `json:"rejected"`
	Blocked      int      `json:"blocked"`
	BlockedItems []string `json:"blocked_items,omitempty"`
}

// Passed reports whether apply may proceed.
func (s Summary) Passed() bool {
	return s.Blocked == 0
}

// Resolve matches proposed item ids against decisions. Undecided items
// block. Multiple decisions for one item keep the latest by timestamp.
func Resolve(itemIDs []string, decisions []DecisionRecord) (Summary, error) {
	latest := make(map[string]DecisionRecord, len(decisions))
	for _, decision := range decisions {
		if !decision.Decision.Valid() {
			return Summary{}, fmt.Errorf("decision %s: unknown action %q", decision.DecisionID, decision.Decision)
		}
		current, seen := latest[decision.ItemID]
		if !seen || decision.Timestamp.After(current.Timestamp) {
			latest[decision.ItemID] = decision
		}
	}

	var summary Summary
	for _, itemID := range itemIDs {
		decision, found := latest[itemID]
		if !found {
			summary.Blocked++
			summary.BlockedItems = append(summary.BlockedItems, itemID)
			continue
		}
		switch decision.Decision {
		case ActionApprove:
			summary.Resolved++
			summary.Approved++
		case ActionReject:
			summary.Resolved++
			summary.Rejected++
		case ActionEdit:
			if strings.TrimSpace(decision.EditedValue) == "" {
				summary.Blocked++
				summary.BlockedItems = append(summary.BlockedItems, itemID)
				continue
			}
			summary.Resolved++
			summary.Edited++
		default:
			return Summary{}, fmt.Errorf("item %s: unknown action %q", itemID, decision.Decision)
		}
	}
	sort.Strings(summary.BlockedItems)
	return summary, nil
}

// Outcome returns the effective decision for one item, with found=false when
// the item is undecided or its edit is missing a payload.
func Outcome(itemID string, decisions []DecisionRecord) (DecisionRecord, bool) {
	var (
		latest DecisionRecord
		found  bool
	)
	for _, decision := range decisions {
		if decision.ItemID != itemID {
			continue
		}
		if !found || decision.Timestamp.After(latest.Timestamp) {
			latest = decision
			found = true
		}
	}
	if !found {
		return DecisionRecord{}, false
	}
	if latest.Decision == ActionEdit && strings.TrimSpace(latest.EditedValue) == "" {
		return DecisionRecord{}, false
	}
	return latest, true
}

// ReadDecisions parses a decisions JSONL stream, skipping blank lines.
func ReadDecisions(r io.Reader) ([]DecisionRecord, error) {
	var decisions []DecisionRecord
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var decision DecisionRecord
		if err := json.Unmarshal([]byte(text), &decision); err != nil {
			return nil, fmt.Errorf("decisions line %d: %w", line, err)
		}
		if !decision.Decision.Valid() {
			return nil, fmt.Errorf("decisions line %d: unknown action %q", line, decision.Decision)
		}
		decisions = append(decisions, decision)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read decisions: %w", err)
	}
	return decisions, nil
}

// ReadDecisionsFile parses a decisions JSONL file.
func ReadDecisionsFile(path string) ([]DecisionRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open decisions: %w", err)
	}
	defer file.Close()
	return ReadDecisions(file)
}

// WriteDecisions writes decisions as JSONL.
func WriteDecisions(w io.Writer, decisions []DecisionRecord) error {
	encoder := json.NewEncoder(w)
	for _, decision := range decisions {
		if !decision.Decision.Valid() {
			return fmt.Errorf("decision %s: unknown action %q", decision.DecisionID, decision.Decision)
		}
		if err := encoder.Encode(decision); err != nil {
			return fmt.Errorf("encode decision: %w", err)
		}
	}
	return nil
}

// BulkDecisions builds one decision per item id with a shared action.
func BulkDecisions(artifact string, itemIDs []string, action Action, reviewer, reason string) ([]DecisionRecord, error) {
	if !action.Valid() {
		return nil, fmt.Errorf("unknown action %q", action)
	}
	if action == ActionEdit {
		return nil, errors.New("bulk edit is not supported: edits need per-item payloads")
	}
	decisions := make([]DecisionRecord, 0, len(itemIDs))
	for _, itemID := range itemIDs {
		decisions = append(decisions, NewDecision(artifact, itemID, action, reviewer, reason))
	}
	return decisions, nil
}

// RenderSummaryMarkdown renders the reviewer-facing resolution summary.
func RenderSummaryMarkdown(artifact string, summary Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Review summary: %s\n\n", artifact)
	fmt.Fprintf(&b, "- resolved: %d\n", summary.Resolved)
	fmt.Fprintf(&b, "- approved: %d\n", summary.Approved)
	fmt.Fprintf(&b, "- edited: %d\n", summary.Edited)
	fmt.Fprintf(&b, "- rejected: %d\n", summary.Rejected)
	fmt.Fprintf(&b, "- blocked: %d\n", summary.Blocked)
	if len(summary.BlockedItems) > 0 {
		b.WriteString("\n## Blocked items\n\n")
		for _, itemID := range summary.BlockedItems {
			fmt.Fprintf(&b, "- %s\n", itemID)
		}
	}
	return b.String()
}
