package runs

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// State labels for run_state.json.
const (
	StateScanned              = "SCANNED"
	StateProposedReviewNeeded = "PROPOSED_REVIEW_REQUIRED"
	StateReviewBlocked        = "REVIEW_BLOCKED"
	StateApproved             = "APPROVED"
	StateApplied              = "APPLIED"
	StateFailed               = "FAILED"
)

const runIDLayout = "20060102T150405Z"

// NewRunID derives a run id from a UTC timestamp.
func NewRunID(now time.Time) string {
	return now.UTC().Format(runIDLayout)
}

// Dir locates the working directory for one book in one run.
type Dir struct {
	RunsRoot string `json:"runs_root"`
	RunID    string `json:"run_id"`
	BookID   string `json:"book_id"`
}

// NewDir builds the directory handle without touching the filesystem.
func NewDir(runsRoot, runID, bookID string) Dir {
	return Dir{RunsRoot: runsRoot, RunID: runID, BookID: bookID}
}

// Root is runs/<run_id>/<book_id>.
func (d Dir) Root() string {
	return filepath.Join(d.RunsRoot, d.RunID, d.BookID)
}

// ArtifactsDir is where stage outputs land.
func (d Dir) ArtifactsDir() string {
	return filepath.Join(d.Root(), "artifacts")
}

// LogsDir is where per-run log files land.
func (d Dir) LogsDir() string {
	return filepath.Join(d.Root(), "logs")
}

// ArtifactPath resolves a named artifact inside the run.
func (d Dir) ArtifactPath(name string) string {
	return filepath.Join(d.ArtifactsDir(), name)
}

// Ensure creates the artifacts and logs directories.
func (d Dir) Ensure() error {
	for _, dir := range []string{d.ArtifactsDir(), d.LogsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create run dir %s: %w", dir, err)
		}
	}
	return nil
}

// RunState is the persisted state of one book within one run.
type RunState struct {
	RunID     string    `json:"run_id"`
	BookID    string    `json:"book_id"`
	State     string    `json:"state"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WriteState persists run_state.json atomically.
func (d Dir) WriteState(state, errorMessage string) error {
	if err := d.Ensure(); err != nil {
		return err
	}
	payload := RunState{
		RunID:     d.RunID,
		BookID:    d.BookID,
		State:     state,
		Error:     errorMessage,
		UpdatedAt: time.Now().UTC(),
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run state: %w", err)
	}

	statePath := filepath.Join(d.Root(), "run_state.json")
	tmpPath := statePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write run state: %w", err)
	}
	if err := os.Rename(tmpPath, statePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename run state: %w", err)
	}
	return nil
}

// ReadState loads run_state.json for the run, or nil when none exists.
func (d Dir) ReadState() (*RunState, error) {
	data, err := os.ReadFile(filepath.Join(d.Root(), "run_state.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read run state: %w", err)
	}
	var state RunState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse run state: %w", err)
	}
	return &state, nil
}

// LatestRunID returns the most recent run id under runsRoot that contains
// the book, or an error when none exists.
func LatestRunID(runsRoot, bookID string) (string, error) {
	entries, err := os.ReadDir(runsRoot)
	if err != nil {
		return "", fmt.Errorf("read runs root: %w", err)
	}
	latest := ""
	for _, entry := range entries {
		if !entry.IsDir() || entry.Name() == "_ARCHIVE" {
			continue
		}
		if _, err := os.Stat(filepath.Join(runsRoot, entry.Name(), bookID)); err != nil {
			continue
		}
		// Run ids are lexically ordered timestamps.
		if entry.Name() > latest {
			latest = entry.Name()
		}
	}
	if latest == "" {
		return "", fmt.Errorf("no runs found for book %s", bookID)
	}
	return latest, nil
}

// ArchiveBookOutputs moves every existing run directory for a book into
// runs/_ARCHIVE/<run_id>/<book_id>, leaving other books' outputs in place.
func ArchiveBookOutputs(runsRoot, bookID string) error {
	entries, err := os.ReadDir(runsRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read runs root: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() || entry.Name() == "_ARCHIVE" {
			continue
		}
		bookDir := filepath.Join(runsRoot, entry.Name(), bookID)
		if _, err := os.Stat(bookDir); err != nil {
			continue
		}
		archiveDir := filepath.Join(runsRoot, "_ARCHIVE", entry.Name())
		if err := os.MkdirAll(archiveDir, 0o755); err != nil {
			return fmt.Errorf("create archive dir: %w", err)
		}
		target := filepath.Join(archiveDir, bookID)
		if _, err := os.Stat(target); err == nil {
			return fmt.Errorf("archive target already exists: %s", target)
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("stat archive target: %w", err)
		}
		if err := os.Rename(bookDir, target); err != nil {
			return fmt.Errorf("archive %s: %w", bookDir, err)
		}
	}
	return nil
}
