package pipeline

import (
	"context"
	"fmt"
	"path/filepath"

	"bindery/internal/ingest"
	"bindery/internal/logging"
	"bindery/internal/runs"
	"bindery/internal/scan"
)

// ScanResult summarizes the scan stage for callers.
type ScanResult struct {
	Manifest *ingest.Manifest `json:"manifest"`
	Signals  *scan.Signals    `json:"signals"`
}

// Scan builds the source manifest and book-wide signals and records state
// SCANNED.
func (p *Pipeline) Scan(ctx context.Context, runID, bookID string) (*ScanResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir := p.runDir(runID, bookID)
	if err := dir.Ensure(); err != nil {
		return nil, err
	}

	sourceDir := filepath.Join(p.cfg.Paths.FixturesRoot, bookID)
	manifest, err := ingest.BuildManifest(bookID, sourceDir)
	if err != nil {
		_ = dir.WriteState(runs.StateFailed, err.Error())
		return nil, fmt.Errorf("scan %s: %w", bookID, err)
	}

	files, err := ingest.SortedSourceFiles(sourceDir)
	if err != nil {
		_ = dir.WriteState(runs.StateFailed, err.Error())
		return nil, fmt.Errorf("scan %s: %w", bookID, err)
	}
	signals, err := scan.ScanBook(files)
	if err != nil {
		_ = dir.WriteState(runs.StateFailed, err.Error())
		return nil, fmt.Errorf("scan %s: %w", bookID, err)
	}

	if err := writeJSONArtifact(dir.ArtifactPath(artifactManifest), manifest); err != nil {
		return nil, err
	}
	if err := writeJSONArtifact(dir.ArtifactPath(artifactScanSignals), signals); err != nil {
		return nil, err
	}
	if err := dir.WriteState(runs.StateScanned, ""); err != nil {
		return nil, err
	}

	p.logger.Info("scan complete",
		logging.String("book_id", bookID),
		logging.String("run_id", runID),
		logging.Int("files", manifest.FileCount),
		logging.Int("page_markers", len(signals.PageMarkers)))
	return &ScanResult{Manifest: manifest, Signals: signals}, nil
}
