package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bindery/internal/logging"
	"bindery/internal/placement"
)

// LineageDeprecates marks the edge from a new chunk version to the one it
// replaces.
const LineageDeprecates = "deprecates"

// ChunkVersionInput describes one approved chunk being recorded.
type ChunkVersionInput struct {
	ChunkKey   string `json:"chunk_key"`
	BookID     string `json:"book_id"`
	RunID      string `json:"run_id"`
	Anchor     string `json:"anchor"`
	Heading    string `json:"heading"`
	LineStart  int    `json:"line_start"`
	LineEnd    int    `json:"line_end"`
	BodySHA256 string `json:"body_sha256"`
}

// ChunkVersion is one recorded version row.
type ChunkVersion struct {
	ID         int64     `json:"id"`
	ChunkKey   string    `json:"chunk_key"`
	Version    int       `json:"version"`
	BookID     string    `json:"book_id"`
	RunID      string    `json:"run_id"`
	Anchor     string    `json:"anchor"`
	Heading    string    `json:"heading"`
	LineStart  int       `json:"line_start"`
	LineEnd    int       `json:"line_end"`
	BodySHA256 string    `json:"body_sha256"`
	Supersedes int64     `json:"supersedes,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// RecordChunkPlacement appends a new chunk version and its placement
// decision in one transaction. When a prior version of the chunk key exists,
// the new row supersedes it and a deprecates lineage edge is added; the
// prior row itself is never mutated.
func (s *Store) RecordChunkPlacement(ctx context.Context, chunk ChunkVersionInput, decision placement.Decision) (int64, error) {
	if chunk.ChunkKey == "" {
		return 0, errors.New("record chunk: chunk key required")
	}
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin chunk tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var (
		prevID      sql.NullInt64
		prevVersion int
	)
	row := tx.QueryRowContext(ctx,
		`SELECT id, version FROM chunk_versions
         WHERE chunk_key = ? ORDER BY version DESC LIMIT 1`,
		chunk.ChunkKey)
	switch err := row.Scan(&prevID, &prevVersion); {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return 0, fmt.Errorf("lookup latest version: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO chunk_versions (
            chunk_key, version, book_id, run_id, anchor, heading,
            line_start, line_end, body_sha256, supersedes, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		chunk.ChunkKey,
		prevVersion+1,
		chunk.BookID,
		chunk.RunID,
		chunk.Anchor,
		chunk.Heading,
		chunk.LineStart,
		chunk.LineEnd,
		chunk.BodySHA256,
		nullableInt64(prevID),
		timestamp,
	)
	if err != nil {
		return 0, fmt.Errorf("insert chunk version: %w", err)
	}
	versionID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}

	if prevID.Valid {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chunk_lineage_links (from_version_id, to_version_id, relation, created_at)
             VALUES (?, ?, ?, ?)`,
			versionID, prevID.Int64, LineageDeprecates, timestamp,
		); err != nil {
			return 0, fmt.Errorf("insert lineage link: %w", err)
		}
	}

	reasonsJSON, err := marshalList(decision.Reasons)
	if err != nil {
		return 0, fmt.Errorf("marshal reasons: %w", err)
	}
	candidatesJSON, err := json.Marshal(orEmptyCandidates(decision.Candidates))
	if err != nil {
		return 0, fmt.Errorf("marshal candidates: %w", err)
	}

	decisionRes, err := tx.ExecContext(ctx,
		`INSERT INTO placement_decisions (
            chunk_version_id, status, chosen_topic_id, confidence,
            reasons_json, candidates_json, decided_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		versionID,
		decision.Status,
		nullableString(decision.ChosenTopicID),
		decision.Confidence,
		string(reasonsJSON),
		string(candidatesJSON),
		timestamp,
	)
	if err != nil {
		return 0, fmt.Errorf("insert placement decision: %w", err)
	}
	decisionID, err := decisionRes.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("decision insert id: %w", err)
	}

	rationaleJSON, err := json.Marshal(decision)
	if err != nil {
		return 0, fmt.Errorf("marshal rationale: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO placement_decision_provenance (
            decision_id, run_id, book_id, engine, rationale_json, recorded_at
        ) VALUES (?, ?, ?, ?, ?, ?)`,
		decisionID,
		chunk.RunID,
		chunk.BookID,
		"lexical_jaccard",
		string(rationaleJSON),
		timestamp,
	); err != nil {
		return 0, fmt.Errorf("insert provenance: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit chunk placement: %w", err)
	}

	s.logger.Debug("recorded chunk placement",
		logging.String("chunk_key", chunk.ChunkKey),
		logging.Int("version", prevVersion+1),
		logging.String("status", decision.Status))
	return versionID, nil
}

// LatestChunkVersion returns the newest version for a chunk key, or nil when
// the key has never been recorded.
func (s *Store) LatestChunkVersion(ctx context.Context, chunkKey string) (*ChunkVersion, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, chunk_key, version, book_id, run_id, anchor, heading,
                line_start, line_end, body_sha256, supersedes, created_at
         FROM chunk_versions WHERE chunk_key = ? ORDER BY version DESC LIMIT 1`,
		chunkKey)

	var (
		version    ChunkVersion
		supersedes sql.NullInt64
		createdAt  string
	)
	err := row.Scan(&version.ID, &version.ChunkKey, &version.Version, &version.BookID,
		&version.RunID, &version.Anchor, &version.Heading, &version.LineStart,
		&version.LineEnd, &version.BodySHA256, &supersedes, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest version: %w", err)
	}
	version.Supersedes = supersedes.Int64
	if version.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	return &version, nil
}

// CountChunkVersions returns the number of version rows for a book.
func (s *Store) CountChunkVersions(ctx context.Context, bookID string) (int, error) {
	var count int
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM chunk_versions WHERE book_id = ?`, bookID)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count chunk versions: %w", err)
	}
	return count, nil
}

// LineageLinks returns the lineage edges originating at a version.
func (s *Store) LineageLinks(ctx context.Context, fromVersionID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT to_version_id FROM chunk_lineage_links
         WHERE from_version_id = ? AND relation = ? ORDER BY id`,
		fromVersionID, LineageDeprecates)
	if err != nil {
		return nil, fmt.Errorf("list lineage links: %w", err)
	}
	defer rows.Close()

	var targets []int64
	for rows.Next() {
		var target int64
		if err := rows.Scan(&target); err != nil {
			return nil, fmt.Errorf("scan lineage link: %w", err)
		}
		targets = append(targets, target)
	}
	return targets, rows.Err()
}

func nullableInt64(value sql.NullInt64) any {
	if !value.Valid {
		return nil
	}
	return value.Int64
}

func orEmptyCandidates(candidates []placement.Candidate) []placement.Candidate {
	if candidates == nil {
		return []placement.Candidate{}
	}
	return candidates
}
