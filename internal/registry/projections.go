package registry

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bindery/internal/logging"
)

// Projection is one derived read-model row.
type Projection struct {
	ID               int64  `json:"id"`
	RunID            string `json:"run_id"`
	Kind             string `json:"kind"`
	DeterministicKey string `json:"deterministic_key"`
	PayloadJSON      string `json:"payload_json"`
	PayloadSHA256    string `json:"payload_sha256"`
}

// canonicalPayload renders a payload as JSON with object keys sorted, so the
// same logical payload always hashes the same regardless of field order.
func canonicalPayload(payload any) (string, string, error) {
	first, err := json.Marshal(payload)
	if err != nil {
		return "", "", fmt.Errorf("marshal payload: %w", err)
	}
	var generic any
	if err := json.Unmarshal(first, &generic); err != nil {
		return "", "", fmt.Errorf("normalize payload: %w", err)
	}
	canonical, err := json.Marshal(generic)
	if err != nil {
		return "", "", fmt.Errorf("canonicalize payload: %w", err)
	}
	digest := sha256.Sum256(canonical)
	return string(canonical), hex.EncodeToString(digest[:]), nil
}

// AddProjection upserts a derived view for a run. The row is keyed by
// (run_id, kind, deterministic_key) where the key embeds the payload's
// content hash; re-adding identical content is a no-op row-wise. When the
// kind's most recent payload hash differs from the new one, a regeneration
// event records the old and new hashes.
func (s *Store) AddProjection(ctx context.Context, runID, kind string, payload any) (*Projection, error) {
	if runID == "" || kind == "" {
		return nil, errors.New("add projection: run id and kind required")
	}

	payloadJSON, payloadHash, err := canonicalPayload(payload)
	if err != nil {
		return nil, err
	}
	deterministicKey := kind + ":" + payloadHash[:16]
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin projection tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var previousHash sql.NullString
	row := tx.QueryRowContext(ctx,
		`SELECT payload_sha256 FROM projections
         WHERE run_id = ? AND kind = ? ORDER BY updated_at DESC, id DESC LIMIT 1`,
		runID, kind)
	switch err := row.Scan(&previousHash); {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("lookup previous projection: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO projections (
            run_id, kind, deterministic_key, payload_json, payload_sha256,
            created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(run_id, kind, deterministic_key) DO UPDATE SET
            payload_json = excluded.payload_json,
            payload_sha256 = excluded.payload_sha256,
            updated_at = excluded.updated_at`,
		runID, kind, deterministicKey, payloadJSON, payloadHash,
		timestamp, timestamp,
	); err != nil {
		return nil, fmt.Errorf("upsert projection: %w", err)
	}

	if previousHash.Valid && previousHash.String != payloadHash {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO projection_regenerations (run_id, kind, old_sha256, new_sha256, regenerated_at)
             VALUES (?, ?, ?, ?, ?)`,
			runID, kind, previousHash.String, payloadHash, timestamp,
		); err != nil {
			return nil, fmt.Errorf("record regeneration: %w", err)
		}
		s.logger.Info("projection regenerated",
			logging.String("run_id", runID),
			logging.String("kind", kind))
	}

	var projection Projection
	projectionRow := tx.QueryRowContext(ctx,
		`SELECT id, run_id, kind, deterministic_key, payload_json, payload_sha256
         FROM projections WHERE run_id = ? AND kind = ? AND deterministic_key = ?`,
		runID, kind, deterministicKey)
	if err := projectionRow.Scan(&projection.ID, &projection.RunID, &projection.Kind,
		&projection.DeterministicKey, &projection.PayloadJSON, &projection.PayloadSHA256); err != nil {
		return nil, fmt.Errorf("read projection back: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit projection: %w", err)
	}
	return &projection, nil
}

// CountRegenerations returns the regeneration event count for a run and kind.
func (s *Store) CountRegenerations(ctx context.Context, runID, kind string) (int, error) {
	var count int
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM projection_regenerations WHERE run_id = ? AND kind = ?`,
		runID, kind)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count regenerations: %w", err)
	}
	return count, nil
}
