package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"bindery/internal/logging"
	"bindery/internal/placement"
	"bindery/internal/textutil"
)

// Topic is a registry topic row with its notes attached.
type Topic struct {
	TopicID       string               `json:"topic_id"`
	ParentTopicID string               `json:"parent_topic_id,omitempty"`
	DisplayTitle  string               `json:"display_title"`
	Aliases       []string             `json:"aliases,omitempty"`
	Exemplars     []placement.Exemplar `json:"exemplars,omitempty"`
	Status        string               `json:"status"`
	Notes         string               `json:"notes,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

// FolderName is the stable corpus directory name for this topic.
func (t Topic) FolderName() string {
	return t.TopicID + "__" + textutil.SanitizePathComponent(t.DisplayTitle)
}

// TopicInput is one topic definition supplied to SyncTopics. An empty
// TopicID requests allocation; a malformed one is discarded and replaced by
// a freshly allocated id.
type TopicInput struct {
	TopicID       string               `json:"topic_id,omitempty"`
	ParentTopicID string               `json:"parent_topic_id,omitempty"`
	DisplayTitle  string               `json:"display_title"`
	Aliases       []string             `json:"aliases,omitempty"`
	Exemplars     []placement.Exemplar `json:"exemplars,omitempty"`
	Status        string               `json:"status,omitempty"`
	Notes         string               `json:"notes,omitempty"`
}

// SyncTopics upserts the supplied topic definitions in one transaction and
// re-exports topics.json after commit. It returns the synced topics with
// their final ids.
func (s *Store) SyncTopics(ctx context.Context, inputs []TopicInput) ([]Topic, error) {
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin sync tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	synced := make([]Topic, 0, len(inputs))
	for _, input := range inputs {
		title := strings.TrimSpace(input.DisplayTitle)
		if title == "" {
			return nil, errors.New("sync topics: display title required")
		}

		topicID := strings.TrimSpace(input.TopicID)
		switch {
		case topicID == "":
			topicID, err = allocateTopicID(ctx, tx)
			if err != nil {
				return nil, err
			}
		case topicIDPattern.MatchString(topicID):
			if err := bumpAllocatorFloor(ctx, tx, topicID); err != nil {
				return nil, err
			}
		default:
			s.logger.Warn("discarding malformed topic id",
				logging.String("topic_id", topicID),
				logging.String("display_title", title))
			topicID, err = allocateTopicID(ctx, tx)
			if err != nil {
				return nil, err
			}
		}

		status := strings.TrimSpace(input.Status)
		if status == "" {
			status = "active"
		}
		aliasesJSON, err := marshalList(input.Aliases)
		if err != nil {
			return nil, fmt.Errorf("marshal aliases: %w", err)
		}
		exemplarsJSON, err := json.Marshal(orEmptyExemplars(input.Exemplars))
		if err != nil {
			return nil, fmt.Errorf("marshal exemplars: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO topics (
                topic_id, parent_topic_id, display_title, aliases_json,
                exemplars_json, status, created_at, updated_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
            ON CONFLICT(topic_id) DO UPDATE SET
                parent_topic_id = excluded.parent_topic_id,
                display_title = excluded.display_title,
                aliases_json = excluded.aliases_json,
                exemplars_json = excluded.exemplars_json,
                status = excluded.status,
                updated_at = excluded.updated_at`,
			topicID,
			nullableString(strings.TrimSpace(input.ParentTopicID)),
			title,
			string(aliasesJSON),
			string(exemplarsJSON),
			status,
			timestamp,
			timestamp,
		); err != nil {
			return nil, fmt.Errorf("upsert topic %s: %w", topicID, err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO topic_notes (topic_id, notes, updated_at)
             VALUES (?, ?, ?)
             ON CONFLICT(topic_id) DO UPDATE SET
                notes = excluded.notes,
                updated_at = excluded.updated_at`,
			topicID, input.Notes, timestamp,
		); err != nil {
			return nil, fmt.Errorf("upsert topic notes %s: %w", topicID, err)
		}

		synced = append(synced, Topic{
			TopicID:       topicID,
			ParentTopicID: strings.TrimSpace(input.ParentTopicID),
			DisplayTitle:  title,
			Aliases:       input.Aliases,
			Exemplars:     input.Exemplars,
			Status:        status,
			Notes:         input.Notes,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit sync: %w", err)
	}

	if err := s.exportTopicsJSON(ctx); err != nil {
		return nil, fmt.Errorf("export topics.json: %w", err)
	}
	return synced, nil
}

// ListTopics returns every topic ordered by id.
func (s *Store) ListTopics(ctx context.Context) ([]Topic, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT t.topic_id, t.parent_topic_id, t.display_title, t.aliases_json,
                t.exemplars_json, t.status, COALESCE(n.notes, ''),
                t.created_at, t.updated_at
         FROM topics t
         LEFT JOIN topic_notes n ON n.topic_id = t.topic_id
         ORDER BY t.topic_id`)
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	defer rows.Close()

	var topics []Topic
	for rows.Next() {
		var (
			topic         Topic
			parent        sql.NullString
			aliasesJSON   string
			exemplarsJSON string
			createdAt     string
			updatedAt     string
		)
		if err := rows.Scan(&topic.TopicID, &parent, &topic.DisplayTitle, &aliasesJSON,
			&exemplarsJSON, &topic.Status, &topic.Notes, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan topic: %w", err)
		}
		topic.ParentTopicID = parent.String
		if err := json.Unmarshal([]byte(aliasesJSON), &topic.Aliases); err != nil {
			return nil, fmt.Errorf("parse aliases for %s: %w", topic.TopicID, err)
		}
		if err := json.Unmarshal([]byte(exemplarsJSON), &topic.Exemplars); err != nil {
			return nil, fmt.Errorf("parse exemplars for %s: %w", topic.TopicID, err)
		}
		if topic.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parse created_at for %s: %w", topic.TopicID, err)
		}
		if topic.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
			return nil, fmt.Errorf("parse updated_at for %s: %w", topic.TopicID, err)
		}
		topics = append(topics, topic)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate topics: %w", err)
	}
	return topics, nil
}

// PlacementTopics returns the active topics in the shape the placement
// engine consumes.
func (s *Store) PlacementTopics(ctx context.Context) ([]placement.Topic, error) {
	topics, err := s.ListTopics(ctx)
	if err != nil {
		return nil, err
	}
	converted := make([]placement.Topic, 0, len(topics))
	for _, topic := range topics {
		if topic.Status != "active" {
			continue
		}
		converted = append(converted, placement.Topic{
			TopicID:       topic.TopicID,
			ParentTopicID: topic.ParentTopicID,
			DisplayTitle:  topic.DisplayTitle,
			Aliases:       topic.Aliases,
			Status:        topic.Status,
			Exemplars:     topic.Exemplars,
		})
	}
	return converted, nil
}

type topicsExportEntry struct {
	TopicID       string   `json:"topic_id"`
	ParentTopicID string   `json:"parent_topic_id,omitempty"`
	DisplayTitle  string   `json:"display_title"`
	Folder        string   `json:"folder"`
	Aliases       []string `json:"aliases,omitempty"`
	Status        string   `json:"status"`
	Notes         string   `json:"notes,omitempty"`
}

// exportTopicsJSON rewrites the external topics.json view atomically.
func (s *Store) exportTopicsJSON(ctx context.Context) error {
	topics, err := s.ListTopics(ctx)
	if err != nil {
		return err
	}

	entries := make([]topicsExportEntry, 0, len(topics))
	for _, topic := range topics {
		entries = append(entries, topicsExportEntry{
			TopicID:       topic.TopicID,
			ParentTopicID: topic.ParentTopicID,
			DisplayTitle:  topic.DisplayTitle,
			Folder:        topic.FolderName(),
			Aliases:       topic.Aliases,
			Status:        topic.Status,
			Notes:         topic.Notes,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].TopicID < entries[j].TopicID
	})

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal topics export: %w", err)
	}

	exportPath := filepath.Join(s.corpusRoot, "topics.json")
	tmpPath := exportPath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write temp export: %w", err)
	}
	if err := os.Rename(tmpPath, exportPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename export: %w", err)
	}
	return nil
}

func marshalList(values []string) ([]byte, error) {
	if values == nil {
		values = []string{}
	}
	return json.Marshal(values)
}

func orEmptyExemplars(exemplars []placement.Exemplar) []placement.Exemplar {
	if exemplars == nil {
		return []placement.Exemplar{}
	}
	return exemplars
}
