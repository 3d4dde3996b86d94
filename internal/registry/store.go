package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	"bindery/internal/logging"
)

// ErrLocked indicates another process holds the registry lock.
var ErrLocked = errors.New("registry is locked by another process")

var topicIDPattern = regexp.MustCompile(`^T(\d{6})$`)

// Store manages corpus persistence backed by SQLite.
type Store struct {
	db         *sql.DB
	path       string
	corpusRoot string
	lock       *flock.Flock
	logger     *slog.Logger
}

// Open initializes or connects to the registry database under
// <corpusRoot>/registry, acquires the single-writer lock, applies
// migrations, and re-seeds the topic id allocator.
func Open(corpusRoot string, logger *slog.Logger) (*Store, error) {
	registryDir := filepath.Join(corpusRoot, "registry")
	if err := os.MkdirAll(registryDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure registry dir: %w", err)
	}

	lock := flock.New(filepath.Join(registryDir, "registry.lock"))
	held, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire registry lock: %w", err)
	}
	if !held {
		return nil, ErrLocked
	}

	dbPath := filepath.Join(registryDir, "registry.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			_ = lock.Unlock()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{
		db:         db,
		path:       dbPath,
		corpusRoot: corpusRoot,
		lock:       lock,
		logger:     logging.NewComponentLogger(logger, "registry"),
	}
	ctx := context.Background()
	if err := store.applyMigrations(ctx); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, err
	}
	if err := store.reseedAllocator(ctx); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, err
	}

	return store, nil
}

// Close closes the database and releases the registry lock.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	var dbErr error
	if s.db != nil {
		dbErr = s.db.Close()
	}
	if s.lock != nil {
		if err := s.lock.Unlock(); err != nil && dbErr == nil {
			dbErr = err
		}
	}
	return dbErr
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// reseedAllocator raises the allocator floor to one past the highest
// well-formed topic id already present, so allocation stays monotonic across
// restarts even if the allocator row was lost or reset.
func (s *Store) reseedAllocator(ctx context.Context) error {
	var maxID sql.NullString
	row := s.db.QueryRowContext(ctx,
		`SELECT MAX(topic_id) FROM topics WHERE topic_id GLOB 'T[0-9][0-9][0-9][0-9][0-9][0-9]'`)
	if err := row.Scan(&maxID); err != nil {
		return fmt.Errorf("scan max topic id: %w", err)
	}
	if !maxID.Valid {
		return nil
	}
	match := topicIDPattern.FindStringSubmatch(maxID.String)
	if match == nil {
		return nil
	}
	serial, err := strconv.Atoi(match[1])
	if err != nil {
		return fmt.Errorf("parse topic serial %q: %w", maxID.String, err)
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE topic_id_allocator SET next_serial = MAX(next_serial, ?) WHERE id = 1`,
		serial+1); err != nil {
		return fmt.Errorf("reseed allocator: %w", err)
	}
	return nil
}

// allocateTopicID reserves the next serial inside the caller's transaction.
func allocateTopicID(ctx context.Context, tx *sql.Tx) (string, error) {
	var serial int
	row := tx.QueryRowContext(ctx, `SELECT next_serial FROM topic_id_allocator WHERE id = 1`)
	if err := row.Scan(&serial); err != nil {
		return "", fmt.Errorf("scan allocator: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE topic_id_allocator SET next_serial = next_serial + 1 WHERE id = 1`); err != nil {
		return "", fmt.Errorf("advance allocator: %w", err)
	}
	return fmt.Sprintf("T%06d", serial), nil
}

// bumpAllocatorFloor ensures future allocations land past a supplied
// well-formed id.
func bumpAllocatorFloor(ctx context.Context, tx *sql.Tx, topicID string) error {
	match := topicIDPattern.FindStringSubmatch(topicID)
	if match == nil {
		return nil
	}
	serial, err := strconv.Atoi(match[1])
	if err != nil {
		return fmt.Errorf("parse topic serial %q: %w", topicID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE topic_id_allocator SET next_serial = MAX(next_serial, ?) WHERE id = 1`,
		serial+1); err != nil {
		return fmt.Errorf("bump allocator floor: %w", err)
	}
	return nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
