package verifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"bindery/internal/logging"
)

// CacheEntry stores one accepted raw model response. The response bytes are
// kept verbatim so re-validation on lookup sees exactly what the provider
// returned.
type CacheEntry struct {
	Key        string          `json:"key"` // signature|model|prompt_hash
	Signature  string          `json:"signature"`
	Model      string          `json:"model"`
	PromptHash string          `json:"prompt_hash"`
	Response   json.RawMessage `json:"response"`
	CachedAt   time.Time       `json:"cached_at"`
}

// CacheKey builds the composite lookup key for one candidate verification.
func CacheKey(signature, model, promptHash string) string {
	return signature + "|" + model + "|" + promptHash
}

// Cache provides thread-safe access to the verification cache file. An empty
// path makes every operation a no-op.
type Cache struct {
	path    string
	logger  *slog.Logger
	mu      sync.RWMutex
	entries map[string]CacheEntry
}

// NewCache creates a cache instance backed by the given JSON file. The file
// is created lazily on first Store.
func NewCache(path string, logger *slog.Logger) *Cache {
	logger = logging.NewComponentLogger(logger, "verifier_cache")

	c := &Cache{
		path:    path,
		logger:  logger,
		entries: make(map[string]CacheEntry),
	}
	if path == "" {
		return c
	}
	if err := c.load(); err != nil {
		logger.Warn("failed to load verification cache",
			logging.Error(err),
			logging.String("path", path))
	}
	return c
}

// Lookup returns the cached entry for a key if present.
func (c *Cache) Lookup(key string) (CacheEntry, bool) {
	key = strings.TrimSpace(key)
	if key == "" || c.path == "" {
		return CacheEntry{}, false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, found := c.entries[key]
	return entry, found
}

// Store adds or updates an entry and persists the cache to disk.
func (c *Cache) Store(entry CacheEntry) error {
	entry.Key = strings.TrimSpace(entry.Key)
	if entry.Key == "" {
		return errors.New("cache key cannot be empty")
	}
	if c.path == "" {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[entry.Key] = entry
	if err := c.save(); err != nil {
		return fmt.Errorf("persist cache: %w", err)
	}

	c.logger.Debug("cached verification",
		logging.String("key", entry.Key),
		logging.String("model", entry.Model))
	return nil
}

// Count returns the number of cached entries.
func (c *Cache) Count() int {
	if c.path == "" {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) load() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read cache file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var entries []CacheEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parse cache file: %w", err)
	}

	c.entries = make(map[string]CacheEntry, len(entries))
	for _, entry := range entries {
		if strings.TrimSpace(entry.Key) != "" {
			c.entries[entry.Key] = entry
		}
	}
	return nil
}

// save writes the cache atomically via a temp file rename. Entries are sorted
// by key for deterministic file contents.
func (c *Cache) save() error {
	entries := make([]CacheEntry, 0, len(c.entries))
	for _, entry := range c.entries {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Key < entries[j].Key
	})

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}

	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
