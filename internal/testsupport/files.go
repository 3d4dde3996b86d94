package testsupport

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"bindery/internal/config"
)

// WriteBookFixture drops one HTML export file for a book under the fixtures
// root and returns its path.
func WriteBookFixture(t testing.TB, cfg *config.Config, bookID, fileName, html string) string {
	t.Helper()

	bookDir := filepath.Join(cfg.Paths.FixturesRoot, bookID)
	if err := os.MkdirAll(bookDir, 0o755); err != nil {
		t.Fatalf("mkdir book fixture dir: %v", err)
	}
	path := filepath.Join(bookDir, fileName)
	if err := os.WriteFile(path, []byte(html), 0o644); err != nil {
		t.Fatalf("write book fixture %s: %v", path, err)
	}
	return path
}

func quoteJSON(value string) string {
	data, err := json.Marshal(value)
	if err != nil {
		panic(err)
	}
	return string(data)
}
