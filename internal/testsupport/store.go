package testsupport

import (
	"testing"

	"bindery/internal/config"
	"bindery/internal/logging"
	"bindery/internal/registry"
)

// MustOpenStore opens the corpus registry for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *registry.Store {
	t.Helper()

	store, err := registry.Open(cfg.Paths.CorpusRoot, logging.NewNop())
	if err != nil {
		t.Fatalf("registry.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}
