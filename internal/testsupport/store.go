package testsupport

import (
	"testing"

	"subflow/internal/config"
	"subflow/internal/services/llm"
)

// MustOpenCallStore opens the LLM call cache for tests and registers cleanup.
func MustOpenCallStore(t testing.TB, cfg *config.Config) *llm.SQLiteStore {
	t.Helper()

	store, err := llm.OpenStore(cfg.CallCachePath())
	if err != nil {
		t.Fatalf("llm.OpenStore: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}
