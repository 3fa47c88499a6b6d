package testsupport

import (
	"testing"

	"curator/internal/checkpoint"
	"curator/internal/config"
)

// MustOpenCheckpoint opens the checkpoint described by cfg and registers cleanup.
func MustOpenCheckpoint(t testing.TB, cfg *config.Config) *checkpoint.Store {
	t.Helper()

	store, err := checkpoint.Open(checkpoint.OptionsFromConfig(cfg, nil))
	if err != nil {
		t.Fatalf("checkpoint.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}
