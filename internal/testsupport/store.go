package testsupport

import (
	"context"
	"testing"

	"platter/internal/config"
	"platter/internal/defaults"
)

// MustOpenStore opens a defaults store against the test config and registers
// cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *defaults.Store {
	t.Helper()

	store, err := defaults.Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("open defaults store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close defaults store: %v", err)
		}
	})
	return store
}
