package testutil

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"testing"

	configstore "github.com/ada-ai/ada/internal/config/store"
)

// OpenStore creates a temporary config store and returns a cleanup function.
func OpenStore(t *testing.T) (*configstore.Store, func()) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "config.db")
	store, err := configstore.Open(context.Background(), configstore.Options{
		DBPath: dbPath,
		Logger: log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return store, func() { store.Close() }
}
