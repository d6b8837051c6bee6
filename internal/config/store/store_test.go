package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func openTestStoreAt(t *testing.T, dbPath string) *Store {
	t.Helper()

	st, err := Open(context.Background(), Options{
		DBPath: dbPath,
		Logger: log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := st.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return st
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	return openTestStoreAt(t, filepath.Join(t.TempDir(), "config.db"))
}

// ---------------------------------------------------------------------------
// Not-found errors
// ---------------------------------------------------------------------------

func TestIsNotFound(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "direct not found",
			err:  &NotFoundError{Entity: "secret", Key: "openai.api_key"},
			want: true,
		},
		{
			name: "wrapped not found",
			err:  fmt.Errorf("lookup failed: %w", &NotFoundError{Entity: "setting", Key: "assistant.name"}),
			want: true,
		},
		{
			name: "other error",
			err:  errors.New("disk on fire"),
			want: false,
		},
		{
			name: "nil error",
			err:  nil,
			want: false,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := IsNotFound(tt.err); got != tt.want {
				t.Errorf("IsNotFound(%v) = %v; want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestNotFoundErrorMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  *NotFoundError
		want string
	}{
		{
			name: "with key",
			err:  &NotFoundError{Entity: "secret", Key: "weather.token"},
			want: `config: secret "weather.token" not found`,
		},
		{
			name: "without key",
			err:  &NotFoundError{Entity: "audio settings"},
			want: "config: audio settings not found",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q; want %q", got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Open / Close
// ---------------------------------------------------------------------------

func TestOpenCreatesDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "config.db")

	st := openTestStoreAt(t, dbPath)

	if st.Path() != dbPath {
		t.Errorf("Path() = %s; want %s", st.Path(), dbPath)
	}
	if st.ReadOnly() {
		t.Error("store should not be read-only")
	}
	if _, err := os.Stat(dbPath); err != nil {
		t.Fatalf("database file missing: %v", err)
	}
}

func TestCloseNilStore(t *testing.T) {
	t.Parallel()

	var st *Store
	if err := st.Close(); err != nil {
		t.Errorf("Close on nil store: %v", err)
	}
	if st.Path() != "" {
		t.Errorf("Path on nil store = %q", st.Path())
	}
	if st.ReadOnly() {
		t.Error("nil store reported read-only")
	}
	if st.DB() != nil {
		t.Error("nil store returned a handle")
	}
}

func TestReopenKeepsData(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "config.db")
	ctx := context.Background()

	st := openTestStoreAt(t, dbPath)
	if err := st.SaveSettings(ctx, map[string]string{"assistant.greeting": "Bonjour"}); err != nil {
		t.Fatalf("save settings: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	st2 := openTestStoreAt(t, dbPath)
	value, err := st2.GetSetting(ctx, "assistant.greeting")
	if err != nil {
		t.Fatalf("get setting after reopen: %v", err)
	}
	if value != "Bonjour" {
		t.Errorf("setting = %q; want %q", value, "Bonjour")
	}
}

// ---------------------------------------------------------------------------
// Read-only mode
// ---------------------------------------------------------------------------

func TestReadOnlyRejectsWrites(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "config.db")
	ctx := context.Background()

	st := openTestStoreAt(t, dbPath)
	if err := st.SaveSettings(ctx, map[string]string{"assistant.greeting": "Bonjour"}); err != nil {
		t.Fatalf("save settings: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	ro, err := Open(ctx, Options{
		DBPath:   dbPath,
		ReadOnly: true,
		Logger:   log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("open read-only: %v", err)
	}
	defer ro.Close()

	if !ro.ReadOnly() {
		t.Fatal("store should report read-only")
	}

	value, err := ro.GetSetting(ctx, "assistant.greeting")
	if err != nil {
		t.Fatalf("read in read-only mode: %v", err)
	}
	if value != "Bonjour" {
		t.Errorf("setting = %q; want %q", value, "Bonjour")
	}

	writes := []struct {
		name string
		err  error
	}{
		{"SaveSettings", ro.SaveSettings(ctx, map[string]string{"k": "v"})},
		{"DeleteSetting", ro.DeleteSetting(ctx, "assistant.greeting")},
		{"SaveSecret", ro.SaveSecret(ctx, "openai.api_key", "sk-test")},
	}
	for _, w := range writes {
		if w.err == nil || !strings.Contains(w.err.Error(), "read-only") {
			t.Errorf("%s in read-only mode: got %v; want read-only error", w.name, w.err)
		}
	}

	if _, err := ro.SaveAudioSettings(ctx, DefaultAudioSettings()); err == nil || !strings.Contains(err.Error(), "read-only") {
		t.Errorf("SaveAudioSettings in read-only mode: got %v; want read-only error", err)
	}
}
