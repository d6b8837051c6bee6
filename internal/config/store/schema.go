package store

import (
	"context"
	"fmt"
	"strings"
)

// Connection pragmas. Durability tuning is skipped for read-only handles.
var (
	basePragmas = []string{
		`PRAGMA busy_timeout = 5000`,
		`PRAGMA foreign_keys = ON`,
	}

	writePragmas = []string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA synchronous = NORMAL`,
		`PRAGMA temp_store = MEMORY`,
	}
)

const createMigrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TEXT NOT NULL DEFAULT (STRFTIME('%Y-%m-%dT%H:%M:%fZ', 'now'))
)`

type migration struct {
	version    int
	name       string
	statements []string
}

// migrations is the full schema history. Every database, fresh or old, is
// brought to the latest version by replaying the part it is missing.
var migrations = []migration{
	{
		version: 1,
		name:    "baseline",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS settings (
                key TEXT PRIMARY KEY,
                value TEXT NOT NULL,
                updated_at TEXT NOT NULL DEFAULT (STRFTIME('%Y-%m-%dT%H:%M:%fZ', 'now'))
            )`,
			`CREATE TABLE IF NOT EXISTS audio_settings (
                id INTEGER PRIMARY KEY CHECK (id = 1),
                sample_rate INTEGER NOT NULL DEFAULT 16000,
                voice TEXT NOT NULL DEFAULT 'default',
                volume REAL NOT NULL DEFAULT 0.8,
                language TEXT NOT NULL DEFAULT 'fr',
                metadata TEXT,
                updated_at TEXT NOT NULL DEFAULT (STRFTIME('%Y-%m-%dT%H:%M:%fZ', 'now'))
            )`,
			`CREATE TABLE IF NOT EXISTS vision_settings (
                id INTEGER PRIMARY KEY CHECK (id = 1),
                camera_index INTEGER NOT NULL DEFAULT 0,
                frame_width INTEGER NOT NULL DEFAULT 640,
                frame_height INTEGER NOT NULL DEFAULT 480,
                frame_rate INTEGER NOT NULL DEFAULT 15,
                detection_enabled INTEGER NOT NULL DEFAULT 1,
                updated_at TEXT NOT NULL DEFAULT (STRFTIME('%Y-%m-%dT%H:%M:%fZ', 'now'))
            )`,
			`CREATE TABLE IF NOT EXISTS conversation_settings (
                id INTEGER PRIMARY KEY CHECK (id = 1),
                max_history INTEGER NOT NULL DEFAULT 10,
                context_window INTEGER NOT NULL DEFAULT 5,
                language TEXT NOT NULL DEFAULT 'fr',
                updated_at TEXT NOT NULL DEFAULT (STRFTIME('%Y-%m-%dT%H:%M:%fZ', 'now'))
            )`,
			`CREATE TABLE IF NOT EXISTS secrets (
                key TEXT PRIMARY KEY,
                value TEXT NOT NULL,
                updated_at TEXT NOT NULL DEFAULT (STRFTIME('%Y-%m-%dT%H:%M:%fZ', 'now'))
            )`,
		},
	},
	{
		version: 2,
		name:    "vision detection labels",
		statements: []string{
			`ALTER TABLE vision_settings ADD COLUMN detection_labels TEXT`,
		},
	},
	{
		version: 3,
		name:    "conversation response timeout",
		statements: []string{
			`ALTER TABLE conversation_settings ADD COLUMN response_timeout_ms INTEGER NOT NULL DEFAULT 10000`,
		},
	},
}

func (s *Store) applyPragmas(ctx context.Context) error {
	pragmas := basePragmas
	if !s.readOnly {
		pragmas = append(append([]string{}, basePragmas...), writePragmas...)
	}

	for _, pragma := range pragmas {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("config: apply %s: %w", abbreviate(pragma), err)
		}
	}
	return nil
}

func abbreviate(stmt string) string {
	stmt = strings.Join(strings.Fields(stmt), " ")
	if len(stmt) > 60 {
		return stmt[:57] + "..."
	}
	return stmt
}
