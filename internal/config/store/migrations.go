package store

import (
	"context"
	"database/sql"
	"fmt"
)

// applyMigrations replays every schema migration the database has not seen
// yet, each inside its own transaction, and records the applied version in
// schema_migrations.
func (s *Store) applyMigrations(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createMigrationsTable); err != nil {
		return fmt.Errorf("config: create schema_migrations: %w", err)
	}

	var current int
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("config: read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}

		err := s.withTx(ctx, func(tx *sql.Tx) error {
			for _, stmt := range m.statements {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return fmt.Errorf("config: migration %d (%s): %s: %w", m.version, m.name, abbreviate(stmt), err)
				}
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO schema_migrations (version, name) VALUES (?, ?)`,
				m.version, m.name); err != nil {
				return fmt.Errorf("config: record migration %d: %w", m.version, err)
			}
			return nil
		})
		if err != nil {
			return err
		}

		s.logger.Printf("[Config] applied migration %d (%s)", m.version, m.name)
	}

	return nil
}

// SchemaVersion returns the highest applied migration version.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	if s == nil || s.db == nil {
		return 0, sql.ErrConnDone
	}

	var version int
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&version); err != nil {
		return 0, fmt.Errorf("config: read schema version: %w", err)
	}
	return version, nil
}

// EnsureModuleSettings reconciles every per-module settings row against its
// validation rules, rewriting rows that drifted out of range. It returns
// the names of the modules whose settings were corrected.
func (s *Store) EnsureModuleSettings(ctx context.Context) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, sql.ErrConnDone
	}

	var corrected []string

	changed, err := s.EnsureAudioSettings(ctx)
	if err != nil {
		return corrected, err
	}
	if changed {
		corrected = append(corrected, "audio")
	}

	changed, err = s.EnsureVisionSettings(ctx)
	if err != nil {
		return corrected, err
	}
	if changed {
		corrected = append(corrected, "vision")
	}

	changed, err = s.EnsureConversationSettings(ctx)
	if err != nil {
		return corrected, err
	}
	if changed {
		corrected = append(corrected, "conversation")
	}

	return corrected, nil
}
