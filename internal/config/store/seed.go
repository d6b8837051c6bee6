package store

import (
	"context"
	"database/sql"
	"fmt"
)

// seedDefaults inserts the singleton settings rows and baseline key/value
// entries on first open. Existing rows are left untouched.
func (s *Store) seedDefaults(ctx context.Context) error {
	seeds := []string{
		`INSERT INTO audio_settings (id) VALUES (1)
            ON CONFLICT (id) DO NOTHING`,
		`INSERT INTO vision_settings (id) VALUES (1)
            ON CONFLICT (id) DO NOTHING`,
		`INSERT INTO conversation_settings (id) VALUES (1)
            ON CONFLICT (id) DO NOTHING`,
		`INSERT INTO settings (key, value) VALUES ('assistant.name', 'Ada')
            ON CONFLICT (key) DO NOTHING`,
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range seeds {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("config: seed defaults: %s: %w", abbreviate(stmt), err)
			}
		}
		return nil
	})
}
