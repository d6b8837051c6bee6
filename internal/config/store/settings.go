package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/ada-ai/ada/internal/validate"
)

// LoadSettings returns key/value settings. With no arguments every stored
// setting is returned; otherwise only the requested keys are looked up.
func (s *Store) LoadSettings(ctx context.Context, keys ...string) (map[string]string, error) {
	if s == nil || s.db == nil {
		return nil, sql.ErrConnDone
	}

	query := `SELECT key, value FROM settings`
	args := make([]any, 0, len(keys))
	if len(keys) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(keys)), ", ")
		query += fmt.Sprintf(` WHERE key IN (%s)`, placeholders)
		for _, key := range keys {
			args = append(args, key)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("config: load settings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("config: scan setting: %w", err)
		}
		out[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("config: load settings: %w", err)
	}

	return out, nil
}

// GetSetting returns one setting value. Missing keys yield a NotFoundError.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	if s == nil || s.db == nil {
		return "", sql.ErrConnDone
	}

	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", &NotFoundError{Entity: "setting", Key: key}
	}
	if err != nil {
		return "", fmt.Errorf("config: get setting %q: %w", key, err)
	}
	return value, nil
}

// SaveSettings upserts the given key/value pairs in one transaction. Keys
// must be well-formed identifiers.
func (s *Store) SaveSettings(ctx context.Context, values map[string]string) error {
	if s == nil || s.db == nil {
		return sql.ErrConnDone
	}
	if s.readOnly {
		return fmt.Errorf("config: save settings: store opened read-only")
	}
	if len(values) == 0 {
		return nil
	}

	// Deterministic write order keeps retries and logs stable.
	keys := make([]string, 0, len(values))
	for key := range values {
		if !validate.Ident(key) {
			return fmt.Errorf("config: invalid setting key %q", key)
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, key := range keys {
			_, err := tx.ExecContext(ctx, `
                INSERT INTO settings (key, value, updated_at)
                VALUES (?, ?, STRFTIME('%Y-%m-%dT%H:%M:%fZ', 'now'))
                ON CONFLICT (key) DO UPDATE SET
                    value = excluded.value,
                    updated_at = excluded.updated_at`,
				key, values[key])
			if err != nil {
				return fmt.Errorf("config: save setting %q: %w", key, err)
			}
		}
		return nil
	})
}

// DeleteSetting removes a setting. Deleting a missing key is not an error.
func (s *Store) DeleteSetting(ctx context.Context, key string) error {
	if s == nil || s.db == nil {
		return sql.ErrConnDone
	}
	if s.readOnly {
		return fmt.Errorf("config: delete setting: store opened read-only")
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key); err != nil {
		return fmt.Errorf("config: delete setting %q: %w", key, err)
	}
	return nil
}
