package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/ada-ai/ada/internal/validate"
)

// SaveSecret stores one secret, encrypting the value at rest.
func (s *Store) SaveSecret(ctx context.Context, key, value string) error {
	if s == nil || s.db == nil {
		return sql.ErrConnDone
	}
	if s.readOnly {
		return fmt.Errorf("config: save secret: store opened read-only")
	}
	if !validate.Ident(key) {
		return fmt.Errorf("config: invalid secret key %q", key)
	}

	stored := value
	if s.encryptionKey != nil {
		encrypted, err := encryptValue(s.encryptionKey, value)
		if err != nil {
			return err
		}
		stored = encrypted
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
            INSERT INTO secrets (key, value, updated_at)
            VALUES (?, ?, STRFTIME('%Y-%m-%dT%H:%M:%fZ', 'now'))
            ON CONFLICT (key) DO UPDATE SET
                value = excluded.value,
                updated_at = excluded.updated_at`,
			key, stored)
		if err != nil {
			return fmt.Errorf("config: save secret %q: %w", key, err)
		}
		return nil
	})
}

// GetSecret returns one decrypted secret. Missing keys yield a
// NotFoundError.
func (s *Store) GetSecret(ctx context.Context, key string) (string, error) {
	if s == nil || s.db == nil {
		return "", sql.ErrConnDone
	}

	var stored string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM secrets WHERE key = ?`, key).Scan(&stored)
	if err == sql.ErrNoRows {
		return "", &NotFoundError{Entity: "secret", Key: key}
	}
	if err != nil {
		return "", fmt.Errorf("config: get secret %q: %w", key, err)
	}

	return s.revealSecret(key, stored)
}

// LoadSecrets returns decrypted secrets. With no arguments every secret is
// returned; otherwise only the requested keys are looked up.
func (s *Store) LoadSecrets(ctx context.Context, keys ...string) (map[string]string, error) {
	if s == nil || s.db == nil {
		return nil, sql.ErrConnDone
	}

	query := `SELECT key, value FROM secrets`
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
		return nil, fmt.Errorf("config: load secrets: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var key, stored string
		if err := rows.Scan(&key, &stored); err != nil {
			return nil, fmt.Errorf("config: scan secret: %w", err)
		}
		value, err := s.revealSecret(key, stored)
		if err != nil {
			return nil, err
		}
		out[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("config: load secrets: %w", err)
	}

	return out, nil
}

// SecretKeys returns the stored secret names without touching the values.
func (s *Store) SecretKeys(ctx context.Context) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, sql.ErrConnDone
	}

	rows, err := s.db.QueryContext(ctx, `SELECT key FROM secrets ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("config: list secrets: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("config: scan secret key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("config: list secrets: %w", err)
	}

	return keys, nil
}

// DeleteSecret removes a secret. Missing keys yield a NotFoundError.
func (s *Store) DeleteSecret(ctx context.Context, key string) error {
	if s == nil || s.db == nil {
		return sql.ErrConnDone
	}
	if s.readOnly {
		return fmt.Errorf("config: delete secret: store opened read-only")
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM secrets WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("config: delete secret %q: %w", key, err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return &NotFoundError{Entity: "secret", Key: key}
	}
	return nil
}

func (s *Store) revealSecret(key, stored string) (string, error) {
	if !isEncrypted(stored) {
		return stored, nil
	}
	if s.encryptionKey == nil {
		return "", fmt.Errorf("config: secret %q is encrypted but no key is available", key)
	}
	value, err := decryptValue(s.encryptionKey, stored)
	if err != nil {
		return "", fmt.Errorf("config: decrypt secret %q: %w", key, err)
	}
	return value, nil
}
