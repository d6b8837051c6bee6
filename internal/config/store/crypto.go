package store

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Secrets are sealed with AES-256-GCM. The key lives next to the database
// so a copied instance directory stays self-contained.
const (
	keySize     = 32
	keyFileName = ".secrets.key"
	encPrefix   = "enc:v1:"
)

func keyFilePath(dbPath string) string {
	return filepath.Join(filepath.Dir(dbPath), keyFileName)
}

// loadKey reads the secrets key next to the database. A missing file is
// not an error; callers decide whether to create one.
func (s *Store) loadKey(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: stat key file: %w", err)
	}

	if info.Mode().Perm()&0o077 != 0 {
		s.logger.Printf("[Config] key file %s has loose permissions %v, expected 0600", path, info.Mode().Perm())
	}

	key, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read key file: %w", err)
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("config: key file %s holds %d bytes, expected %d", path, len(key), keySize)
	}

	return key, nil
}

// createKey generates a fresh key and installs it atomically. When two
// processes race, the one losing the os.Link adopts the winner's key.
func createKey(path string) ([]byte, error) {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("config: generate key: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), keyFileName+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("config: create key file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("config: restrict key file: %w", err)
	}
	if _, err := tmp.Write(key); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("config: write key file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("config: close key file: %w", err)
	}

	if err := os.Link(tmpName, path); err != nil {
		if errors.Is(err, os.ErrExist) {
			existing, readErr := os.ReadFile(path)
			if readErr == nil && len(existing) == keySize {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("config: install key file: %w", err)
	}

	return key, nil
}

func isEncrypted(value string) bool {
	return strings.HasPrefix(value, encPrefix)
}

// encryptValue seals plaintext with AES-GCM, prepending the nonce to the
// ciphertext before encoding.
func encryptValue(key []byte, plaintext string) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("config: init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("config: init gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("config: generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return encPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

func decryptValue(key []byte, stored string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, encPrefix))
	if err != nil {
		return "", fmt.Errorf("config: decode encrypted value: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("config: init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("config: init gcm: %w", err)
	}

	if len(raw) < gcm.NonceSize() {
		return "", errors.New("config: encrypted value too short")
	}

	nonce, ciphertext := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("config: open sealed value: %w", err)
	}

	return string(plain), nil
}

// hasEncryptedSecrets reports whether any stored secret carries the
// encryption prefix.
func (s *Store) hasEncryptedSecrets(ctx context.Context) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM secrets WHERE value LIKE ?`, encPrefix+"%").Scan(&n)
	if err != nil {
		return false, fmt.Errorf("config: inspect secrets: %w", err)
	}
	return n > 0, nil
}

// migratePlaintextSecrets encrypts secrets still stored in clear text,
// typically rows written before the key file existed.
func (s *Store) migratePlaintextSecrets(ctx context.Context) (int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM secrets WHERE value NOT LIKE ?`, encPrefix+"%")
	if err != nil {
		return 0, fmt.Errorf("config: scan plaintext secrets: %w", err)
	}

	pending := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			rows.Close()
			return 0, fmt.Errorf("config: scan plaintext secret: %w", err)
		}
		pending[key] = value
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("config: scan plaintext secrets: %w", err)
	}
	rows.Close()

	if len(pending) == 0 {
		return 0, nil
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		for key, value := range pending {
			encrypted, err := encryptValue(s.encryptionKey, value)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `UPDATE secrets SET value = ? WHERE key = ?`, encrypted, key); err != nil {
				return fmt.Errorf("config: encrypt secret %q: %w", key, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return len(pending), nil
}
