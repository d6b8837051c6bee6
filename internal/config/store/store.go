// Package store persists Ada's configuration in a local SQLite database.
//
// The store owns the instance settings (per-module tuning, free-form
// key/value settings and secrets) and keeps secrets encrypted at rest with
// a key file living next to the database. All accessors are safe for
// concurrent use through database/sql.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/ada-ai/ada/internal/config"
)

// Options configures how the store is opened.
type Options struct {
	// DBPath points at the SQLite database file. Empty means the default
	// instance database under the Ada home directory.
	DBPath string

	// ReadOnly opens the database without applying schema changes and
	// rejects every write accessor.
	ReadOnly bool

	// Logger receives store diagnostics. Defaults to log.Default().
	Logger *log.Logger
}

// Store wraps the SQLite configuration database.
type Store struct {
	db            *sql.DB
	dbPath        string
	readOnly      bool
	encryptionKey []byte
	logger        *log.Logger
}

// NotFoundError indicates that a requested entity does not exist.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("config: %s not found", e.Entity)
	}
	return fmt.Sprintf("config: %s %q not found", e.Entity, e.Key)
}

// IsNotFound reports whether err wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// Open opens (and on first use creates) the configuration database.
func Open(ctx context.Context, opts Options) (*Store, error) {
	dbPath := strings.TrimSpace(opts.DBPath)
	if dbPath == "" {
		paths, err := config.EnsureInstanceDirs("")
		if err != nil {
			return nil, fmt.Errorf("config: prepare instance directories: %w", err)
		}
		dbPath = paths.ConfigDB
	}

	dsn := dbPath
	if opts.ReadOnly {
		dsn = fmt.Sprintf("file:%s?mode=ro", dbPath)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("config: open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	st := &Store{
		db:       db,
		dbPath:   dbPath,
		readOnly: opts.ReadOnly,
		logger:   logger,
	}

	if err := st.applyPragmas(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if !opts.ReadOnly {
		if err := st.applyMigrations(ctx); err != nil {
			db.Close()
			return nil, err
		}
		if err := st.seedDefaults(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}

	if err := st.initEncryption(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return st, nil
}

// initEncryption loads the secrets key, creating one for writable stores.
// Opening a writable store with encrypted secrets but no key file is
// refused so a fresh key can never shadow unreadable values.
func (s *Store) initEncryption(ctx context.Context) error {
	keyPath := keyFilePath(s.dbPath)

	key, err := s.loadKey(keyPath)
	if err != nil {
		return err
	}

	if key == nil && !s.readOnly {
		encrypted, err := s.hasEncryptedSecrets(ctx)
		if err != nil {
			return err
		}
		if encrypted {
			return fmt.Errorf("config: secrets are encrypted but key file %s is missing", keyPath)
		}
		key, err = createKey(keyPath)
		if err != nil {
			return err
		}
	}

	s.encryptionKey = key

	if !s.readOnly && key != nil {
		migrated, err := s.migratePlaintextSecrets(ctx)
		if err != nil {
			return err
		}
		if migrated > 0 {
			s.logger.Printf("[Config] encrypted %d plaintext secrets", migrated)
		}
	}

	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the raw handle for maintenance tooling.
func (s *Store) DB() *sql.DB {
	if s == nil {
		return nil
	}
	return s.db
}

// Path returns the database file path.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.dbPath
}

// ReadOnly reports whether the store rejects writes.
func (s *Store) ReadOnly() bool {
	return s != nil && s.readOnly
}

func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	if s == nil || s.db == nil {
		return sql.ErrConnDone
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("config: begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("config: rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("config: commit transaction: %w", err)
	}

	return nil
}
