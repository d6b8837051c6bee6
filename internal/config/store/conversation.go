package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ada-ai/ada/internal/validate"
)

// ConversationSettings holds the conversation module configuration.
type ConversationSettings struct {
	MaxHistory      int
	ContextWindow   int
	Language        string
	ResponseTimeout time.Duration
	UpdatedAt       string
}

// DefaultConversationSettings returns the conversation configuration used
// when nothing has been stored yet.
func DefaultConversationSettings() ConversationSettings {
	return ConversationSettings{
		MaxHistory:      10,
		ContextWindow:   5,
		Language:        "fr",
		ResponseTimeout: 10 * time.Second,
	}
}

func normalizeConversationSettings(in ConversationSettings) (ConversationSettings, bool) {
	def := DefaultConversationSettings()
	changed := false

	if in.MaxHistory < 1 {
		in.MaxHistory = def.MaxHistory
		changed = true
	}
	if in.ContextWindow < 1 {
		in.ContextWindow = def.ContextWindow
		changed = true
	}
	if in.ContextWindow > in.MaxHistory {
		in.ContextWindow = in.MaxHistory
		changed = true
	}
	if !validate.Language(in.Language) {
		in.Language = def.Language
		changed = true
	}
	if in.ResponseTimeout <= 0 {
		in.ResponseTimeout = def.ResponseTimeout
		changed = true
	}

	return in, changed
}

// LoadConversationSettings returns the stored conversation configuration,
// falling back to defaults when no row exists.
func (s *Store) LoadConversationSettings(ctx context.Context) (ConversationSettings, error) {
	if s == nil || s.db == nil {
		return ConversationSettings{}, sql.ErrConnDone
	}

	var (
		out       ConversationSettings
		timeoutMS int64
	)
	err := s.db.QueryRowContext(ctx, `
        SELECT max_history, context_window, language, response_timeout_ms, updated_at
        FROM conversation_settings
        WHERE id = 1`).
		Scan(&out.MaxHistory, &out.ContextWindow, &out.Language, &timeoutMS, &out.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultConversationSettings(), nil
	}
	if err != nil {
		return ConversationSettings{}, fmt.Errorf("config: load conversation settings: %w", err)
	}

	out.ResponseTimeout = time.Duration(timeoutMS) * time.Millisecond
	return out, nil
}

// SaveConversationSettings validates and persists the conversation
// configuration, returning the values actually stored.
func (s *Store) SaveConversationSettings(ctx context.Context, in ConversationSettings) (ConversationSettings, error) {
	if s == nil || s.db == nil {
		return ConversationSettings{}, sql.ErrConnDone
	}
	if s.readOnly {
		return ConversationSettings{}, fmt.Errorf("config: save conversation settings: store opened read-only")
	}

	out, _ := normalizeConversationSettings(in)

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
            INSERT INTO conversation_settings (id, max_history, context_window,
                language, response_timeout_ms, updated_at)
            VALUES (1, ?, ?, ?, ?, STRFTIME('%Y-%m-%dT%H:%M:%fZ', 'now'))
            ON CONFLICT (id) DO UPDATE SET
                max_history = excluded.max_history,
                context_window = excluded.context_window,
                language = excluded.language,
                response_timeout_ms = excluded.response_timeout_ms,
                updated_at = excluded.updated_at`,
			out.MaxHistory, out.ContextWindow, out.Language, out.ResponseTimeout.Milliseconds())
		return err
	})
	if err != nil {
		return ConversationSettings{}, fmt.Errorf("config: save conversation settings: %w", err)
	}

	return out, nil
}

// EnsureConversationSettings rewrites the stored conversation row when
// hand-edited values drifted outside their valid ranges. It reports whether
// a rewrite happened.
func (s *Store) EnsureConversationSettings(ctx context.Context) (bool, error) {
	current, err := s.LoadConversationSettings(ctx)
	if err != nil {
		return false, err
	}

	normalized, changed := normalizeConversationSettings(current)
	if !changed {
		return false, nil
	}

	if _, err := s.SaveConversationSettings(ctx, normalized); err != nil {
		return false, err
	}
	return true, nil
}
