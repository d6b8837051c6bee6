package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/ada-ai/ada/internal/validate"
)

// AudioSettings holds the audio module configuration.
type AudioSettings struct {
	SampleRate int
	Voice      string
	Volume     float64
	Language   string
	Metadata   map[string]string
	UpdatedAt  string
}

// supportedSampleRates lists the PCM sample rates the speech pipeline accepts.
var supportedSampleRates = map[int]bool{
	8000:  true,
	16000: true,
	32000: true,
	44100: true,
	48000: true,
}

// DefaultAudioSettings returns the audio configuration used when nothing
// has been stored yet.
func DefaultAudioSettings() AudioSettings {
	return AudioSettings{
		SampleRate: 16000,
		Voice:      "default",
		Volume:     0.8,
		Language:   "fr",
	}
}

// normalizeAudioSettings clamps out-of-range values back to their defaults
// and reports whether anything had to change.
func normalizeAudioSettings(in AudioSettings) (AudioSettings, bool) {
	def := DefaultAudioSettings()
	changed := false

	if !supportedSampleRates[in.SampleRate] {
		in.SampleRate = def.SampleRate
		changed = true
	}

	if trimmed := strings.TrimSpace(in.Voice); trimmed != in.Voice || trimmed == "" {
		in.Voice = trimmed
		if in.Voice == "" {
			in.Voice = def.Voice
		}
		changed = true
	}

	// NaN never equals itself.
	if in.Volume != in.Volume || in.Volume < 0 || in.Volume > 1 {
		in.Volume = def.Volume
		changed = true
	}

	if !validate.Language(in.Language) {
		in.Language = def.Language
		changed = true
	}

	return in, changed
}

// LoadAudioSettings returns the stored audio configuration, falling back
// to defaults when no row exists.
func (s *Store) LoadAudioSettings(ctx context.Context) (AudioSettings, error) {
	if s == nil || s.db == nil {
		return AudioSettings{}, sql.ErrConnDone
	}

	var (
		out      AudioSettings
		metadata sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
        SELECT sample_rate, voice, volume, language, metadata, updated_at
        FROM audio_settings
        WHERE id = 1`).
		Scan(&out.SampleRate, &out.Voice, &out.Volume, &out.Language, &metadata, &out.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultAudioSettings(), nil
	}
	if err != nil {
		return AudioSettings{}, fmt.Errorf("config: load audio settings: %w", err)
	}

	out.Metadata, err = decodeStringMap(metadata)
	if err != nil {
		return AudioSettings{}, fmt.Errorf("config: decode audio metadata: %w", err)
	}

	return out, nil
}

// SaveAudioSettings validates and persists the audio configuration,
// returning the values actually stored.
func (s *Store) SaveAudioSettings(ctx context.Context, in AudioSettings) (AudioSettings, error) {
	if s == nil || s.db == nil {
		return AudioSettings{}, sql.ErrConnDone
	}
	if s.readOnly {
		return AudioSettings{}, fmt.Errorf("config: save audio settings: store opened read-only")
	}

	out, _ := normalizeAudioSettings(in)

	metadata, err := encodeStringMap(out.Metadata)
	if err != nil {
		return AudioSettings{}, fmt.Errorf("config: encode audio metadata: %w", err)
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
            INSERT INTO audio_settings (id, sample_rate, voice, volume, language, metadata, updated_at)
            VALUES (1, ?, ?, ?, ?, ?, STRFTIME('%Y-%m-%dT%H:%M:%fZ', 'now'))
            ON CONFLICT (id) DO UPDATE SET
                sample_rate = excluded.sample_rate,
                voice = excluded.voice,
                volume = excluded.volume,
                language = excluded.language,
                metadata = excluded.metadata,
                updated_at = excluded.updated_at`,
			out.SampleRate, out.Voice, out.Volume, out.Language, metadata)
		return err
	})
	if err != nil {
		return AudioSettings{}, fmt.Errorf("config: save audio settings: %w", err)
	}

	return out, nil
}

// EnsureAudioSettings rewrites the stored audio row when hand-edited values
// drifted outside their valid ranges. It reports whether a rewrite happened.
func (s *Store) EnsureAudioSettings(ctx context.Context) (bool, error) {
	current, err := s.LoadAudioSettings(ctx)
	if err != nil {
		return false, err
	}

	normalized, changed := normalizeAudioSettings(current)
	if !changed {
		return false, nil
	}

	if _, err := s.SaveAudioSettings(ctx, normalized); err != nil {
		return false, err
	}
	return true, nil
}
