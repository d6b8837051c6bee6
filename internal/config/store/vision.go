package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// VisionSettings holds the vision module configuration.
type VisionSettings struct {
	CameraIndex      int
	FrameWidth       int
	FrameHeight      int
	FrameRate        int
	DetectionEnabled bool
	DetectionLabels  []string
	UpdatedAt        string
}

// Configurable frame rate envelope. The capture engine tolerates more, but
// stored settings stay within what every supported camera can deliver.
const (
	minStoredFrameRate = 1
	maxStoredFrameRate = 60
)

// DefaultVisionSettings returns the vision configuration used when nothing
// has been stored yet.
func DefaultVisionSettings() VisionSettings {
	return VisionSettings{
		CameraIndex:      0,
		FrameWidth:       640,
		FrameHeight:      480,
		FrameRate:        15,
		DetectionEnabled: true,
	}
}

func normalizeVisionSettings(in VisionSettings) (VisionSettings, bool) {
	def := DefaultVisionSettings()
	changed := false

	if in.CameraIndex < 0 {
		in.CameraIndex = def.CameraIndex
		changed = true
	}
	if in.FrameWidth <= 0 {
		in.FrameWidth = def.FrameWidth
		changed = true
	}
	if in.FrameHeight <= 0 {
		in.FrameHeight = def.FrameHeight
		changed = true
	}
	if in.FrameRate < minStoredFrameRate || in.FrameRate > maxStoredFrameRate {
		in.FrameRate = def.FrameRate
		changed = true
	}

	labels := make([]string, 0, len(in.DetectionLabels))
	for _, label := range in.DetectionLabels {
		if trimmed := strings.TrimSpace(label); trimmed != "" {
			labels = append(labels, trimmed)
		}
	}
	if len(labels) == 0 {
		labels = nil
	}
	if !slices.Equal(labels, in.DetectionLabels) {
		in.DetectionLabels = labels
		changed = true
	}

	return in, changed
}

// LoadVisionSettings returns the stored vision configuration, falling back
// to defaults when no row exists.
func (s *Store) LoadVisionSettings(ctx context.Context) (VisionSettings, error) {
	if s == nil || s.db == nil {
		return VisionSettings{}, sql.ErrConnDone
	}

	var (
		out    VisionSettings
		labels sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
        SELECT camera_index, frame_width, frame_height, frame_rate,
               detection_enabled, detection_labels, updated_at
        FROM vision_settings
        WHERE id = 1`).
		Scan(&out.CameraIndex, &out.FrameWidth, &out.FrameHeight, &out.FrameRate,
			&out.DetectionEnabled, &labels, &out.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultVisionSettings(), nil
	}
	if err != nil {
		return VisionSettings{}, fmt.Errorf("config: load vision settings: %w", err)
	}

	out.DetectionLabels, err = decodeStringSlice(labels)
	if err != nil {
		return VisionSettings{}, fmt.Errorf("config: decode detection labels: %w", err)
	}

	return out, nil
}

// SaveVisionSettings validates and persists the vision configuration,
// returning the values actually stored.
func (s *Store) SaveVisionSettings(ctx context.Context, in VisionSettings) (VisionSettings, error) {
	if s == nil || s.db == nil {
		return VisionSettings{}, sql.ErrConnDone
	}
	if s.readOnly {
		return VisionSettings{}, fmt.Errorf("config: save vision settings: store opened read-only")
	}

	out, _ := normalizeVisionSettings(in)

	labels, err := encodeStringSlice(out.DetectionLabels)
	if err != nil {
		return VisionSettings{}, fmt.Errorf("config: encode detection labels: %w", err)
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
            INSERT INTO vision_settings (id, camera_index, frame_width, frame_height,
                frame_rate, detection_enabled, detection_labels, updated_at)
            VALUES (1, ?, ?, ?, ?, ?, ?, STRFTIME('%Y-%m-%dT%H:%M:%fZ', 'now'))
            ON CONFLICT (id) DO UPDATE SET
                camera_index = excluded.camera_index,
                frame_width = excluded.frame_width,
                frame_height = excluded.frame_height,
                frame_rate = excluded.frame_rate,
                detection_enabled = excluded.detection_enabled,
                detection_labels = excluded.detection_labels,
                updated_at = excluded.updated_at`,
			out.CameraIndex, out.FrameWidth, out.FrameHeight,
			out.FrameRate, out.DetectionEnabled, labels)
		return err
	})
	if err != nil {
		return VisionSettings{}, fmt.Errorf("config: save vision settings: %w", err)
	}

	return out, nil
}

// EnsureVisionSettings rewrites the stored vision row when hand-edited
// values drifted outside their valid ranges. It reports whether a rewrite
// happened.
func (s *Store) EnsureVisionSettings(ctx context.Context) (bool, error) {
	current, err := s.LoadVisionSettings(ctx)
	if err != nil {
		return false, err
	}

	normalized, changed := normalizeVisionSettings(current)
	if !changed {
		return false, nil
	}

	if _, err := s.SaveVisionSettings(ctx, normalized); err != nil {
		return false, err
	}
	return true, nil
}
