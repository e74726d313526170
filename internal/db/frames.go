package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/solenne/lyricframe/internal/models"
)

// PutFrame stores a frame record. Frames are immutable, so a replay of the
// same id is a no-op rather than an update.
func (db *DB) PutFrame(ctx context.Context, frame *models.Frame) error {
	query := `
		INSERT INTO frames (id, clip_id, type, source, url, generated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`

	_, err := db.ExecContext(
		ctx, query,
		frame.ID, frame.ClipID, frame.Type, frame.Source, frame.URL, frame.GeneratedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to put frame: %w", err)
	}
	return nil
}

func (db *DB) GetFrame(ctx context.Context, id uuid.UUID) (*models.Frame, error) {
	query := `
		SELECT id, clip_id, type, source, url, generated_at
		FROM frames
		WHERE id = $1
	`

	frame := &models.Frame{}
	err := db.QueryRowContext(ctx, query, id).Scan(
		&frame.ID, &frame.ClipID, &frame.Type, &frame.Source, &frame.URL, &frame.GeneratedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("frame not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get frame: %w", err)
	}

	return frame, nil
}

func (db *DB) DeleteFrame(ctx context.Context, id uuid.UUID) error {
	_, err := db.ExecContext(ctx, `DELETE FROM frames WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete frame: %w", err)
	}
	return nil
}

func (db *DB) ListFrames(ctx context.Context) ([]models.Frame, error) {
	query := `
		SELECT id, clip_id, type, source, url, generated_at
		FROM frames
		ORDER BY generated_at NULLS FIRST
	`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query frames: %w", err)
	}
	defer rows.Close()

	var frames []models.Frame
	for rows.Next() {
		var frame models.Frame
		err := rows.Scan(
			&frame.ID, &frame.ClipID, &frame.Type, &frame.Source, &frame.URL, &frame.GeneratedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan frame: %w", err)
		}
		frames = append(frames, frame)
	}

	return frames, nil
}
