package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/solenne/lyricframe/internal/models"
)

// PutVideo stores a generated video record. Like frames, videos are
// immutable once created.
func (db *DB) PutVideo(ctx context.Context, video *models.GeneratedVideo) error {
	query := `
		INSERT INTO generated_videos (id, clip_id, url, duration, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`

	_, err := db.ExecContext(
		ctx, query,
		video.ID, video.ClipID, video.URL, video.Duration, video.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to put video: %w", err)
	}
	return nil
}

func (db *DB) GetVideo(ctx context.Context, id uuid.UUID) (*models.GeneratedVideo, error) {
	query := `
		SELECT id, clip_id, url, duration, status
		FROM generated_videos
		WHERE id = $1
	`

	video := &models.GeneratedVideo{}
	err := db.QueryRowContext(ctx, query, id).Scan(
		&video.ID, &video.ClipID, &video.URL, &video.Duration, &video.Status,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("video not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get video: %w", err)
	}

	return video, nil
}

func (db *DB) DeleteVideo(ctx context.Context, id uuid.UUID) error {
	_, err := db.ExecContext(ctx, `DELETE FROM generated_videos WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete video: %w", err)
	}
	return nil
}

func (db *DB) ListVideos(ctx context.Context) ([]models.GeneratedVideo, error) {
	query := `
		SELECT id, clip_id, url, duration, status
		FROM generated_videos
	`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query videos: %w", err)
	}
	defer rows.Close()

	var videos []models.GeneratedVideo
	for rows.Next() {
		var video models.GeneratedVideo
		err := rows.Scan(
			&video.ID, &video.ClipID, &video.URL, &video.Duration, &video.Status,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan video: %w", err)
		}
		videos = append(videos, video)
	}

	return videos, nil
}
