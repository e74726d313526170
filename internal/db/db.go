package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/solenne/lyricframe/internal/models"
	"golang.org/x/sync/errgroup"
)

// DB is the asset store: durable copies of Frame and GeneratedVideo records
// so a reload doesn't lose generated media. Every caller treats a failure
// here as non-fatal — log and keep the in-memory record.
type DB struct {
	*sql.DB
}

func New(databaseURL string) (*DB, error) {
	sqlDB, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(5)

	return &DB{sqlDB}, nil
}

// LoadAll returns every persisted frame and video, backing the asset
// listing endpoint. The two tables are independent, so they're fetched in
// parallel.
func (db *DB) LoadAll(ctx context.Context) ([]models.Frame, []models.GeneratedVideo, error) {
	var (
		frames []models.Frame
		videos []models.GeneratedVideo
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		frames, err = db.ListFrames(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		videos, err = db.ListVideos(gctx)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return frames, videos, nil
}
