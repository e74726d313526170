package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/solenne/lyricframe/internal/models"
)

const snapshotKey = "lyricframe:queue"

// Snapshots persists the queue backlog to redis so a reload picks up where
// the user left off. Strictly best-effort — the queue itself lives in
// memory, and every caller treats a snapshot failure as a log line.
type Snapshots struct {
	client *redis.Client
}

func NewSnapshots(redisURL string) (*Snapshots, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Snapshots{client: client}, nil
}

func (s *Snapshots) Close() error {
	return s.client.Close()
}

// Save overwrites the stored backlog with the current one.
func (s *Snapshots) Save(ctx context.Context, items []models.QueueItem) error {
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to marshal queue snapshot: %w", err)
	}
	return s.client.Set(ctx, snapshotKey, data, 0).Err()
}

// Load returns the stored backlog, or nil when no snapshot exists.
func (s *Snapshots) Load(ctx context.Context) ([]models.QueueItem, error) {
	data, err := s.client.Get(ctx, snapshotKey).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load queue snapshot: %w", err)
	}

	var items []models.QueueItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("failed to unmarshal queue snapshot: %w", err)
	}
	return items, nil
}
