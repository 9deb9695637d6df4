package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/streamvault/streamvault/pkg/models"
)

// DefaultProgressTTL bounds how long a cached watch position is served
// before falling back to the database row.
const DefaultProgressTTL = 10 * time.Minute

// Cache provides read-through caching on Redis. Watch progress is the
// hot path: the player reports every few seconds and the resume lookup
// happens on every playback start.
type Cache struct {
	client *redis.Client
}

// NewCache creates a new cache instance
func NewCache(host string, port int, password string, db int) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Cache{client: client}, nil
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.client.Close()
}

// Ping checks the Redis connection
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func progressKey(profileID, assetID string) string {
	return fmt.Sprintf("progress:%s:%s", profileID, assetID)
}

// SetProgress caches a watch position after a successful upsert.
func (c *Cache) SetProgress(ctx context.Context, progress *models.WatchProgress, ttl time.Duration) error {
	data, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("failed to marshal progress: %w", err)
	}
	return c.client.Set(ctx, progressKey(progress.ProfileID, progress.AssetID), data, ttl).Err()
}

// GetProgress retrieves a cached watch position. A miss returns
// (nil, nil).
func (c *Cache) GetProgress(ctx context.Context, profileID, assetID string) (*models.WatchProgress, error) {
	data, err := c.client.Get(ctx, progressKey(profileID, assetID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // Cache miss
		}
		return nil, fmt.Errorf("failed to get progress from cache: %w", err)
	}

	var progress models.WatchProgress
	if err := json.Unmarshal(data, &progress); err != nil {
		return nil, fmt.Errorf("failed to unmarshal progress: %w", err)
	}
	return &progress, nil
}

// DeleteProgress removes a cached watch position.
func (c *Cache) DeleteProgress(ctx context.Context, profileID, assetID string) error {
	return c.client.Del(ctx, progressKey(profileID, assetID)).Err()
}

// Job Cache Operations

// SetJob caches a job row so status polling does not hit Postgres on
// every request.
func (c *Cache) SetJob(ctx context.Context, job *models.MediaJob, ttl time.Duration) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	return c.client.Set(ctx, fmt.Sprintf("job:%s", job.ID), data, ttl).Err()
}

// GetJob retrieves a cached job row. A miss returns (nil, nil).
func (c *Cache) GetJob(ctx context.Context, jobID string) (*models.MediaJob, error) {
	data, err := c.client.Get(ctx, fmt.Sprintf("job:%s", jobID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // Cache miss
		}
		return nil, fmt.Errorf("failed to get job from cache: %w", err)
	}

	var job models.MediaJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

// DeleteJob removes a cached job row. Called on every status change so
// stale terminal states are never served.
func (c *Cache) DeleteJob(ctx context.Context, jobID string) error {
	return c.client.Del(ctx, fmt.Sprintf("job:%s", jobID)).Err()
}
