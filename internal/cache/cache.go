package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/therealutkarshpriyadarshi/hlsvault/internal/metrics"
	"github.com/therealutkarshpriyadarshi/hlsvault/pkg/models"
)

// Cache provides caching functionality using Redis
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

// Ping checks connectivity
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Video Cache Operations

// videoEntry carries the signing secret, which Video hides from JSON
type videoEntry struct {
	models.Video
	SigningSecret string `json:"signing_secret"`
}

func videoKey(id string) string {
	return fmt.Sprintf("video:%s", id)
}

// SetVideo caches a video row
func (c *Cache) SetVideo(ctx context.Context, video *models.Video, ttl time.Duration) error {
	data, err := json.Marshal(videoEntry{Video: *video, SigningSecret: video.SigningSecret})
	if err != nil {
		return fmt.Errorf("failed to marshal video: %w", err)
	}

	return c.client.Set(ctx, videoKey(video.ID), data, ttl).Err()
}

// GetVideo retrieves a cached video row; a miss returns nil, nil
func (c *Cache) GetVideo(ctx context.Context, videoID string) (*models.Video, error) {
	data, err := c.client.Get(ctx, videoKey(videoID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			metrics.RecordCacheAccess("video", false)
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get video from cache: %w", err)
	}

	var entry videoEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal video: %w", err)
	}
	metrics.RecordCacheAccess("video", true)

	video := entry.Video
	video.SigningSecret = entry.SigningSecret
	return &video, nil
}

// DeleteVideo removes video from cache
func (c *Cache) DeleteVideo(ctx context.Context, videoID string) error {
	return c.client.Del(ctx, videoKey(videoID)).Err()
}

// Rate Limiting Operations

// CheckRateLimit counts a request against a fixed window and reports whether it is allowed
func (c *Cache) CheckRateLimit(ctx context.Context, key string, limit int64, window time.Duration) (bool, error) {
	rateLimitKey := fmt.Sprintf("ratelimit:%s", key)

	// Increment counter
	count, err := c.client.Incr(ctx, rateLimitKey).Result()
	if err != nil {
		return false, fmt.Errorf("failed to increment rate limit: %w", err)
	}

	// Set expiry on first request
	if count == 1 {
		if err := c.client.Expire(ctx, rateLimitKey, window).Err(); err != nil {
			return false, fmt.Errorf("failed to set expiry: %w", err)
		}
	}

	// Check if limit exceeded
	return count <= limit, nil
}
