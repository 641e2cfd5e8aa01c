package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/therealutkarshpriyadarshi/testmatrix/internal/media"
	"github.com/therealutkarshpriyadarshi/testmatrix/internal/metrics"
	"github.com/therealutkarshpriyadarshi/testmatrix/pkg/models"
)

// Cache provides caching functionality using Redis
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache creates a new cache instance. Entries expire after ttl, zero keeps them forever.
func NewCache(host string, port int, password string, db int, ttl time.Duration) (*Cache, error) {
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

	return &Cache{client: client, ttl: ttl}, nil
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.client.Close()
}

// Descriptor Cache Operations

// SetDescriptor caches introspected media info. Implements media.Cache.
func (c *Cache) SetDescriptor(ctx context.Context, key string, info *media.Info) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal descriptor: %w", err)
	}

	return c.client.Set(ctx, descriptorKey(key), data, c.ttl).Err()
}

// GetDescriptor retrieves cached media info, or media.ErrCacheMiss. Implements media.Cache.
func (c *Cache) GetDescriptor(ctx context.Context, key string) (*media.Info, error) {
	data, err := c.client.Get(ctx, descriptorKey(key)).Bytes()
	metrics.RecordCacheAccess("descriptor", err == nil)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, media.ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to get descriptor from cache: %w", err)
	}

	var info media.Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to unmarshal descriptor: %w", err)
	}

	return &info, nil
}

// InvalidateDescriptors drops every cached descriptor
func (c *Cache) InvalidateDescriptors(ctx context.Context) error {
	return c.deletePattern(ctx, descriptorKey("*"))
}

func descriptorKey(key string) string {
	return fmt.Sprintf("descriptor:%s", key)
}

// Manifest Cache Operations

// SetManifest caches the test list of a generation run and marks it as the latest
func (c *Cache) SetManifest(ctx context.Context, runID string, specs []models.TestSpec) error {
	data, err := json.Marshal(specs)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	pipe := c.client.TxPipeline()
	pipe.Set(ctx, fmt.Sprintf("manifest:%s", runID), data, c.ttl)
	pipe.Set(ctx, "manifest:latest", runID, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store manifest: %w", err)
	}
	return nil
}

// GetManifest retrieves the test list of a run. An empty runID selects the latest run.
// A missing manifest is reported as nil without error.
func (c *Cache) GetManifest(ctx context.Context, runID string) ([]models.TestSpec, error) {
	if runID == "" {
		latest, err := c.client.Get(ctx, "manifest:latest").Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil, nil // Cache miss
			}
			return nil, fmt.Errorf("failed to get latest run: %w", err)
		}
		runID = latest
	}

	data, err := c.client.Get(ctx, fmt.Sprintf("manifest:%s", runID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // Cache miss
		}
		return nil, fmt.Errorf("failed to get manifest from cache: %w", err)
	}

	var specs []models.TestSpec
	if err := json.Unmarshal(data, &specs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal manifest: %w", err)
	}

	return specs, nil
}

// Locking Operations for Distributed Systems

// AcquireLock attempts to acquire a distributed lock
func (c *Cache) AcquireLock(ctx context.Context, resource string, ttl time.Duration) (bool, error) {
	key := fmt.Sprintf("lock:%s", resource)
	return c.client.SetNX(ctx, key, "locked", ttl).Result()
}

// ReleaseLock releases a distributed lock
func (c *Cache) ReleaseLock(ctx context.Context, resource string) error {
	key := fmt.Sprintf("lock:%s", resource)
	return c.client.Del(ctx, key).Err()
}

// deletePattern deletes all keys matching a pattern
func (c *Cache) deletePattern(ctx context.Context, pattern string) error {
	iter := c.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("failed to delete key %s: %w", iter.Val(), err)
		}
	}
	return iter.Err()
}

// Ping checks the connection
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
