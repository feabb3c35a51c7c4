package cache

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"share-approval-service/internal/models"
)

const (
	keyPrefix     = "perms"
	generationKey = keyPrefix + ":gen"
)

// PermissionCache caches resolved user permission levels per bucket in Redis.
//
// Entries are namespaced by a generation counter. Readers capture the generation
// before loading grants from the database and store the result under it;
// Invalidate bumps the generation, so a value computed from pre-write grants can
// never be served after the write returns.
type PermissionCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewPermissionCache creates a new permission cache instance
func NewPermissionCache(host string, port int, password string, db int, ttlSeconds int) (*PermissionCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		// Degrade to no caching
		_ = client.Close()
		return &PermissionCache{
			client: nil,
			ttl:    time.Duration(ttlSeconds) * time.Second,
		}, err
	}

	return NewPermissionCacheWithClient(client, time.Duration(ttlSeconds)*time.Second), nil
}

// NewPermissionCacheWithClient wraps an existing client
func NewPermissionCacheWithClient(client *redis.Client, ttl time.Duration) *PermissionCache {
	return &PermissionCache{client: client, ttl: ttl}
}

func (c *PermissionCache) cacheKey(generation int64, userID, bucketID uuid.UUID) string {
	return fmt.Sprintf("%s:%d:%s:%s", keyPrefix, generation, userID.String(), bucketID.String())
}

// Generation returns the current cache generation
func (c *PermissionCache) Generation(ctx context.Context) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}

	gen, err := c.client.Get(ctx, generationKey).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return gen, err
}

// Get retrieves a cached level; ok is false on a miss
func (c *PermissionCache) Get(ctx context.Context, generation int64, userID, bucketID uuid.UUID) (models.PermissionLevel, bool, error) {
	if c == nil || c.client == nil {
		return models.PermissionNone, false, nil
	}

	value, err := c.client.Get(ctx, c.cacheKey(generation, userID, bucketID)).Result()
	if err == redis.Nil {
		return models.PermissionNone, false, nil
	}
	if err != nil {
		return models.PermissionNone, false, err
	}

	level, err := models.ParsePermissionLevel(value)
	if err != nil {
		return models.PermissionNone, false, err
	}
	return level, true, nil
}

// Set caches a level under the generation captured before the grants were read
func (c *PermissionCache) Set(ctx context.Context, generation int64, userID, bucketID uuid.UUID, level models.PermissionLevel) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Set(ctx, c.cacheKey(generation, userID, bucketID), level.String(), c.ttl).Err()
}

// Invalidate retires every cached level and removes entries of older generations
func (c *PermissionCache) Invalidate(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}

	current, err := c.client.Incr(ctx, generationKey).Result()
	if err != nil {
		return err
	}

	return c.purgeBefore(ctx, current)
}

// purgeBefore deletes entries whose generation is older than current
func (c *PermissionCache) purgeBefore(ctx context.Context, current int64) error {
	iter := c.client.Scan(ctx, 0, keyPrefix+":*", 100).Iterator()

	var keys []string
	for iter.Next(ctx) {
		key := iter.Val()
		if key == generationKey {
			continue
		}
		parts := strings.SplitN(key, ":", 3)
		if len(parts) < 3 {
			continue
		}
		gen, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || gen < current {
			keys = append(keys, key)
		}
	}

	if err := iter.Err(); err != nil {
		return err
	}

	if len(keys) > 0 {
		return c.client.Del(ctx, keys...).Err()
	}

	return nil
}

// Close closes the Redis connection
func (c *PermissionCache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// IsAvailable returns true if the cache is available
func (c *PermissionCache) IsAvailable() bool {
	return c != nil && c.client != nil
}
