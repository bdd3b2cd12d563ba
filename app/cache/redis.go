package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis wraps a Redis client for seen-URI lookups
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis connects to addr and verifies the connection
func NewRedis(ctx context.Context, addr string, ttl time.Duration) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	slog.Info("Connected to Redis", "addr", addr)

	return &Redis{client: client, ttl: ttl}, nil
}

func (c *Redis) GetNoticeID(ctx context.Context, uri string) (int64, bool, error) {
	key := URIKey(uri)

	val, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get key %s: %w", key, err)
	}

	id, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		// Invalid data, delete and report a miss
		c.client.Del(ctx, key)
		return 0, false, nil
	}

	return id, true, nil
}

func (c *Redis) SetNoticeID(ctx context.Context, uri string, noticeID int64) error {
	key := URIKey(uri)
	if err := c.client.Set(ctx, key, strconv.FormatInt(noticeID, 10), c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return nil
}

func (c *Redis) DeleteNoticeID(ctx context.Context, uri string) error {
	key := URIKey(uri)
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

func (c *Redis) Health(ctx context.Context) map[string]any {
	health := map[string]any{
		"status": "healthy",
		"type":   "redis",
	}

	if err := c.client.Ping(ctx).Err(); err != nil {
		health["status"] = "unhealthy"
		health["error"] = err.Error()
		return health
	}

	if size, err := c.client.DBSize(ctx).Result(); err == nil {
		health["key_count"] = size
	}

	return health
}

func (c *Redis) Close() error {
	return c.client.Close()
}

// URIKey hashes a remote URI into a fixed-length cache key
func URIKey(uri string) string {
	hash := sha256.Sum256([]byte(uri))
	return "uri:" + hex.EncodeToString(hash[:])
}
