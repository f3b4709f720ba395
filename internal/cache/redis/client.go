package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/resumemate/backend/pkg/logger"
)

const keyPrefix = "resumemate"

type Client struct {
	client *redis.Client
}

func NewClient(host string, port int, password string, db int) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client}, nil
}

// Wrap uses an existing go-redis client.
func Wrap(client *redis.Client) *Client {
	return &Client{client: client}
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Tier returns a cache tier whose keys live under one namespace.
func (c *Client) Tier(namespace string) *Tier {
	return &Tier{client: c.client, namespace: namespace}
}

// Invalidate drops every key of a namespace.
func (c *Client) Invalidate(ctx context.Context, namespace string) error {
	iter := c.client.Scan(ctx, 0, fmt.Sprintf("%s:%s:*", keyPrefix, namespace), 0).Iterator()
	removed := 0
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			logger.Warn("Failed to delete cache key", zap.Error(err))
			continue
		}
		removed++
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to iterate cache keys: %w", err)
	}

	logger.Info("Cache namespace invalidated",
		zap.String("namespace", namespace),
		zap.Int("removed", removed),
	)
	return nil
}

type envelope struct {
	Value    json.RawMessage `json:"value"`
	StoredAt time.Time       `json:"stored_at"`
}

type Tier struct {
	client    *redis.Client
	namespace string
}

func (t *Tier) key(key string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, t.namespace, key)
}

// Get decodes the stored value into dst and returns when it was first
// computed.
func (t *Tier) Get(ctx context.Context, key string, dst any) (time.Time, bool, error) {
	data, err := t.client.Get(ctx, t.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to get %s cache: %w", t.namespace, err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return time.Time{}, false, fmt.Errorf("failed to unmarshal %s envelope: %w", t.namespace, err)
	}
	if err := json.Unmarshal(env.Value, dst); err != nil {
		return time.Time{}, false, fmt.Errorf("failed to unmarshal %s value: %w", t.namespace, err)
	}

	logger.Debug("Remote cache hit", zap.String("namespace", t.namespace), zap.String("key", key))
	return env.StoredAt, true, nil
}

func (t *Tier) Set(ctx context.Context, key string, value any, storedAt time.Time, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s value: %w", t.namespace, err)
	}
	data, err := json.Marshal(envelope{Value: raw, StoredAt: storedAt})
	if err != nil {
		return fmt.Errorf("failed to marshal %s envelope: %w", t.namespace, err)
	}

	if err := t.client.Set(ctx, t.key(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s cache: %w", t.namespace, err)
	}

	logger.Debug("Remote cache stored", zap.String("namespace", t.namespace), zap.Duration("ttl", ttl))
	return nil
}
