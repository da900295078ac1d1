package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/model"
	"github.com/chatrelay/internal/storage"
)

const (
	rateLimitPrefix = "rl:"
	subsPrefix      = "push:subs:"
)

// Client реализует storage.KeyValue поверх Redis: счётчики rate limit и подписки web push.
type Client struct {
	cli *redis.Client
}

var _ storage.KeyValue = (*Client)(nil)

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

// NewFromClient оборачивает готовый клиент (тесты, общий пул).
func NewFromClient(cli *redis.Client) *Client {
	return &Client{cli: cli}
}

func (c *Client) Close() error {
	return c.cli.Close()
}

// Allow — фиксированное окно: INCR ключа rl:{key}, TTL выставляется на первом запросе окна.
func (c *Client) Allow(ctx context.Context, key string, max int, window time.Duration) (bool, error) {
	if max <= 0 {
		return true, nil
	}
	k := rateLimitPrefix + key
	n, err := c.cli.Incr(ctx, k).Result()
	if err != nil {
		return false, fmt.Errorf("redis.Allow: %w", err)
	}
	if n == 1 {
		if err := c.cli.Expire(ctx, k, window).Err(); err != nil {
			logger.Errorf("redis: expire %s: %v", k, err)
		}
	}
	return n <= int64(max), nil
}

// SaveSubscription хранит последние MaxSubscriptionsPerUser подписок списком push:subs:{userID}.
func (c *Client) SaveSubscription(ctx context.Context, userID string, sub model.PushSubscription) error {
	raw, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("redis.SaveSubscription: %w", err)
	}
	if err := c.RemoveSubscription(ctx, userID, sub.Endpoint); err != nil {
		return err
	}
	key := subsPrefix + userID
	pipe := c.cli.Pipeline()
	pipe.RPush(ctx, key, string(raw))
	pipe.LTrim(ctx, key, -storage.MaxSubscriptionsPerUser, -1)
	pipe.Expire(ctx, key, storage.SubscriptionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis.SaveSubscription: %w", err)
	}
	return nil
}

// RemoveSubscription удаляет подписку по endpoint (LREM по точному значению).
func (c *Client) RemoveSubscription(ctx context.Context, userID, endpoint string) error {
	key := subsPrefix + userID
	list, err := c.cli.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("redis.RemoveSubscription: %w", err)
	}
	for _, item := range list {
		var sub model.PushSubscription
		if json.Unmarshal([]byte(item), &sub) == nil && sub.Endpoint != endpoint {
			continue
		}
		if err := c.cli.LRem(ctx, key, 0, item).Err(); err != nil {
			return fmt.Errorf("redis.RemoveSubscription: %w", err)
		}
	}
	return nil
}

func (c *Client) Subscriptions(ctx context.Context, userID string) ([]model.PushSubscription, error) {
	list, err := c.cli.LRange(ctx, subsPrefix+userID, 0, -1).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis.Subscriptions: %w", err)
	}
	out := make([]model.PushSubscription, 0, len(list))
	for _, item := range list {
		var sub model.PushSubscription
		if json.Unmarshal([]byte(item), &sub) == nil && sub.Endpoint != "" {
			out = append(out, sub)
		}
	}
	return out, nil
}

// FlushDB очищает текущую БД Redis (для тестов).
func (c *Client) FlushDB(ctx context.Context) error {
	return c.cli.FlushDB(ctx).Err()
}
