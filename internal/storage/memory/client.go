package memory

import (
	"context"
	"sync"
	"time"

	"github.com/chatrelay/internal/model"
	"github.com/chatrelay/internal/storage"
)

type subItem struct {
	sub model.PushSubscription
	exp time.Time
}

// Client реализует storage.KeyValue в памяти процесса (режим -dev без Redis).
type Client struct {
	mu    sync.Mutex
	limit map[string][]time.Time
	subs  map[string][]subItem
	now   func() time.Time
}

var _ storage.KeyValue = (*Client)(nil)

func New() *Client {
	return &Client{
		limit: make(map[string][]time.Time),
		subs:  make(map[string][]subItem),
		now:   time.Now,
	}
}

func (c *Client) Close() error { return nil }

// Allow — скользящее окно: не более max событий за window на ключ.
func (c *Client) Allow(ctx context.Context, key string, max int, window time.Duration) (bool, error) {
	if max <= 0 {
		return true, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	cut := now.Add(-window)
	var kept []time.Time
	for _, t := range c.limit[key] {
		if t.After(cut) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= max {
		c.limit[key] = kept
		return false, nil
	}
	c.limit[key] = append(kept, now)
	return true, nil
}

// SaveSubscription добавляет подписку; повторная с тем же endpoint заменяет старую.
func (c *Client) SaveSubscription(ctx context.Context, userID string, sub model.PushSubscription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	exp := c.now().Add(storage.SubscriptionTTL)
	list := c.subs[userID][:0:0]
	for _, it := range c.subs[userID] {
		if it.sub.Endpoint != sub.Endpoint {
			list = append(list, it)
		}
	}
	list = append(list, subItem{sub: sub, exp: exp})
	if len(list) > storage.MaxSubscriptionsPerUser {
		list = list[len(list)-storage.MaxSubscriptionsPerUser:]
	}
	c.subs[userID] = list
	return nil
}

func (c *Client) RemoveSubscription(ctx context.Context, userID, endpoint string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var kept []subItem
	for _, it := range c.subs[userID] {
		if it.sub.Endpoint != endpoint {
			kept = append(kept, it)
		}
	}
	if len(kept) == 0 {
		delete(c.subs, userID)
		return nil
	}
	c.subs[userID] = kept
	return nil
}

func (c *Client) Subscriptions(ctx context.Context, userID string) ([]model.PushSubscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	var out []model.PushSubscription
	for _, it := range c.subs[userID] {
		if now.Before(it.exp) {
			out = append(out, it.sub)
		}
	}
	return out, nil
}
