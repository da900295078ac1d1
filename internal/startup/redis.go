package startup

import (
	"context"
	"time"

	redisstorage "github.com/chatrelay/internal/storage/redis"
)

// ConnectRedis подключается к Redis с повторами.
func ConnectRedis(ctx context.Context, redisURL string, maxWait time.Duration) (*redisstorage.Client, error) {
	return retry(ctx, "redis connect", maxWait, func(ctx context.Context) (*redisstorage.Client, error) {
		connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return redisstorage.New(connectCtx, redisURL)
	})
}
