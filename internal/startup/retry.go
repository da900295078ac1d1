package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/chatrelay/internal/logger"
)

const maxBackoff = 30 * time.Second

// retry вызывает connect с экспоненциальной паузой (2s, 4s, ... до 30s), пока не истечёт maxWait
// или не отменится ctx. Недоступная при старте зависимость не роняет процесс сразу.
func retry[T any](ctx context.Context, what string, maxWait time.Duration, connect func(context.Context) (T, error)) (T, error) {
	deadline := time.Now().Add(maxWait)
	backoff := 2 * time.Second
	for {
		v, err := connect(ctx)
		if err == nil {
			return v, nil
		}
		if time.Now().After(deadline) {
			var zero T
			return zero, fmt.Errorf("%s (gave up after %v): %w", what, maxWait, err)
		}
		logger.Errorf("%s failed, retry in %v: %v", what, backoff, err)
		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}
