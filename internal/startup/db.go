package startup

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ConnectDB подключается к Postgres с повторами: пул создаётся и проверяется Ping.
func ConnectDB(ctx context.Context, poolCfg *pgxpool.Config, maxWait time.Duration) (*pgxpool.Pool, error) {
	return retry(ctx, "db connect", maxWait, func(ctx context.Context) (*pgxpool.Pool, error) {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		pool, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
		if err != nil {
			return nil, err
		}
		if err := pool.Ping(connectCtx); err != nil {
			pool.Close()
			return nil, err
		}
		return pool, nil
	})
}
