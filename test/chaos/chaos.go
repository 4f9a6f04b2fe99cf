// Package chaos injects infrastructure faults into the stress test.
package chaos

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// KillBackends terminates one random backend of the current database
// roughly once every five ticks until stop closes. Callers must treat
// the resulting connection errors as transient.
func KillBackends(ctx context.Context, pool *pgxpool.Pool, every time.Duration, logger *zap.Logger, stop <-chan struct{}) {
	const killSQL = `
SELECT pg_terminate_backend(pid)
FROM pg_stat_activity
WHERE datname = current_database()
  AND pid <> pg_backend_pid()
  AND backend_type = 'client backend'
ORDER BY random()
LIMIT 1;
`
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if rand.IntN(5) != 0 {
				continue
			}
			if _, err := pool.Exec(ctx, killSQL); err != nil {
				logger.Debug("kill backend", zap.Error(err))
				continue
			}
			logger.Debug("backend killed")
		}
	}
}
