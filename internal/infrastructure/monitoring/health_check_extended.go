package monitoring

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"slateboard/internal/core/ports"
)

// AddRedisCheck adds a Redis health check
func (h *HealthChecker) AddRedisCheck(client *redis.Client, interval, timeout time.Duration) {
	h.AddCheck("redis", func(ctx context.Context) (bool, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		if err := client.Ping(ctx).Err(); err != nil {
			return false, err
		}
		return true, nil
	}, interval, timeout)
}

// AddStoreCheck adds a board store health check. Probing a nonexistent
// board exercises the backend's read path without touching real data.
func (h *HealthChecker) AddStoreCheck(store ports.BoardStore, interval, timeout time.Duration) {
	h.AddCheck("board_store", func(ctx context.Context) (bool, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		if _, err := store.BoardExists(ctx, "healthprobe"); err != nil {
			return false, err
		}
		return true, nil
	}, interval, timeout)
}

// AddReadinessCheck creates a readiness check that verifies all dependencies
func (h *HealthChecker) AddReadinessCheck(
	redisClient *redis.Client,
	store ports.BoardStore,
	interval, timeout time.Duration,
) {
	h.AddCheck("readiness", func(ctx context.Context) (bool, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		if redisClient != nil {
			if err := redisClient.Ping(ctx).Err(); err != nil {
				return false, err
			}
		}

		if store != nil {
			if _, err := store.BoardExists(ctx, "healthprobe"); err != nil {
				return false, err
			}
		}

		return true, nil
	}, interval, timeout)
}

// IsReady checks if the service is ready to accept traffic
func (h *HealthChecker) IsReady(ctx context.Context) bool {
	status := h.CheckAll(ctx)
	return status.Status == "healthy"
}
