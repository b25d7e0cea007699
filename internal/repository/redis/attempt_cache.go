package redis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"verification-service/internal/client"
	"verification-service/internal/config"
	"verification-service/internal/util"
)

const (
	attemptPrefix     = "attempts:"
	attemptLockPrefix = "attempt_lock:"
)

// AttemptCache counts code submissions per key. The legacy system had no
// lockout at all; counting is observational unless a positive lock threshold
// is configured, which is an explicit hardening switch.
type AttemptCache struct {
	client        *client.RedisClient
	window        time.Duration
	lockThreshold int
	lockDuration  time.Duration
}

func NewAttemptCache(client *client.RedisClient, cfg *config.Config) *AttemptCache {
	return &AttemptCache{
		client:        client,
		window:        cfg.Attempts.Window,
		lockThreshold: cfg.Attempts.LockThreshold,
		lockDuration:  cfg.Attempts.LockDuration,
	}
}

// Record increments the attempt counter for key and applies the lock when a
// threshold is configured and crossed.
func (c *AttemptCache) Record(ctx context.Context, key string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	count, err := c.client.IncrWithExpire(ctx, attemptPrefix+key, c.window)
	if err != nil {
		util.Error("Failed to record attempt", zap.Error(err))
		return 0, fmt.Errorf("failed to record attempt: %w", err)
	}

	if c.lockThreshold > 0 && int(count) >= c.lockThreshold {
		if _, err := c.client.SetNX(ctx, attemptLockPrefix+key, "locked", c.lockDuration); err != nil {
			util.Warn("Failed to set attempt lock", zap.Error(err))
		} else {
			util.Warn("Attempt threshold crossed, key locked",
				zap.Int64("attempts", count),
				zap.Duration("lock_duration", c.lockDuration))
		}
	}

	return int(count), nil
}

// Reset clears the counter and any lock, typically after a successful
// consume.
func (c *AttemptCache) Reset(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.client.Del(ctx, attemptPrefix+key, attemptLockPrefix+key); err != nil {
		return fmt.Errorf("failed to reset attempts: %w", err)
	}
	return nil
}

// Locked reports whether the key is currently locked out. Always false when
// no threshold is configured.
func (c *AttemptCache) Locked(ctx context.Context, key string) (bool, error) {
	if c.lockThreshold <= 0 {
		return false, nil
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	exists, err := c.client.Exists(ctx, attemptLockPrefix+key)
	if err != nil {
		return false, fmt.Errorf("failed to check attempt lock: %w", err)
	}
	return exists, nil
}
