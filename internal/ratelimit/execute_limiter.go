package ratelimit

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentforge/tokengate/internal/config"
	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
)

const keyExecuteUser = "execute:user:%s"

// ExecuteLimiter guards the execute endpoint per user. It is advisory:
// billing correctness never depends on it, and it is absent entirely when
// redis is not configured.
type ExecuteLimiter struct {
	bucket *TokenBucket

	rate  float64
	burst int
}

func NewExecuteLimiter(cfg config.Config) *ExecuteLimiter {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.RedisPassword,
	})

	return &ExecuteLimiter{
		bucket: NewTokenBucket(client),
		rate:   1, // one execution per second sustained
		burst:  5,
	}
}

// Allow reports whether the user may start another execution now.
func (l *ExecuteLimiter) Allow(ctx context.Context, userID snowflake.ID) (bool, error) {
	if l == nil || l.bucket == nil {
		return true, nil
	}
	res, err := l.bucket.Allow(ctx, fmt.Sprintf(keyExecuteUser, userID.String()), l.rate, l.burst)
	if err != nil {
		// Fail open: a broken limiter must not block paid work.
		return true, err
	}
	return res.Allowed, nil
}
