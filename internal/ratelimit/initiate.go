package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/brightmont/academy/internal/config"
	redis "github.com/redis/go-redis/v9"
)

const keyPaymentInitiate = "payments:initiate:student:%s"

// InitiateLimiter throttles payment initiations per student. A nil limiter
// (redis not configured or rate limiting disabled) allows everything.
type InitiateLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewInitiateLimiter(cfg config.Config, client *redis.Client) *InitiateLimiter {
	if !cfg.RateLimit.Enabled || client == nil {
		return nil
	}
	rate := cfg.RateLimit.InitiateRate
	burst := cfg.RateLimit.InitiateBurst
	if rate <= 0 || burst <= 0 {
		return nil
	}
	return &InitiateLimiter{
		bucket: NewTokenBucket(client),
		rate:   rate,
		burst:  burst,
	}
}

func (l *InitiateLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

// Allow reports whether studentID may start another payment initiation now.
// Redis errors fail open: a broken limiter must not block checkout.
func (l *InitiateLimiter) Allow(ctx context.Context, studentID string) (bool, time.Duration, error) {
	if !l.Enabled() {
		return true, 0, nil
	}
	key := fmt.Sprintf(keyPaymentInitiate, strings.TrimSpace(studentID))
	res, err := l.bucket.Allow(ctx, key, l.rate, l.burst)
	if err != nil {
		return true, 0, err
	}
	return res.Allowed, res.RetryAfter, nil
}
