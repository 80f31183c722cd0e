package middleware

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisRateLimitPrefix = "fxacademy:ratelimit:"

// RedisRateLimitStore is a fixed-window RateLimitStore shared by all API instances.
// Redis failures fail open: the request is allowed and the error is counted.
type RedisRateLimitStore struct {
	client  redis.Cmdable
	metrics *Metrics
	now     func() time.Time
}

// NewRedisRateLimitStore creates a store on client. metrics may be nil.
func NewRedisRateLimitStore(client redis.Cmdable, metrics *Metrics) *RedisRateLimitStore {
	return &RedisRateLimitStore{client: client, metrics: metrics, now: time.Now}
}

// Allow implements RateLimitStore.
func (s *RedisRateLimitStore) Allow(ctx context.Context, key string, config RateLimitConfig) (bool, int, int) {
	now := s.now()
	window := now.UnixNano() / int64(config.WindowDuration)
	windowEnd := time.Unix(0, (window+1)*int64(config.WindowDuration))
	redisKey := redisRateLimitPrefix + key + ":" + strconv.FormatInt(window, 10)

	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		pipe.Expire(ctx, redisKey, config.WindowDuration+time.Second)
		return nil
	})
	if err != nil {
		s.metrics.IncRateLimitRedisErrors()
		slog.WarnContext(ctx, "rate limit check failed, allowing request", "error", err)
		return true, config.RequestsPerWindow, 0
	}

	count := int(incr.Val())
	if count > config.RequestsPerWindow {
		return false, 0, retryAfterSeconds(windowEnd.Sub(now))
	}
	return true, config.RequestsPerWindow - count, 0
}
