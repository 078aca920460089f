package idgen

import (
	"context"
	"time"

	"github.com/anthanhphan/gosdk/logger"
	"github.com/redis/go-redis/v9"
)

// Clock abstracts the time source for the ID generator.
type Clock interface {
	// Now returns the current timestamp in milliseconds.
	Now() int64
}

// SystemClock uses the local system time.
type SystemClock struct{}

func (SystemClock) Now() int64 {
	return time.Now().UnixMilli()
}

// TimeSource is the subset of a redis client the clock needs.
type TimeSource interface {
	Time(ctx context.Context) *redis.TimeCmd
}

// RedisClock reads time from Redis so IDs from different nodes share one
// time base. It falls back to the local clock when Redis is unreachable.
type RedisClock struct {
	client  TimeSource
	timeout time.Duration
}

func NewRedisClock(client TimeSource) *RedisClock {
	return &RedisClock{client: client, timeout: 200 * time.Millisecond}
}

func (r *RedisClock) Now() int64 {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	// TIME returns [seconds, microseconds]
	res, err := r.client.Time(ctx).Result()
	if err != nil {
		logger.Debugw("redis clock unavailable, using local time", "error", err.Error())
		return time.Now().UnixMilli()
	}
	return res.UnixMilli()
}
