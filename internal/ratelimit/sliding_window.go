package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// Every call is one script run: trim the log to the window, count, and admit
// only while the count is under the limit. The server clock keeps windows
// consistent across instances.
const slidingWindowScript = `
local window = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
local member = ARGV[3]

local nowData = redis.call("TIME")
local now = (tonumber(nowData[1]) * 1000) + math.floor(tonumber(nowData[2]) / 1000)

redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", now - window)
local count = redis.call("ZCARD", KEYS[1])

if count < limit then
  redis.call("ZADD", KEYS[1], now, member)
  redis.call("PEXPIRE", KEYS[1], window)
  return {1, limit - count - 1, 0}
end

local resetAt = now + window
local oldest = redis.call("ZRANGE", KEYS[1], 0, 0, "WITHSCORES")
if oldest[2] ~= nil then
  resetAt = tonumber(oldest[2]) + window
end

-- Return: allowed, remaining, retry_after (milliseconds)
return {0, 0, resetAt - now}
`

// Result is the outcome of a single rate limit check.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// RetryAfterSeconds is the client retry hint, never below one second.
func (r Result) RetryAfterSeconds() int {
	seconds := int(math.Ceil(r.RetryAfter.Seconds()))
	if seconds < 1 {
		return 1
	}
	return seconds
}

// SlidingWindow counts events per key in a trailing window using a Redis sorted set.
type SlidingWindow struct {
	client *redis.Client
	script *redis.Script
}

func NewSlidingWindow(client *redis.Client) *SlidingWindow {
	if client == nil {
		return nil
	}
	return &SlidingWindow{
		client: client,
		script: redis.NewScript(slidingWindowScript),
	}
}

func (w *SlidingWindow) Allow(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	if w == nil || w.client == nil {
		return Result{}, errors.New("rate limiter not configured")
	}
	if key == "" {
		return Result{}, errors.New("rate limiter key is empty")
	}
	if limit <= 0 {
		return Result{}, errors.New("rate limiter limit must be positive")
	}
	if window < time.Millisecond {
		return Result{}, errors.New("rate limiter window must be positive")
	}

	res, err := w.script.Run(
		ctx,
		w.client,
		[]string{key},
		window.Milliseconds(),
		limit,
		uuid.NewString(),
	).Slice()
	if err != nil {
		return Result{}, err
	}
	if len(res) < 3 {
		return Result{}, fmt.Errorf("invalid rate limit script response: %v", res)
	}

	return Result{
		Allowed:    castToInt(res[0]) == 1,
		Limit:      limit,
		Remaining:  int(castToInt(res[1])),
		RetryAfter: time.Duration(castToInt(res[2])) * time.Millisecond,
	}, nil
}

func castToInt(v interface{}) int64 {
	switch val := v.(type) {
	case int64:
		return val
	case int:
		return int64(val)
	case float64:
		return int64(val)
	default:
		return 0
	}
}
