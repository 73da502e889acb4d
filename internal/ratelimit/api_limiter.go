package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/classifieds/internal/config"
)

const keyAPIUser = "api:user:%s"

// Generic cell rate algorithm. KEYS[1] holds the theoretical arrival time in
// milliseconds. ARGV: emission interval (ms), burst.
// Returns {allowed, remaining, retry_after_ms}.
var gcraScript = redis.NewScript(`
local interval = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])

local t = redis.call("TIME")
local now = tonumber(t[1]) * 1000 + math.floor(tonumber(t[2]) / 1000)

local tat = tonumber(redis.call("GET", KEYS[1]))
if tat == nil or tat < now then
  tat = now
end

local next_tat = tat + interval
local allow_at = next_tat - interval * burst
if allow_at > now then
  return {0, 0, allow_at - now}
end

redis.call("SET", KEYS[1], next_tat, "PX", next_tat - now)
return {1, math.floor((now - allow_at) / interval), 0}
`)

type RateLimitResult struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// APILimiter throttles the programmatic API per user: burst requests at once,
// then one request per emission interval.
type APILimiter struct {
	client   *redis.Client
	interval time.Duration
	burst    int
}

// NewAPILimiter returns nil when rate limiting is off or Redis is unavailable.
func NewAPILimiter(client *redis.Client, cfg config.Config) (*APILimiter, error) {
	if !cfg.RateLimit.Enabled || client == nil {
		return nil, nil
	}
	if cfg.RateLimit.APIRate <= 0 || cfg.RateLimit.APIBurst <= 0 {
		return nil, errors.New("api rate limit must be positive")
	}
	interval := time.Duration(math.Ceil(float64(time.Second) / cfg.RateLimit.APIRate))
	if interval < time.Millisecond {
		interval = time.Millisecond
	}
	return &APILimiter{client: client, interval: interval, burst: cfg.RateLimit.APIBurst}, nil
}

func (l *APILimiter) Enabled() bool {
	return l != nil && l.client != nil
}

func (l *APILimiter) Allow(ctx context.Context, userID string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("rate limit key is empty")
	}

	res, err := gcraScript.Run(ctx, l.client,
		[]string{fmt.Sprintf(keyAPIUser, userID)},
		l.interval.Milliseconds(), l.burst,
	).Int64Slice()
	if err != nil {
		return nil, err
	}
	if len(res) != 3 {
		return nil, fmt.Errorf("rate limit script returned %d values", len(res))
	}
	return &RateLimitResult{
		Allowed:    res[0] == 1,
		Limit:      l.burst,
		Remaining:  int(res[1]),
		RetryAfter: time.Duration(res[2]) * time.Millisecond,
	}, nil
}
