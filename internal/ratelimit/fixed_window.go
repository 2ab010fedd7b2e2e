package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "litshelf:ratelimit"

var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// Options configures a FixedWindowLimiter.
type Options struct {
	Addr     string
	Password string
	Prefix   string
	Limit    int
	Window   time.Duration
	// FailOpen admits requests when Redis is unreachable instead of
	// rejecting them.
	FailOpen bool
	Logger   *slog.Logger
}

// FixedWindowLimiter counts requests per key in fixed Redis-backed windows.
type FixedWindowLimiter struct {
	client   *redis.Client
	prefix   string
	limit    int
	window   time.Duration
	failOpen bool
	logger   *slog.Logger
	now      func() time.Time
}

// NewFixedWindowLimiter connects to Redis and returns a limiter.
func NewFixedWindowLimiter(opts Options) (*FixedWindowLimiter, error) {
	if opts.Limit <= 0 || opts.Window <= 0 {
		return nil, errors.New("rate limiter requires positive limit and window")
	}
	addr := strings.TrimSpace(opts.Addr)
	if addr == "" {
		return nil, errors.New("rate limiter redis addr is required")
	}
	prefix := strings.TrimSpace(opts.Prefix)
	if prefix == "" {
		prefix = defaultPrefix
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &FixedWindowLimiter{
		client:   redis.NewClient(&redis.Options{Addr: addr, Password: opts.Password}),
		prefix:   prefix,
		limit:    opts.Limit,
		window:   opts.Window,
		failOpen: opts.FailOpen,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// NewCommandLimiter allows perMinute commands per user per minute.
func NewCommandLimiter(addr, password string, perMinute int, logger *slog.Logger) (*FixedWindowLimiter, error) {
	return NewFixedWindowLimiter(Options{
		Addr:     addr,
		Password: password,
		Prefix:   defaultPrefix + ":commands",
		Limit:    perMinute,
		Window:   time.Minute,
		FailOpen: true,
		Logger:   logger,
	})
}

// Allow reports whether key is still within quota for the current window.
func (l *FixedWindowLimiter) Allow(key string) bool {
	if l == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	count, err := l.incr(ctx, key)
	if err != nil {
		l.logger.Warn("rate limiter unavailable", "key", key, "fail_open", l.failOpen, "err", err)
		return l.failOpen
	}
	return count <= int64(l.limit)
}

func (l *FixedWindowLimiter) incr(ctx context.Context, key string) (int64, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		key = "unknown"
	}
	windowMs := l.window.Milliseconds()
	slot := l.now().UTC().UnixMilli() / windowMs
	redisKey := fmt.Sprintf("%s:%s:%d", l.prefix, key, slot)
	return fixedWindowScript.Run(ctx, l.client, []string{redisKey}, windowMs).Int64()
}

// Close releases the Redis connection.
func (l *FixedWindowLimiter) Close() error {
	return l.client.Close()
}
