package ratelimit

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultPrefix = "ratelimit"

	headerLimit      = "X-RateLimit-Limit"
	headerRemaining  = "X-RateLimit-Remaining"
	headerRetryAfter = "Retry-After"
)

// KeyFunc identifies the caller a request is counted against.
type KeyFunc func(*gin.Context) string

// Config describes a fixed-window limit.
type Config struct {
	Requests int
	Window   time.Duration
	Prefix   string
	Key      KeyFunc
	Logger   *zap.Logger
	// Reject renders the blocked response; the default writes a bare 429.
	Reject func(c *gin.Context, retryAfter time.Duration)
}

// Limiter counts requests per caller and window in Redis.
type Limiter struct {
	client *redis.Client
	cfg    Config
}

var incrementScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return {count, redis.call('PTTL', KEYS[1])}
`)

// New constructs a Limiter. A nil client yields a limiter that admits everything.
func New(client *redis.Client, cfg Config) *Limiter {
	if cfg.Prefix == "" {
		cfg.Prefix = defaultPrefix
	}
	if cfg.Key == nil {
		cfg.Key = func(c *gin.Context) string { return c.ClientIP() }
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Limiter{client: client, cfg: cfg}
}

// Allow records one request for key and reports whether it fits the window,
// the remaining budget and the time until the window resets.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, int, time.Duration, error) {
	windowKey := l.cfg.Prefix + ":" + key
	values, err := incrementScript.Run(ctx, l.client, []string{windowKey}, l.cfg.Window.Milliseconds()).Int64Slice()
	if err != nil {
		return true, l.cfg.Requests, 0, err
	}
	count, ttl := values[0], time.Duration(values[1])*time.Millisecond
	if ttl < 0 {
		ttl = l.cfg.Window
	}
	remaining := l.cfg.Requests - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return count <= int64(l.cfg.Requests), remaining, ttl, nil
}

// Middleware enforces the limit. Redis failures admit the request.
func (l *Limiter) Middleware() gin.HandlerFunc {
	if l == nil || l.client == nil || l.cfg.Requests < 1 || l.cfg.Window <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		key := l.cfg.Key(c)
		allowed, remaining, resetIn, err := l.Allow(c.Request.Context(), key)
		if err != nil {
			l.cfg.Logger.Warn("rate limiter unavailable", zap.String("key", key), zap.Error(err))
			c.Next()
			return
		}
		c.Header(headerLimit, strconv.Itoa(l.cfg.Requests))
		c.Header(headerRemaining, strconv.Itoa(remaining))
		if allowed {
			c.Next()
			return
		}
		c.Header(headerRetryAfter, strconv.Itoa(int(math.Ceil(resetIn.Seconds()))))
		if l.cfg.Reject != nil {
			l.cfg.Reject(c, resetIn)
			c.Abort()
			return
		}
		c.AbortWithStatus(http.StatusTooManyRequests)
	}
}
