package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/syncbridge/replica-server-go/internal/config"
	apperrors "github.com/syncbridge/replica-server-go/internal/errors"
)

const (
	rateLimitKeyPrefix = "ratelimit:conn:"
	rateLimitWindow    = 60 * time.Second
)

var rateLimitScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

local windowStart = now - window

redis.call('ZREMRANGEBYSCORE', key, '-inf', windowStart)

local count = redis.call('ZCARD', key)

if count >= limit then
    local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
    local resetAt = 0
    if #oldest >= 2 then
        resetAt = tonumber(oldest[2]) + window
    else
        resetAt = now + window
    end
    return {0, 0, resetAt}
end

redis.call('ZADD', key, now, now .. '-' .. math.random())
redis.call('EXPIRE', key, window + 10)

local remaining = limit - count - 1
local resetAt = now + window

return {1, remaining, resetAt}
`)

// RedisRateLimiter is a sliding-window counter shared by every instance of
// this node, keyed by connection.
type RedisRateLimiter struct {
	client *redis.Client
}

func NewRedisRateLimiter(client *redis.Client) *RedisRateLimiter {
	return &RedisRateLimiter{client: client}
}

// Check consumes one slot. Redis being unreachable fails open; replication
// should not stop because the rate limiter store is down.
func (rl *RedisRateLimiter) Check(ctx context.Context, connectionID string, limit int) (allowed bool, remaining int, resetAt int64) {
	now := time.Now().Unix()
	key := rateLimitKeyPrefix + connectionID

	result, err := rateLimitScript.Run(ctx, rl.client, []string{key}, now, int64(rateLimitWindow.Seconds()), limit).Int64Slice()
	if err != nil {
		log.Warn().Err(err).Str("connectionId", connectionID).Msg("redis rate limit check failed, allowing request")
		return true, limit - 1, now + int64(rateLimitWindow.Seconds())
	}

	if len(result) != 3 {
		log.Warn().Str("connectionId", connectionID).Msg("unexpected redis rate limit result")
		return true, limit - 1, now + int64(rateLimitWindow.Seconds())
	}

	return result[0] == 1, int(result[1]), result[2]
}

// RedisRateLimitMiddleware applies the per-connection budget to the peer
// HTTP API. It must run after PeerAuthMiddleware.
type RedisRateLimitMiddleware struct {
	limiter      *RedisRateLimiter
	defaultLimit int
}

func NewRedisRateLimitMiddleware(redisClient *redis.Client, defaultLimit int) *RedisRateLimitMiddleware {
	if defaultLimit <= 0 {
		defaultLimit = config.DefaultRateLimitPerMin
	}
	return &RedisRateLimitMiddleware{
		limiter:      NewRedisRateLimiter(redisClient),
		defaultLimit: defaultLimit,
	}
}

func (m *RedisRateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn := GetConnection(r.Context())
		if conn == nil {
			next.ServeHTTP(w, r)
			return
		}

		limit := m.defaultLimit
		if conn.RateLimitPerMin != nil && *conn.RateLimitPerMin > 0 {
			limit = *conn.RateLimitPerMin
		}

		allowed, remaining, resetAt := m.limiter.Check(r.Context(), conn.ID, limit)

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt, 10))

		if !allowed {
			log.Warn().Str("connectionId", conn.ID).Msg("rate limit exceeded")
			w.Header().Set("Retry-After", "60")
			writeError(w, apperrors.RateLimitExceeded())
			return
		}

		next.ServeHTTP(w, r)
	})
}
