package middleware

import (
	"context"
	"crypto/sha256"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/diagnosis/afyaplus/internal/http/response"
	"github.com/diagnosis/afyaplus/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// RateLimitConfig defines rate limiting parameters
type RateLimitConfig struct {
	Prefix   string
	Requests int
	Window   time.Duration
	KeyFunc  func(r *http.Request) string
	SkipFunc func(r *http.Request) bool
}

// RateLimiter is a fixed-window limiter backed by Redis INCR/EXPIRE.
type RateLimiter struct {
	client *redis.Client
	config RateLimitConfig
}

func NewRateLimiter(client *redis.Client, config RateLimitConfig) *RateLimiter {
	if config.KeyFunc == nil {
		config.KeyFunc = ClientIP
	}
	if config.Prefix == "" {
		config.Prefix = "ratelimit"
	}
	return &RateLimiter{client: client, config: config}
}

func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rl.config.SkipFunc != nil && rl.config.SkipFunc(r) {
				next.ServeHTTP(w, r)
				return
			}

			allowed, err := rl.Allow(r.Context(), rl.config.KeyFunc(r))
			if err != nil {
				// Fail open on Redis errors.
				logger.WarnContext(r.Context(), "Rate limit check failed", logger.Err(err))
			} else if !allowed {
				w.Header().Set("Retry-After", fmt.Sprintf("%d", int(rl.config.Window.Seconds())))
				response.RateLimit(w, "Too many requests. Try again later.")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Allow counts one hit for key in the current window.
func (rl *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	redisKey := rl.redisKey(key)
	count, err := rl.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, err
	}
	if count == 1 {
		if err := rl.client.Expire(ctx, redisKey, rl.config.Window).Err(); err != nil {
			return false, err
		}
	}
	return count <= int64(rl.config.Requests), nil
}

func (rl *RateLimiter) redisKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%s:%x", rl.config.Prefix, sum[:16])
}

// ClientIP extracts the caller address, honouring proxy headers.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xrip := strings.TrimSpace(r.Header.Get("X-Real-IP")); xrip != "" {
		return xrip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// NewRedisClient parses a redis:// URL and verifies the connection.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
