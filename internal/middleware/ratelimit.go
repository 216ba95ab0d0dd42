package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// RateLimiter decides whether a client may make another request.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (allowed bool, remaining int, reset time.Time, err error)
}

// RedisRateLimiter is a fixed-window limiter keyed by client.
type RedisRateLimiter struct {
	client *redis.Client
	prefix string
	limit  int64
	window time.Duration
	now    func() time.Time
}

// NewRedisRateLimiter creates a limiter allowing limit requests per window.
// Limiters sharing a Redis instance must use distinct prefixes.
func NewRedisRateLimiter(client *redis.Client, prefix string, limit int, window time.Duration) *RedisRateLimiter {
	return &RedisRateLimiter{
		client: client,
		prefix: "taskboard:ratelimit:" + prefix + ":",
		limit:  int64(limit),
		window: window,
		now:    time.Now,
	}
}

// Allow increments the counter of the current window for key.
func (l *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, int, time.Time, error) {
	windowStart := l.now().Truncate(l.window)
	reset := windowStart.Add(l.window)
	redisKey := fmt.Sprintf("%s%s:%d", l.prefix, key, windowStart.Unix())

	pipe := l.client.Pipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.ExpireAt(ctx, redisKey, reset)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, time.Time{}, fmt.Errorf("rate limiter: %w", err)
	}

	count := incr.Val()
	remaining := l.limit - count
	if remaining < 0 {
		remaining = 0
	}
	return count <= l.limit, int(remaining), reset, nil
}

// KeyFunc returns the rate limiting key of a request.
type KeyFunc func(r *http.Request) string

// RateLimit rejects clients that exceed the limiter with 429.
// Limiter failures are logged and the request is let through.
func RateLimit(limiter RateLimiter, limit int, key KeyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, remaining, reset, err := limiter.Allow(r.Context(), key(r))
			if err != nil {
				slog.Warn("rate limiter unavailable", "error", err)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))

			if !allowed {
				retryAfter := int(time.Until(reset).Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests, please try again later")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP resolves the address of the caller. X-Forwarded-For is only
// honoured when the connection comes from a trusted proxy.
type ClientIP struct {
	trusted []netip.Prefix
}

// NewClientIP parses trusted proxy addresses given as single IPs or CIDR ranges.
// With no trusted proxies the socket address is always used.
func NewClientIP(trustedProxies []string) (*ClientIP, error) {
	c := &ClientIP{}
	for _, raw := range trustedProxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.Contains(raw, "/") {
			prefix, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: %w", raw, err)
			}
			c.trusted = append(c.trusted, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", raw, err)
		}
		c.trusted = append(c.trusted, netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()))
	}
	return c, nil
}

// Of returns the caller address of r. Behind trusted proxies it walks
// X-Forwarded-For from the right and returns the first untrusted hop.
func (c *ClientIP) Of(r *http.Request) string {
	remote := remoteHost(r)
	if len(c.trusted) == 0 || !c.isTrusted(remote) {
		return remote
	}

	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		addr, err := netip.ParseAddr(hop)
		if err != nil {
			break
		}
		if !c.isTrusted(hop) {
			return addr.Unmap().String()
		}
	}
	return remote
}

func (c *ClientIP) isTrusted(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range c.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ByIP keys requests by caller address.
func (c *ClientIP) ByIP(r *http.Request) string {
	return "ip:" + c.Of(r)
}

// ByActor keys authenticated requests by user id and falls back to the
// caller address. It must run after Authenticate.
func (c *ClientIP) ByActor(r *http.Request) string {
	if actor, err := ActorFromContext(r.Context()); err == nil {
		return "user:" + actor.UserID
	}
	return c.ByIP(r)
}

// remoteHost returns the host part of the socket address.
func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
