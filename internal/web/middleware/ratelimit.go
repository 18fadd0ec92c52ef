package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lodgic/authd/internal/cache"
	"github.com/lodgic/authd/internal/web/response"
)

// RateLimiter is the limiting strategy behind the middleware.
type RateLimiter interface {
	// Allow reports whether one more request fits in the window.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// RateLimit binds a limit to a key derivation for one route group.
type RateLimit struct {
	Requests int
	Window   time.Duration
	KeyFunc  func(r *http.Request) string
}

// KeyByIP keys limits on the client address, honoring the usual proxy
// headers before falling back to the socket peer.
func KeyByIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ips := strings.Split(xff, ","); len(ips) > 0 {
			if ip := strings.TrimSpace(ips[0]); ip != "" {
				return ip
			}
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return ip
	}
	return r.RemoteAddr
}

// RateLimitMiddleware rejects requests over the limit with 429. A
// failing limiter backend lets requests through rather than taking the
// whole service down with it.
func RateLimitMiddleware(limiter RateLimiter, limit RateLimit) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := limit.KeyFunc(r)
			if key == "" {
				key = "unknown"
			}

			allowed, err := limiter.Allow(r.Context(), key, limit.Requests, limit.Window)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			if !allowed {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit.Requests))
				w.Header().Set("Retry-After", strconv.Itoa(int(limit.Window.Seconds())))
				response.JSONResponse(w, http.StatusTooManyRequests, response.APIResponse{
					Code:    http.StatusTooManyRequests,
					Message: "rate limit exceeded",
					Status:  "RATE_LIMITED",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// tokenBucket refills continuously over its window.
type tokenBucket struct {
	tokens   int
	capacity int
	refillAt time.Time
	window   time.Duration
	mutex    sync.Mutex
}

func (tb *tokenBucket) take() bool {
	tb.mutex.Lock()
	defer tb.mutex.Unlock()

	now := time.Now()
	if now.After(tb.refillAt.Add(tb.window)) {
		tb.tokens = tb.capacity
		tb.refillAt = now
	} else {
		elapsed := now.Sub(tb.refillAt)
		tokensToAdd := int(elapsed.Nanoseconds() * int64(tb.capacity) / tb.window.Nanoseconds())
		if tokensToAdd > 0 {
			tb.tokens = min(tb.capacity, tb.tokens+tokensToAdd)
			tb.refillAt = now
		}
	}

	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	return false
}

// InMemoryRateLimiter keeps token buckets per key. Suitable for a
// single instance; multi-instance deployments use the Redis limiter so
// all instances share one budget.
type InMemoryRateLimiter struct {
	buckets map[string]*tokenBucket
	mutex   sync.Mutex
	stop    chan struct{}
}

func NewInMemoryRateLimiter() *InMemoryRateLimiter {
	rl := &InMemoryRateLimiter{
		buckets: make(map[string]*tokenBucket),
		stop:    make(chan struct{}),
	}
	go rl.janitor()
	return rl
}

func (rl *InMemoryRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	bucketKey := fmt.Sprintf("%s:%d:%s", key, limit, window)

	rl.mutex.Lock()
	bucket, exists := rl.buckets[bucketKey]
	if !exists {
		bucket = &tokenBucket{tokens: limit, capacity: limit, refillAt: time.Now(), window: window}
		rl.buckets[bucketKey] = bucket
	}
	rl.mutex.Unlock()

	return bucket.take(), nil
}

func (rl *InMemoryRateLimiter) Close() error {
	close(rl.stop)
	return nil
}

func (rl *InMemoryRateLimiter) janitor() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stop:
			return
		}
	}
}

func (rl *InMemoryRateLimiter) cleanup() {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := time.Now()
	for key, bucket := range rl.buckets {
		bucket.mutex.Lock()
		stale := now.Sub(bucket.refillAt) > bucket.window*2
		bucket.mutex.Unlock()
		if stale {
			delete(rl.buckets, key)
		}
	}
}

// RedisRateLimiter counts requests per fixed window in the shared
// cache, so the limit holds across server instances.
type RedisRateLimiter struct {
	Cache *cache.Service
}

func NewRedisRateLimiter(c *cache.Service) *RedisRateLimiter {
	return &RedisRateLimiter{Cache: c}
}

func (rl *RedisRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	windowBucket := time.Now().Unix() / int64(window.Seconds())
	counterKey := fmt.Sprintf("ratelimit:%s:%d", key, windowBucket)

	count, err := rl.Cache.Increment(ctx, counterKey, window)
	if err != nil {
		return true, err
	}
	return count <= int64(limit), nil
}
