package httpx

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Limiter decides whether one more request for key fits in the current window.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// WithRateLimit rejects requests over the limiter's budget with 429. When the
// limiter itself fails, failOpen decides between serving and answering 503.
func WithRateLimit(l Limiter, logger *slog.Logger, failOpen bool) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, err := l.Allow(r.Context(), clientKey(r))
			if err != nil {
				if logger != nil {
					logger.Warn("rate limiter error", "err", err)
				}
				if failOpen {
					next.ServeHTTP(w, r)
					return
				}
				http.Error(w, "rate limiter unavailable", http.StatusServiceUnavailable)
				return
			}
			if !ok {
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// MemoryRateLimiter is a per-process fixed-window limiter.
type MemoryRateLimiter struct {
	limit    int
	window   time.Duration
	now      func() time.Time
	mu       sync.Mutex
	visitors map[string]*visitor
}

type visitor struct {
	count     int
	resetTime time.Time
}

func NewMemoryRateLimiter(limit int, window time.Duration) *MemoryRateLimiter {
	if limit <= 0 {
		limit = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	return &MemoryRateLimiter{
		limit:    limit,
		window:   window,
		now:      time.Now,
		visitors: map[string]*visitor{},
	}
}

func (rl *MemoryRateLimiter) Allow(_ context.Context, key string) (bool, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	v := rl.visitors[key]
	if v == nil || now.After(v.resetTime) {
		rl.visitors[key] = &visitor{
			count:     1,
			resetTime: now.Add(rl.window),
		}
		return true, nil
	}

	if v.count >= rl.limit {
		return false, nil
	}
	v.count++
	return true, nil
}

func clientKey(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-User-Id")); id != "" {
		return "user:" + id
	}
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		parts := strings.Split(ip, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}
