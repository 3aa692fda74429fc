// middleware/rate_limiter.go
package middleware

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"github.com/HSouheill/mlm_ledger/models"
)

type limitSpec struct {
	limit rate.Limit
	burst int
}

// RateLimiter throttles clients by IP, with tighter limits on selected route prefixes.
// A client that exceeds its limit is blocked for blockDuration.
type RateLimiter struct {
	ips           map[string]*rate.Limiter
	blockedIPs    map[string]time.Time
	mu            sync.Mutex
	defaultLimit  limitSpec
	blockDuration time.Duration
	prefixLimits  map[string]limitSpec
	skip          []string
	now           func() time.Time
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		ips:           make(map[string]*rate.Limiter),
		blockedIPs:    make(map[string]time.Time),
		defaultLimit:  limitSpec{limit: rate.Every(100 * time.Millisecond), burst: 20}, // 10 requests per second
		blockDuration: 5 * time.Minute,
		prefixLimits: map[string]limitSpec{
			// Dashboard reads fan out over several endpoints per page load.
			"/api/": {limit: rate.Every(50 * time.Millisecond), burst: 50},
		},
		skip: []string{"/health", "/metrics", "/internal/"},
		now:  time.Now,
	}
}

// SetLimit overrides the limit for every path starting with prefix.
func (r *RateLimiter) SetLimit(prefix string, every time.Duration, burst int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prefixLimits[prefix] = limitSpec{limit: rate.Every(every), burst: burst}
}

// Cleanup drops expired blocks every interval until ctx is done.
func (r *RateLimiter) Cleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *RateLimiter) sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	for ip, blockUntil := range r.blockedIPs {
		if now.After(blockUntil) {
			delete(r.blockedIPs, ip)
			delete(r.ips, ip)
		}
	}
}

func (r *RateLimiter) RateLimit() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			path := c.Request().URL.Path
			for _, prefix := range r.skip {
				if strings.HasPrefix(path, prefix) {
					return next(c)
				}
			}

			ip := c.RealIP()
			if blockUntil, blocked := r.blocked(ip); blocked {
				return tooManyRequests(c, blockUntil)
			}

			if !r.getLimiter(ip, r.specFor(path)).Allow() {
				r.mu.Lock()
				blockUntil := r.now().Add(r.blockDuration)
				r.blockedIPs[ip] = blockUntil
				r.mu.Unlock()
				return tooManyRequests(c, blockUntil)
			}

			return next(c)
		}
	}
}

// blocked reports an active block for ip and resets the limiter of an expired one.
func (r *RateLimiter) blocked(ip string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	blockUntil, ok := r.blockedIPs[ip]
	if !ok {
		return time.Time{}, false
	}
	if r.now().Before(blockUntil) {
		return blockUntil, true
	}
	delete(r.blockedIPs, ip)
	delete(r.ips, ip)
	return time.Time{}, false
}

func (r *RateLimiter) specFor(path string) limitSpec {
	r.mu.Lock()
	defer r.mu.Unlock()
	best, bestLen := r.defaultLimit, 0
	for prefix, spec := range r.prefixLimits {
		if strings.HasPrefix(path, prefix) && len(prefix) > bestLen {
			best, bestLen = spec, len(prefix)
		}
	}
	return best
}

func (r *RateLimiter) getLimiter(ip string, spec limitSpec) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	limiter, exists := r.ips[ip]
	if !exists {
		limiter = rate.NewLimiter(spec.limit, spec.burst)
		r.ips[ip] = limiter
	}
	return limiter
}

func tooManyRequests(c echo.Context, retryAfter time.Time) error {
	c.Response().Header().Set("Retry-After", retryAfter.UTC().Format(http.TimeFormat))
	return c.JSON(http.StatusTooManyRequests, models.Response{
		Status:  http.StatusTooManyRequests,
		Message: "Too many requests",
		Data:    map[string]string{"retryAfter": retryAfter.UTC().Format(time.RFC3339)},
	})
}
