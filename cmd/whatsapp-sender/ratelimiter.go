package main

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	apperrors "github.com/willianmendesf/whatsapp-sender/internal/errors"
	"github.com/willianmendesf/whatsapp-sender/internal/httputil"
	"github.com/willianmendesf/whatsapp-sender/internal/metrics"
	"github.com/willianmendesf/whatsapp-sender/internal/service"
)

const rateLimitedTotal = "rate_limited_requests_total"

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter applies a token bucket per client IP. A client may burst up
// to requests calls and then refills at requests per window.
type RateLimiter struct {
	mu       sync.Mutex
	clients  map[string]*clientLimiter
	limit    rate.Limit
	burst    int
	window   time.Duration
	requests int
	now      func() time.Time
}

func NewRateLimiter(requests int, window time.Duration) *RateLimiter {
	if requests < 1 {
		requests = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		clients:  make(map[string]*clientLimiter),
		limit:    rate.Every(window / time.Duration(requests)),
		burst:    requests,
		window:   window,
		requests: requests,
		now:      time.Now,
	}
}

// Allow reports whether ip may make a request now.
func (rl *RateLimiter) Allow(ip string) bool {
	return rl.reserve(ip) == 0
}

// reserve takes a token for ip and returns zero, or the delay until the
// next token when the bucket is empty.
func (rl *RateLimiter) reserve(ip string) time.Duration {
	now := rl.now()

	rl.mu.Lock()
	client, ok := rl.clients[ip]
	if !ok {
		client = &clientLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[ip] = client
	}
	client.lastSeen = now
	rl.mu.Unlock()

	if client.limiter.AllowN(now, 1) {
		return 0
	}
	return rl.window / time.Duration(rl.requests)
}

// Clients returns the number of tracked client buckets.
func (rl *RateLimiter) Clients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// cleanup drops clients idle for longer than one window. Their buckets are
// full again by then, so forgetting them changes nothing.
func (rl *RateLimiter) cleanup() int {
	cutoff := rl.now().Add(-rl.window)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	for ip, client := range rl.clients {
		if client.lastSeen.Before(cutoff) {
			delete(rl.clients, ip)
			removed++
		}
	}
	return removed
}

// StartCleanup prunes idle clients every window until ctx ends.
func (rl *RateLimiter) StartCleanup(ctx context.Context) {
	ticker := time.NewTicker(rl.window)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.cleanup()
		}
	}
}

// Middleware rejects requests over the limit with 429.
func (rl *RateLimiter) Middleware(logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := httputil.GetClientIP(r)
			wait := rl.reserve(ip)
			if wait == 0 {
				next.ServeHTTP(w, r)
				return
			}

			err := apperrors.NewRateLimitError(rl.requests, rl.window.String())
			apperrors.LogError(logger, err, "Rate limit exceeded", logrus.Fields{
				service.LogFieldRemoteIP: ip,
				service.LogFieldURL:      r.URL.Path,
			})
			metrics.IncrementCounter(rateLimitedTotal, map[string]string{"endpoint": r.URL.Path}, "Requests rejected by the rate limiter")

			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			writeError(w, http.StatusTooManyRequests, apperrors.GetUserMessage(err))
		})
	}
}
