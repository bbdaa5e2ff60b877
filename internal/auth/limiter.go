package auth

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/zhouzirui/career-chat/backend/pkg/utils"
)

// limiterIdle is how long an unused per-client bucket is kept.
const limiterIdle = 10 * time.Minute

// Limiter throttles requests per client IP with a token bucket.
type Limiter struct {
	mu    sync.Mutex
	pool  *cache.Cache
	rps   float64
	burst int
}

// NewLimiter builds a limiter; non-positive values fall back to 5 rps and a
// burst of 10.
func NewLimiter(rps float64, burst int) *Limiter {
	if rps <= 0 {
		rps = 5
	}
	if burst <= 0 {
		burst = 10
	}
	return &Limiter{
		pool:  cache.New(limiterIdle, limiterIdle),
		rps:   rps,
		burst: burst,
	}
}

func (l *Limiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if cached, ok := l.pool.Get(key); ok {
		lim := cached.(*rate.Limiter)
		l.pool.SetDefault(key, lim)
		return lim
	}
	lim := rate.NewLimiter(rate.Limit(l.rps), l.burst)
	l.pool.SetDefault(key, lim)
	return lim
}

// Allow consumes one token for key.
func (l *Limiter) Allow(key string) bool {
	return l.get(key).Allow()
}

// Middleware rejects callers that exhausted their bucket with 429.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(clientIP(r)) {
			w.Header().Set("Retry-After", "1")
			utils.RespondError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
