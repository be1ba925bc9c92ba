package core

import (
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"golang.org/x/time/rate"

	"expenseterminal/internal/types"
)

// compressMinSize is the smallest response body worth gzipping. Most API
// errors are well under it.
const compressMinSize = 1024

// limiterIdleTTL is how long an idle user's bucket is kept before Sweep
// drops it.
const limiterIdleTTL = 10 * time.Minute

type userLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// UserRateLimiter keeps one token bucket per authenticated user. It is the
// only mutable in-process state in the API and is safe for concurrent use.
type UserRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*userLimiter
	limit    rate.Limit
	burst    int
	now      func() time.Time
}

// NewUserRateLimiter allows rps sustained requests per second per user with
// bursts up to burst. A non-positive rps disables limiting.
func NewUserRateLimiter(rps float64, burst int) *UserRateLimiter {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &UserRateLimiter{
		limiters: make(map[string]*userLimiter),
		limit:    limit,
		burst:    burst,
		now:      time.Now,
	}
}

// Reserve takes one token for userID. It reports whether the request may
// proceed and, if not, how long the caller should wait.
func (l *UserRateLimiter) Reserve(userID string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	ul, ok := l.limiters[userID]
	if !ok {
		ul = &userLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[userID] = ul
	}
	ul.lastSeen = now

	if ul.limiter.AllowN(now, 1) {
		return true, 0
	}
	r := ul.limiter.ReserveN(now, 1)
	wait := r.DelayFrom(now)
	r.CancelAt(now)
	return false, wait
}

// Sweep drops buckets that have been idle longer than limiterIdleTTL.
func (l *UserRateLimiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-limiterIdleTTL)
	dropped := 0
	for id, ul := range l.limiters {
		if ul.lastSeen.Before(cutoff) {
			delete(l.limiters, id)
			dropped++
		}
	}
	return dropped
}

// Len returns the number of tracked users.
func (l *UserRateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// RateLimit enforces the per-user limiter on authenticated requests. It
// must run after AuthMiddleware; requests without a user pass through.
func (s *Server) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := types.GetUserID(r.Context())
		if s.Limiter == nil || !ok {
			next.ServeHTTP(w, r)
			return
		}

		allowed, wait := s.Limiter.Reserve(userID)
		if !allowed {
			retryAfter := int(wait.Seconds() + 0.999)
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))

			s.Logger.WarnContext(r.Context(), "rate limit exceeded",
				slog.String("user_id", userID),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
			)
			Error(w, r, types.NewAppError(types.ErrCodeRateLimit, "Rate limit exceeded. Retry shortly.", nil))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Compress gzips responses larger than compressMinSize for clients that
// accept it.
func Compress() (func(http.Handler) http.Handler, error) {
	wrap, err := gzhttp.NewWrapper(gzhttp.MinSize(compressMinSize))
	if err != nil {
		return nil, err
	}
	return func(next http.Handler) http.Handler {
		return wrap(next)
	}, nil
}
