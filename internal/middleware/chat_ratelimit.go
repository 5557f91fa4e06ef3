package middleware

import (
	"errors"
	"net/http"
	"strconv"

	"golang.org/x/time/rate"
)

// ErrSendRateLimited is returned to an actor whose send bucket is empty.
var ErrSendRateLimited = errors.New("You are sending messages too quickly.")

// SendLimiter holds one token bucket per actor for message sends. The same
// limiter guards the HTTP send route and socket message frames. A nil
// *SendLimiter allows everything.
type SendLimiter struct {
	pool  *limiterPool
	burst int
}

// NewSendLimiter returns nil when perMinute < 1, which disables the limit.
func NewSendLimiter(perMinute, burst int) *SendLimiter {
	if perMinute < 1 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &SendLimiter{
		pool:  newLimiterPool(rate.Limit(float64(perMinute)/60), burst),
		burst: burst,
	}
}

// Allow takes one token from actorID's bucket.
func (l *SendLimiter) Allow(actorID string) bool {
	if l == nil {
		return true
	}
	return l.pool.allow(actorID)
}

// Middleware limits message sends per actor. It must run after RequireActor;
// requests without an actor pass through untouched.
func (l *SendLimiter) Middleware(next http.Handler) http.Handler {
	if l == nil {
		return next
	}
	limit := strconv.Itoa(l.burst)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := ActorFromContext(r.Context())
		if actor == nil {
			next.ServeHTTP(w, r)
			return
		}
		lim := l.pool.get(actor.ID)
		if !lim.Allow() {
			w.Header().Set("X-RateLimit-Limit", limit)
			w.Header().Set("X-RateLimit-Remaining", "0")
			writeJSONError(w, http.StatusTooManyRequests, ErrSendRateLimited.Error())
			return
		}
		w.Header().Set("X-RateLimit-Limit", limit)
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(int(lim.Tokens()))) // best effort
		next.ServeHTTP(w, r)
	})
}

// SendRateLimit is NewSendLimiter(perMinute, burst).Middleware.
func SendRateLimit(perMinute, burst int) func(http.Handler) http.Handler {
	return NewSendLimiter(perMinute, burst).Middleware
}
