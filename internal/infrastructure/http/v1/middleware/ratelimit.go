package middleware

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"prodlog/internal/core/apperror"
	appctx "prodlog/internal/core/context"
)

const limiterIdle = 10 * time.Minute

type callerLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimit enforces a per-caller token bucket on mutating routes. Callers
// are keyed by user id, falling back to client IP. Every submission contends
// for the period lock, so bursts from one client only produce LOCK_HELD for
// everybody else. rps <= 0 disables the limiter.
func RateLimit(rps float64, burst int) gin.HandlerFunc {
	if rps <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if burst < 1 {
		burst = 1
	}

	var (
		mu        sync.Mutex
		limiters  = make(map[string]*callerLimiter)
		lastSweep = time.Now()
	)

	return func(c *gin.Context) {
		key := c.ClientIP()
		if user := appctx.GetUser(c.Request.Context()); user != nil && user.UserID != "" {
			key = "user:" + user.UserID
		}

		now := time.Now()
		mu.Lock()
		if now.Sub(lastSweep) > limiterIdle {
			for k, l := range limiters {
				if now.Sub(l.lastSeen) > limiterIdle {
					delete(limiters, k)
				}
			}
			lastSweep = now
		}
		l, ok := limiters[key]
		if !ok {
			l = &callerLimiter{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
			limiters[key] = l
		}
		l.lastSeen = now
		allowed := l.limiter.AllowN(now, 1)
		mu.Unlock()

		if !allowed {
			c.Header("Retry-After", "1")
			_ = c.Error(apperror.NewRateLimited("1s"))
			c.Abort()
			return
		}
		c.Next()
	}
}
