package auth

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/yourusername/eleme-backend/internal/apperr"
	"github.com/yourusername/eleme-backend/internal/metrics"
)

// 追跡中の IP が maxTrackedIPs を超えたら、limiterIdleTTL 以上使われていないものを破棄します。
const (
	maxTrackedIPs  = 1024
	limiterIdleTTL = 10 * time.Minute
)

// RequireLogin は Bearer トークンを検証するミドルウェアを返します。
func (m *Manager) RequireLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "UNAUTHORIZED",
				"message": "请先登录",
			})
			return
		}

		claims, err := m.ParseToken(c.Request.Context(), strings.TrimSpace(raw))
		if err != nil {
			if errors.Is(err, errTokenRevoked) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"code":    "TOKEN_REVOKED",
					"message": "登录已退出，请重新登录",
				})
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "TOKEN_INVALID",
				"message": "登录已过期，请重新登录",
			})
			return
		}

		c.Set(ContextUserKey, claims.Subject)
		c.Set(contextClaimsKey, claims)
		c.Next()
	}
}

// RateLimitLogin はクライアント IP ごとにログイン要求の頻度を制限します。
func (m *Manager) RateLimitLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if wait, ok := m.limiter.allow(c.ClientIP(), m.now()); !ok {
			metrics.RecordLogin("rate_limited")
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			apperr.Respond(c, apperr.New(http.StatusTooManyRequests, "TOO_MANY_REQUESTS", "请求过于频繁，请稍后再试"))
			c.Abort()
			return
		}
		c.Next()
	}
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type ipLimiter struct {
	mu      sync.Mutex
	perSec  rate.Limit
	burst   int
	entries map[string]*limiterEntry
}

func newIPLimiter(perSecond, burst int) *ipLimiter {
	if perSecond <= 0 {
		perSecond = 5
	}
	if burst <= 0 {
		burst = perSecond
	}
	return &ipLimiter{
		perSec:  rate.Limit(perSecond),
		burst:   burst,
		entries: make(map[string]*limiterEntry),
	}
}

// allow は now 時点で1件許可できるかを返します。拒否時は次に許可されるまでの目安を返します。
func (l *ipLimiter) allow(ip string, now time.Time) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.entries) > maxTrackedIPs {
		for key, e := range l.entries {
			if now.Sub(e.lastSeen) > limiterIdleTTL {
				delete(l.entries, key)
			}
		}
	}

	e, ok := l.entries[ip]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.perSec, l.burst)}
		l.entries[ip] = e
	}
	e.lastSeen = now

	r := e.limiter.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return delay, false
	}
	return 0, true
}
