package mw

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// visitor 是单个键上的令牌桶及其最近活跃时间。
type visitor struct {
	lim  *rate.Limiter
	seen time.Time
}

// RL 按键分桶限速，后台定期回收闲置的桶。
type RL struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	idle     time.Duration
	stop     chan struct{}
}

func NewRateLimiter(limit rate.Limit, burst int, idle time.Duration) *RL {
	return &RL{
		visitors: make(map[string]*visitor),
		limit:    limit,
		burst:    burst,
		idle:     idle,
		stop:     make(chan struct{}),
	}
}

// Allow 对键取一个令牌，首次见到的键建新桶。
func (rl *RL) Allow(key string) bool {
	rl.mu.Lock()
	v, ok := rl.visitors[key]
	if !ok {
		v = &visitor{lim: rate.NewLimiter(rl.limit, rl.burst)}
		rl.visitors[key] = v
	}
	v.seen = time.Now()
	lim := v.lim
	rl.mu.Unlock()
	return lim.Allow()
}

func (rl *RL) sweep() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-rl.idle)
			rl.mu.Lock()
			for key, v := range rl.visitors {
				if v.seen.Before(cutoff) {
					delete(rl.visitors, key)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// Stop 终止后台回收 goroutine，优雅停服时调用。
func (rl *RL) Stop() {
	select {
	case <-rl.stop:
	default:
		close(rl.stop)
	}
}

// RateLimit 返回按 IP+路由限速的中间件，超限回 429。
func RateLimit(limit rate.Limit, burst int) gin.HandlerFunc {
	rl := NewRateLimiter(limit, burst, 2*time.Minute)
	go rl.sweep()
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		if !rl.Allow(clientIP(c.Request.RemoteAddr) + "|" + path) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}

func clientIP(remote string) string {
	if host, _, err := net.SplitHostPort(remote); err == nil {
		return host
	}
	return remote
}
