package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"licensegate/backend/internal/storage"
)

// localLimiters 进程内令牌桶集合
//
// 共享计数存储不可用时的降级路径：限流继续生效，只是不再跨实例共享。
type localLimiters struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newLocalLimiters(requests int, window time.Duration) *localLimiters {
	return &localLimiters{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Every(window / time.Duration(requests)),
		burst:    requests,
	}
}

// allow 判断指定来源是否放行
func (l *localLimiters) allow(key string) bool {
	l.mu.Lock()
	limiter, ok := l.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[key] = limiter

		// 防止 map 无限增长
		if len(l.limiters) > 10000 {
			l.limiters = make(map[string]*rate.Limiter)
			l.limiters[key] = limiter
		}
	}
	l.mu.Unlock()

	return limiter.Allow()
}

// RateLimitByIP 按客户端 IP 限流
//
// 首选共享计数存储（Redis 或内存存储的计数表），同一窗口内超过
// requests 次的请求返回 429。存储故障时降级到进程内令牌桶，
// 绝不因限流基础设施故障而放大为请求失败。
func RateLimitByIP(store storage.RateLimitRepository, logger *zap.Logger, requests int, window time.Duration) gin.HandlerFunc {
	local := newLocalLimiters(requests, window)

	return func(c *gin.Context) {
		ip := c.ClientIP()
		key := fmt.Sprintf("ratelimit:activate:%s", ip)

		count, err := store.IncrementRateLimit(c.Request.Context(), key, window)
		if err != nil {
			// 共享计数不可用，降级到本地令牌桶
			logger.Warn("rate limit store unavailable, using local limiter",
				zap.String("ip", ip),
				zap.Error(err),
			)
			if !local.allow(ip) {
				tooManyRequests(c, requests, window)
				return
			}
			c.Next()
			return
		}

		remaining := int64(requests) - count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(requests))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if count > int64(requests) {
			logger.Warn("rate limit exceeded",
				zap.String("ip", ip),
				zap.Int64("count", count),
				zap.Int("limit", requests),
			)
			tooManyRequests(c, requests, window)
			return
		}

		c.Next()
	}
}

// tooManyRequests 返回统一的限流响应
func tooManyRequests(c *gin.Context, requests int, window time.Duration) {
	c.Header("Retry-After", strconv.Itoa(int(window.Seconds())))
	c.JSON(http.StatusTooManyRequests, gin.H{
		"error": "rate limit exceeded",
		"limit": requests,
	})
	c.Abort()
}
