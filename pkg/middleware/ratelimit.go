package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"marketpulse.com/pkg/logger"
	"marketpulse.com/pkg/metrics"
	"marketpulse.com/pkg/ratelimit"
	"marketpulse.com/pkg/xerr"
)

// RateLimit：按 客户端IP+路由 维度限流查询面。
// 限流属于"可控拒绝"，不要打堆栈（压测会炸日志）。
func RateLimit(store *ratelimit.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		key := c.ClientIP() + ":" + route

		if !store.Allow(key) {
			metrics.RateLimitBlockTotal.WithLabelValues(route).Inc()
			logger.Warn(c.Request.Context(), "http rate limited",
				zap.String("ip", c.ClientIP()),
				zap.String("route", route),
			)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code": xerr.TooManyRequests,
				"msg":  xerr.MapErrMsg(xerr.TooManyRequests),
			})
			return
		}
		c.Next()
	}
}
