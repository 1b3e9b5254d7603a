package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"marketpulse.com/pkg/logger"
)

const HeaderRequestID = "X-Request-Id"

// ReqId：每个请求一个 request id，写进 request context 供日志串联，
// 同时回写响应头，客户端报障可以直接带 id 来查。
func ReqId() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(HeaderRequestID)
		if rid == "" {
			rid = uuid.NewString()
		}
		ctx := context.WithValue(c.Request.Context(), logger.TraceIdKey, rid)
		c.Request = c.Request.WithContext(ctx)
		c.Header(HeaderRequestID, rid)
		c.Next()
	}
}
