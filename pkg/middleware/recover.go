package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"marketpulse.com/pkg/logger"
	"marketpulse.com/pkg/xerr"
)

// Recover：handler panic 不许带崩进程，打足现场后回统一错误体
func Recover() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error(c.Request.Context(), "http panic",
					zap.String("method", c.Request.Method),
					zap.String("path", c.Request.URL.Path),
					zap.Any("panic", err),
					zap.ByteString("stack", debug.Stack()),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"code": xerr.ServerCommonError,
					"msg":  xerr.MapErrMsg(xerr.ServerCommonError),
				})
			}
		}()
		c.Next()
	}
}
