package api

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"marketpulse.com/pkg/middleware"
	"marketpulse.com/pkg/ratelimit"
)

// NewRouter：REST + /ws + /metrics 挂到一个端口上。
// limiter 可为 nil（不限流，开发模式）；只罩查询面，/ws /metrics /healthz 不限。
func NewRouter(h *Handler, serveWS http.HandlerFunc, limiter *ratelimit.Store) *gin.Engine {
	r := gin.New()
	r.Use(middleware.ReqId())
	r.Use(middleware.Recover())
	r.Use(cors.Default())

	v1 := r.Group("/api/v1")
	if limiter != nil {
		v1.Use(middleware.RateLimit(limiter))
	}
	{
		v1.GET("/candles", h.Candles)
		v1.GET("/trades", h.Trades)
		v1.GET("/stats", h.Stats)
	}

	r.GET("/ws", gin.WrapF(serveWS))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	return r
}
