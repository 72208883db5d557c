package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"user-directory/internal/core/config"
	"user-directory/internal/core/server"
	mdw "user-directory/internal/transport/http/middleware"
)

func NewAPIEngine(l *zap.Logger, lim config.Limits, mods ...APIModule) *gin.Engine {
	r := server.NewRouter(l)

	// 中间件
	r.Use(mdw.RequestID())
	if lim.RPS > 0 {
		r.Use(mdw.RateLimit(rate.Limit(lim.RPS), lim.Burst))
	}
	if lim.PerIPRPS > 0 {
		r.Use(mdw.RateLimitPerIP(rate.Limit(lim.PerIPRPS), lim.PerIPBurst))
	}
	if lim.MaxInFlight > 0 {
		r.Use(mdw.ConcurrencyLimit(lim.MaxInFlight))
	}
	if lim.MaxBodyBytes > 0 {
		r.Use(mdw.MaxBodyBytes(lim.MaxBodyBytes))
	}
	if lim.TimeoutSec > 0 {
		r.Use(mdw.Timeout(time.Duration(lim.TimeoutSec) * time.Second))
	}
	r.Use(mdw.Metrics(), mdw.AccessLog(l))

	// 健康检查 / 指标
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": 1}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 前缀
	api := r.Group("/api/v1")
	MountAll(api, mods...)

	return r
}
