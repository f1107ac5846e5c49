package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"pg-pointage/backend/config"
	"pg-pointage/backend/internal/api/handler"
	"pg-pointage/backend/internal/api/middleware"
	"pg-pointage/backend/pkg/jwt"
	"pg-pointage/backend/pkg/redis"
)

// Setup 初始化并返回 Gin 路由引擎
// db 与 rdb 仅用于健康检查，rdb 为 nil 时限流与黑名单降级
func Setup(cfg *config.Config, h *handler.Handler, jwtMgr *jwt.Manager, rdb *redis.Client, db *gorm.DB, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// ── 全局中间件 ──
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.Server.CORS.AllowOrigins))
	if cfg.Server.MaxBodyBytes > 0 {
		r.Use(middleware.BodyLimit(cfg.Server.MaxBodyBytes))
	}

	// ── 健康检查与指标 ──
	r.GET("/health", healthCheck(db, rdb))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// ── API v1 ──
	v1 := r.Group("/api/v1")
	v1.Use(middleware.JWTAuth(jwtMgr, rdb))
	{
		// 打卡模块
		scans := v1.Group("/scans")
		{
			scans.POST("", middleware.RateLimit(rdb, cfg.Server.RateLimit.Requests, cfg.Server.RateLimit.Window), h.Scan.Ingest)
		}

		// 异常模块
		anomalies := v1.Group("/anomalies")
		{
			anomalies.GET("", h.Anomaly.ListAnomalies)
			anomalies.GET("/:id", h.Anomaly.GetAnomaly)
			anomalies.POST("/rescan", middleware.RoleAuth(jwt.RoleAdmin, jwt.RoleManager), h.Anomaly.Rescan)
			anomalies.PUT("/:id/status", middleware.RoleAuth(jwt.RoleAdmin, jwt.RoleManager), h.Anomaly.UpdateStatus)
		}
	}

	return r
}

func healthCheck(db *gorm.DB, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		status := gin.H{"status": "ok", "database": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		code := http.StatusOK

		if db != nil {
			if sqlDB, err := db.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
				status["status"], status["database"] = "degraded", "unreachable"
				code = http.StatusServiceUnavailable
			}
		}
		switch {
		case rdb == nil:
			status["redis"] = "disabled"
		case rdb.Ping(ctx) != nil:
			status["redis"] = "unreachable"
		default:
			status["redis"] = "ok"
		}

		c.JSON(code, status)
	}
}
