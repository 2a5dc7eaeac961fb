package httptransport

import (
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"licensegate/backend/internal/auth"
	"licensegate/backend/internal/config"
	"licensegate/backend/internal/health"
	"licensegate/backend/internal/middleware"
	"licensegate/backend/internal/monitoring"
	"licensegate/backend/internal/service"
	"licensegate/backend/internal/storage"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config            *config.Config
	ActivationService *service.ActivationService
	AdminService      *service.AdminService
	Guard             *auth.Guard
	Store             storage.Store
	Metrics           *monitoring.Metrics
	HealthChecker     *health.HealthChecker
	Logger            *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	router := gin.New()

	monitoringMW := middleware.NewMonitoringMiddleware(deps.Metrics, deps.Logger)

	// 使用自定义中间件替代默认中间件
	router.Use(monitoringMW.PanicRecovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(deps.Logger))
	router.Use(middleware.SecurityHeaders())
	router.Use(monitoringMW.HTTPMetrics())
	router.Use(monitoringMW.RateLimitMetrics())

	// 请求体大小限制：所有接口的载荷都很小
	router.Use(middleware.RequestSizeLimit(64 * 1024))

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins: deps.Config.CORS.AllowedOrigins,
		AllowMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", middleware.AdminTokenHeader},
		ExposeHeaders: []string{
			"Content-Length",
			"X-RateLimit-Limit",
			"X-RateLimit-Remaining",
			middleware.RequestIDHeader,
		},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	// 创建处理器
	activateHandler := NewActivateHandler(deps.ActivationService, deps.Metrics)
	adminHandler := NewAdminHandler(deps.AdminService, deps.Metrics)

	// 创建中间件
	adminAuth := middleware.NewAdminAuth(deps.Guard)
	activateRateLimit := middleware.RateLimitByIP(
		deps.Store,
		deps.Logger,
		deps.Config.RateLimit.ActivatePerIP,
		deps.Config.RateLimit.ActivateWindow,
	)

	// 监控与健康检查
	router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))
	router.GET("/health/live", gin.WrapF(deps.HealthChecker.LiveHandler()))
	router.GET("/health/ready", gin.WrapF(deps.HealthChecker.ReadyHandler()))

	// V1 API
	v1 := router.Group("/v1")
	{
		// ========== Public Routes（客户端激活，无需认证） ==========
		v1.POST("/activate", activateRateLimit, activateHandler.Activate)

		// ========== Admin Routes（管理令牌保护） ==========
		adminRoutes := v1.Group("/admin", adminAuth.RequireAdmin())
		{
			adminRoutes.POST("/keys", adminHandler.CreateKeys)
			adminRoutes.GET("/keys", adminHandler.ListKeys)
			adminRoutes.POST("/keys/:key/revoke", adminHandler.RevokeKey)
			adminRoutes.POST("/keys/:key/reset-hwid", adminHandler.ResetHwid)
			adminRoutes.PUT("/keys/:key/note", adminHandler.SetNote)
		}
	}

	return router
}
