package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"mailfree/backend/internal/health"
	"mailfree/backend/internal/middleware"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Dependencies
	Health *health.Checker
}

// NewRouter 创建并返回 Gin 路由实例。
//
// /api 下的全部路径由 Handler.ServeAPI 按路由表分发，
// 入站 webhook、健康检查与监控指标单独注册。
func NewRouter(deps RouterDependencies) *gin.Engine {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(middleware.Recovery(deps.Metrics, logger))
	router.Use(middleware.HTTPMetrics(deps.Metrics))
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.BodySizeLimit(middleware.DefaultBodyLimit))
	router.Use(gincors.New(corsConfig(deps)))
	if deps.Tokens != nil {
		router.Use(middleware.Session(deps.Tokens, logger))
	}

	// Swagger 文档
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// 健康检查
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.Health != nil {
		router.GET("/health/live", gin.WrapF(deps.Health.Live))
		router.GET("/health/ready", gin.WrapF(deps.Health.Ready))
	}
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))
	}

	handler := NewHandler(deps.Dependencies)
	router.POST("/receive", handler.Receive)
	router.Any("/api/*path", handler.ServeAPI)

	logger.Info("http routes registered",
		zap.Bool("demo", handler.Demo()),
		zap.Int("api_routes", len(handler.routes)),
	)
	return router
}

func corsConfig(deps RouterDependencies) gincors.Config {
	var origins []string
	if deps.Config != nil {
		origins = deps.Config.CORS.AllowedOrigins
	}
	cfg := gincors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", WebhookTokenHeader},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition", "X-Max-Body-Size"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 如果允许所有来源，则需清空凭证支持。
	allowAll := len(origins) == 0
	for _, origin := range origins {
		if origin == "*" {
			allowAll = true
			break
		}
	}
	if allowAll {
		cfg.AllowOrigins = nil
		cfg.AllowAllOrigins = true
		cfg.AllowCredentials = false
	}
	return cfg
}
