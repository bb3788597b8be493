package httptransport

import (
	"strings"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ecodoc/agent/internal/cache"
	"ecodoc/agent/internal/config"
	"ecodoc/agent/internal/draft"
	"ecodoc/agent/internal/health"
	"ecodoc/agent/internal/metrics"
	"ecodoc/agent/internal/middleware"
	"ecodoc/agent/internal/notify"
	"ecodoc/agent/internal/portal"
	"ecodoc/agent/internal/store"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config        *config.Config
	Manager       *draft.Manager
	Store         store.Store
	Portal        *portal.Client
	CacheProxy    *cache.Proxy
	Hub           *notify.Hub
	HealthChecker *health.HealthChecker
	Metrics       *metrics.Metrics
	Logger        *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	router := gin.New()

	router.Use(middleware.RecoveryHandler(deps.Logger, deps.Metrics))
	router.Use(middleware.RequestLogger(deps.Logger))
	router.Use(middleware.MetricsCollector(deps.Metrics))
	router.Use(middleware.BodySizeLimit(middleware.DefaultBodyLimit))

	corsConfig := gincors.Config{
		AllowOrigins:     deps.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		AllowCredentials: true,
	}
	for _, origin := range deps.Config.CORS.AllowedOrigins {
		if origin == "*" {
			corsConfig.AllowAllOrigins = true
			corsConfig.AllowOrigins = nil
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	draftHandler := NewDraftHandler(deps.Manager, deps.Store, deps.Logger)
	attachmentHandler := NewAttachmentHandler(deps.Store, deps.Portal, deps.Logger)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/drafts", draftHandler.Create)
		v1.GET("/drafts", draftHandler.List)
		v1.POST("/drafts/sync", draftHandler.SyncAll)
		v1.POST("/drafts/:id/sync", draftHandler.Sync)
		v1.DELETE("/drafts/:id", draftHandler.Delete)
		v1.GET("/attachments/:id", attachmentHandler.Get)
	}

	// 离线缓存代理：/offline 前缀剥离后转发门户
	offline := router.Group("/offline", stripPrefix("/offline"))
	{
		offline.Any("/api/*path", deps.CacheProxy.APIHandler())
		offline.GET("/assets/*path", deps.CacheProxy.StaticHandler())
		offline.GET("/fonts/*path", deps.CacheProxy.StaticHandler())
	}

	router.GET("/ws", deps.Hub.HandleWS)
	router.GET("/health/live", gin.WrapH(deps.HealthChecker.LiveHandler()))
	router.GET("/health/ready", gin.WrapH(deps.HealthChecker.ReadyHandler()))
	router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))

	return router
}

// stripPrefix 剥离路由组前缀，代理按剥离后的路径回源。
func stripPrefix(prefix string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.URL.Path = strings.TrimPrefix(c.Request.URL.Path, prefix)
		c.Next()
	}
}
