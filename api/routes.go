package api

import (
	"dbaudit/api/handlers"
	"dbaudit/internal/auth"
	"dbaudit/internal/infra"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handlers 全部业务接口
type Handlers struct {
	User      *handlers.UserHandler
	Audit     *handlers.AuditHandler
	SQLReview *handlers.SQLReviewHandler
	Query     *handlers.QueryHandler
	Archive   *handlers.ArchiveHandler
}

// RegisterRoutes 注册所有 API 路由
func RegisterRoutes(router *gin.Engine, jwtService *auth.JWTService, h *Handlers) {
	router.Use(RequestID(), RequestLogger(), gin.Recovery())

	// 监控与健康检查（公开）
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "healthy", "service": "dbaudit"})
	})
	router.GET("/ready", func(c *gin.Context) {
		if err := infra.HealthCheck(); err != nil {
			c.JSON(503, gin.H{"status": "not_ready", "reason": err.Error()})
			return
		}
		c.JSON(200, gin.H{"status": "ready"})
	})

	// 认证（公开）
	router.POST("/api/auth/login", h.User.Login)

	apiV1 := router.Group("/api/v1")
	apiV1.Use(auth.AuthMiddleware(jwtService))
	{
		apiV1.GET("/me", h.User.Me)

		// 审批流
		auditGroup := apiV1.Group("/audit")
		{
			auditGroup.GET("/pending", h.Audit.ListPending)
			auditGroup.GET("/:id", h.Audit.GetAudit)
			auditGroup.GET("/:id/events", h.Audit.StreamAudit)
			auditGroup.GET("/settings", h.Audit.ListSettings)
			auditGroup.POST("/settings", h.Audit.UpsertSetting)
		}

		// SQL 上线工单
		sqlGroup := apiV1.Group("/sqlreview")
		{
			sqlGroup.POST("/workflows", h.SQLReview.Submit)
			sqlGroup.GET("/workflows", h.SQLReview.List)
			sqlGroup.GET("/workflows/:id", h.SQLReview.Get)
			sqlGroup.POST("/workflows/:id/audit", h.SQLReview.Operate)
			sqlGroup.POST("/workflows/:id/timed-execution", h.SQLReview.SetTimedExecution)
			sqlGroup.POST("/workflows/:id/execute", h.SQLReview.Execute)
		}

		// 查询权限
		queryGroup := apiV1.Group("/query")
		{
			queryGroup.POST("/applies", h.Query.Submit)
			queryGroup.GET("/applies", h.Query.List)
			queryGroup.GET("/applies/:id", h.Query.Get)
			queryGroup.POST("/applies/:id/audit", h.Query.Operate)
			queryGroup.GET("/privileges", h.Query.MyPrivileges)
		}

		// 数据归档
		archiveGroup := apiV1.Group("/archive")
		{
			archiveGroup.POST("/configs", h.Archive.Submit)
			archiveGroup.GET("/configs", h.Archive.List)
			archiveGroup.GET("/configs/:id", h.Archive.Get)
			archiveGroup.POST("/configs/:id/audit", h.Archive.Operate)
			archiveGroup.POST("/configs/:id/disable", h.Archive.Disable)
		}
	}
}
