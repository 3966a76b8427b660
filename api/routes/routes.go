package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/feichai0017/document-extractor/api/handlers"
	"github.com/feichai0017/document-extractor/api/middleware"
	"github.com/feichai0017/document-extractor/internal/metrics"
	"github.com/feichai0017/document-extractor/pkg/logger"
)

// SetupRoutes 配置所有路由
func SetupRoutes(r *gin.Engine, h *handlers.Handlers, m *metrics.Metrics, log logger.Logger) {
	// 全局中间件
	r.Use(middleware.CORS())
	r.Use(middleware.Logger(log))
	r.Use(middleware.Metrics(m))

	// 健康检查
	r.GET("/health", handlers.Health)
	if m != nil {
		r.GET("/metrics", gin.WrapH(m.Handler()))
	}

	// API 版本组
	v1 := r.Group("/api/v1")

	analyses := v1.Group("/analyses")
	{
		analyses.POST("", h.Analysis.CreateAnalysis)
		analyses.GET("/:taskId/result", h.Analysis.DownloadResult)
	}

	v1.GET("/tasks/stream/:taskId", h.Stream.StreamTask)
	v1.GET("/templates", h.Template.ListTemplates)
}
