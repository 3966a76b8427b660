package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/document-extractor/internal/models"
	"github.com/feichai0017/document-extractor/internal/service/analysis"
	"github.com/feichai0017/document-extractor/internal/template"
	"github.com/feichai0017/document-extractor/internal/utils/validator"
	"github.com/feichai0017/document-extractor/pkg/logger"
)

// AnalysisService handlers 依赖的服务能力
type AnalysisService interface {
	Submit(ctx context.Context, req analysis.SubmitRequest) (*models.Task, error)
	Subscribe(ctx context.Context, id string) (<-chan analysis.Event, error)
	Result(ctx context.Context, id string) (*analysis.ArchivedResult, error)
	Wait(ctx context.Context, id string) (*models.Task, error)
	Templates() *template.Registry
}

type Handlers struct {
	Analysis *AnalysisHandler
	Stream   *StreamHandler
	Template *TemplateHandler
}

func NewHandlers(service AnalysisService, logger logger.Logger) *Handlers {
	return &Handlers{
		Analysis: NewAnalysisHandler(service, logger),
		Stream:   NewStreamHandler(service, logger),
		Template: NewTemplateHandler(service.Templates()),
	}
}

// ErrorResponse 定义错误响应结构
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// Health 健康检查
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleError 统一错误处理：把哨兵错误映射为 HTTP 状态码
func handleError(c *gin.Context, log logger.Logger, err error) {
	status := http.StatusInternalServerError
	message := "处理文件时出错: " + err.Error()

	switch {
	case validator.IsInvalidUpload(err):
		status = http.StatusBadRequest
		message = err.Error()
	case errors.Is(err, models.ErrTaskNotFound):
		status = http.StatusNotFound
		message = "找不到指定的任务或任务已完成"
	case errors.Is(err, models.ErrSubscriberExists):
		status = http.StatusForbidden
		message = "该任务已有活跃的SSE连接，不允许建立多个连接"
	case errors.Is(err, models.ErrResultNotFound):
		status = http.StatusNotFound
		message = "找不到该任务的结果"
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
		message = "任务仍在处理中，请稍后重试"
	}

	if status >= http.StatusInternalServerError {
		log.Error("Request failed",
			logger.String("path", c.Request.URL.Path),
			logger.Error(err),
		)
	} else {
		log.Warn("Request rejected",
			logger.String("path", c.Request.URL.Path),
			logger.Int("status", status),
			logger.Error(err),
		)
	}

	c.JSON(status, ErrorResponse{Error: message})
}
