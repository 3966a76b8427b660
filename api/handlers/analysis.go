package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/document-extractor/internal/models"
	"github.com/feichai0017/document-extractor/internal/service/analysis"
	"github.com/feichai0017/document-extractor/pkg/logger"
)

const (
	// maxResultWait ?wait=true 时最长等待时间
	maxResultWait = 2 * time.Minute
	// 任务进入终止状态后结果稍晚才写入归档
	archiveRetries = 10
	archiveBackoff = 100 * time.Millisecond
)

type AnalysisHandler struct {
	service AnalysisService
	logger  logger.Logger
}

// SubmitResponse 上传成功后的响应
type SubmitResponse struct {
	TaskID    string `json:"taskId"`
	Message   string `json:"message"`
	StreamURL string `json:"streamUrl"`
}

func NewAnalysisHandler(service AnalysisService, logger logger.Logger) *AnalysisHandler {
	return &AnalysisHandler{
		service: service,
		logger:  logger,
	}
}

// StreamPath 任务的 SSE 地址
func StreamPath(taskID string) string {
	return "/api/v1/tasks/stream/" + taskID
}

// CreateAnalysis 接收文档并登记分析任务，立即返回任务 ID
func (h *AnalysisHandler) CreateAnalysis(c *gin.Context) {
	file, header, err := c.Request.FormFile("document")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "没有提供文件"})
		return
	}
	defer file.Close()

	if header.Filename == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "没有选择文件"})
		return
	}

	streaming := strings.EqualFold(c.PostForm("is_streaming"), "true")
	task, err := h.service.Submit(c.Request.Context(), analysis.SubmitRequest{
		Filename:  header.Filename,
		Size:      header.Size,
		Content:   file,
		Template:  c.PostForm("template_type"),
		Streaming: streaming,
	})
	if err != nil {
		handleError(c, h.logger, err)
		return
	}

	mode := ""
	if streaming {
		mode = "流式"
	}
	c.JSON(http.StatusAccepted, SubmitResponse{
		TaskID:    task.ID,
		Message:   fmt.Sprintf("文件已上传，正在进行多模态%s分析处理", mode),
		StreamURL: StreamPath(task.ID),
	})
}

// DownloadResult 下载归档的最终结果
func (h *AnalysisHandler) DownloadResult(c *gin.Context) {
	taskID := c.Param("taskId")

	var (
		result *analysis.ArchivedResult
		err    error
	)
	if strings.EqualFold(c.Query("wait"), "true") {
		result, err = h.awaitResult(c.Request.Context(), taskID)
	} else {
		result, err = h.service.Result(c.Request.Context(), taskID)
	}
	if err != nil {
		handleError(c, h.logger, err)
		return
	}

	data, err := json.Marshal(result)
	if err != nil {
		handleError(c, h.logger, fmt.Errorf("failed to serialize result: %w", err))
		return
	}

	filename := fmt.Sprintf("result_%s.json", taskID)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	c.Data(http.StatusOK, "application/json", data)
}

// awaitResult 等任务结束后读取归档结果。任务已被流式连接取走时直接读取归档。
func (h *AnalysisHandler) awaitResult(ctx context.Context, taskID string) (*analysis.ArchivedResult, error) {
	ctx, cancel := context.WithTimeout(ctx, maxResultWait)
	defer cancel()

	if _, err := h.service.Wait(ctx, taskID); err != nil && !errors.Is(err, models.ErrTaskNotFound) {
		return nil, err
	}

	for i := 0; ; i++ {
		result, err := h.service.Result(ctx, taskID)
		if !errors.Is(err, models.ErrResultNotFound) || i == archiveRetries {
			return result, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(archiveBackoff):
		}
	}
}
