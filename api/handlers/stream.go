package handlers

import (
	"io"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/document-extractor/pkg/logger"
)

type StreamHandler struct {
	service AnalysisService
	logger  logger.Logger
}

func NewStreamHandler(service AnalysisService, logger logger.Logger) *StreamHandler {
	return &StreamHandler{
		service: service,
		logger:  logger,
	}
}

// StreamTask 以 SSE 推送任务进度，终止事件之后连接关闭
func (h *StreamHandler) StreamTask(c *gin.Context) {
	taskID := c.Param("taskId")

	events, err := h.service.Subscribe(c.Request.Context(), taskID)
	if err != nil {
		handleError(c, h.logger, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	c.Stream(func(w io.Writer) bool {
		ev, ok := <-events
		if !ok {
			return false
		}
		c.SSEvent(string(ev.Type), ev.Data)
		return true
	})
}
