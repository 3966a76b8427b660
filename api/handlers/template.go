package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/document-extractor/internal/template"
)

type TemplateHandler struct {
	registry *template.Registry
}

type TemplateInfo struct {
	Name     string `json:"name"`
	Template string `json:"template"`
}

func NewTemplateHandler(registry *template.Registry) *TemplateHandler {
	return &TemplateHandler{registry: registry}
}

// ListTemplates 返回所有模板名及原始模板文本
func (h *TemplateHandler) ListTemplates(c *gin.Context) {
	names := h.registry.Names()
	out := make([]TemplateInfo, 0, len(names))
	for _, name := range names {
		out = append(out, TemplateInfo{Name: name, Template: h.registry.Lookup(name).Raw})
	}
	c.JSON(http.StatusOK, gin.H{"templates": out})
}
