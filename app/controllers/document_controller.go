package controllers

import (
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/aihub/support-agent/internal/config"
	"github.com/aihub/support-agent/internal/logger"
	"go.uber.org/zap"
)

// DocumentController 知识库文档控制器
type DocumentController struct {
	BaseController
}

// IngestTextRequest 文本摄取请求体
type IngestTextRequest struct {
	Name    string `json:"name"`
	Source  string `json:"source"`
	Content string `json:"content"`
}

// List GET /api/documents
func (c *DocumentController) List() {
	page, _ := c.GetInt("page", 1)
	limit, _ := c.GetInt("limit", 20)

	documents, total, err := registry.Documents.ListDocuments(c.Ctx.Request.Context(), page, limit)
	if err != nil {
		c.JSONAppError(err, "获取文档列表失败")
		return
	}

	c.JSONSuccess(map[string]interface{}{
		"documents": documents,
		"total":     total,
		"page":      page,
		"limit":     limit,
	})
}

// Get GET /api/documents/:id
func (c *DocumentController) Get() {
	documentID, ok := c.mustParseUintParam(":id")
	if !ok {
		return
	}

	document, err := registry.Documents.GetDocument(c.Ctx.Request.Context(), uint(documentID))
	if err != nil {
		c.JSONAppError(err, "获取文档失败")
		return
	}

	c.JSONSuccess(document)
}

// Create POST /api/documents
// 直接摄取一段文本，无需文件上传
func (c *DocumentController) Create() {
	var req IngestTextRequest
	if err := json.Unmarshal(c.Ctx.Input.RequestBody, &req); err != nil {
		c.JSONError(http.StatusBadRequest, "请求参数错误")
		return
	}
	if strings.TrimSpace(req.Name) == "" || req.Content == "" {
		c.JSONError(http.StatusBadRequest, "name和content不能为空")
		return
	}
	if req.Source == "" {
		req.Source = "api"
	}

	document, err := registry.Support.IngestDocument(c.Ctx.Request.Context(), req.Name, req.Source, req.Content)
	if err != nil {
		c.JSONAppError(err, "文档摄取失败")
		return
	}

	c.JSONSuccess(document)
}

// Upload POST /api/documents/upload
func (c *DocumentController) Upload() {
	file, header, err := c.GetFile("file")
	if err != nil {
		c.JSONError(http.StatusBadRequest, "缺少上传文件")
		return
	}
	defer file.Close()

	if cfg := config.AppConfig; cfg != nil && header.Size > cfg.FileUpload.MaxSize {
		c.JSONError(http.StatusRequestEntityTooLarge, "文件超过大小限制")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSONError(http.StatusInternalServerError, "读取上传文件失败")
		return
	}

	filename := filepath.Base(header.Filename)
	document, err := registry.Support.IngestUpload(c.Ctx.Request.Context(), filename, data)
	if err != nil {
		logger.Error("Document upload failed",
			zap.String("file", filename),
			zap.String("ip", c.getClientIP()),
			zap.Error(err))
		c.JSONAppError(err, "文档上传失败")
		return
	}

	c.JSONSuccess(document)
}

// Delete DELETE /api/documents/:id
func (c *DocumentController) Delete() {
	documentID, ok := c.mustParseUintParam(":id")
	if !ok {
		return
	}

	if err := registry.Support.DeleteDocument(c.Ctx.Request.Context(), uint(documentID)); err != nil {
		c.JSONAppError(err, "删除文档失败")
		return
	}

	c.JSONSuccess(map[string]interface{}{
		"message": "文档已删除",
	})
}

// Formats GET /api/documents/formats
func (c *DocumentController) Formats() {
	c.JSONSuccess(map[string]interface{}{
		"formats": registry.Support.SupportedFormats(),
	})
}

// mustParseUintParam 解析URL参数为uint
func (c *DocumentController) mustParseUintParam(key string) (uint64, bool) {
	value := c.GetString(key)
	if value == "" {
		c.JSONError(http.StatusBadRequest, "缺少必要参数")
		return 0, false
	}

	id, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		c.JSONError(http.StatusBadRequest, "参数格式错误")
		return 0, false
	}

	return id, true
}
