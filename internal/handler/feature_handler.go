// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"net/http"
	"strconv"

	"meme-guard-go/internal/service"
	"meme-guard-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// FeatureHandler 负责处理特征存储管理相关的 API 请求。
type FeatureHandler struct {
	store         service.FeatureStoreService
	searchService service.SearchService
}

// NewFeatureHandler 创建一个新的 FeatureHandler 实例。
func NewFeatureHandler(store service.FeatureStoreService, searchService service.SearchService) *FeatureHandler {
	return &FeatureHandler{store: store, searchService: searchService}
}

// InvalidateRequest 定义了缓存失效 API 的请求体结构。
type InvalidateRequest struct {
	PipelineVersion string `json:"pipelineVersion" binding:"required"`
}

// Invalidate 将活动管道版本提升到新版本，逻辑上分区整个特征缓存。
func (h *FeatureHandler) Invalidate(c *gin.Context) {
	var req InvalidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("Invalidate: Invalid request payload, error: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "无效的请求负载：pipelineVersion 不能为空",
		})
		return
	}

	purged, err := h.store.Invalidate(c.Request.Context(), req.PipelineVersion)
	if err != nil {
		log.Warnf("Invalidate: Version promotion to '%s' rejected, error: %v", req.PipelineVersion, err)
		c.JSON(http.StatusConflict, gin.H{"code": http.StatusConflict, "message": err.Error()})
		return
	}

	log.Infof("Pipeline version promoted to '%s', %d online entries purged", req.PipelineVersion, purged)
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data": gin.H{
			"activeVersion": h.store.ActiveVersion(),
			"purgedOnline":  purged,
		},
	})
}

// Search 在审计索引中按融合上下文全文检索特征记录。
func (h *FeatureHandler) Search(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "无效的请求：查询参数 q 不能为空",
		})
		return
	}

	size, _ := strconv.Atoi(c.DefaultQuery("size", "10"))
	pipelineVersion := c.Query("pipelineVersion")

	docs, err := h.searchService.SearchFeatures(c.Request.Context(), query, pipelineVersion, size)
	if err != nil {
		log.Error("Search: Feature search failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "特征检索失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": docs})
}
