// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"net/http"

	"meme-guard-go/internal/service"
	"meme-guard-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// IngestHandler 负责处理离线语料接入相关的 API 请求。
type IngestHandler struct {
	ingestService service.IngestService
}

// NewIngestHandler 创建一个新的 IngestHandler 实例。
func NewIngestHandler(ingestService service.IngestService) *IngestHandler {
	return &IngestHandler{ingestService: ingestService}
}

// IngestBatch 处理批量接入请求。
// 请求体为 multipart 表单，manifest 字段是 JSONL 清单文件；
// 每行投递为一条 Kafka 任务，由消费者异步特征化并入库。
func (h *IngestHandler) IngestBatch(c *gin.Context) {
	fileHeader, err := c.FormFile("manifest")
	if err != nil {
		log.Warnf("IngestBatch: Missing manifest file, error: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "无效的请求：manifest 文件不能为空",
		})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		log.Error("IngestBatch: Failed to open manifest", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "读取清单失败"})
		return
	}
	defer file.Close()

	enqueued, skipped, err := h.ingestService.IngestManifest(c.Request.Context(), file)
	if err != nil {
		log.Error("IngestBatch: Manifest ingestion failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "清单接入失败"})
		return
	}

	log.Infof("Manifest '%s' ingested: %d enqueued, %d skipped", fileHeader.Filename, enqueued, skipped)
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data": gin.H{
			"enqueued": enqueued,
			"skipped":  skipped,
		},
	})
}

// Verify 核对清单引用的图片与对象存储的实际内容是否一致。
func (h *IngestHandler) Verify(c *gin.Context) {
	fileHeader, err := c.FormFile("manifest")
	if err != nil {
		log.Warnf("Verify: Missing manifest file, error: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "无效的请求：manifest 文件不能为空",
		})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		log.Error("Verify: Failed to open manifest", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "读取清单失败"})
		return
	}
	defer file.Close()

	report, err := h.ingestService.VerifyManifest(c.Request.Context(), file)
	if err != nil {
		log.Error("Verify: Manifest verification failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "清单核对失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": report})
}
