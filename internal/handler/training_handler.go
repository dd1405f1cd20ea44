// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"

	"meme-guard-go/internal/service"
	"meme-guard-go/internal/trainer"
	"meme-guard-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// TrainingHandler 负责处理排序模型训练相关的 API 请求。
type TrainingHandler struct {
	trainingService service.TrainingService
}

// NewTrainingHandler 创建一个新的 TrainingHandler 实例。
func NewTrainingHandler(trainingService service.TrainingService) *TrainingHandler {
	return &TrainingHandler{trainingService: trainingService}
}

// Run 在全量离线语料上同步执行一次训练。
// 成功后模型工件写入对象存储，并热替换线上模型。
func (h *TrainingHandler) Run(c *gin.Context) {
	m, err := h.trainingService.Train(c.Request.Context())
	if err != nil {
		if errors.Is(err, trainer.ErrEmptyCorpus) {
			c.JSON(http.StatusConflict, gin.H{
				"code":    http.StatusConflict,
				"message": "训练语料不足，无法训练模型",
			})
			return
		}
		// schema 不一致说明语料里混入了旧管道版本的样本，属于操作员可处置的
		// 状态冲突，带上具体的 schema 差异而不是归入内部错误
		if errors.Is(err, trainer.ErrSchemaMismatch) {
			c.JSON(http.StatusConflict, gin.H{
				"code":    http.StatusConflict,
				"message": err.Error(),
			})
			return
		}
		log.Error("Run: Model training failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "模型训练失败"})
		return
	}

	log.Infof("Ranker model trained on %d examples (pipeline version '%s')", m.ExampleCount, m.PipelineVersion)
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data": gin.H{
			"pipelineVersion": m.PipelineVersion,
			"exampleCount":    m.ExampleCount,
			"trainedAt":       m.TrainedAt,
		},
	})
}
