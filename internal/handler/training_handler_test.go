package handler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"meme-guard-go/internal/trainer"
	"meme-guard-go/pkg/log"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	log.Init("error", "console", "")
	os.Exit(m.Run())
}

// stubTrainingService 按注入的结果回放 Train，LoadLatest 恒成功。
type stubTrainingService struct {
	model *trainer.Model
	err   error
}

func (s *stubTrainingService) Train(ctx context.Context) (*trainer.Model, error) {
	return s.model, s.err
}

func (s *stubTrainingService) LoadLatest(ctx context.Context) error { return nil }

func runTraining(svc *stubTrainingService) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/api/v1/training/run", nil)
	NewTrainingHandler(svc).Run(c)
	return w
}

// TestTrainingRunCorpusErrors 语料类错误（样本不足 / schema 不一致）都是
// 操作员可处置的状态冲突，映射为 409 而不是笼统的 500。
func TestTrainingRunCorpusErrors(t *testing.T) {
	w := runTraining(&stubTrainingService{
		err: fmt.Errorf("%w: 需要至少 10 条, 实际 0 条", trainer.ErrEmptyCorpus),
	})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "训练语料不足")

	w = runTraining(&stubTrainingService{
		err: fmt.Errorf("%w: 样本 ID=7 (key=abc, version=v1)", trainer.ErrSchemaMismatch),
	})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "schema 不匹配")
	assert.Contains(t, w.Body.String(), "ID=7")
}

// TestTrainingRunInternalError 其余训练失败仍归入 500，不向外泄露细节。
func TestTrainingRunInternalError(t *testing.T) {
	w := runTraining(&stubTrainingService{err: assert.AnError})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "模型训练失败")
}

// TestTrainingRunSuccess 成功时返回模型摘要。
func TestTrainingRunSuccess(t *testing.T) {
	w := runTraining(&stubTrainingService{
		model: &trainer.Model{PipelineVersion: "v1", ExampleCount: 42},
	})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"exampleCount":42`)
	assert.Contains(t, w.Body.String(), `"pipelineVersion":"v1"`)
}
