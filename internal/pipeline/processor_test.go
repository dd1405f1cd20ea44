package pipeline

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"meme-guard-go/internal/config"
	"meme-guard-go/internal/model"
	"meme-guard-go/pkg/log"
	"meme-guard-go/pkg/vision"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	log.Init("error", "console", "")
	os.Exit(m.Run())
}

// fakeVision 是可编程的视觉后端桩。
type fakeVision struct {
	result *model.VisionResult
	err    error
	calls  int
}

func (f *fakeVision) Analyze(ctx context.Context, image []byte) (*model.VisionResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

// fakeTagger 是可编程的打标后端桩。
type fakeTagger struct {
	scores model.ScoreVector
	err    error
	calls  int
}

func (f *fakeTagger) Tag(ctx context.Context, fusedContext string) (model.ScoreVector, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.scores, nil
}

func uniformScores(v float64) model.ScoreVector {
	scores := make(model.ScoreVector)
	for _, name := range model.TagSchema() {
		scores[name] = v
	}
	return scores
}

func testPipelineConfig() config.PipelineConfig {
	return config.PipelineConfig{
		Version:        "v1",
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
	}
}

// TestFeaturizeDeterministic 同一 (text, image) 两次特征化必须产出逐字节一致的记录。
func TestFeaturizeDeterministic(t *testing.T) {
	vis := &fakeVision{result: &model.VisionResult{VisualSummary: "a cat meme", OCRText: "lol"}}
	tag := &fakeTagger{scores: uniformScores(0.1)}
	p := NewProcessor(vis, tag, testPipelineConfig())

	post := &model.Post{ID: "p1", Text: "funny cat", ImageBytes: []byte{0x89, 0x50, 0x4e, 0x47}}

	first, err := p.Featurize(context.Background(), post)
	require.NoError(t, err)
	second, err := p.Featurize(context.Background(), post)
	require.NoError(t, err)

	assert.Equal(t, first.ContentKey, second.ContentKey)
	assert.Equal(t, first.FusedContext, second.FusedContext)
	assert.Equal(t, first.Tags.Encode(), second.Tags.Encode())
	assert.Equal(t, first.Scores.Encode(), second.Scores.Encode())
	assert.Equal(t, model.SourceComputed, first.Source)
}

// TestFeaturizeFusedContext 融合上下文必须同时包含帖子文本、视觉摘要与 OCR 文本。
// 促销类内容（"50% off"）不应被标为有害。
func TestFeaturizeFusedContext(t *testing.T) {
	vis := &fakeVision{result: &model.VisionResult{VisualSummary: "store sale banner", OCRText: "SALE 50% OFF"}}
	tag := &fakeTagger{scores: uniformScores(0.05)}
	p := NewProcessor(vis, tag, testPipelineConfig())

	post := &model.Post{ID: "p2", Text: "50% off today!", ImageBytes: []byte("img")}
	record, err := p.Featurize(context.Background(), post)
	require.NoError(t, err)

	assert.Contains(t, record.FusedContext, "50% off today!")
	assert.Contains(t, record.FusedContext, "store sale banner")
	assert.Contains(t, record.FusedContext, "SALE 50% OFF")
	assert.Equal(t, 0, record.Tags["Is_Harmful_Content"])
	assert.True(t, record.Tags.MatchesSchema())
}

// TestFeaturizeRetryExhaustion 瞬时错误重试耗尽后必须以 StageFailed 终止，且不产出记录。
func TestFeaturizeRetryExhaustion(t *testing.T) {
	vis := &fakeVision{err: vision.ErrBackendUnavailable}
	tag := &fakeTagger{scores: uniformScores(0.1)}
	p := NewProcessor(vis, tag, testPipelineConfig())

	record, err := p.Featurize(context.Background(), &model.Post{ID: "p3", Text: "x", ImageBytes: []byte("y")})
	require.Error(t, err)
	assert.Nil(t, record)

	var stageErr *StageFailed
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, "vlm", stageErr.Stage)
	assert.ErrorIs(t, stageErr.Err, vision.ErrBackendUnavailable)
	assert.Equal(t, 3, vis.calls)
	assert.Equal(t, 0, tag.calls)
}

// TestFeaturizeNonRetryable 非瞬时错误不允许重试。
func TestFeaturizeNonRetryable(t *testing.T) {
	vis := &fakeVision{err: errors.New("image too large")}
	p := NewProcessor(vis, &fakeTagger{}, testPipelineConfig())

	_, err := p.Featurize(context.Background(), &model.Post{ID: "p4", ImageBytes: []byte("y")})
	require.Error(t, err)
	assert.Equal(t, 1, vis.calls)
}

// TestFeaturizeTaggerFailure 打标阶段终态失败同样不产出部分记录。
func TestFeaturizeTaggerFailure(t *testing.T) {
	vis := &fakeVision{result: &model.VisionResult{VisualSummary: "s", OCRText: "o"}}
	tag := &fakeTagger{err: vision.ErrMalformedResponse}
	p := NewProcessor(vis, tag, testPipelineConfig())

	record, err := p.Featurize(context.Background(), &model.Post{ID: "p5", ImageBytes: []byte("y")})
	require.Error(t, err)
	assert.Nil(t, record)

	var stageErr *StageFailed
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, "tagger", stageErr.Stage)
	assert.Equal(t, 3, tag.calls)
}

// TestApplyPolicyThresholds 分数恰好等于阈值时必须置 1（>= 的边界语义）。
func TestApplyPolicyThresholds(t *testing.T) {
	cfg := testPipelineConfig()
	cfg.PolicyThresholds = map[string]float64{
		"Is_Harmful_Content": 0.3,
		"Is_Hate_Speech":     0.9,
	}
	p := NewProcessor(&fakeVision{}, &fakeTagger{}, cfg)

	scores := uniformScores(0.3)
	tags := p.applyPolicy(scores)

	assert.Equal(t, 1, tags["Is_Harmful_Content"]) // 0.3 >= 0.3
	assert.Equal(t, 0, tags["Is_Hate_Speech"])     // 0.3 < 0.9
	assert.Equal(t, 0, tags["Is_Violent"])         // 0.3 < 默认 0.5
	assert.True(t, tags.MatchesSchema())
}
