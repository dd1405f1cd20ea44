// Package pipeline 定义了特征融合的核心流程。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"meme-guard-go/internal/config"
	"meme-guard-go/internal/model"
	"meme-guard-go/pkg/log"
	"meme-guard-go/pkg/tagger"
	"meme-guard-go/pkg/vision"
)

// fusionTemplate 是融合阶段的固定模板。
// 模板本身就是管道版本的一部分：任何修改都必须同时提升 pipeline.version，
// 否则旧缓存与新计算会在同一版本号下悄悄分叉。
const fusionTemplate = "Post Text: %s\nImage Summary: %s\nImage Text (OCR): %s"

// defaultPolicyThreshold 是各标签未单独配置策略阈值时的默认值。
const defaultPolicyThreshold = 0.5

// Processor 封装了三阶段特征融合管道：视觉分析 → 上下文融合 → 标签推导。
// 在固定管道版本下，它是 (post_text, image) 的纯函数，这也是内容寻址缓存成立的前提。
type Processor struct {
	visionClient vision.Client
	taggerClient tagger.Client
	cfg          config.PipelineConfig
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(visionClient vision.Client, taggerClient tagger.Client, cfg config.PipelineConfig) *Processor {
	return &Processor{
		visionClient: visionClient,
		taggerClient: taggerClient,
		cfg:          cfg,
	}
}

// Version 返回当前管道版本（覆盖融合模板与标签 schema）。
func (p *Processor) Version() string {
	return p.cfg.Version
}

// Featurize 将一条帖子转换为规范特征记录。
// 任何阶段失败都不产出记录；返回的 *StageFailed 标识失败的阶段。
func (p *Processor) Featurize(ctx context.Context, post *model.Post) (*model.FeatureRecord, error) {
	contentKey := model.ContentKey(post.Text, post.ImageBytes)
	log.Infof("[Pipeline] 开始特征化, PostID: %s, ContentKey: %s", post.ID, contentKey)

	// 阶段 1a: 视觉分析（带有界重试）
	var vis *model.VisionResult
	err := p.withRetry(ctx, "vlm", func() error {
		var stageErr error
		vis, stageErr = p.visionClient.Analyze(ctx, post.ImageBytes)
		return stageErr
	})
	if err != nil {
		return nil, err
	}
	log.Infof("[Pipeline] 阶段1a: 视觉分析完成, summary_len: %d, ocr_len: %d",
		len(vis.VisualSummary), len(vis.OCRText))

	// 阶段 1b: 确定性融合
	fusedContext := FuseContext(post.Text, vis)

	// 阶段 1c: 标签推导（带有界重试）
	var scores model.ScoreVector
	err = p.withRetry(ctx, "tagger", func() error {
		var stageErr error
		scores, stageErr = p.taggerClient.Tag(ctx, fusedContext)
		return stageErr
	})
	if err != nil {
		return nil, err
	}

	tags := p.applyPolicy(scores)
	log.Infof("[Pipeline] 特征化完成, ContentKey: %s, Tags: %s", contentKey, tags.Encode())

	return &model.FeatureRecord{
		ContentKey:      contentKey,
		PipelineVersion: p.cfg.Version,
		FusedContext:    fusedContext,
		Scores:          scores,
		Tags:            tags,
		Source:          model.SourceComputed,
	}, nil
}

// FuseContext 将帖子文本和视觉分析结果拼接为统一的文本上下文。
func FuseContext(postText string, vis *model.VisionResult) string {
	return fmt.Sprintf(fusionTemplate, postText, vis.VisualSummary, vis.OCRText)
}

// applyPolicy 按各标签的策略阈值把原始分数二值化。
func (p *Processor) applyPolicy(scores model.ScoreVector) model.TagVector {
	tags := make(model.TagVector, len(scores))
	for _, name := range model.TagSchema() {
		threshold, ok := p.cfg.PolicyThresholds[name]
		if !ok {
			threshold = defaultPolicyThreshold
		}
		if scores[name] >= threshold {
			tags[name] = 1
		} else {
			tags[name] = 0
		}
	}
	return tags
}

// withRetry 对单个阶段做有界指数退避重试。
// 仅后端的瞬时错误（不可达/超时/格式不合法）允许重试；
// 重试耗尽后以 *StageFailed 终止本次请求。
func (p *Processor) withRetry(ctx context.Context, stage string, fn func() error) error {
	backoff := p.cfg.InitialBackoff
	var lastErr error

	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) {
			break
		}
		if attempt == p.cfg.MaxAttempts {
			break
		}

		log.Warnf("[Pipeline] 阶段 %s 第 %d/%d 次尝试失败, %s 后重试: %v",
			stage, attempt, p.cfg.MaxAttempts, backoff, lastErr)
		select {
		case <-ctx.Done():
			return &StageFailed{Stage: stage, Err: ctx.Err()}
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	log.Errorf("[Pipeline] 阶段 %s 重试耗尽: %v", stage, lastErr)
	return &StageFailed{Stage: stage, Err: lastErr}
}

func isRetryable(err error) bool {
	return errors.Is(err, vision.ErrBackendUnavailable) ||
		errors.Is(err, vision.ErrBackendTimeout) ||
		errors.Is(err, vision.ErrMalformedResponse)
}
