// Package vision provides clients for image-understanding model backends.
package vision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"

	"meme-guard-go/internal/config"
	"meme-guard-go/internal/model"
)

// 模型后端错误的分类。三者在管道内均可做有界重试。
// tagger 包调用的文本打标后端遵循同一错误契约，复用这组哨兵值。
var (
	// ErrBackendUnavailable 表示配置的后端无法连通或返回了服务级错误。
	ErrBackendUnavailable = errors.New("模型后端不可用")
	// ErrBackendTimeout 表示后端调用超过了配置的时限。
	ErrBackendTimeout = errors.New("模型后端调用超时")
	// ErrMalformedResponse 表示后端输出无法解析为要求的结构。
	// 解析失败必须显式报错，静默回退空字符串会让特征质量坏得无法察觉。
	ErrMalformedResponse = errors.New("模型后端响应格式不合法")
)

// Client defines the interface for a vision analyzer backend.
// 两种实现（网络服务 / 本地推理引擎）满足完全相同的契约，
// 调用方除延迟外无法区分请求由哪个变体服务。
type Client interface {
	Analyze(ctx context.Context, image []byte) (*model.VisionResult, error)
}

// NewClient 按配置中的 provider 创建视觉分析客户端。
func NewClient(cfg config.VisionConfig) (Client, error) {
	switch cfg.Provider {
	case "remote":
		return newRemoteClient(cfg), nil
	case "ollama":
		return newOllamaClient(cfg), nil
	default:
		return nil, fmt.Errorf("未知的视觉后端 provider: %q", cfg.Provider)
	}
}

// envelope 是视觉后端必须给出的严格输出结构。
type envelope struct {
	VisualSummary *string `json:"visual_summary"`
	OCRText       *string `json:"ocr_text"`
}

// coerceEnvelope 对后端的自由文本输出做严格的 schema 收紧：
// 必须是恰好含 visual_summary 与 ocr_text 两个字符串字段的 JSON 对象。
func coerceEnvelope(raw string) (*model.VisionResult, error) {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &keys); err != nil {
		return nil, fmt.Errorf("%w: 非 JSON 对象: %v", ErrMalformedResponse, err)
	}
	if len(keys) != 2 {
		return nil, fmt.Errorf("%w: 期望恰好 2 个字段, 实际 %d 个", ErrMalformedResponse, len(keys))
	}

	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, fmt.Errorf("%w: 字段类型不匹配: %v", ErrMalformedResponse, err)
	}
	if env.VisualSummary == nil || env.OCRText == nil {
		return nil, fmt.Errorf("%w: 缺少 visual_summary 或 ocr_text 字段", ErrMalformedResponse)
	}

	return &model.VisionResult{
		VisualSummary: *env.VisualSummary,
		OCRText:       *env.OCRText,
	}, nil
}

// ClassifyTransportErr 将 HTTP 传输错误归类到后端错误分类。
// 打标客户端与视觉客户端共用这套归类。
func ClassifyTransportErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrBackendTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrBackendTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
}
