package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"meme-guard-go/internal/config"
	"meme-guard-go/internal/model"
	"meme-guard-go/pkg/log"
)

// ollamaClient 通过本地 Ollama 推理引擎的 generate 接口分析图片。
// 与 remoteClient 满足同一契约，仅部署形态不同。
type ollamaClient struct {
	cfg    config.VisionConfig
	client *http.Client
}

func newOllamaClient(cfg config.VisionConfig) *ollamaClient {
	return &ollamaClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.RequestTimeout},
	}
}

type generateRequest struct {
	Model  string   `json:"model"`
	Prompt string   `json:"prompt"`
	Images []string `json:"images"`
	Stream bool     `json:"stream"`
	Format string   `json:"format"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// Analyze 调用本地推理引擎分析图片，返回严格收紧后的 VisionResult。
func (c *ollamaClient) Analyze(ctx context.Context, image []byte) (*model.VisionResult, error) {
	reqBody := generateRequest{
		Model:  c.cfg.Model,
		Prompt: c.cfg.Prompt,
		Images: []string{base64.StdEncoding.EncodeToString(image)},
		Stream: false,
		// 强制引擎输出 JSON，配合 coerceEnvelope 的严格校验
		Format: "json",
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/api/generate", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		log.Errorf("[VisionClient] 调用本地推理引擎失败: %v", err)
		return nil, ClassifyTransportErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		log.Errorf("[VisionClient] 本地推理引擎返回非 200 状态码: %s", resp.Status)
		return nil, fmt.Errorf("%w: status %s, body: %s", ErrBackendUnavailable, resp.Status, string(bodyBytes))
	}

	var gen generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gen); err != nil {
		return nil, fmt.Errorf("%w: 响应体解析失败: %v", ErrMalformedResponse, err)
	}

	return coerceEnvelope(gen.Response)
}
