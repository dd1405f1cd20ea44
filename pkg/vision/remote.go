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

// remoteClient 通过 OpenAI 兼容的 chat/completions 接口调用远程视觉模型服务。
type remoteClient struct {
	cfg    config.VisionConfig
	client *http.Client
}

func newRemoteClient(cfg config.VisionConfig) *remoteClient {
	return &remoteClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.RequestTimeout},
	}
}

type chatContent struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL *struct {
		URL string `json:"url"`
	} `json:"image_url,omitempty"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []chatContent `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	ResponseFormat struct {
		Type string `json:"type"`
	} `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Analyze 调用远程视觉模型分析图片，返回严格收紧后的 VisionResult。
func (c *remoteClient) Analyze(ctx context.Context, image []byte) (*model.VisionResult, error) {
	imageURL := struct {
		URL string `json:"url"`
	}{URL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(image)}

	reqBody := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{{
			Role: "user",
			Content: []chatContent{
				{Type: "text", Text: c.cfg.Prompt},
				{Type: "image_url", ImageURL: &imageURL},
			},
		}},
	}
	reqBody.ResponseFormat.Type = "json_object"

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal vision request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/chat/completions", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create vision request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		log.Errorf("[VisionClient] 调用远程视觉服务失败: %v", err)
		return nil, ClassifyTransportErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		log.Errorf("[VisionClient] 远程视觉服务返回非 200 状态码: %s", resp.Status)
		return nil, fmt.Errorf("%w: status %s, body: %s", ErrBackendUnavailable, resp.Status, string(bodyBytes))
	}

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return nil, fmt.Errorf("%w: 响应体解析失败: %v", ErrMalformedResponse, err)
	}
	if len(chat.Choices) == 0 {
		return nil, fmt.Errorf("%w: 响应不含 choices", ErrMalformedResponse)
	}

	return coerceEnvelope(chat.Choices[0].Message.Content)
}
