// Package tagger provides the tagging capability that maps a fused textual
// context onto the fixed moderation tag schema.
package tagger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"meme-guard-go/internal/config"
	"meme-guard-go/internal/model"
	"meme-guard-go/pkg/log"
	"meme-guard-go/pkg/vision"
)

// Client defines the interface for a tagging backend.
// 输出必须覆盖完整的标签 schema，每个标签的分数在 [0,1] 区间。
type Client interface {
	Tag(ctx context.Context, fusedContext string) (model.ScoreVector, error)
}

// llmClient 通过 OpenAI 兼容的 chat/completions 接口用文本模型打分。
type llmClient struct {
	cfg    config.TaggerConfig
	client *http.Client
}

// NewClient 创建一个新的打标客户端。
func NewClient(cfg config.TaggerConfig) Client {
	return &llmClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.RequestTimeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
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

// buildPrompt 构造打分提示词，schema 顺序固定写入。
func buildPrompt(fusedContext string) string {
	var b strings.Builder
	b.WriteString("You are a content moderation scorer. Given the post context below, ")
	b.WriteString("return a JSON object scoring each category between 0.0 and 1.0.\n")
	b.WriteString("Categories: ")
	b.WriteString(strings.Join(model.TagSchema(), ", "))
	b.WriteString("\nReturn ONLY the JSON object with exactly these keys.\n\n")
	b.WriteString(fusedContext)
	return b.String()
}

// Tag 对融合上下文打分，返回严格校验后的分数向量。
func (c *llmClient) Tag(ctx context.Context, fusedContext string) (model.ScoreVector, error) {
	reqBody := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "user", Content: buildPrompt(fusedContext)},
		},
		// 温度固定为 0，尽可能保持同一上下文打分稳定
		Temperature: 0,
	}
	reqBody.ResponseFormat.Type = "json_object"

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tagger request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/chat/completions", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create tagger request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		log.Errorf("[TaggerClient] 调用打标后端失败: %v", err)
		return nil, vision.ClassifyTransportErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		log.Errorf("[TaggerClient] 打标后端返回非 200 状态码: %s", resp.Status)
		return nil, fmt.Errorf("%w: status %s, body: %s", vision.ErrBackendUnavailable, resp.Status, string(bodyBytes))
	}

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return nil, fmt.Errorf("%w: 响应体解析失败: %v", vision.ErrMalformedResponse, err)
	}
	if len(chat.Choices) == 0 {
		return nil, fmt.Errorf("%w: 响应不含 choices", vision.ErrMalformedResponse)
	}

	return CoerceScores(chat.Choices[0].Message.Content)
}

// CoerceScores 将后端输出严格收紧为完整覆盖 schema 的分数向量：
// 每个标签必须出现且为 [0,1] 内的数值，多余的键一律拒绝。
func CoerceScores(raw string) (model.ScoreVector, error) {
	var parsed map[string]float64
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("%w: 非数值 JSON 对象: %v", vision.ErrMalformedResponse, err)
	}

	schema := model.TagSchema()
	if len(parsed) != len(schema) {
		return nil, fmt.Errorf("%w: 期望 %d 个标签, 实际 %d 个", vision.ErrMalformedResponse, len(schema), len(parsed))
	}

	scores := make(model.ScoreVector, len(schema))
	for _, name := range schema {
		v, ok := parsed[name]
		if !ok {
			return nil, fmt.Errorf("%w: 缺少标签 %s", vision.ErrMalformedResponse, name)
		}
		if v < 0 || v > 1 {
			return nil, fmt.Errorf("%w: 标签 %s 的分数 %f 越界", vision.ErrMalformedResponse, name, v)
		}
		scores[name] = v
	}
	return scores, nil
}
