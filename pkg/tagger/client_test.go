package tagger

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
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

func fullScoresJSON(v float64) string {
	var b strings.Builder
	b.WriteString("{")
	for i, name := range model.TagSchema() {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, "%q:%f", name, v)
	}
	b.WriteString("}")
	return b.String()
}

// TestCoerceScores 输出必须完整覆盖 schema 且每个分数都在 [0,1] 区间。
func TestCoerceScores(t *testing.T) {
	scores, err := CoerceScores(fullScoresJSON(0.25))
	require.NoError(t, err)
	assert.Len(t, scores, len(model.TagSchema()))
	assert.InDelta(t, 0.25, scores["Is_Harmful_Content"], 1e-9)

	// 边界值合法
	_, err = CoerceScores(fullScoresJSON(0))
	assert.NoError(t, err)
	_, err = CoerceScores(fullScoresJSON(1))
	assert.NoError(t, err)

	// 缺少标签
	missing := strings.Replace(fullScoresJSON(0.1), `"Is_Spam":0.100000,`, "", 1)
	_, err = CoerceScores(missing)
	assert.ErrorIs(t, err, vision.ErrMalformedResponse)

	// 多余的键
	extra := strings.Replace(fullScoresJSON(0.1), "}", `,"Is_Unknown":0.1}`, 1)
	_, err = CoerceScores(extra)
	assert.ErrorIs(t, err, vision.ErrMalformedResponse)

	// 分数越界
	_, err = CoerceScores(fullScoresJSON(1.5))
	assert.ErrorIs(t, err, vision.ErrMalformedResponse)

	// 非数值 JSON
	_, err = CoerceScores(`{"Is_Harmful_Content":"high"}`)
	assert.ErrorIs(t, err, vision.ErrMalformedResponse)

	_, err = CoerceScores(`not json`)
	assert.ErrorIs(t, err, vision.ErrMalformedResponse)
}

// TestTag 打标请求携带完整 schema 的提示词，响应被严格收紧为分数向量。
func TestTag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		messages := req["messages"].([]interface{})
		content := messages[0].(map[string]interface{})["content"].(string)
		// 提示词必须包含全部标签名与融合上下文
		for _, name := range model.TagSchema() {
			assert.Contains(t, content, name)
		}
		assert.Contains(t, content, "Post Text: hello")

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": fullScoresJSON(0.8)}},
			},
		})
	}))
	defer srv.Close()

	client := NewClient(config.TaggerConfig{
		BaseURL:        srv.URL,
		APIKey:         "test-key",
		Model:          "qwen2.5:14b",
		RequestTimeout: 5 * time.Second,
	})

	scores, err := client.Tag(context.Background(), "Post Text: hello")
	require.NoError(t, err)
	assert.InDelta(t, 0.8, scores["Is_Hate_Speech"], 1e-9)
}

// TestTagBackendUnavailable 非 200 响应归类为后端不可用。
func TestTagBackendUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewClient(config.TaggerConfig{BaseURL: srv.URL, RequestTimeout: 5 * time.Second})
	_, err := client.Tag(context.Background(), "ctx")
	assert.ErrorIs(t, err, vision.ErrBackendUnavailable)
}

// TestTagEmptyChoices 不含 choices 的响应是格式错误。
func TestTagEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"choices": []interface{}{}})
	}))
	defer srv.Close()

	client := NewClient(config.TaggerConfig{BaseURL: srv.URL, RequestTimeout: 5 * time.Second})
	_, err := client.Tag(context.Background(), "ctx")
	assert.ErrorIs(t, err, vision.ErrMalformedResponse)
}
