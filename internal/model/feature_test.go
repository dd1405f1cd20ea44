package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestContentKey 内容键是 (text, image) 的确定性函数，任一分量变化键必变。
func TestContentKey(t *testing.T) {
	key := ContentKey("a", nil)
	assert.Len(t, key, 32)
	assert.Regexp(t, "^[0-9a-f]{32}$", key)
	assert.Equal(t, key, ContentKey("a", nil))

	assert.NotEqual(t, key, ContentKey("b", nil))
	assert.NotEqual(t, key, ContentKey("a", []byte{0x01}))
}

// TestContentKeyBoundary 文本与图片的边界不可混淆：拼接后字节相同的
// 两个不同 (text, image) 组合绝不能共享同一个缓存键。
func TestContentKeyBoundary(t *testing.T) {
	assert.NotEqual(t, ContentKey("ab", []byte("c")), ContentKey("a", []byte("bc")))
	assert.NotEqual(t, ContentKey("abc", nil), ContentKey("", []byte("abc")))
	assert.NotEqual(t, ContentKey("a", []byte("bc")), ContentKey("abc", nil))
}

// TestTagVectorEncode 编码按 schema 顺序输出，不受 map 迭代顺序影响。
func TestTagVectorEncode(t *testing.T) {
	tags := TagVector{}
	for _, name := range TagSchema() {
		tags[name] = 0
	}
	tags["Is_Violent"] = 1

	encoded := tags.Encode()
	assert.Equal(t, encoded, tags.Encode())
	assert.Equal(t, `{"Is_Harmful_Content":0,"Is_Hate_Speech":0,"Is_Violent":1,"Is_Sexual":0,"Is_Political_Content":0,"Is_Spam":0,"Is_Copyright_Infringement":0}`, encoded)

	// 编码结果是合法 JSON，可无损还原
	var decoded TagVector
	require.NoError(t, json.Unmarshal([]byte(encoded), &decoded))
	assert.Equal(t, tags, decoded)
}

// TestScoreVectorEncode 分数编码同样按 schema 顺序、定长小数位输出。
func TestScoreVectorEncode(t *testing.T) {
	scores := ScoreVector{}
	for _, name := range TagSchema() {
		scores[name] = 0.5
	}
	encoded := scores.Encode()
	assert.Equal(t, encoded, scores.Encode())
	assert.Contains(t, encoded, `"Is_Harmful_Content":0.500000`)
}

// TestMatchesSchema 键集合必须与 schema 完全一致。
func TestMatchesSchema(t *testing.T) {
	full := TagVector{}
	for _, name := range TagSchema() {
		full[name] = 0
	}
	assert.True(t, full.MatchesSchema())

	missing := TagVector{}
	for _, name := range TagSchema() {
		missing[name] = 0
	}
	delete(missing, "Is_Spam")
	assert.False(t, missing.MatchesSchema())

	renamed := TagVector{}
	for _, name := range TagSchema() {
		renamed[name] = 0
	}
	delete(renamed, "Is_Spam")
	renamed["Is_Junk"] = 0
	assert.False(t, renamed.MatchesSchema())

	assert.False(t, TagVector{}.MatchesSchema())
}

// TestVectorScan 数据库中的 text 字段可直接扫回向量。
func TestVectorScan(t *testing.T) {
	var tags TagVector
	require.NoError(t, tags.Scan(`{"Is_Harmful_Content":1}`))
	assert.Equal(t, 1, tags["Is_Harmful_Content"])

	var scores ScoreVector
	require.NoError(t, scores.Scan([]byte(`{"Is_Spam":0.75}`)))
	assert.InDelta(t, 0.75, scores["Is_Spam"], 1e-9)

	assert.Error(t, tags.Scan(42))
}
