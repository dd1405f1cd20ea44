package service

import (
	"context"
	"strings"
	"testing"

	"meme-guard-go/internal/config"
	"meme-guard-go/pkg/tasks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testIngestService(produced *[]tasks.PostIngestTask) *ingestService {
	return &ingestService{
		store:    nil,
		minioCfg: config.MinIOConfig{BucketName: "test", ImagePrefix: "images/"},
		produce: func(task tasks.PostIngestTask) error {
			*produced = append(*produced, task)
			return nil
		},
	}
}

// TestIngestManifest 合法行逐条投递，缺字段或非 JSON 的行跳过计数，不中断整体接入。
func TestIngestManifest(t *testing.T) {
	manifest := strings.Join([]string{
		`{"id":"p1","text":"hello","img":"a.png","label":0}`,
		``,
		`not a json line`,
		`{"id":"p2","text":"bad","img":"b.jpg","label":1}`,
		`{"id":"p3","text":"no label","img":"c.png"}`,
		`{"id":"","text":"no id","img":"d.png","label":0}`,
	}, "\n")

	var produced []tasks.PostIngestTask
	s := testIngestService(&produced)

	enqueued, skipped, err := s.IngestManifest(context.Background(), strings.NewReader(manifest))
	require.NoError(t, err)
	assert.Equal(t, 2, enqueued)
	assert.Equal(t, 3, skipped)

	require.Len(t, produced, 2)
	assert.Equal(t, "p1", produced[0].PostID)
	assert.Equal(t, "images/a.png", produced[0].ImageObject)
	assert.Equal(t, 0, produced[0].Label)
	assert.Equal(t, "p2", produced[1].PostID)
	assert.Equal(t, "images/b.jpg", produced[1].ImageObject)
	assert.Equal(t, 1, produced[1].Label)
}

// TestImageObjectPrefix 清单中的相对路径换算成带前缀的对象键，已带前缀的不重复拼接。
func TestImageObjectPrefix(t *testing.T) {
	var produced []tasks.PostIngestTask
	s := testIngestService(&produced)

	assert.Equal(t, "images/a.png", s.imageObject("a.png"))
	assert.Equal(t, "images/a.png", s.imageObject("/a.png"))
	assert.Equal(t, "images/a.png", s.imageObject("images/a.png"))

	s.minioCfg.ImagePrefix = ""
	assert.Equal(t, "a.png", s.imageObject("a.png"))
}
