// Package model 定义了领域对象与数据库表对应的 Go 结构体。
package model

import (
	"crypto/md5"
	"fmt"
	"io"
)

// Post 是一条待审核的多模态帖子，由接入层构造、消费一次，本身不落库。
// Label 仅训练数据携带（1 = 有害，0 = 无害），线上请求为 nil。
type Post struct {
	ID         string
	Text       string
	ImageBytes []byte
	Label      *int
}

// ContentKey 根据帖子文本与图片内容计算确定性的内容标识。
// 相同的 (text, image) 必然得到相同的 key，它是特征缓存的寻址依据。
// 文本带长度前缀，保证 (text, image) 的边界无歧义：
// ("ab","c") 与 ("a","bc") 拼接后字节相同，但必须是两个不同的 key。
func ContentKey(text string, image []byte) string {
	h := md5.New()
	_, _ = fmt.Fprintf(h, "%d:", len(text))
	_, _ = io.WriteString(h, text)
	_, _ = h.Write(image)
	return fmt.Sprintf("%x", h.Sum(nil))
}

// VisionResult 是视觉后端对一张图片的分析结果，创建后不可变。
type VisionResult struct {
	VisualSummary string `json:"visual_summary"`
	OCRText       string `json:"ocr_text"`
}
