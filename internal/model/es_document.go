package model

import "time"

// FeatureEsDocument 是写入 Elasticsearch 审计索引的特征文档。
// 用于按融合上下文全文检索已物化的特征记录（例如策略事故后的排查）。
type FeatureEsDocument struct {
	ContentKey      string    `json:"content_key"`
	PipelineVersion string    `json:"pipeline_version"`
	FusedContext    string    `json:"fused_context"`
	Tags            TagVector `json:"tags"`
	Partition       string    `json:"partition"`
	CreatedAt       time.Time `json:"created_at"`
}
