package service

import (
	"context"

	"meme-guard-go/internal/config"
	"meme-guard-go/internal/model"
	"meme-guard-go/pkg/es"
)

// esAuditIndexer 把特征记录写入 Elasticsearch 审计索引。
type esAuditIndexer struct {
	indexName string
}

// NewEsAuditIndexer 创建审计索引写入器。
func NewEsAuditIndexer(esCfg config.ElasticsearchConfig) AuditIndexer {
	return &esAuditIndexer{indexName: esCfg.IndexName}
}

// IndexFeature 将一条特征记录转换为审计文档并写入索引。
func (a *esAuditIndexer) IndexFeature(ctx context.Context, record *model.FeatureRecord) error {
	return es.IndexFeature(ctx, a.indexName, model.FeatureEsDocument{
		ContentKey:      record.ContentKey,
		PipelineVersion: record.PipelineVersion,
		FusedContext:    record.FusedContext,
		Tags:            record.Tags,
		Partition:       string(record.Partition),
		CreatedAt:       record.CreatedAt,
	})
}
