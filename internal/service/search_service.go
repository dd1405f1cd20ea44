package service

import (
	"context"

	"meme-guard-go/internal/config"
	"meme-guard-go/internal/model"
	"meme-guard-go/pkg/es"
)

// SearchService 提供特征记录审计索引的全文检索。
// 典型用途：策略事故后按内容片段定位受影响的缓存特征。
type SearchService interface {
	SearchFeatures(ctx context.Context, query, pipelineVersion string, size int) ([]model.FeatureEsDocument, error)
}

type searchService struct {
	esCfg config.ElasticsearchConfig
}

// NewSearchService 创建一个新的 SearchService 实例。
func NewSearchService(esCfg config.ElasticsearchConfig) SearchService {
	return &searchService{esCfg: esCfg}
}

// SearchFeatures 按融合上下文检索特征记录。
func (s *searchService) SearchFeatures(ctx context.Context, query, pipelineVersion string, size int) ([]model.FeatureEsDocument, error) {
	if size <= 0 || size > 100 {
		size = 10
	}
	return es.SearchFeatures(ctx, s.esCfg.IndexName, query, pipelineVersion, size)
}
