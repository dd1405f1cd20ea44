package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"meme-guard-go/internal/model"

	"github.com/go-redis/redis/v8"
)

// decisionLogKey 是近期决策日志的 Redis List key。
const decisionLogKey = "decisions:recent"

// DecisionLogRepository 接口定义了近期决策日志的读写。
// 决策默认不持久化；这里是显式开启的有界滚动日志，供实时流和排查使用。
type DecisionLogRepository interface {
	Push(ctx context.Context, decision *model.ScoredDecision) error
	Recent(ctx context.Context, n int64) ([]model.ScoredDecision, error)
}

// decisionLogRepository 是基于 Redis List 的实现。
type decisionLogRepository struct {
	redisClient *redis.Client
	maxLen      int64
}

// NewDecisionLogRepository 创建一个新的 DecisionLogRepository 实例。
func NewDecisionLogRepository(redisClient *redis.Client, maxLen int64) DecisionLogRepository {
	return &decisionLogRepository{redisClient: redisClient, maxLen: maxLen}
}

// Push 将一条决策推入日志头部并裁剪到配置的上限。
func (r *decisionLogRepository) Push(ctx context.Context, decision *model.ScoredDecision) error {
	raw, err := json.Marshal(decision)
	if err != nil {
		return fmt.Errorf("决策序列化失败: %w", err)
	}
	pipe := r.redisClient.TxPipeline()
	pipe.LPush(ctx, decisionLogKey, raw)
	pipe.LTrim(ctx, decisionLogKey, 0, r.maxLen-1)
	_, err = pipe.Exec(ctx)
	return err
}

// Recent 返回最近的 n 条决策，新者在前。
func (r *decisionLogRepository) Recent(ctx context.Context, n int64) ([]model.ScoredDecision, error) {
	if n <= 0 || n > r.maxLen {
		n = r.maxLen
	}
	rows, err := r.redisClient.LRange(ctx, decisionLogKey, 0, n-1).Result()
	if err != nil {
		return nil, err
	}

	decisions := make([]model.ScoredDecision, 0, len(rows))
	for _, row := range rows {
		var d model.ScoredDecision
		if err := json.Unmarshal([]byte(row), &d); err != nil {
			// 历史坏数据跳过，不让一条脏记录拖垮整个查询
			continue
		}
		decisions = append(decisions, d)
	}
	return decisions, nil
}
