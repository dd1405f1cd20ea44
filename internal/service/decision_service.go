package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"meme-guard-go/internal/config"
	"meme-guard-go/internal/model"
	"meme-guard-go/internal/pipeline"
	"meme-guard-go/internal/repository"
	"meme-guard-go/internal/trainer"
	"meme-guard-go/pkg/log"
)

var (
	// ErrFeaturizationFailed 表示本次请求的特征计算终态失败。
	// 调用方必须采用兜底动作（REVIEW），绝不能放行展示。
	ErrFeaturizationFailed = errors.New("特征计算失败")
	// ErrNoModel 表示尚无可用的排序模型。
	ErrNoModel = errors.New("排序模型尚未加载")
)

// DecisionService 是线上审核的服务层。
// 每条请求经历 RECEIVED → FEATURIZED → SCORED → DECIDED 四个状态。
type DecisionService interface {
	Decide(ctx context.Context, post *model.Post) (*model.ScoredDecision, error)
	// FailSafe 构造兜底决策（REVIEW）并照常记录/广播。
	FailSafe(ctx context.Context, postID string) *model.ScoredDecision
	RecentDecisions(ctx context.Context, n int64) ([]model.ScoredDecision, error)
	SetModel(m *trainer.Model)
	CurrentModel() *trainer.Model
	// Subscribe 注册一个实时决策订阅者，返回取消函数。
	Subscribe() (<-chan model.ScoredDecision, func())
}

type decisionService struct {
	store       FeatureStoreService
	decisionLog repository.DecisionLogRepository
	cfg         config.DecisionConfig

	modelMu sync.RWMutex
	model   *trainer.Model

	subMu       sync.Mutex
	subscribers map[chan model.ScoredDecision]struct{}
}

// NewDecisionService 创建一个新的 DecisionService 实例。
func NewDecisionService(store FeatureStoreService, decisionLog repository.DecisionLogRepository, cfg config.DecisionConfig) DecisionService {
	return &decisionService{
		store:       store,
		decisionLog: decisionLog,
		cfg:         cfg,
		subscribers: make(map[chan model.ScoredDecision]struct{}),
	}
}

// SetModel 热替换当前排序模型（训练完成后调用）。
func (s *decisionService) SetModel(m *trainer.Model) {
	s.modelMu.Lock()
	defer s.modelMu.Unlock()
	s.model = m
}

// CurrentModel 返回当前排序模型，可能为 nil。
func (s *decisionService) CurrentModel() *trainer.Model {
	s.modelMu.RLock()
	defer s.modelMu.RUnlock()
	return s.model
}

// Decide 对一条帖子给出审核决策。
// 特征化走与训练完全相同的 GetOrCompute；特征失败返回 ErrFeaturizationFailed，
// 由边界层落到兜底动作。
func (s *decisionService) Decide(ctx context.Context, post *model.Post) (*model.ScoredDecision, error) {
	log.Infof("[Decision] RECEIVED, PostID: %s", post.ID)

	record, err := s.store.GetOrCompute(ctx, post, model.PartitionOnline)
	if err != nil {
		var stageErr *pipeline.StageFailed
		if errors.As(err, &stageErr) {
			log.Errorf("[Decision] 特征化失败, PostID: %s, Stage: %s: %v", post.ID, stageErr.Stage, err)
			return nil, fmt.Errorf("%w: %v", ErrFeaturizationFailed, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrFeaturizationFailed, err)
	}
	log.Infof("[Decision] FEATURIZED, PostID: %s, ContentKey: %s, Source: %s",
		post.ID, record.ContentKey, record.Source)

	m := s.CurrentModel()
	if m == nil {
		return nil, ErrNoModel
	}
	score := m.Score(record)
	log.Infof("[Decision] SCORED, PostID: %s, Score: %.4f", post.ID, score)

	decision := &model.ScoredDecision{
		PostID:     post.ID,
		Score:      score,
		Action:     s.thresholdAction(score),
		Source:     record.Source,
		ContentKey: record.ContentKey,
		DecidedAt:  time.Now(),
	}
	log.Infof("[Decision] DECIDED, PostID: %s, Action: %s", post.ID, decision.Action)

	s.publish(ctx, decision)
	return decision, nil
}

// FailSafe 返回兜底决策：动作固定为 REVIEW，绝不是 DISPLAY。
func (s *decisionService) FailSafe(ctx context.Context, postID string) *model.ScoredDecision {
	decision := &model.ScoredDecision{
		PostID:    postID,
		Action:    model.ActionReview,
		Degraded:  true,
		DecidedAt: time.Now(),
	}
	s.publish(ctx, decision)
	return decision
}

// thresholdAction 按配置的阈值表把分数映射到动作。
// 分数恰好等于阈值时取更保守的动作（>= 的边界语义）。
func (s *decisionService) thresholdAction(score float64) model.Action {
	switch {
	case score >= s.cfg.BlockThreshold:
		return model.ActionBlock
	case score >= s.cfg.ReviewThreshold:
		return model.ActionReview
	default:
		return model.ActionDisplay
	}
}

// RecentDecisions 返回近期决策日志。
func (s *decisionService) RecentDecisions(ctx context.Context, n int64) ([]model.ScoredDecision, error) {
	return s.decisionLog.Recent(ctx, n)
}

// Subscribe 注册实时订阅者。通道带缓冲，慢消费者会丢最新之外的消息。
func (s *decisionService) Subscribe() (<-chan model.ScoredDecision, func()) {
	ch := make(chan model.ScoredDecision, 16)
	s.subMu.Lock()
	s.subscribers[ch] = struct{}{}
	s.subMu.Unlock()

	cancel := func() {
		s.subMu.Lock()
		delete(s.subscribers, ch)
		s.subMu.Unlock()
	}
	return ch, cancel
}

// publish 把决策写入滚动日志并广播给订阅者，两者都不阻塞主链路。
func (s *decisionService) publish(ctx context.Context, decision *model.ScoredDecision) {
	if s.decisionLog != nil {
		if err := s.decisionLog.Push(ctx, decision); err != nil {
			log.Warnf("[Decision] 写入决策日志失败: %v", err)
		}
	}

	s.subMu.Lock()
	defer s.subMu.Unlock()
	for ch := range s.subscribers {
		select {
		case ch <- *decision:
		default:
		}
	}
}
