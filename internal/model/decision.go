package model

import "time"

// Action 是审核决策动作。
type Action string

const (
	ActionDisplay Action = "DISPLAY"
	ActionReview  Action = "REVIEW"
	ActionBlock   Action = "BLOCK"
)

// ScoredDecision 是一次线上审核请求的最终结果。
// Score 为内容有害的概率（[0,1]）；Degraded 表示特征计算失败、
// 本次采用了兜底动作，此时 Score 无意义。
// 决策默认不持久化，仅在显式开启时写入近期决策日志。
type ScoredDecision struct {
	PostID     string       `json:"postId"`
	Score      float64      `json:"score"`
	Action     Action       `json:"action"`
	Source     RecordSource `json:"source,omitempty"`
	Degraded   bool         `json:"degraded,omitempty"`
	ContentKey string       `json:"contentKey,omitempty"`
	DecidedAt  time.Time    `json:"decidedAt"`
}
