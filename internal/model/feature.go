package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// tagSchema 是固定顺序的标签 schema。
// 它与融合模板一起构成管道版本：任何增删或重排都必须提升 pipeline.version。
var tagSchema = []string{
	"Is_Harmful_Content",
	"Is_Hate_Speech",
	"Is_Violent",
	"Is_Sexual",
	"Is_Political_Content",
	"Is_Spam",
	"Is_Copyright_Infringement",
}

// TagSchema 返回标签 schema 的拷贝，顺序即特征向量的维度顺序。
func TagSchema() []string {
	out := make([]string, len(tagSchema))
	copy(out, tagSchema)
	return out
}

// ScoreVector 是打标模型输出的各标签原始分数（[0,1]）。
type ScoreVector map[string]float64

// TagVector 是策略阈值化之后的二值标签向量（0/1）。
type TagVector map[string]int

// MatchesSchema 检查标签向量的键集合是否与声明的 schema 完全一致。
func (v TagVector) MatchesSchema() bool {
	if len(v) != len(tagSchema) {
		return false
	}
	for _, name := range tagSchema {
		if _, ok := v[name]; !ok {
			return false
		}
	}
	return true
}

// Encode 按 schema 顺序序列化为 JSON，保证同一向量的编码逐字节一致。
func (v TagVector) Encode() string {
	buf := []byte{'{'}
	for i, name := range tagSchema {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, fmt.Sprintf("%q:%d", name, v[name])...)
	}
	return string(append(buf, '}'))
}

// Encode 按 schema 顺序序列化分数向量。
func (v ScoreVector) Encode() string {
	buf := []byte{'{'}
	for i, name := range tagSchema {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, fmt.Sprintf("%q:%.6f", name, v[name])...)
	}
	return string(append(buf, '}'))
}

// Value / Scan 让两种向量可以直接作为 gorm 的 text 字段读写。

func (v TagVector) Value() (driver.Value, error) { return v.Encode(), nil }

func (v *TagVector) Scan(src interface{}) error { return scanJSON(src, v) }

func (v ScoreVector) Value() (driver.Value, error) { return v.Encode(), nil }

func (v *ScoreVector) Scan(src interface{}) error { return scanJSON(src, v) }

func scanJSON(src, dst interface{}) error {
	switch s := src.(type) {
	case []byte:
		return json.Unmarshal(s, dst)
	case string:
		return json.Unmarshal([]byte(s), dst)
	case nil:
		return nil
	default:
		return fmt.Errorf("无法将 %T 解析为向量", src)
	}
}

// RecordSource 标记一条特征记录是本次计算得到还是命中缓存。
type RecordSource string

const (
	SourceComputed RecordSource = "computed"
	SourceCacheHit RecordSource = "cache_hit"
)

// RecordPartition 标记一条记录最初由哪条链路物化（仅溯源用途，两条链路共用同一计算路径）。
type RecordPartition string

const (
	PartitionOffline RecordPartition = "offline"
	PartitionOnline  RecordPartition = "online"
)

// FeatureRecord 定义了 feature_records 表的 ORM 模型，是特征库的规范存储单元。
// 表内只插入、不更新：同一 (content_key, pipeline_version) 的特征是确定性的，
// 重新计算不允许悄悄偏离已缓存的值——改变语义必须提升 pipeline_version。
type FeatureRecord struct {
	ID              uint            `gorm:"primaryKey;autoIncrement" json:"-"`
	ContentKey      string          `gorm:"type:varchar(32);not null;uniqueIndex:idx_feature_key_version" json:"contentKey"`
	PipelineVersion string          `gorm:"type:varchar(32);not null;uniqueIndex:idx_feature_key_version" json:"pipelineVersion"`
	FusedContext    string          `gorm:"type:text;not null" json:"fusedContext"`
	Scores          ScoreVector     `gorm:"type:text;not null" json:"scores"`
	Tags            TagVector       `gorm:"type:text;not null" json:"tags"`
	Partition       RecordPartition `gorm:"column:record_partition;type:varchar(16);not null" json:"partition"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"createdAt"`

	// Source 是响应期字段，标识本次返回的来源，不落库。
	Source RecordSource `gorm:"-" json:"source"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (FeatureRecord) TableName() string {
	return "feature_records"
}

// TrainingExample 定义了 training_examples 表的 ORM 模型。
// 离线训练语料仅追加：标签修正通过追加新行表达，绝不原地修改。
type TrainingExample struct {
	ID              uint        `gorm:"primaryKey;autoIncrement" json:"id"`
	ContentKey      string      `gorm:"type:varchar(32);not null;index" json:"contentKey"`
	PipelineVersion string      `gorm:"type:varchar(32);not null;index" json:"pipelineVersion"`
	FusedContext    string      `gorm:"type:text;not null" json:"fusedContext"`
	Scores          ScoreVector `gorm:"type:text;not null" json:"scores"`
	Tags            TagVector   `gorm:"type:text;not null" json:"tags"`
	Label           int         `gorm:"not null" json:"label"`
	CreatedAt       time.Time   `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (TrainingExample) TableName() string {
	return "training_examples"
}
