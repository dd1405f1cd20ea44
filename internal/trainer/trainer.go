// Package trainer 实现了基于标签特征向量的排序模型训练与打分。
package trainer

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"meme-guard-go/internal/config"
	"meme-guard-go/internal/model"
	"meme-guard-go/pkg/log"
)

var (
	// ErrEmptyCorpus 表示可用样本少于配置的最小训练规模。
	ErrEmptyCorpus = errors.New("训练语料样本不足")
	// ErrSchemaMismatch 表示语料中存在与声明 schema 不一致的样本，
	// 多数情况是版本提升后混入了旧缓存特征。训练必须中止而不是跳过：
	// 在部分损坏的特征上训练出的回归是无法察觉的。
	ErrSchemaMismatch = errors.New("训练样本的标签 schema 不匹配")
)

// Model 是训练产出的逻辑回归排序模型。
// Score 输出内容有害的概率，恒在 [0,1] 区间。
type Model struct {
	Schema          []string  `json:"schema"`
	Weights         []float64 `json:"weights"`
	Bias            float64   `json:"bias"`
	PipelineVersion string    `json:"pipeline_version"`
	ExampleCount    int       `json:"example_count"`
	TrainedAt       time.Time `json:"trained_at"`
}

// Score 对一条特征记录打分。
func (m *Model) Score(record *model.FeatureRecord) float64 {
	z := m.Bias
	for i, name := range m.Schema {
		z += m.Weights[i] * float64(record.Tags[name])
	}
	return sigmoid(z)
}

func sigmoid(z float64) float64 {
	return 1.0 / (1.0 + math.Exp(-z))
}

// Fit 在全量语料上训练逻辑回归模型（批量梯度下降，零值初始化，结果确定）。
// 标签约定：1 = 有害，0 = 无害。
func Fit(examples []model.TrainingExample, pipelineVersion string, cfg config.TrainerConfig) (*Model, error) {
	if len(examples) < cfg.MinExamples {
		return nil, fmt.Errorf("%w: 需要至少 %d 条, 实际 %d 条", ErrEmptyCorpus, cfg.MinExamples, len(examples))
	}

	schema := model.TagSchema()
	for i := range examples {
		if !examples[i].Tags.MatchesSchema() {
			return nil, fmt.Errorf("%w: 样本 ID=%d (content_key=%s, pipeline_version=%s)",
				ErrSchemaMismatch, examples[i].ID, examples[i].ContentKey, examples[i].PipelineVersion)
		}
	}

	// 特征矩阵：按 schema 顺序取二值标签
	n := len(examples)
	dim := len(schema)
	features := make([][]float64, n)
	labels := make([]float64, n)
	for i := range examples {
		row := make([]float64, dim)
		for j, name := range schema {
			row[j] = float64(examples[i].Tags[name])
		}
		features[i] = row
		labels[i] = float64(examples[i].Label)
	}

	weights := make([]float64, dim)
	bias := 0.0
	grad := make([]float64, dim)

	log.Infof("[Trainer] 开始训练, 样本数: %d, 维度: %d, epochs: %d, lr: %f",
		n, dim, cfg.Epochs, cfg.LearningRate)

	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		for j := range grad {
			grad[j] = 0
		}
		gradBias := 0.0

		for i := 0; i < n; i++ {
			z := bias
			for j := 0; j < dim; j++ {
				z += weights[j] * features[i][j]
			}
			diff := sigmoid(z) - labels[i]
			for j := 0; j < dim; j++ {
				grad[j] += diff * features[i][j]
			}
			gradBias += diff
		}

		scale := cfg.LearningRate / float64(n)
		for j := 0; j < dim; j++ {
			weights[j] -= scale * grad[j]
		}
		bias -= scale * gradBias
	}

	log.Infof("[Trainer] 训练完成, bias: %f", bias)

	return &Model{
		Schema:          schema,
		Weights:         weights,
		Bias:            bias,
		PipelineVersion: pipelineVersion,
		ExampleCount:    n,
		TrainedAt:       time.Now(),
	}, nil
}

// Encode 将模型序列化为 JSON 工件。
func (m *Model) Encode() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

// Decode 从 JSON 工件还原模型，并校验维度一致性。
func Decode(raw []byte) (*Model, error) {
	var m Model
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("模型工件解析失败: %w", err)
	}
	if len(m.Weights) != len(m.Schema) {
		return nil, fmt.Errorf("模型工件维度不一致: %d 权重 vs %d schema", len(m.Weights), len(m.Schema))
	}
	return &m, nil
}
