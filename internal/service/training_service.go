package service

import (
	"context"
	"fmt"

	"meme-guard-go/internal/config"
	"meme-guard-go/internal/model"
	"meme-guard-go/internal/trainer"
	"meme-guard-go/pkg/log"
	"meme-guard-go/pkg/storage"
)

// TrainingService 负责排序模型的训练、工件持久化与热加载。
type TrainingService interface {
	// Train 在全量离线语料上训练模型，成功后持久化工件并热替换线上模型。
	Train(ctx context.Context) (*trainer.Model, error)
	// LoadLatest 从对象存储加载当前版本的模型工件（若存在）。
	LoadLatest(ctx context.Context) error
}

type trainingService struct {
	store      FeatureStoreService
	decisions  DecisionService
	trainerCfg config.TrainerConfig
	minioCfg   config.MinIOConfig
}

// NewTrainingService 创建一个新的 TrainingService 实例。
func NewTrainingService(store FeatureStoreService, decisions DecisionService, trainerCfg config.TrainerConfig, minioCfg config.MinIOConfig) TrainingService {
	return &trainingService{
		store:      store,
		decisions:  decisions,
		trainerCfg: trainerCfg,
		minioCfg:   minioCfg,
	}
}

// artifactObject 返回某管道版本模型工件的对象键。
func (s *trainingService) artifactObject(pipelineVersion string) string {
	prefix := s.minioCfg.ModelPrefix
	if prefix == "" {
		prefix = "models/"
	}
	return fmt.Sprintf("%sranker-%s.json", prefix, pipelineVersion)
}

// Train 遍历语料 → 训练 → 写工件 → 热替换。
// 语料或 schema 错误（ErrEmptyCorpus / ErrSchemaMismatch）直接上抛给操作员，绝不静默跳过。
func (s *trainingService) Train(ctx context.Context) (*trainer.Model, error) {
	version := s.store.ActiveVersion()
	corpusSize, err := s.store.TrainingCorpusSize()
	if err != nil {
		return nil, fmt.Errorf("统计训练语料失败: %w", err)
	}
	log.Infof("[Training] 开始训练, 管道版本: %s, 语料规模: %d", version, corpusSize)

	var examples []model.TrainingExample
	err = s.store.IterTrainingCorpus(func(example model.TrainingExample) error {
		examples = append(examples, example)
		return nil
	})
	if err != nil {
		return nil, err
	}

	m, err := trainer.Fit(examples, version, s.trainerCfg)
	if err != nil {
		return nil, err
	}

	raw, err := m.Encode()
	if err != nil {
		return nil, fmt.Errorf("模型工件序列化失败: %w", err)
	}
	object := s.artifactObject(version)
	if err := storage.PutObjectBytes(ctx, s.minioCfg.BucketName, object, raw, "application/json"); err != nil {
		return nil, fmt.Errorf("模型工件写入对象存储失败: %w", err)
	}

	s.decisions.SetModel(m)
	log.Infof("[Training] 训练完成并已上线, 样本数: %d, 工件: %s", m.ExampleCount, object)
	return m, nil
}

// LoadLatest 启动时恢复当前版本的模型；不存在不算错误。
func (s *trainingService) LoadLatest(ctx context.Context) error {
	version := s.store.ActiveVersion()
	object := s.artifactObject(version)

	exists, err := storage.ObjectExists(ctx, s.minioCfg.BucketName, object)
	if err != nil {
		return fmt.Errorf("检查模型工件失败: %w", err)
	}
	if !exists {
		log.Infof("[Training] 未找到模型工件 %s, 等待首次训练", object)
		return nil
	}

	raw, err := storage.GetObjectBytes(ctx, s.minioCfg.BucketName, object)
	if err != nil {
		return fmt.Errorf("读取模型工件失败: %w", err)
	}
	m, err := trainer.Decode(raw)
	if err != nil {
		return err
	}

	s.decisions.SetModel(m)
	log.Infof("[Training] 模型工件已加载, 训练于: %s, 样本数: %d", m.TrainedAt, m.ExampleCount)
	return nil
}
