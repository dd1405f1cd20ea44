// Package service 提供了审核平台的业务逻辑。
package service

import (
	"context"
	"fmt"
	"sync"

	"meme-guard-go/internal/model"
	"meme-guard-go/internal/repository"
	"meme-guard-go/pkg/log"

	"golang.org/x/sync/singleflight"
)

// Featurizer 是特征存储对融合管道的依赖视图。
type Featurizer interface {
	Featurize(ctx context.Context, post *model.Post) (*model.FeatureRecord, error)
	Version() string
}

// AuditIndexer 把已物化的特征记录送入审计索引（尽力而为，不影响主链路）。
type AuditIndexer interface {
	IndexFeature(ctx context.Context, record *model.FeatureRecord) error
}

// FeatureStoreService 是内容寻址的特征存储一致性层。
// 训练链路与服务链路都必须经由同一个 GetOrCompute——不存在任何
// 第二条“服务端优化”的重算路径，这正是防止训练/服务特征偏斜的机制。
type FeatureStoreService interface {
	// GetOrCompute 按 content_key 查缓存；未命中时经由管道计算并持久化。
	// partition 仅记录首次物化该记录的链路，不影响计算路径。
	GetOrCompute(ctx context.Context, post *model.Post, partition model.RecordPartition) (*model.FeatureRecord, error)
	// AppendTrainingExample 向离线语料追加一条带标签的样本（只追加）。
	AppendTrainingExample(record *model.FeatureRecord, label int) error
	// IterTrainingCorpus 按插入顺序惰性遍历全量语料；每次调用从头开始，可重启。
	IterTrainingCorpus(fn func(example model.TrainingExample) error) error
	// TrainingCorpusSize 返回离线语料的当前样本总数。
	TrainingCorpusSize() (int64, error)
	// Invalidate 提升活动管道版本，逻辑上分区整个缓存；
	// 版本提升后绝不会再返回旧版本计算的记录。
	Invalidate(ctx context.Context, newVersion string) (int64, error)
	ActiveVersion() string
}

type featureStoreService struct {
	featureRepo  repository.FeatureRepository
	trainingRepo repository.TrainingRepository
	processor    Featurizer
	auditIndexer AuditIndexer

	group singleflight.Group

	// mu 保护 activeVersion：Invalidate 是全库粗粒度操作，
	// 写锁排它地隔离所有并发的读写方。
	mu            sync.RWMutex
	activeVersion string
}

// NewFeatureStoreService 创建一个新的 FeatureStoreService 实例。
// auditIndexer 可以为 nil（未启用审计索引时）。
func NewFeatureStoreService(
	featureRepo repository.FeatureRepository,
	trainingRepo repository.TrainingRepository,
	processor Featurizer,
	auditIndexer AuditIndexer,
) FeatureStoreService {
	// 活动版本以持久化的为准：运行中经 Invalidate 提升过的版本
	// 必须在重启后继续生效，否则旧版本的记录会重新可达。
	activeVersion := processor.Version()
	if persisted, err := featureRepo.LoadActiveVersion(context.Background()); err != nil {
		log.Warnf("[FeatureStore] 读取持久化的管道版本失败, 回退到配置版本 %s: %v", activeVersion, err)
	} else if persisted != "" && persisted != activeVersion {
		log.Infof("[FeatureStore] 采用持久化的管道版本 %s（配置版本 %s）", persisted, activeVersion)
		activeVersion = persisted
	}

	return &featureStoreService{
		featureRepo:   featureRepo,
		trainingRepo:  trainingRepo,
		processor:     processor,
		auditIndexer:  auditIndexer,
		activeVersion: activeVersion,
	}
}

// ActiveVersion 返回当前活动的管道版本。
func (s *featureStoreService) ActiveVersion() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeVersion
}

// GetOrCompute 实现至多一次计算：命中缓存（在线或持久层）直接返回；
// 未命中时同一 content_key 的并发请求经 singleflight 合并为一次管道调用。
func (s *featureStoreService) GetOrCompute(ctx context.Context, post *model.Post, partition model.RecordPartition) (*model.FeatureRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	version := s.activeVersion

	contentKey := model.ContentKey(post.Text, post.ImageBytes)
	flightKey := version + ":" + contentKey

	// 1. 在线视图点查
	if record, err := s.featureRepo.GetOnline(ctx, version, contentKey); err != nil {
		log.Warnf("[FeatureStore] 在线视图查询失败, 降级到持久层: %v", err)
	} else if record != nil {
		log.Debugf("[FeatureStore] 在线视图命中, ContentKey: %s, Version: %s", contentKey, version)
		record.Source = model.SourceCacheHit
		return record, nil
	}

	// 2. 持久层查找，命中则回填在线视图
	if record, err := s.featureRepo.FindByKeyVersion(contentKey, version); err != nil {
		return nil, fmt.Errorf("特征记录查询失败: %w", err)
	} else if record != nil {
		if err := s.featureRepo.SetOnline(ctx, record); err != nil {
			log.Warnf("[FeatureStore] 回填在线视图失败: %v", err)
		}
		record.Source = model.SourceCacheHit
		return record, nil
	}

	// 3. singleflight 计算：同 key 的并发请求只触发一次管道调用。
	// 放弃等待的调用方不会取消对其他等待者仍有用的计算，
	// 因此 flight 内部使用与请求生命周期解耦的 context。
	// executed 是每个调用方自己的闭包变量，只有真正执行了计算的
	// 那一个会置位；Do 返回的 shared 对执行方同样为 true，不能用它区分。
	executed := false
	v, err, _ := s.group.Do(flightKey, func() (interface{}, error) {
		executed = true
		flightCtx := context.WithoutCancel(ctx)

		// 双重检查：排队期间可能已有别的进程物化了该记录
		if record, err := s.featureRepo.FindByKeyVersion(contentKey, version); err == nil && record != nil {
			record.Source = model.SourceCacheHit
			return record, nil
		}

		record, err := s.processor.Featurize(flightCtx, post)
		if err != nil {
			return nil, err
		}
		// 活动版本由存储层持有（Invalidate 可在运行中提升），
		// 管道配置中的版本只是启动时的初值
		record.PipelineVersion = version
		record.Partition = partition

		if err := s.featureRepo.Insert(record); err != nil {
			// 唯一索引冲突说明另一个进程抢先物化，读回它的结果
			if existing, findErr := s.featureRepo.FindByKeyVersion(contentKey, version); findErr == nil && existing != nil {
				existing.Source = model.SourceCacheHit
				return existing, nil
			}
			return nil, fmt.Errorf("特征记录持久化失败: %w", err)
		}
		if err := s.featureRepo.SetOnline(flightCtx, record); err != nil {
			log.Warnf("[FeatureStore] 写入在线视图失败: %v", err)
		}
		if s.auditIndexer != nil {
			if err := s.auditIndexer.IndexFeature(flightCtx, record); err != nil {
				log.Warnf("[FeatureStore] 写入审计索引失败: %v", err)
			}
		}

		log.Infof("[FeatureStore] 特征记录已物化, ContentKey: %s, Version: %s, Partition: %s",
			contentKey, version, partition)
		return record, nil
	})
	if err != nil {
		return nil, err
	}

	record := v.(*model.FeatureRecord)
	// 搭上别人计算的等待者观察到的是缓存语义；执行方自己保留 computed
	if !executed && record.Source == model.SourceComputed {
		clone := *record
		clone.Source = model.SourceCacheHit
		return &clone, nil
	}
	return record, nil
}

// AppendTrainingExample 把特征记录与标签快照进离线语料。
func (s *featureStoreService) AppendTrainingExample(record *model.FeatureRecord, label int) error {
	example := &model.TrainingExample{
		ContentKey:      record.ContentKey,
		PipelineVersion: record.PipelineVersion,
		FusedContext:    record.FusedContext,
		Scores:          record.Scores,
		Tags:            record.Tags,
		Label:           label,
	}
	return s.trainingRepo.Append(example)
}

// TrainingCorpusSize 返回离线语料的样本总数。
func (s *featureStoreService) TrainingCorpusSize() (int64, error) {
	return s.trainingRepo.Count()
}

// corpusBatchSize 是语料遍历的单批行数。
const corpusBatchSize = 500

// IterTrainingCorpus 分批遍历语料，fn 返回错误时中断。
func (s *featureStoreService) IterTrainingCorpus(fn func(example model.TrainingExample) error) error {
	var afterID uint
	for {
		batch, err := s.trainingRepo.FindBatchAfter(afterID, corpusBatchSize)
		if err != nil {
			return fmt.Errorf("读取训练语料失败: %w", err)
		}
		if len(batch) == 0 {
			return nil
		}
		for i := range batch {
			if err := fn(batch[i]); err != nil {
				return err
			}
		}
		afterID = batch[len(batch)-1].ID
	}
}

// Invalidate 切换活动管道版本并清理旧版本的在线缓存。
// 持有写锁期间没有任何 GetOrCompute 在途，切换对读写方原子可见。
func (s *featureStoreService) Invalidate(ctx context.Context, newVersion string) (int64, error) {
	if newVersion == "" {
		return 0, fmt.Errorf("管道版本不能为空")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if newVersion == s.activeVersion {
		return 0, fmt.Errorf("版本 %q 已是活动版本", newVersion)
	}

	oldVersion := s.activeVersion
	s.activeVersion = newVersion

	if err := s.featureRepo.StoreActiveVersion(ctx, newVersion); err != nil {
		// 持久化失败不回滚：本进程内新版本已生效，重启后至多退回配置版本
		log.Warnf("[FeatureStore] 持久化管道版本失败 (version=%s): %v", newVersion, err)
	}

	purged, err := s.featureRepo.PurgeOnlineVersion(ctx, oldVersion)
	if err != nil {
		// 清理失败不回滚版本切换：旧键因版本分区已不可达，只是暂未回收
		log.Warnf("[FeatureStore] 清理旧版本在线缓存失败 (version=%s): %v", oldVersion, err)
	}

	log.Infof("[FeatureStore] 管道版本已切换: %s -> %s, 清理在线缓存 %d 条", oldVersion, newVersion, purged)
	return purged, nil
}
