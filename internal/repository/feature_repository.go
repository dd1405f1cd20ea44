// Package repository 定义了与存储层进行数据交换的接口和实现。
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"meme-guard-go/internal/model"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// FeatureRepository 接口定义了特征记录的持久化操作。
// MySQL 是权威的追加式记录表（离线视图的底座），Redis 是同一记录格式的
// 在线点查视图；两个视图共用 (pipeline_version, content_key) 的键空间。
type FeatureRepository interface {
	// durable record table (GORM, insert-only)
	Insert(record *model.FeatureRecord) error
	FindByKeyVersion(contentKey, pipelineVersion string) (*model.FeatureRecord, error)

	// online view (Redis)
	GetOnline(ctx context.Context, pipelineVersion, contentKey string) (*model.FeatureRecord, error)
	SetOnline(ctx context.Context, record *model.FeatureRecord) error
	PurgeOnlineVersion(ctx context.Context, pipelineVersion string) (int64, error)

	// active pipeline version (Redis, survives process restarts)
	LoadActiveVersion(ctx context.Context) (string, error)
	StoreActiveVersion(ctx context.Context, pipelineVersion string) error
}

// featureRepository 是 FeatureRepository 接口的 GORM+Redis 实现。
type featureRepository struct {
	db          *gorm.DB
	redisClient *redis.Client
}

// NewFeatureRepository 创建一个新的 FeatureRepository 实例。
func NewFeatureRepository(db *gorm.DB, redisClient *redis.Client) FeatureRepository {
	return &featureRepository{db: db, redisClient: redisClient}
}

// activeVersionKey 保存当前生效管道版本的 Redis key。
const activeVersionKey = "feature:active_version"

// onlineKey 生成在线视图的 Redis key；版本号是 key 的一部分，
// 版本提升后旧记录在在线视图中天然不可达。
func onlineKey(pipelineVersion, contentKey string) string {
	return "feature:" + pipelineVersion + ":" + contentKey
}

// Insert 插入一条新的特征记录。表是只插入的：同键同版本重复插入
// 会触发唯一索引冲突，由调用方当作并发写入的无害竞争处理。
func (r *featureRepository) Insert(record *model.FeatureRecord) error {
	return r.db.Create(record).Error
}

// FindByKeyVersion 按内容键与管道版本检索特征记录，未命中返回 (nil, nil)。
func (r *featureRepository) FindByKeyVersion(contentKey, pipelineVersion string) (*model.FeatureRecord, error) {
	var record model.FeatureRecord
	err := r.db.Where("content_key = ? AND pipeline_version = ?", contentKey, pipelineVersion).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// GetOnline 从在线视图点查特征记录，未命中返回 (nil, nil)。
func (r *featureRepository) GetOnline(ctx context.Context, pipelineVersion, contentKey string) (*model.FeatureRecord, error) {
	raw, err := r.redisClient.Get(ctx, onlineKey(pipelineVersion, contentKey)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var record model.FeatureRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("在线特征记录反序列化失败: %w", err)
	}
	return &record, nil
}

// SetOnline 将特征记录写入在线视图（无过期：特征缓存按内容寻址、无限期保留）。
func (r *featureRepository) SetOnline(ctx context.Context, record *model.FeatureRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("在线特征记录序列化失败: %w", err)
	}
	return r.redisClient.Set(ctx, onlineKey(record.PipelineVersion, record.ContentKey), raw, 0).Err()
}

// LoadActiveVersion 读取持久化的当前生效管道版本，未设置过返回 ("", nil)。
func (r *featureRepository) LoadActiveVersion(ctx context.Context) (string, error) {
	version, err := r.redisClient.Get(ctx, activeVersionKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", err
	}
	return version, nil
}

// StoreActiveVersion 持久化当前生效的管道版本，进程重启后仍以该版本为准。
func (r *featureRepository) StoreActiveVersion(ctx context.Context, pipelineVersion string) error {
	return r.redisClient.Set(ctx, activeVersionKey, pipelineVersion, 0).Err()
}

// PurgeOnlineVersion 清除在线视图中某个版本的全部缓存键。
// 版本分区已保证旧键不可达，这里只是回收内存。
func (r *featureRepository) PurgeOnlineVersion(ctx context.Context, pipelineVersion string) (int64, error) {
	var purged int64
	iter := r.redisClient.Scan(ctx, 0, onlineKey(pipelineVersion, "*"), 100).Iterator()
	for iter.Next(ctx) {
		if err := r.redisClient.Del(ctx, iter.Val()).Err(); err != nil {
			return purged, err
		}
		purged++
	}
	return purged, iter.Err()
}
