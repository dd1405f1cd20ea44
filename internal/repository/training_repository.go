package repository

import (
	"meme-guard-go/internal/model"

	"gorm.io/gorm"
)

// TrainingRepository 接口定义了训练语料的持久化操作。
// 语料是只追加的：没有 Update/Delete，标签修正通过追加新样本表达。
type TrainingRepository interface {
	Append(example *model.TrainingExample) error
	Count() (int64, error)
	// FindBatchAfter 按插入顺序（自增 ID）做 keyset 分页，
	// 供训练端惰性、可重启地遍历全量语料。
	FindBatchAfter(afterID uint, limit int) ([]model.TrainingExample, error)
}

// trainingRepository 是 TrainingRepository 接口的 GORM 实现。
type trainingRepository struct {
	db *gorm.DB
}

// NewTrainingRepository 创建一个新的 TrainingRepository 实例。
func NewTrainingRepository(db *gorm.DB) TrainingRepository {
	return &trainingRepository{db: db}
}

// Append 追加一条训练样本。
func (r *trainingRepository) Append(example *model.TrainingExample) error {
	return r.db.Create(example).Error
}

// Count 返回语料当前的样本总数。
func (r *trainingRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&model.TrainingExample{}).Count(&count).Error
	return count, err
}

// FindBatchAfter 返回 ID 大于 afterID 的下一批样本，按 ID 升序。
func (r *trainingRepository) FindBatchAfter(afterID uint, limit int) ([]model.TrainingExample, error) {
	var examples []model.TrainingExample
	err := r.db.Where("id > ?", afterID).
		Order("id asc").
		Limit(limit).
		Find(&examples).Error
	return examples, err
}
