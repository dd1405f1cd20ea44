package repository

import (
	"errors"

	"meme-guard-go/internal/model"

	"gorm.io/gorm"
)

// OperatorRepository 接口定义了操作员账号的持久化操作。
type OperatorRepository interface {
	Create(operator *model.Operator) error
	FindByUsername(username string) (*model.Operator, error)
}

// operatorRepository 是 OperatorRepository 接口的 GORM 实现。
type operatorRepository struct {
	db *gorm.DB
}

// NewOperatorRepository 创建一个新的 OperatorRepository 实例。
func NewOperatorRepository(db *gorm.DB) OperatorRepository {
	return &operatorRepository{db: db}
}

// Create 创建一个新的操作员账号。
func (r *operatorRepository) Create(operator *model.Operator) error {
	return r.db.Create(operator).Error
}

// FindByUsername 按用户名查找操作员，不存在时返回 (nil, nil)。
func (r *operatorRepository) FindByUsername(username string) (*model.Operator, error) {
	var operator model.Operator
	err := r.db.Where("username = ?", username).First(&operator).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &operator, nil
}
