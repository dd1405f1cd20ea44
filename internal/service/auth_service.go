package service

import (
	"errors"
	"fmt"

	"meme-guard-go/internal/model"
	"meme-guard-go/internal/repository"
	"meme-guard-go/pkg/token"

	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrUsernameTaken 表示用户名已被占用。
	ErrUsernameTaken = errors.New("用户名已存在")
	// ErrInvalidCredentials 表示用户名或密码错误。
	ErrInvalidCredentials = errors.New("用户名或密码错误")
)

// AuthService 提供操作员账号的注册与登录。
type AuthService interface {
	Register(username, password string) (*model.Operator, error)
	Login(username, password string) (string, *model.Operator, error)
	FindOperator(username string) (*model.Operator, error)
}

type authService struct {
	operatorRepo repository.OperatorRepository
	jwtManager   *token.JWTManager
}

// NewAuthService 创建一个新的 AuthService 实例。
func NewAuthService(operatorRepo repository.OperatorRepository, jwtManager *token.JWTManager) AuthService {
	return &authService{operatorRepo: operatorRepo, jwtManager: jwtManager}
}

// Register 创建一个新的操作员账号。
func (s *authService) Register(username, password string) (*model.Operator, error) {
	existing, err := s.operatorRepo.FindByUsername(username)
	if err != nil {
		return nil, fmt.Errorf("查询操作员失败: %w", err)
	}
	if existing != nil {
		return nil, ErrUsernameTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("密码哈希失败: %w", err)
	}

	operator := &model.Operator{
		Username:     username,
		PasswordHash: string(hash),
	}
	if err := s.operatorRepo.Create(operator); err != nil {
		return nil, fmt.Errorf("创建操作员失败: %w", err)
	}
	return operator, nil
}

// Login 校验凭据并签发 access token。
func (s *authService) Login(username, password string) (string, *model.Operator, error) {
	operator, err := s.operatorRepo.FindByUsername(username)
	if err != nil {
		return "", nil, fmt.Errorf("查询操作员失败: %w", err)
	}
	if operator == nil {
		return "", nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(operator.PasswordHash), []byte(password)); err != nil {
		return "", nil, ErrInvalidCredentials
	}

	accessToken, err := s.jwtManager.GenerateToken(operator.ID, operator.Username)
	if err != nil {
		return "", nil, fmt.Errorf("签发 token 失败: %w", err)
	}
	return accessToken, operator, nil
}

// FindOperator 按用户名查找操作员。
func (s *authService) FindOperator(username string) (*model.Operator, error) {
	return s.operatorRepo.FindByUsername(username)
}
