// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
// 在 main 中构造一次，显式传递给各组件，不作为隐式全局依赖使用。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Vision        VisionConfig        `mapstructure:"vision"`
	Tagger        TaggerConfig        `mapstructure:"tagger"`
	Pipeline      PipelineConfig      `mapstructure:"pipeline"`
	Decision      DecisionConfig      `mapstructure:"decision"`
	Trainer       TrainerConfig       `mapstructure:"trainer"`
}

// ServerConfig 存储 HTTP 服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 存储 JWT 相关的配置。
type JWTConfig struct {
	Secret                 string `mapstructure:"secret"`
	AccessTokenExpireHours int    `mapstructure:"access_token_expire_hours"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
	ImagePrefix     string `mapstructure:"image_prefix"`
	ModelPrefix     string `mapstructure:"model_prefix"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// defaultVisionPrompt 是视觉分析的内置提示词。
// 必须要求模型按 {visual_summary, ocr_text} 的 JSON 结构输出，
// 否则响应无法通过严格的 schema 校验。
const defaultVisionPrompt = `Analyze this image for a content moderation system.
1. Provide a concise visual summary (what is happening?).
2. Extract ALL text visible in the image exactly as written (OCR).
3. Make sure to mention in the summary if the post is sarcastic, and if so whether the sarcasm is harmful.
Return ONLY a JSON object with exactly two string fields: "visual_summary" and "ocr_text".`

// VisionConfig 存储视觉模型后端的配置。
// Provider 决定具体实现：remote（OpenAI 兼容网络服务）或 ollama（本地推理引擎）。
type VisionConfig struct {
	Provider       string        `mapstructure:"provider"`
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	Model          string        `mapstructure:"model"`
	Prompt         string        `mapstructure:"prompt"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// TaggerConfig 存储打标模型的配置。
type TaggerConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	Model          string        `mapstructure:"model"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// PipelineConfig 存储特征管道的配置。
// Version 同时覆盖融合模板与标签 schema：二者任一变化都必须提升版本号。
type PipelineConfig struct {
	Version          string             `mapstructure:"version"`
	MaxAttempts      int                `mapstructure:"max_attempts"`
	InitialBackoff   time.Duration      `mapstructure:"initial_backoff"`
	PolicyThresholds map[string]float64 `mapstructure:"policy_thresholds"`
}

// DecisionConfig 存储打分到动作的阈值表。
// 约定：Score 为“内容有害的概率”，分数越高越危险；
// score >= block 时 BLOCK，score >= review 时 REVIEW，否则 DISPLAY。
// 恰好等于阈值时取更保守的动作。
type DecisionConfig struct {
	BlockThreshold  float64 `mapstructure:"block_threshold"`
	ReviewThreshold float64 `mapstructure:"review_threshold"`
	RecentLogSize   int64   `mapstructure:"recent_log_size"`
}

// TrainerConfig 存储排序模型训练的配置。
// 训练是全量批梯度下降，没有 mini-batch 粒度的配置项。
type TrainerConfig struct {
	MinExamples  int     `mapstructure:"min_examples"`
	Epochs       int     `mapstructure:"epochs"`
	LearningRate float64 `mapstructure:"learning_rate"`
}

// Load 从指定路径读取 YAML 配置文件并解析为 Config。
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// applyDefaults 为未配置的关键项填充安全默认值。
func applyDefaults(cfg *Config) {
	if cfg.Pipeline.MaxAttempts <= 0 {
		cfg.Pipeline.MaxAttempts = 3
	}
	if cfg.Pipeline.InitialBackoff <= 0 {
		cfg.Pipeline.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.Vision.RequestTimeout <= 0 {
		cfg.Vision.RequestTimeout = 30 * time.Second
	}
	if cfg.Vision.Prompt == "" {
		cfg.Vision.Prompt = defaultVisionPrompt
	}
	if cfg.Tagger.RequestTimeout <= 0 {
		cfg.Tagger.RequestTimeout = 30 * time.Second
	}
	if cfg.Decision.BlockThreshold <= 0 {
		cfg.Decision.BlockThreshold = 0.95
	}
	if cfg.Decision.ReviewThreshold <= 0 {
		cfg.Decision.ReviewThreshold = 0.5
	}
	if cfg.Decision.RecentLogSize <= 0 {
		cfg.Decision.RecentLogSize = 200
	}
	if cfg.Trainer.MinExamples <= 0 {
		cfg.Trainer.MinExamples = 10
	}
	if cfg.Trainer.Epochs <= 0 {
		cfg.Trainer.Epochs = 200
	}
	if cfg.Trainer.LearningRate <= 0 {
		cfg.Trainer.LearningRate = 0.1
	}
}
