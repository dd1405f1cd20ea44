// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"meme-guard-go/internal/config"
	"meme-guard-go/internal/handler"
	"meme-guard-go/internal/middleware"
	"meme-guard-go/internal/model"
	"meme-guard-go/internal/pipeline"
	"meme-guard-go/internal/repository"
	"meme-guard-go/internal/service"
	"meme-guard-go/pkg/database"
	"meme-guard-go/pkg/es"
	"meme-guard-go/pkg/kafka"
	"meme-guard-go/pkg/log"
	"meme-guard-go/pkg/storage"
	"meme-guard-go/pkg/tagger"
	"meme-guard-go/pkg/token"
	"meme-guard-go/pkg/vision"

	"github.com/gin-gonic/gin"
)

func main() {
	// 1. 初始化配置
	cfg, err := config.Load("./configs/config.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "配置加载失败: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库、Redis、对象存储与审计索引
	database.InitMySQL(cfg.Database.MySQL.DSN,
		&model.FeatureRecord{},
		&model.TrainingExample{},
		&model.Operator{},
	)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	storage.InitMinIO(cfg.MinIO)
	if err := es.InitES(cfg.Elasticsearch); err != nil {
		log.Errorf("es 初始化失败 %s", err)
		return
	}
	kafka.InitProducer(cfg.Kafka)

	// 4. 初始化 Repository
	featureRepo := repository.NewFeatureRepository(database.DB, database.RDB)
	trainingRepo := repository.NewTrainingRepository(database.DB)
	operatorRepo := repository.NewOperatorRepository(database.DB)
	decisionLogRepo := repository.NewDecisionLogRepository(database.RDB, cfg.Decision.RecentLogSize)

	// 5. 初始化特征管道 (Processor)
	visionClient, err := vision.NewClient(cfg.Vision)
	if err != nil {
		log.Fatalf("视觉后端初始化失败: %v", err)
	}
	taggerClient := tagger.NewClient(cfg.Tagger)
	processor := pipeline.NewProcessor(visionClient, taggerClient, cfg.Pipeline)

	// 6. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours)
	auditIndexer := service.NewEsAuditIndexer(cfg.Elasticsearch)
	store := service.NewFeatureStoreService(featureRepo, trainingRepo, processor, auditIndexer)
	decisionService := service.NewDecisionService(store, decisionLogRepo, cfg.Decision)
	ingestService := service.NewIngestService(store, cfg.MinIO)
	trainingService := service.NewTrainingService(store, decisionService, cfg.Trainer, cfg.MinIO)
	authService := service.NewAuthService(operatorRepo, jwtManager)
	searchService := service.NewSearchService(cfg.Elasticsearch)

	// 7. 启动时加载已持久化的模型工件（若存在）
	if err := trainingService.LoadLatest(context.Background()); err != nil {
		log.Warnf("启动时加载模型工件失败: %v", err)
	}

	// 8. 启动后台 Kafka 消费者
	go kafka.StartConsumer(cfg.Kafka, ingestService)

	// 9. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 10. 注册路由
	apiV1 := r.Group("/api/v1")
	{
		// Auth 路由组 (公开访问)
		auth := apiV1.Group("/auth")
		{
			auth.POST("/register", handler.NewAuthHandler(authService).Register)
			auth.POST("/login", handler.NewAuthHandler(authService).Login)
		}

		// Moderation 路由组，需要认证
		moderationHandler := handler.NewModerationHandler(decisionService, cfg.MinIO)
		moderation := apiV1.Group("/moderation")
		moderation.Use(middleware.AuthMiddleware(jwtManager, authService))
		{
			moderation.POST("/decide", moderationHandler.Decide)
			moderation.GET("/decisions/recent", moderationHandler.RecentDecisions)
			moderation.GET("/decisions/stream", moderationHandler.Stream)
		}

		// Ingest 路由组，需要认证
		ingestHandler := handler.NewIngestHandler(ingestService)
		ingest := apiV1.Group("/ingest")
		ingest.Use(middleware.AuthMiddleware(jwtManager, authService))
		{
			ingest.POST("/batch", ingestHandler.IngestBatch)
			ingest.POST("/verify", ingestHandler.Verify)
		}

		// Training 路由组，需要认证
		training := apiV1.Group("/training")
		training.Use(middleware.AuthMiddleware(jwtManager, authService))
		{
			training.POST("/run", handler.NewTrainingHandler(trainingService).Run)
		}

		// Feature 路由组，需要认证
		featureHandler := handler.NewFeatureHandler(store, searchService)
		features := apiV1.Group("/features")
		features.Use(middleware.AuthMiddleware(jwtManager, authService))
		{
			features.POST("/invalidate", featureHandler.Invalidate)
			features.GET("/search", featureHandler.Search)
		}
	}

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}

	// Kafka 消费者随进程退出自然结束，无需单独关闭。
	log.Info("服务已优雅关闭")
}
