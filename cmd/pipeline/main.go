package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"finetune-go/internal/config"
	"finetune-go/internal/dataset"
	"finetune-go/internal/manifest"
	"finetune-go/internal/models"
	"finetune-go/internal/pipeline"
	"finetune-go/internal/repository"
	"finetune-go/internal/router"
	"finetune-go/internal/scans"
	"finetune-go/internal/service"
	"finetune-go/internal/trainer"
	"finetune-go/pkg/gpulimiter"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

func main() {
	var (
		configFile   = flag.String("config", "./config/config.yaml", "配置文件路径")
		artifactsDir = flag.String("artifacts-dir", "", "输入产物目录(扫描结果所在目录)")
		outputDir    = flag.String("output-dir", "", "输出目录(运行根目录的父目录)")
		runID        = flag.String("run-id", "", "运行ID, 指定已有ID时按运行级断点续跑")
		baseModel    = flag.String("base-model", "", "覆盖配置中的基座模型")
		skipUpload   = flag.Bool("skip-upload", false, "跳过发布步骤")
	)
	flag.Parse()

	// 加载配置
	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	if *artifactsDir == "" || *outputDir == "" {
		log.Fatalf("必须指定 -artifacts-dir 和 -output-dir")
	}

	// 初始化日志
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)
	logger.SetLevel(logrus.InfoLevel)

	// 初始化运行登记库
	if err := models.InitDB(cfg); err != nil {
		log.Fatalf("初始化数据库失败: %v", err)
	}
	db := models.GetDB()

	// 初始化Repository
	runRepo := repository.NewRunRepository(db)
	evalRepo := repository.NewEvaluationRepository(db)

	// 清单管理器
	manifests := manifest.NewManager(logger)

	// 可选的Redis训练槽位限流
	var limiter pipeline.SlotLimiter
	if cfg.Redis.Enabled() {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.GetAddress(),
			DB:       cfg.Redis.DB,
			Password: cfg.Redis.Password,
		})
		limiter = gpulimiter.NewGPULimiter(
			redisClient,
			cfg.Redis.MaxConcurrent,
			cfg.Redis.GetMaxWaitDuration(),
			logger,
		)
		logger.Infof("训练槽位限流已启用: %s, 最大并发 %d", cfg.Redis.GetAddress(), cfg.Redis.MaxConcurrent)
	}

	// 可选的只读状态API
	if cfg.Server.Enabled {
		r := router.SetupRouter(cfg, logger, db, manifests)
		go func() {
			addr := cfg.Server.GetAddress()
			logger.Infof("状态API启动在 %s", addr)
			if err := r.Run(addr); err != nil {
				logger.Warnf("状态API退出: %v", err)
			}
		}()
	}

	// 组装编排器
	orchestrator := pipeline.NewOrchestrator(
		cfg,
		manifests,
		dataset.NewLoader(logger),
		scans.NewReader(*artifactsDir, logger),
		trainer.NewEngine(cfg.Trainer, logger),
		trainer.NewEvaluator(cfg.Evaluator, cfg.Trainer.Python, logger),
		limiter,
		service.NewPublishService(cfg.Publish, logger),
		runRepo,
		evalRepo,
		logger,
	)

	// 进程级取消: 收到信号后停止, 未完成阶段的产物不算有效, 重跑时从阶段边界续起
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := orchestrator.Run(ctx, pipeline.RunOptions{
		RunID:        *runID,
		ArtifactsDir: *artifactsDir,
		OutputDir:    *outputDir,
		BaseModel:    *baseModel,
		SkipUpload:   *skipUpload,
	}); err != nil {
		// 错误信息带有运行ID和触发失败的阶段
		fmt.Fprintf(os.Stderr, "流水线失败: %v\n", err)
		os.Exit(1)
	}

	logger.Info("流水线执行成功")
}
