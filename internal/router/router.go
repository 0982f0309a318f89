package router

import (
	"finetune-go/internal/config"
	"finetune-go/internal/handler"
	"finetune-go/internal/manifest"
	"finetune-go/internal/middleware"
	"finetune-go/internal/repository"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// SetupRouter 设置状态查询API路由(只读)
func SetupRouter(
	cfg *config.Config,
	logger *logrus.Logger,
	db *gorm.DB,
	manifests *manifest.Manager,
) *gin.Engine {
	// 设置Gin模式
	if cfg.Server.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// 全局中间件
	r.Use(middleware.LoggerMiddleware(logger))
	r.Use(gin.Recovery())

	// 健康检查
	r.GET("/", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"message": "顺序微调流水线状态API",
			"version": "1.0.0",
		})
	})

	// 初始化Repository
	runRepo := repository.NewRunRepository(db)
	evalRepo := repository.NewEvaluationRepository(db)

	// 初始化Handler
	runHandler := handler.NewRunHandler(runRepo, evalRepo, manifests, logger)

	// API路由组
	api := r.Group("/api")
	{
		api.GET("/runs", runHandler.ListRuns)
		api.GET("/runs/:run_id", runHandler.GetRun)
		api.GET("/runs/:run_id/evaluations", runHandler.ListEvaluations)
	}

	return r
}
