package handler

import (
	"finetune-go/internal/manifest"
	"finetune-go/internal/repository"
	"finetune-go/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// RunHandler 运行状态查询处理器(只读)
type RunHandler struct {
	runRepo   *repository.RunRepository
	evalRepo  *repository.EvaluationRepository
	manifests *manifest.Manager
	logger    *logrus.Logger
}

// NewRunHandler 创建运行状态查询处理器
func NewRunHandler(
	runRepo *repository.RunRepository,
	evalRepo *repository.EvaluationRepository,
	manifests *manifest.Manager,
	logger *logrus.Logger,
) *RunHandler {
	return &RunHandler{
		runRepo:   runRepo,
		evalRepo:  evalRepo,
		manifests: manifests,
		logger:    logger,
	}
}

// ListRuns 列出全部运行
func (h *RunHandler) ListRuns(c *gin.Context) {
	records, err := h.runRepo.List()
	if err != nil {
		utils.InternalError(c, err.Error())
		return
	}
	utils.SuccessResponse(c, records)
}

// GetRun 获取单次运行详情(登记记录+清单)
func (h *RunHandler) GetRun(c *gin.Context) {
	runID := c.Param("run_id")

	record, err := h.runRepo.GetByRunID(runID)
	if err != nil {
		utils.NotFound(c, "运行不存在: "+runID)
		return
	}

	detail := gin.H{"record": record}
	if run, err := h.manifests.Load(record.RunDir); err == nil {
		detail["manifest"] = run
	} else {
		// 清单读不到不影响登记记录的返回, 这是只读查询不是流水线本体
		h.logger.Warnf("[RunHandler] 读取运行 %s 的清单失败: %v", runID, err)
	}
	utils.SuccessResponse(c, detail)
}

// ListEvaluations 列出一次运行的全部评估结果
func (h *RunHandler) ListEvaluations(c *gin.Context) {
	runID := c.Param("run_id")

	records, err := h.evalRepo.ListByRunID(runID)
	if err != nil {
		utils.InternalError(c, err.Error())
		return
	}
	utils.SuccessResponse(c, records)
}
