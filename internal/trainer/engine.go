package trainer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"finetune-go/internal/config"
	"finetune-go/internal/errs"

	"github.com/sirupsen/logrus"
)

// TrainSpec 一次训练调用的输入
type TrainSpec struct {
	RunID          string
	Stage          string
	BaseModel      string
	TrainDataPath  string
	ValidDataPath  string
	AdapterOutPath string
	LearningRate   float64
	BatchSize      int
	Iters          int
	ResumeAdapter  string // 为空表示从基座模型开始
}

// Engine 外部训练引擎边界
// 训练是长耗时的同步阻塞调用, 这里不做并行和分片, 失败永远是致命的
type Engine struct {
	cfg    config.TrainerConfig
	logger *logrus.Logger
}

// NewEngine 创建训练引擎
func NewEngine(cfg config.TrainerConfig, logger *logrus.Logger) *Engine {
	return &Engine{cfg: cfg, logger: logger}
}

// Train 执行一次训练, 结束后校验适配器产物确实落盘
func (e *Engine) Train(ctx context.Context, spec TrainSpec) error {
	// 适配器输出目录由本次写入负责创建
	if err := os.MkdirAll(filepath.Dir(spec.AdapterOutPath), 0755); err != nil {
		return fmt.Errorf("创建适配器输出目录失败: %w", err)
	}

	args := []string{
		e.cfg.Script,
		"--model", spec.BaseModel,
		"--train-data", spec.TrainDataPath,
		"--valid-data", spec.ValidDataPath,
		"--adapter-path", spec.AdapterOutPath,
		"--learning-rate", fmt.Sprintf("%g", spec.LearningRate),
		"--batch-size", fmt.Sprintf("%d", spec.BatchSize),
		"--iters", fmt.Sprintf("%d", spec.Iters),
	}
	if spec.ResumeAdapter != "" {
		args = append(args, "--resume-adapter", spec.ResumeAdapter)
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.GetTimeout())
	defer cancel()

	if err := runTool(ctx, e.logger, "TrainingEngine", spec.RunID, spec.Stage, e.cfg.WorkDir, e.cfg.Python, args); err != nil {
		return err
	}

	// 退出码为零但产物不存在同样是致命错误
	if _, err := os.Stat(spec.AdapterOutPath); err != nil {
		return &errs.MissingArtifactError{RunID: spec.RunID, Stage: spec.Stage, Path: spec.AdapterOutPath}
	}

	e.logger.Infof("[TrainingEngine] 训练完成, 适配器: %s", spec.AdapterOutPath)
	return nil
}
