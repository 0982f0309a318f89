package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"finetune-go/internal/errs"

	"github.com/sirupsen/logrus"
)

// Manager 训练运行清单管理器
// 清单是唯一的共享可变资源, 保存采用临时文件+改名的原子替换,
// 中途崩溃不会留下半写的清单, 上一份一致的清单仍然有效
type Manager struct {
	logger *logrus.Logger
}

// NewManager 创建清单管理器
func NewManager(logger *logrus.Logger) *Manager {
	return &Manager{logger: logger}
}

// CreateRun 创建一次训练运行
// runID 为空时按时间戳生成; 立即落盘清单, 但不预创建任何阶段目录,
// 目录由第一个向对应路径写入的阶段负责创建。
// 同名运行目录下已有不兼容schema的清单时报配置错误, 绝不静默覆盖。
func (m *Manager) CreateRun(rootDir, baseModel, runID string) (*TrainingRun, error) {
	now := time.Now()
	if runID == "" {
		runID = fmt.Sprintf("run_%s", now.Format("20060102_150405"))
	}
	runDir := filepath.Join(rootDir, runID)

	manifestPath := filepath.Join(runDir, ManifestFileName)
	if _, err := os.Stat(manifestPath); err == nil {
		existing, loadErr := m.Load(runDir)
		if loadErr != nil {
			return nil, loadErr
		}
		// 同版本同ID的清单视为同一次运行, 直接复用已固定的路径契约
		m.logger.Infof("[Manifest] 运行 %s 的清单已存在, 复用现有路径契约", runID)
		return existing, nil
	}

	run := newPathContract(runID, baseModel, now)
	run.runDir = runDir
	if err := m.Save(run); err != nil {
		return nil, err
	}
	m.logger.Infof("[Manifest] 运行 %s 创建完成, 清单: %s", runID, manifestPath)
	return run, nil
}

// Load 加载清单
// 清单缺失按必需产物缺失处理, 不会返回默认/空清单;
// schema版本不一致按配置错误处理, 刻意不做双版本兼容加载。
func (m *Manager) Load(runDir string) (*TrainingRun, error) {
	manifestPath := filepath.Join(runDir, ManifestFileName)

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &errs.MissingArtifactError{Stage: "manifest_load", Path: manifestPath}
		}
		return nil, fmt.Errorf("读取清单失败: %w", err)
	}

	var run TrainingRun
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, &errs.CorruptedArtifactError{Stage: "manifest_load", Path: manifestPath, Err: err}
	}
	if run.SchemaVersion != SchemaVersion {
		return nil, errs.NewConfigurationError(
			"清单schema版本不兼容: 期望 %s, 实际 %s (%s)", SchemaVersion, run.SchemaVersion, manifestPath)
	}
	if run.PipelineType != PipelineTypeSequential {
		return nil, &errs.CorruptedArtifactError{
			RunID: run.RunID,
			Stage: "manifest_load",
			Path:  manifestPath,
			Err:   fmt.Errorf("未知的流水线类型: %s", run.PipelineType),
		}
	}

	run.runDir = runDir
	return &run, nil
}

// Save 原子保存清单: 先写临时文件再改名覆盖
func (m *Manager) Save(run *TrainingRun) error {
	if run.runDir == "" {
		return errs.NewConfigurationError("清单缺少运行根目录, 无法保存")
	}
	// 只创建运行根目录本身, 阶段子目录仍然延迟到首次写入时创建
	if err := os.MkdirAll(run.runDir, 0755); err != nil {
		return fmt.Errorf("创建运行目录失败: %w", err)
	}

	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化清单失败: %w", err)
	}

	manifestPath := run.ManifestPath()
	tmp, err := os.CreateTemp(run.runDir, ManifestFileName+".tmp_")
	if err != nil {
		return fmt.Errorf("创建临时清单失败: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("写入临时清单失败: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("关闭临时清单失败: %w", err)
	}
	if err := os.Rename(tmpPath, manifestPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("替换清单失败: %w", err)
	}
	return nil
}
