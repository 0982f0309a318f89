package errs

import (
	"errors"
	"fmt"
)

// 错误分类:
// 整个流水线只承认两种读取产物的结果——
// 1. 可选产物不存在: 返回空结果并记录日志, 继续执行;
// 2. 必需产物缺失或已损坏: 立即失败并带上完整上下文, 终止本次运行。
// 任何组件都不允许捕获致命错误后用默认值/部分结果代替。

// ConfigurationError 配置错误(清单schema不兼容、比例不合法等), 在任何阶段执行前暴露
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("配置错误: %s", e.Msg)
}

// NewConfigurationError 创建配置错误
func NewConfigurationError(format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{Msg: fmt.Sprintf(format, args...)}
}

// MissingArtifactError 结构上必需的产物缺失(例如阶段二启动前阶段一适配器不存在)
type MissingArtifactError struct {
	RunID string
	Stage string
	Path  string
}

func (e *MissingArtifactError) Error() string {
	return fmt.Sprintf("必需产物缺失: run=%s stage=%s path=%s", e.RunID, e.Stage, e.Path)
}

// CorruptedArtifactError 产物存在但无法解析/校验失败, 绝不允许当作"无数据"处理
type CorruptedArtifactError struct {
	RunID string
	Stage string
	Path  string
	Err   error
}

func (e *CorruptedArtifactError) Error() string {
	return fmt.Sprintf("产物已损坏: run=%s stage=%s path=%s: %v", e.RunID, e.Stage, e.Path, e.Err)
}

func (e *CorruptedArtifactError) Unwrap() error { return e.Err }

// ExternalToolError 外部工具(训练引擎/评估器)非零退出, 原样携带退出码和stderr
type ExternalToolError struct {
	Tool     string
	RunID    string
	Stage    string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ExternalToolError) Error() string {
	return fmt.Sprintf("外部工具失败: tool=%s run=%s stage=%s exit=%d stderr=%s",
		e.Tool, e.RunID, e.Stage, e.ExitCode, e.Stderr)
}

func (e *ExternalToolError) Unwrap() error { return e.Err }

// IsFatal 判断错误是否属于致命分类
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var cfg *ConfigurationError
	var missing *MissingArtifactError
	var corrupted *CorruptedArtifactError
	var tool *ExternalToolError
	return errors.As(err, &cfg) ||
		errors.As(err, &missing) ||
		errors.As(err, &corrupted) ||
		errors.As(err, &tool)
}
