package trainer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"finetune-go/internal/config"
	"finetune-go/internal/errs"

	"github.com/sirupsen/logrus"
)

// EvalSpec 一次评估调用的输入
type EvalSpec struct {
	RunID            string
	Stage            string
	TestSetID        string
	AdapterPath      string
	TestDataPath     string
	ResultsOutPath   string
	SimilarityCutoff float64
}

// ExampleTrace 单条样本的评估明细
type ExampleTrace struct {
	Index      int     `json:"index"`
	ExactMatch bool    `json:"exact_match"`
	Similarity float64 `json:"similarity"`
	Expected   string  `json:"expected,omitempty"`
	Actual     string  `json:"actual,omitempty"`
}

// EvaluationResult 一次评估的指标, 产出后只读
type EvaluationResult struct {
	RunID           string         `json:"run_id"`
	Stage           string         `json:"stage"`
	TestSetID       string         `json:"test_set_id"`
	ExactMatchRate  float64        `json:"exact_match_rate"`
	SimilarityScore float64        `json:"similarity_score"`
	ExampleCount    int            `json:"example_count"`
	Traces          []ExampleTrace `json:"traces,omitempty"`
}

// Score 综合得分, 保持率按这个口径计算
func (r *EvaluationResult) Score() float64 {
	return (r.ExactMatchRate + r.SimilarityScore) / 2
}

// Evaluator 外部评估器边界
// 评估脚本把指标JSON写到指定路径, 任何产出失败都是致命的
type Evaluator struct {
	cfg    config.EvaluatorConfig
	python string
	logger *logrus.Logger
}

// NewEvaluator 创建评估器
func NewEvaluator(cfg config.EvaluatorConfig, python string, logger *logrus.Logger) *Evaluator {
	if python == "" {
		python = "python3"
	}
	return &Evaluator{cfg: cfg, python: python, logger: logger}
}

// Evaluate 执行一次评估并读回指标
func (e *Evaluator) Evaluate(ctx context.Context, spec EvalSpec) (*EvaluationResult, error) {
	if err := os.MkdirAll(filepath.Dir(spec.ResultsOutPath), 0755); err != nil {
		return nil, fmt.Errorf("创建评估输出目录失败: %w", err)
	}

	args := []string{
		e.cfg.Script,
		"--adapter-path", spec.AdapterPath,
		"--test-data", spec.TestDataPath,
		"--output", spec.ResultsOutPath,
		"--similarity-cutoff", fmt.Sprintf("%g", spec.SimilarityCutoff),
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.GetTimeout())
	defer cancel()

	if err := runTool(ctx, e.logger, "Evaluator", spec.RunID, spec.Stage, "", e.python, args); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(spec.ResultsOutPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &errs.MissingArtifactError{RunID: spec.RunID, Stage: spec.Stage, Path: spec.ResultsOutPath}
		}
		return nil, fmt.Errorf("读取评估结果失败: %w", err)
	}

	var result EvaluationResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, &errs.CorruptedArtifactError{RunID: spec.RunID, Stage: spec.Stage, Path: spec.ResultsOutPath, Err: err}
	}

	result.RunID = spec.RunID
	result.Stage = spec.Stage
	result.TestSetID = spec.TestSetID

	e.logger.Infof("[Evaluator] 评估完成: stage=%s exact_match=%.4f similarity=%.4f",
		spec.Stage, result.ExactMatchRate, result.SimilarityScore)
	return &result, nil
}

// LoadResult 从磁盘读回已有的评估结果(运行级断点续跑时使用)
func LoadResult(runID, stage, path string) (*EvaluationResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &errs.MissingArtifactError{RunID: runID, Stage: stage, Path: path}
		}
		return nil, fmt.Errorf("读取评估结果失败: %w", err)
	}
	var result EvaluationResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, &errs.CorruptedArtifactError{RunID: runID, Stage: stage, Path: path, Err: err}
	}
	result.RunID = runID
	result.Stage = stage
	return &result, nil
}
