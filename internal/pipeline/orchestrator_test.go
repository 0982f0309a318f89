package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"finetune-go/internal/config"
	"finetune-go/internal/dataset"
	"finetune-go/internal/errs"
	"finetune-go/internal/manifest"
	"finetune-go/internal/scans"
	"finetune-go/internal/trainer"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEngine 记录调用并按需落盘适配器产物
type fakeEngine struct {
	calls        []trainer.TrainSpec
	writeAdapter bool
}

func (f *fakeEngine) Train(ctx context.Context, spec trainer.TrainSpec) error {
	f.calls = append(f.calls, spec)
	if f.writeAdapter {
		if err := os.MkdirAll(spec.AdapterOutPath, 0755); err != nil {
			return err
		}
	}
	return nil
}

// fakeEvaluator 返回固定指标并像真实评估器一样把结果写到输出路径
type fakeEvaluator struct {
	calls      []trainer.EvalSpec
	exactMatch float64
	similarity float64
}

func (f *fakeEvaluator) Evaluate(ctx context.Context, spec trainer.EvalSpec) (*trainer.EvaluationResult, error) {
	f.calls = append(f.calls, spec)
	result := &trainer.EvaluationResult{
		RunID:           spec.RunID,
		Stage:           spec.Stage,
		TestSetID:       spec.TestSetID,
		ExactMatchRate:  f.exactMatch,
		SimilarityScore: f.similarity,
		ExampleCount:    10,
	}
	if err := os.MkdirAll(filepath.Dir(spec.ResultsOutPath), 0755); err != nil {
		return nil, err
	}
	data, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(spec.ResultsOutPath, data, 0644); err != nil {
		return nil, err
	}
	return result, nil
}

// fakeScanReader 直接返回给定的漏洞记录
type fakeScanReader struct {
	records []scans.VulnerabilityRecord
}

func (f *fakeScanReader) ReadAll(sources []config.ScanSource) ([]scans.VulnerabilityRecord, error) {
	return f.records, nil
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.WarnLevel)
	return logger
}

func writeFoundationFile(t *testing.T, dir string, n int) string {
	t.Helper()
	path := filepath.Join(dir, "public.jsonl")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	for i := 0; i < n; i++ {
		fmt.Fprintf(f, `{"instruction":"q%d","input":"","output":"a%d"}`+"\n", i, i)
	}
	return path
}

func makeScanRecords(n int) []scans.VulnerabilityRecord {
	records := make([]scans.VulnerabilityRecord, 0, n)
	for i := 0; i < n; i++ {
		records = append(records, scans.VulnerabilityRecord{
			ID:          fmt.Sprintf("CVE-2024-%04d", i),
			Tool:        "trivy",
			Severity:    "high",
			Description: fmt.Sprintf("finding %d", i),
			Remediation: fmt.Sprintf("fix %d", i),
		})
	}
	return records
}

func testConfig(t *testing.T, foundationPath string) *config.Config {
	t.Helper()
	return &config.Config{
		Pipeline: config.PipelineConfig{
			Seed:                   42,
			ReplayRatio:            0.15,
			TrainRatio:             0.8,
			ValRatio:               0.1,
			TestRatio:              0.1,
			RetentionWarnThreshold: 0.85,
			SimilarityCutoff:       0.85,
			BaseModel:              "base-7b",
		},
		Stage1: config.Stage1Config{LearningRate: 1e-5, BatchSize: 4, Iters: 100},
		Stage2: config.Stage2Config{LearningRateScale: 0.2, BatchSize: 4, Iters: 50},
		Datasets: []config.DatasetSource{
			{ID: "public", Kind: "file", Path: foundationPath, Format: "alpaca", Required: true},
		},
	}
}

func newTestOrchestrator(cfg *config.Config, engine TrainingEngine, evaluator Evaluator, scanRdr ScanReader) *Orchestrator {
	logger := testLogger()
	return NewOrchestrator(
		cfg,
		manifest.NewManager(logger),
		dataset.NewLoader(logger),
		scanRdr,
		engine,
		evaluator,
		nil, // 不限流
		nil, // 不发布
		nil, // 不登记
		nil,
		logger,
	)
}

func TestRunHappyPath(t *testing.T) {
	dataDir := t.TempDir()
	outDir := t.TempDir()
	foundation := writeFoundationFile(t, dataDir, 100)

	cfg := testConfig(t, foundation)
	engine := &fakeEngine{writeAdapter: true}
	evaluator := &fakeEvaluator{exactMatch: 0.6, similarity: 0.8}
	scanRdr := &fakeScanReader{records: makeScanRecords(20)}

	o := newTestOrchestrator(cfg, engine, evaluator, scanRdr)
	err := o.Run(context.Background(), RunOptions{
		RunID:      "run_happy",
		OutputDir:  outDir,
		SkipUpload: true,
	})
	require.NoError(t, err)
	assert.Equal(t, StageDone, o.Stage())

	// 两次训练调用: 阶段一不带恢复来源, 阶段二从阶段一适配器继续且学习率按系数缩放
	require.Len(t, engine.calls, 2)
	assert.Empty(t, engine.calls[0].ResumeAdapter)
	assert.Equal(t, engine.calls[0].AdapterOutPath, engine.calls[1].ResumeAdapter)
	assert.InDelta(t, 1e-5*0.2, engine.calls[1].LearningRate, 1e-12)

	// 三次评估调用: 阶段一测试集、阶段二测试集、保持率核查(阶段二模型跑阶段一测试集)
	require.Len(t, evaluator.calls, 3)
	assert.Equal(t, string(StageStage1Eval), evaluator.calls[0].Stage)
	assert.Equal(t, string(StageStage2Eval), evaluator.calls[1].Stage)
	assert.Equal(t, string(StageRetentionCheck), evaluator.calls[2].Stage)
	assert.Equal(t, evaluator.calls[0].TestDataPath, evaluator.calls[2].TestDataPath)
	assert.Equal(t, evaluator.calls[1].AdapterPath, evaluator.calls[2].AdapterPath)

	// 清单记录了两阶段的数据统计和训练参数
	m := manifest.NewManager(testLogger())
	run, err := m.Load(filepath.Join(outDir, "run_happy"))
	require.NoError(t, err)
	require.NotNil(t, run.Stage1.DatasetStats)
	assert.Equal(t, 80, run.Stage1.DatasetStats.TrainSize)
	assert.Equal(t, 10, run.Stage1.DatasetStats.ValSize)
	assert.Equal(t, 10, run.Stage1.DatasetStats.TestSize)
	require.NotNil(t, run.Stage2.DatasetStats)
	// 20条记录: train=16, val=2, test=2; 回放 floor(16*0.15)=2, 混合集 18
	assert.Equal(t, 18, run.Stage2.DatasetStats.TrainSize)
	assert.Equal(t, 2, run.Stage2.DatasetStats.ReplayCount)
	require.NotNil(t, run.Stage2.TrainingParams)
	assert.Equal(t, run.Stage1.AdapterPath, run.Stage2.TrainingParams.ResumeAdapter)

	// 阶段二训练集落盘内容与统计一致, 回放样本带标记
	mixed, err := dataset.ReadJSONL(run.Stage2TrainingDataAbs())
	require.NoError(t, err)
	require.Len(t, mixed, 18)
	replayCount := 0
	for i := range mixed {
		if mixed[i].Metadata.IsReplay {
			replayCount++
		}
	}
	assert.Equal(t, 2, replayCount)
}

func TestStage2FailsFastWhenAdapterMissing(t *testing.T) {
	dataDir := t.TempDir()
	outDir := t.TempDir()
	foundation := writeFoundationFile(t, dataDir, 100)

	cfg := testConfig(t, foundation)
	// 引擎"成功"返回但不落盘适配器(真实引擎会自检, 这里模拟产物丢失)
	engine := &fakeEngine{writeAdapter: false}
	evaluator := &fakeEvaluator{exactMatch: 0.6, similarity: 0.8}
	scanRdr := &fakeScanReader{records: makeScanRecords(20)}

	o := newTestOrchestrator(cfg, engine, evaluator, scanRdr)
	err := o.Run(context.Background(), RunOptions{
		RunID:      "run_noadapter",
		OutputDir:  outDir,
		SkipUpload: true,
	})

	var missing *errs.MissingArtifactError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, StageFailed, o.Stage())
	assert.Contains(t, err.Error(), string(StageStage2Prep))

	// 阶段二的训练调用从未发生
	require.Len(t, engine.calls, 1)
	assert.Equal(t, string(StageStage1Train), engine.calls[0].Stage)
}

func TestRunResumeSkipsCompletedStages(t *testing.T) {
	dataDir := t.TempDir()
	outDir := t.TempDir()
	foundation := writeFoundationFile(t, dataDir, 100)

	cfg := testConfig(t, foundation)
	engine := &fakeEngine{writeAdapter: true}
	evaluator := &fakeEvaluator{exactMatch: 0.6, similarity: 0.8}
	scanRdr := &fakeScanReader{records: makeScanRecords(20)}

	o := newTestOrchestrator(cfg, engine, evaluator, scanRdr)
	require.NoError(t, o.Run(context.Background(), RunOptions{
		RunID:      "run_resume",
		OutputDir:  outDir,
		SkipUpload: true,
	}))

	// 用同一个运行ID重跑: 已完成阶段从产物存在性推导并跳过
	engine2 := &fakeEngine{writeAdapter: true}
	evaluator2 := &fakeEvaluator{exactMatch: 0.6, similarity: 0.8}
	o2 := newTestOrchestrator(cfg, engine2, evaluator2, scanRdr)
	require.NoError(t, o2.Run(context.Background(), RunOptions{
		RunID:      "run_resume",
		OutputDir:  outDir,
		SkipUpload: true,
	}))

	assert.Empty(t, engine2.calls)
	// 保持率核查每次都重算, 其余评估结果直接读回
	require.Len(t, evaluator2.calls, 1)
	assert.Equal(t, string(StageRetentionCheck), evaluator2.calls[0].Stage)
}

func TestRunFailsWithoutDomainRecords(t *testing.T) {
	dataDir := t.TempDir()
	outDir := t.TempDir()
	foundation := writeFoundationFile(t, dataDir, 50)

	cfg := testConfig(t, foundation)
	engine := &fakeEngine{writeAdapter: true}
	evaluator := &fakeEvaluator{exactMatch: 0.6, similarity: 0.8}
	scanRdr := &fakeScanReader{records: nil}

	o := newTestOrchestrator(cfg, engine, evaluator, scanRdr)
	err := o.Run(context.Background(), RunOptions{
		RunID:      "run_norecords",
		OutputDir:  outDir,
		SkipUpload: true,
	})

	var cfgErr *errs.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, err.Error(), string(StageStage2Prep))
}
