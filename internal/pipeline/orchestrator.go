package pipeline

import (
	"context"
	"fmt"
	"math/rand"
	"os"

	"finetune-go/internal/config"
	"finetune-go/internal/dataset"
	"finetune-go/internal/errs"
	"finetune-go/internal/manifest"
	"finetune-go/internal/models"
	"finetune-go/internal/repository"
	"finetune-go/internal/scans"
	"finetune-go/internal/trainer"

	"github.com/sirupsen/logrus"
)

// TrainingEngine 外部训练引擎边界
type TrainingEngine interface {
	Train(ctx context.Context, spec trainer.TrainSpec) error
}

// Evaluator 外部评估器边界
type Evaluator interface {
	Evaluate(ctx context.Context, spec trainer.EvalSpec) (*trainer.EvaluationResult, error)
}

// ScanReader 领域扫描记录来源(解析器本身是外部协作方, 这里只消费结果)
type ScanReader interface {
	ReadAll(sources []config.ScanSource) ([]scans.VulnerabilityRecord, error)
}

// SlotLimiter 训练槽位限流器
type SlotLimiter interface {
	Acquire(ctx context.Context, key string) error
	Release(ctx context.Context, key string)
}

// Publisher 模型发布协作方(上传托管平台不在本核心范围内)
type Publisher interface {
	Publish(ctx context.Context, run *manifest.TrainingRun) error
}

// RunOptions 一次流水线调用的输入
type RunOptions struct {
	RunID        string // 为空时新建运行, 非空时按运行级断点续跑
	ArtifactsDir string
	OutputDir    string
	BaseModel    string // 覆盖配置中的基座模型, 可为空
	SkipUpload   bool
}

// Orchestrator 顺序训练编排器
// 驱动端到端状态机: 基础训练 -> 基础评估 -> 专精数据准备 -> 专精训练 -> 专精评估 -> 保持率核查
// 阶段之间有真实的数据依赖, 绝不并行; 失败即终止, 没有自动重试
type Orchestrator struct {
	cfg       *config.Config
	manifests *manifest.Manager
	loader    *dataset.Loader
	scanRdr   ScanReader
	engine    TrainingEngine
	evaluator Evaluator
	limiter   SlotLimiter
	publisher Publisher
	runRepo   *repository.RunRepository
	evalRepo  *repository.EvaluationRepository
	logger    *logrus.Logger

	// 所有洗牌/抽样都只在编排goroutine里使用同一个带种子的随机源, 保证可复现
	rng *rand.Rand

	stage Stage
}

// NewOrchestrator 创建编排器
func NewOrchestrator(
	cfg *config.Config,
	manifests *manifest.Manager,
	loader *dataset.Loader,
	scanRdr ScanReader,
	engine TrainingEngine,
	evaluator Evaluator,
	limiter SlotLimiter,
	publisher Publisher,
	runRepo *repository.RunRepository,
	evalRepo *repository.EvaluationRepository,
	logger *logrus.Logger,
) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		manifests: manifests,
		loader:    loader,
		scanRdr:   scanRdr,
		engine:    engine,
		evaluator: evaluator,
		limiter:   limiter,
		publisher: publisher,
		runRepo:   runRepo,
		evalRepo:  evalRepo,
		logger:    logger,
		rng:       rand.New(rand.NewSource(cfg.Pipeline.Seed)),
		stage:     StageInit,
	}
}

// Stage 当前所处阶段
func (o *Orchestrator) Stage() Stage {
	return o.stage
}

// enter 推进状态机到下一阶段
func (o *Orchestrator) enter(run *manifest.TrainingRun, to Stage) error {
	next, err := Transition(o.stage, to)
	if err != nil {
		return err
	}
	o.stage = next
	o.logger.Infof("[Orchestrator] 运行 %s 进入阶段 %s", run.RunID, to)
	if o.runRepo != nil {
		if err := o.runRepo.UpdateStage(run.RunID, string(to)); err != nil {
			o.logger.Warnf("[Orchestrator] 更新登记库阶段失败: %v", err)
		}
	}
	return nil
}

// fail 终止运行, 带上运行ID和触发失败的阶段
func (o *Orchestrator) fail(run *manifest.TrainingRun, err error) error {
	failedStage := o.stage
	o.stage = StageFailed
	runID := ""
	if run != nil {
		runID = run.RunID
	}
	if o.runRepo != nil && runID != "" {
		if repoErr := o.runRepo.MarkFailed(runID, string(failedStage), err.Error()); repoErr != nil {
			o.logger.Warnf("[Orchestrator] 登记失败状态出错: %v", repoErr)
		}
	}
	return fmt.Errorf("运行 %s 在阶段 %s 失败: %w", runID, failedStage, err)
}

// Run 执行整条流水线
func (o *Orchestrator) Run(ctx context.Context, opts RunOptions) error {
	run, err := o.initRun(opts)
	if err != nil {
		return o.fail(run, err)
	}

	if err := o.enter(run, StageStage1Prep); err != nil {
		return o.fail(run, err)
	}
	if err := o.stage1Prep(ctx, run); err != nil {
		return o.fail(run, err)
	}

	if err := o.enter(run, StageStage1Train); err != nil {
		return o.fail(run, err)
	}
	if err := o.stage1Train(ctx, run); err != nil {
		return o.fail(run, err)
	}

	if err := o.enter(run, StageStage1Eval); err != nil {
		return o.fail(run, err)
	}
	baseline, err := o.stage1Eval(ctx, run)
	if err != nil {
		return o.fail(run, err)
	}

	if err := o.enter(run, StageStage2Prep); err != nil {
		return o.fail(run, err)
	}
	if err := o.stage2Prep(ctx, run, opts.ArtifactsDir); err != nil {
		return o.fail(run, err)
	}

	if err := o.enter(run, StageStage2Train); err != nil {
		return o.fail(run, err)
	}
	if err := o.stage2Train(ctx, run); err != nil {
		return o.fail(run, err)
	}

	if err := o.enter(run, StageStage2Eval); err != nil {
		return o.fail(run, err)
	}
	if err := o.stage2Eval(ctx, run); err != nil {
		return o.fail(run, err)
	}

	if err := o.enter(run, StageRetentionCheck); err != nil {
		return o.fail(run, err)
	}
	if err := o.retentionCheck(ctx, run, baseline); err != nil {
		return o.fail(run, err)
	}

	if err := o.enter(run, StageDone); err != nil {
		return o.fail(run, err)
	}

	if o.runRepo != nil {
		if err := o.runRepo.MarkFinished(run.RunID); err != nil {
			o.logger.Warnf("[Orchestrator] 登记完成状态出错: %v", err)
		}
	}

	if !opts.SkipUpload && o.publisher != nil {
		if err := o.publisher.Publish(ctx, run); err != nil {
			// 发布在 DONE 之后执行, 不影响训练结果本身, 但仍然按失败上报
			return fmt.Errorf("运行 %s 发布失败: %w", run.RunID, err)
		}
	}

	o.logger.Infof("[Orchestrator] 运行 %s 全部完成", run.RunID)
	return nil
}

// initRun 创建或恢复运行
// 断点续跑从产物存在性推导每个阶段是否已完成, 不依赖任何状态标志
func (o *Orchestrator) initRun(opts RunOptions) (*manifest.TrainingRun, error) {
	baseModel := o.cfg.Pipeline.BaseModel
	if opts.BaseModel != "" {
		baseModel = opts.BaseModel
	}

	run, err := o.manifests.CreateRun(opts.OutputDir, baseModel, opts.RunID)
	if err != nil {
		return nil, err
	}

	if o.runRepo != nil {
		if _, err := o.runRepo.GetByRunID(run.RunID); err != nil {
			record := &models.TrainingRunRecord{
				RunID:        run.RunID,
				BaseModel:    run.BaseModel,
				Status:       "running",
				CurrentStage: string(StageInit),
				RunDir:       run.RunDir(),
				StartedAt:    run.CreatedAt,
			}
			if err := o.runRepo.Create(record); err != nil {
				o.logger.Warnf("[Orchestrator] 登记运行失败: %v", err)
			}
		}
	}
	return run, nil
}

// stage1Prep 加载+划分基础数据集, 写出阶段一数据文件
func (o *Orchestrator) stage1Prep(ctx context.Context, run *manifest.TrainingRun) error {
	if fileExists(run.Stage1TrainingDataAbs()) &&
		fileExists(run.Stage1ValidationDataAbs()) &&
		fileExists(run.Stage1TestDataAbs()) {
		o.logger.Infof("[Stage1Prep] 阶段一数据文件已存在, 跳过数据准备")
		return nil
	}

	if len(o.cfg.Datasets) == 0 {
		return errs.NewConfigurationError("没有配置任何公共数据集来源")
	}

	groups, err := o.loader.LoadAll(ctx, o.cfg.Datasets)
	if err != nil {
		return err
	}

	sourceCounts := make(map[string]int, len(groups))
	for id, pairs := range groups {
		sourceCounts[id] = len(pairs)
	}

	combined := dataset.Combine(o.rng, groups)
	filtered, dropped := dataset.FilterByLength(combined, o.cfg.Pipeline.MaxSequenceChars)
	if dropped > 0 {
		o.logger.Infof("[Stage1Prep] 长度预算过滤掉 %d 条样本(上限 %d 字符)",
			dropped, o.cfg.Pipeline.MaxSequenceChars)
	}

	train, val, test, err := dataset.Split(o.rng, filtered, o.cfg.Pipeline.SplitRatios())
	if err != nil {
		return err
	}

	if err := dataset.WriteJSONL(run.Stage1TrainingDataAbs(), train); err != nil {
		return err
	}
	if err := dataset.WriteJSONL(run.Stage1ValidationDataAbs(), val); err != nil {
		return err
	}
	if err := dataset.WriteJSONL(run.Stage1TestDataAbs(), test); err != nil {
		return err
	}

	run.Stage1.DatasetStats = &manifest.DatasetStats{
		SourceCounts:  sourceCounts,
		TrainSize:     len(train),
		ValSize:       len(val),
		TestSize:      len(test),
		FilteredCount: dropped,
	}
	if err := o.manifests.Save(run); err != nil {
		return err
	}

	o.logger.Infof("[Stage1Prep] 数据准备完成: train=%d val=%d test=%d", len(train), len(val), len(test))
	return nil
}

// stage1Train 调用训练引擎执行基础阶段训练(不带恢复来源)
func (o *Orchestrator) stage1Train(ctx context.Context, run *manifest.TrainingRun) error {
	if fileExists(run.Stage1AdapterAbs()) {
		o.logger.Infof("[Stage1Train] 阶段一适配器已存在, 跳过训练")
		return nil
	}

	if o.limiter != nil {
		if err := o.limiter.Acquire(ctx, run.BaseModel); err != nil {
			return err
		}
		defer o.limiter.Release(ctx, run.BaseModel)
	}

	spec := trainer.TrainSpec{
		RunID:          run.RunID,
		Stage:          string(StageStage1Train),
		BaseModel:      run.BaseModel,
		TrainDataPath:  run.Stage1TrainingDataAbs(),
		ValidDataPath:  run.Stage1ValidationDataAbs(),
		AdapterOutPath: run.Stage1AdapterAbs(),
		LearningRate:   o.cfg.Stage1.LearningRate,
		BatchSize:      o.cfg.Stage1.BatchSize,
		Iters:          o.cfg.Stage1.Iters,
	}
	if err := o.engine.Train(ctx, spec); err != nil {
		return err
	}

	run.Stage1.TrainingParams = &manifest.TrainingParams{
		LearningRate: spec.LearningRate,
		BatchSize:    spec.BatchSize,
		Iters:        spec.Iters,
	}
	return o.manifests.Save(run)
}

// stage1Eval 在阶段一测试集上评估, 结果作为保持率基线
func (o *Orchestrator) stage1Eval(ctx context.Context, run *manifest.TrainingRun) (*trainer.EvaluationResult, error) {
	if fileExists(run.Stage1EvalResultsAbs()) {
		o.logger.Infof("[Stage1Eval] 阶段一评估结果已存在, 直接读回作为基线")
		return trainer.LoadResult(run.RunID, string(StageStage1Eval), run.Stage1EvalResultsAbs())
	}

	result, err := o.evaluator.Evaluate(ctx, trainer.EvalSpec{
		RunID:            run.RunID,
		Stage:            string(StageStage1Eval),
		TestSetID:        "stage1_test",
		AdapterPath:      run.Stage1AdapterAbs(),
		TestDataPath:     run.Stage1TestDataAbs(),
		ResultsOutPath:   run.Stage1EvalResultsAbs(),
		SimilarityCutoff: o.cfg.Pipeline.SimilarityCutoff,
	})
	if err != nil {
		return nil, err
	}

	o.recordEvaluation(result, nil)
	if err := o.manifests.Save(run); err != nil {
		return nil, err
	}
	return result, nil
}

// stage2Prep 准备专精阶段数据
// 第一件事是确认阶段一适配器存在, 缺失立即失败, 绝不替换默认值继续
func (o *Orchestrator) stage2Prep(ctx context.Context, run *manifest.TrainingRun, artifactsDir string) error {
	if !fileExists(run.Stage1AdapterAbs()) {
		return &errs.MissingArtifactError{
			RunID: run.RunID,
			Stage: string(StageStage2Prep),
			Path:  run.Stage1AdapterAbs(),
		}
	}

	if fileExists(run.Stage2TrainingDataAbs()) &&
		fileExists(run.Stage2ValidationDataAbs()) &&
		fileExists(run.Stage2TestDataAbs()) {
		o.logger.Infof("[Stage2Prep] 阶段二数据文件已存在, 跳过数据准备")
		return nil
	}

	records, err := o.scanRdr.ReadAll(o.cfg.Scans)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return errs.NewConfigurationError("所有扫描来源都没有产出领域记录, 无法进行专精训练")
	}

	pairs := scans.BuildPairs(records)
	train, val, test, err := dataset.Split(o.rng, pairs, o.cfg.Pipeline.SplitRatios())
	if err != nil {
		return err
	}

	// 回放混合用的基础样本取自阶段一的训练切片(从磁盘读回, 断点续跑时同样成立)
	foundationTrain, err := dataset.ReadJSONL(run.Stage1TrainingDataAbs())
	if err != nil {
		return &errs.CorruptedArtifactError{
			RunID: run.RunID,
			Stage: string(StageStage2Prep),
			Path:  run.Stage1TrainingDataAbs(),
			Err:   err,
		}
	}

	mixed, err := dataset.Mix(o.rng, train, foundationTrain, o.cfg.Pipeline.ReplayRatio)
	if err != nil {
		return err
	}
	replayCount := len(mixed) - len(train)

	if err := dataset.WriteJSONL(run.Stage2TrainingDataAbs(), mixed); err != nil {
		return err
	}
	if err := dataset.WriteJSONL(run.Stage2ValidationDataAbs(), val); err != nil {
		return err
	}
	if err := dataset.WriteJSONL(run.Stage2TestDataAbs(), test); err != nil {
		return err
	}

	sourceCounts := make(map[string]int)
	for i := range pairs {
		sourceCounts[pairs[i].Metadata.Source]++
	}
	run.Stage2.DatasetStats = &manifest.DatasetStats{
		SourceCounts: sourceCounts,
		TrainSize:    len(mixed),
		ValSize:      len(val),
		TestSize:     len(test),
		ReplayCount:  replayCount,
	}
	if err := o.manifests.Save(run); err != nil {
		return err
	}

	o.logger.Infof("[Stage2Prep] 数据准备完成: train=%d(含回放%d) val=%d test=%d",
		len(mixed), replayCount, len(val), len(test))
	return nil
}

// stage2Train 从阶段一权重继续训练, 学习率取阶段一学习率乘以缩放系数
func (o *Orchestrator) stage2Train(ctx context.Context, run *manifest.TrainingRun) error {
	if !fileExists(run.Stage1AdapterAbs()) {
		return &errs.MissingArtifactError{
			RunID: run.RunID,
			Stage: string(StageStage2Train),
			Path:  run.Stage1AdapterAbs(),
		}
	}
	if fileExists(run.Stage2AdapterAbs()) {
		o.logger.Infof("[Stage2Train] 阶段二适配器已存在, 跳过训练")
		return nil
	}

	if o.limiter != nil {
		if err := o.limiter.Acquire(ctx, run.BaseModel); err != nil {
			return err
		}
		defer o.limiter.Release(ctx, run.BaseModel)
	}

	spec := trainer.TrainSpec{
		RunID:          run.RunID,
		Stage:          string(StageStage2Train),
		BaseModel:      run.BaseModel,
		TrainDataPath:  run.Stage2TrainingDataAbs(),
		ValidDataPath:  run.Stage2ValidationDataAbs(),
		AdapterOutPath: run.Stage2AdapterAbs(),
		LearningRate:   o.cfg.Stage1.LearningRate * o.cfg.Stage2.LearningRateScale,
		BatchSize:      o.cfg.Stage2.BatchSize,
		Iters:          o.cfg.Stage2.Iters,
		ResumeAdapter:  run.Stage1AdapterAbs(),
	}
	if err := o.engine.Train(ctx, spec); err != nil {
		return err
	}

	run.Stage2.TrainingParams = &manifest.TrainingParams{
		LearningRate:  spec.LearningRate,
		BatchSize:     spec.BatchSize,
		Iters:         spec.Iters,
		ResumeAdapter: run.Stage1.AdapterPath,
	}
	return o.manifests.Save(run)
}

// stage2Eval 在阶段二专属测试集上评估
func (o *Orchestrator) stage2Eval(ctx context.Context, run *manifest.TrainingRun) error {
	if fileExists(run.Stage2EvalResultsAbs()) {
		o.logger.Infof("[Stage2Eval] 阶段二评估结果已存在, 跳过评估")
		return nil
	}

	result, err := o.evaluator.Evaluate(ctx, trainer.EvalSpec{
		RunID:            run.RunID,
		Stage:            string(StageStage2Eval),
		TestSetID:        "stage2_test",
		AdapterPath:      run.Stage2AdapterAbs(),
		TestDataPath:     run.Stage2TestDataAbs(),
		ResultsOutPath:   run.Stage2EvalResultsAbs(),
		SimilarityCutoff: o.cfg.Pipeline.SimilarityCutoff,
	})
	if err != nil {
		return err
	}

	o.recordEvaluation(result, nil)
	return o.manifests.Save(run)
}

// retentionCheck 用阶段二模型重跑阶段一测试集, 对照基线计算保持率
// 保持率偏低只是质量信号, 记警告, 不作为致命错误
func (o *Orchestrator) retentionCheck(ctx context.Context, run *manifest.TrainingRun, baseline *trainer.EvaluationResult) error {
	result, err := o.evaluator.Evaluate(ctx, trainer.EvalSpec{
		RunID:            run.RunID,
		Stage:            string(StageRetentionCheck),
		TestSetID:        "stage1_test",
		AdapterPath:      run.Stage2AdapterAbs(),
		TestDataPath:     run.Stage1TestDataAbs(),
		ResultsOutPath:   run.RetentionResultsAbs(),
		SimilarityCutoff: o.cfg.Pipeline.SimilarityCutoff,
	})
	if err != nil {
		return err
	}

	var retention float64
	if baseline.Score() > 0 {
		retention = result.Score() / baseline.Score()
	}

	if retention < o.cfg.Pipeline.RetentionWarnThreshold {
		o.logger.Warnf("[RetentionCheck] 保持率偏低: %.4f (阈值 %.4f), 专精训练可能侵蚀了基础能力",
			retention, o.cfg.Pipeline.RetentionWarnThreshold)
	} else {
		o.logger.Infof("[RetentionCheck] 保持率 %.4f (基线 %.4f, 当前 %.4f)",
			retention, baseline.Score(), result.Score())
	}

	o.recordEvaluation(result, &retention)
	return o.manifests.Save(run)
}

// recordEvaluation 把评估结果登记进数据库
func (o *Orchestrator) recordEvaluation(result *trainer.EvaluationResult, retention *float64) {
	if o.evalRepo == nil {
		return
	}
	record := &models.EvaluationRecord{
		RunID:           result.RunID,
		Stage:           result.Stage,
		TestSetID:       result.TestSetID,
		ExactMatchRate:  result.ExactMatchRate,
		SimilarityScore: result.SimilarityScore,
		RetentionRate:   retention,
	}
	if err := o.evalRepo.Create(record); err != nil {
		o.logger.Warnf("[Orchestrator] 登记评估结果失败: %v", err)
	}
}

// fileExists 判断产物是否存在(文件或目录)
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
