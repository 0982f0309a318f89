package manifest

import (
	"path/filepath"
	"time"
)

const (
	// SchemaVersion 清单schema版本, 加载时必须完全一致, 不做多版本兼容
	SchemaVersion = "2.0"

	// ManifestFileName 清单文件名(每个运行根目录一份)
	ManifestFileName = "run_manifest.json"

	// PipelineTypeSequential 流水线类型固定为顺序式, 没有其它模式
	PipelineTypeSequential = "sequential"
)

// 阶段相对路径命名方案, 在创建运行时一次性固定, 之后只有内容出现, 路径不再变化
const (
	stage1Dir         = "stage1"
	stage2Dir         = "stage2"
	trainFileName     = "train.jsonl"
	validFileName     = "valid.jsonl"
	testFileName      = "test.jsonl"
	adapterDirName    = "adapter"
	evalFileName      = "eval_results.json"
	retentionFileName = "retention_results.json"
	finalModelDir     = "final_model"
)

// TrainingParams 阶段训练参数, 创建时为空, 阶段成功结束后填写一次
type TrainingParams struct {
	LearningRate  float64 `json:"learning_rate"`
	BatchSize     int     `json:"batch_size"`
	Iters         int     `json:"iters"`
	ResumeAdapter string  `json:"resume_adapter,omitempty"`
}

// DatasetStats 阶段数据统计, 创建时为空, 数据准备完成后填写一次
type DatasetStats struct {
	SourceCounts  map[string]int `json:"source_counts"`
	TrainSize     int            `json:"train_size"`
	ValSize       int            `json:"val_size"`
	TestSize      int            `json:"test_size"`
	FilteredCount int            `json:"filtered_count"`
	ReplayCount   int            `json:"replay_count,omitempty"`
}

// StageDescriptor 单阶段描述, 所有路径均相对运行根目录
type StageDescriptor struct {
	AdapterPath        string          `json:"adapter_path"`
	TrainingDataPath   string          `json:"training_data_path"`
	ValidationDataPath string          `json:"validation_data_path"`
	TestDataPath       string          `json:"test_data_path"`
	EvalResultsPath    string          `json:"eval_results_path"`
	TrainingParams     *TrainingParams `json:"training_params,omitempty"`
	DatasetStats       *DatasetStats   `json:"dataset_stats,omitempty"`
}

// TrainingRun 一次微调执行的清单
// 完整路径契约在创建时固定, 永不变化; 每个阶段完成并验证后整体重写一次清单
type TrainingRun struct {
	SchemaVersion        string          `json:"schema_version"`
	RunID                string          `json:"run_id"`
	CreatedAt            time.Time       `json:"created_at"`
	BaseModel            string          `json:"base_model"`
	PipelineType         string          `json:"pipeline_type"`
	Stage1               StageDescriptor `json:"stage1"`
	Stage2               StageDescriptor `json:"stage2"`
	RetentionResultsPath string          `json:"retention_results_path"`
	FinalModelPath       string          `json:"final_model_path"`

	// 运行根目录, 加载/创建时由Manager填入, 不落盘(清单可随目录整体搬迁)
	runDir string
}

// newPathContract 按固定命名方案生成完整路径契约
func newPathContract(runID, baseModel string, createdAt time.Time) *TrainingRun {
	return &TrainingRun{
		SchemaVersion: SchemaVersion,
		RunID:         runID,
		CreatedAt:     createdAt,
		BaseModel:     baseModel,
		PipelineType:  PipelineTypeSequential,
		Stage1: StageDescriptor{
			AdapterPath:        filepath.Join(stage1Dir, adapterDirName),
			TrainingDataPath:   filepath.Join(stage1Dir, trainFileName),
			ValidationDataPath: filepath.Join(stage1Dir, validFileName),
			TestDataPath:       filepath.Join(stage1Dir, testFileName),
			EvalResultsPath:    filepath.Join(stage1Dir, evalFileName),
		},
		Stage2: StageDescriptor{
			AdapterPath:        filepath.Join(stage2Dir, adapterDirName),
			TrainingDataPath:   filepath.Join(stage2Dir, trainFileName),
			ValidationDataPath: filepath.Join(stage2Dir, validFileName),
			TestDataPath:       filepath.Join(stage2Dir, testFileName),
			EvalResultsPath:    filepath.Join(stage2Dir, evalFileName),
		},
		RetentionResultsPath: filepath.Join(stage2Dir, retentionFileName),
		FinalModelPath:       finalModelDir,
	}
}

// RunDir 运行根目录
func (r *TrainingRun) RunDir() string {
	return r.runDir
}

// ManifestPath 清单文件绝对路径
func (r *TrainingRun) ManifestPath() string {
	return filepath.Join(r.runDir, ManifestFileName)
}

// Resolve 把阶段相对路径解析为运行根目录下的绝对路径
func (r *TrainingRun) Resolve(rel string) string {
	return filepath.Join(r.runDir, rel)
}

// Stage1AdapterAbs 阶段一适配器产物路径
func (r *TrainingRun) Stage1AdapterAbs() string { return r.Resolve(r.Stage1.AdapterPath) }

// Stage1TrainingDataAbs 阶段一训练数据路径
func (r *TrainingRun) Stage1TrainingDataAbs() string { return r.Resolve(r.Stage1.TrainingDataPath) }

// Stage1ValidationDataAbs 阶段一验证数据路径
func (r *TrainingRun) Stage1ValidationDataAbs() string {
	return r.Resolve(r.Stage1.ValidationDataPath)
}

// Stage1TestDataAbs 阶段一测试数据路径
func (r *TrainingRun) Stage1TestDataAbs() string { return r.Resolve(r.Stage1.TestDataPath) }

// Stage1EvalResultsAbs 阶段一评估结果路径
func (r *TrainingRun) Stage1EvalResultsAbs() string { return r.Resolve(r.Stage1.EvalResultsPath) }

// Stage2AdapterAbs 阶段二适配器产物路径
func (r *TrainingRun) Stage2AdapterAbs() string { return r.Resolve(r.Stage2.AdapterPath) }

// Stage2TrainingDataAbs 阶段二训练数据路径
func (r *TrainingRun) Stage2TrainingDataAbs() string { return r.Resolve(r.Stage2.TrainingDataPath) }

// Stage2ValidationDataAbs 阶段二验证数据路径
func (r *TrainingRun) Stage2ValidationDataAbs() string {
	return r.Resolve(r.Stage2.ValidationDataPath)
}

// Stage2TestDataAbs 阶段二测试数据路径
func (r *TrainingRun) Stage2TestDataAbs() string { return r.Resolve(r.Stage2.TestDataPath) }

// Stage2EvalResultsAbs 阶段二评估结果路径
func (r *TrainingRun) Stage2EvalResultsAbs() string { return r.Resolve(r.Stage2.EvalResultsPath) }

// RetentionResultsAbs 保持率评估结果路径
func (r *TrainingRun) RetentionResultsAbs() string { return r.Resolve(r.RetentionResultsPath) }

// FinalModelAbs 最终模型路径
func (r *TrainingRun) FinalModelAbs() string { return r.Resolve(r.FinalModelPath) }
