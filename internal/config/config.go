package config

import (
	"fmt"
	"time"
)

// Config 流水线配置结构
type Config struct {
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Stage1    Stage1Config    `mapstructure:"stage1"`
	Stage2    Stage2Config    `mapstructure:"stage2"`
	Trainer   TrainerConfig   `mapstructure:"trainer"`
	Evaluator EvaluatorConfig `mapstructure:"evaluator"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis_service"`
	Server    ServerConfig    `mapstructure:"server"`
	Datasets  []DatasetSource `mapstructure:"datasets"`
	Scans     []ScanSource    `mapstructure:"scans"`
	Publish   PublishConfig   `mapstructure:"publish"`
}

// PipelineConfig 流水线调优参数
// 回放比例与保持率阈值是经验值, 正确取值依赖具体领域和模型, 所以全部放在配置里而不是写死
type PipelineConfig struct {
	Seed                   int64   `mapstructure:"seed"`
	ReplayRatio            float64 `mapstructure:"replay_ratio"`
	TrainRatio             float64 `mapstructure:"train_ratio"`
	ValRatio               float64 `mapstructure:"val_ratio"`
	TestRatio              float64 `mapstructure:"test_ratio"`
	MaxSequenceChars       int     `mapstructure:"max_sequence_chars"`
	RetentionWarnThreshold float64 `mapstructure:"retention_warn_threshold"`
	SimilarityCutoff       float64 `mapstructure:"similarity_cutoff"`
	BaseModel              string  `mapstructure:"base_model"`
}

// SplitRatios 获取划分比例(train, val, test)
func (p *PipelineConfig) SplitRatios() [3]float64 {
	return [3]float64{p.TrainRatio, p.ValRatio, p.TestRatio}
}

// Stage1Config 基础阶段训练超参数
type Stage1Config struct {
	LearningRate float64 `mapstructure:"learning_rate"`
	BatchSize    int     `mapstructure:"batch_size"`
	Iters        int     `mapstructure:"iters"`
}

// Stage2Config 专精阶段训练超参数
// 学习率不直接配置, 而是取阶段一学习率乘以缩放系数(从已学权重继续训练需要更小步长)
type Stage2Config struct {
	LearningRateScale float64 `mapstructure:"learning_rate_scale"`
	BatchSize         int     `mapstructure:"batch_size"`
	Iters             int     `mapstructure:"iters"`
}

// TrainerConfig 外部训练引擎配置
type TrainerConfig struct {
	Python         string `mapstructure:"python"`
	Script         string `mapstructure:"script"`
	WorkDir        string `mapstructure:"work_dir"`
	TimeoutMinutes int    `mapstructure:"timeout_minutes"`
}

// GetTimeout 获取训练超时时间
func (t *TrainerConfig) GetTimeout() time.Duration {
	return time.Duration(t.TimeoutMinutes) * time.Minute
}

// EvaluatorConfig 外部评估器配置
type EvaluatorConfig struct {
	Script         string `mapstructure:"script"`
	TimeoutMinutes int    `mapstructure:"timeout_minutes"`
}

// GetTimeout 获取评估超时时间
func (e *EvaluatorConfig) GetTimeout() time.Duration {
	return time.Duration(e.TimeoutMinutes) * time.Minute
}

// DatabaseConfig 运行登记库配置
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// RedisConfig Redis配置(可选, 用于训练槽位限流)
type RedisConfig struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	DB            int    `mapstructure:"db"`
	Password      string `mapstructure:"password"`
	MaxWaitTime   int    `mapstructure:"max_wait_time"`
	MaxConcurrent int    `mapstructure:"max_concurrent"`
}

// GetAddress 获取Redis地址
func (r *RedisConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// GetMaxWaitDuration 获取最大等待时间
func (r *RedisConfig) GetMaxWaitDuration() time.Duration {
	return time.Duration(r.MaxWaitTime) * time.Second
}

// Enabled 是否启用Redis限流
func (r *RedisConfig) Enabled() bool {
	return r.Host != ""
}

// ServerConfig 状态查询API配置(可选, 只读)
type ServerConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	ProductionMode bool   `mapstructure:"production_mode"`
}

// GetAddress 获取服务器地址
func (s *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatasetSource 公共数据集来源
type DatasetSource struct {
	ID          string `mapstructure:"id"`
	Kind        string `mapstructure:"kind"`   // file, http
	Path        string `mapstructure:"path"`   // kind=file 时使用
	URL         string `mapstructure:"url"`    // kind=http 时使用
	Format      string `mapstructure:"format"` // alpaca, prompt_completion
	Required    bool   `mapstructure:"required"`
	MaxExamples int    `mapstructure:"max_examples"` // 0 表示不限制
}

// ScanSource 领域扫描产物来源(输入产物目录下的文件)
type ScanSource struct {
	ID       string `mapstructure:"id"`
	File     string `mapstructure:"file"`
	Tool     string `mapstructure:"tool"`
	Required bool   `mapstructure:"required"`
}

// PublishConfig 模型发布配置
type PublishConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Token   string `mapstructure:"token"`
	Repo    string `mapstructure:"repo"`
}
