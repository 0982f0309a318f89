package config

import (
	"fmt"
	"math"

	"finetune-go/internal/errs"

	"github.com/spf13/viper"
)

// LoadConfig 加载配置文件
func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()

	// 设置配置文件路径
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		// 默认查找 config.yaml
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// 读取环境变量
	v.AutomaticEnv()

	// 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	// 解析配置
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	// 设置默认值
	setDefaults(&cfg)

	// 验证配置
	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults 设置默认值
func setDefaults(cfg *Config) {
	if cfg.Pipeline.Seed == 0 {
		cfg.Pipeline.Seed = 42
	}
	if cfg.Pipeline.ReplayRatio == 0 {
		cfg.Pipeline.ReplayRatio = 0.15
	}
	if cfg.Pipeline.TrainRatio == 0 && cfg.Pipeline.ValRatio == 0 && cfg.Pipeline.TestRatio == 0 {
		cfg.Pipeline.TrainRatio = 0.8
		cfg.Pipeline.ValRatio = 0.1
		cfg.Pipeline.TestRatio = 0.1
	}
	if cfg.Pipeline.MaxSequenceChars == 0 {
		cfg.Pipeline.MaxSequenceChars = 8192
	}
	if cfg.Pipeline.RetentionWarnThreshold == 0 {
		cfg.Pipeline.RetentionWarnThreshold = 0.85
	}
	if cfg.Pipeline.SimilarityCutoff == 0 {
		cfg.Pipeline.SimilarityCutoff = 0.85
	}
	if cfg.Stage1.LearningRate == 0 {
		cfg.Stage1.LearningRate = 1e-5
	}
	if cfg.Stage1.BatchSize == 0 {
		cfg.Stage1.BatchSize = 4
	}
	if cfg.Stage1.Iters == 0 {
		cfg.Stage1.Iters = 1000
	}
	if cfg.Stage2.LearningRateScale == 0 {
		cfg.Stage2.LearningRateScale = 0.2
	}
	if cfg.Stage2.BatchSize == 0 {
		cfg.Stage2.BatchSize = 4
	}
	if cfg.Stage2.Iters == 0 {
		cfg.Stage2.Iters = 500
	}
	if cfg.Trainer.Python == "" {
		cfg.Trainer.Python = "python3"
	}
	if cfg.Trainer.TimeoutMinutes == 0 {
		cfg.Trainer.TimeoutMinutes = 240
	}
	if cfg.Evaluator.TimeoutMinutes == 0 {
		cfg.Evaluator.TimeoutMinutes = 60
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./database/runs.db"
	}
	// Redis Host 必须从配置文件读取, 不设置硬编码默认值
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Redis.MaxConcurrent == 0 {
		cfg.Redis.MaxConcurrent = 1
	}
	if cfg.Redis.MaxWaitTime == 0 {
		cfg.Redis.MaxWaitTime = 1800
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 18090
	}
}

// ValidateConfig 验证配置, 任何阶段执行前暴露配置问题
func ValidateConfig(cfg *Config) error {
	ratioSum := cfg.Pipeline.TrainRatio + cfg.Pipeline.ValRatio + cfg.Pipeline.TestRatio
	if math.Abs(ratioSum-1.0) > 1e-9 {
		return errs.NewConfigurationError("划分比例之和必须等于1.0, 实际为 %.4f", ratioSum)
	}
	if cfg.Pipeline.ReplayRatio < 0 || cfg.Pipeline.ReplayRatio > 1 {
		return errs.NewConfigurationError("回放比例必须在 [0,1] 之间, 实际为 %.4f", cfg.Pipeline.ReplayRatio)
	}
	if cfg.Stage2.LearningRateScale <= 0 || cfg.Stage2.LearningRateScale > 1 {
		return errs.NewConfigurationError("阶段二学习率缩放系数必须在 (0,1] 之间, 实际为 %.4f", cfg.Stage2.LearningRateScale)
	}
	if cfg.Trainer.Script == "" {
		return errs.NewConfigurationError("必须配置训练引擎脚本路径 trainer.script")
	}
	if cfg.Evaluator.Script == "" {
		return errs.NewConfigurationError("必须配置评估器脚本路径 evaluator.script")
	}
	if cfg.Pipeline.BaseModel == "" {
		return errs.NewConfigurationError("必须配置基座模型 pipeline.base_model")
	}
	seen := make(map[string]bool)
	for i := range cfg.Datasets {
		src := &cfg.Datasets[i]
		if err := ValidateDatasetSource(src); err != nil {
			return err
		}
		if seen[src.ID] {
			return errs.NewConfigurationError("数据集来源ID重复: %s", src.ID)
		}
		seen[src.ID] = true
	}
	for i := range cfg.Scans {
		s := &cfg.Scans[i]
		if s.ID == "" || s.File == "" {
			return errs.NewConfigurationError("扫描来源必须同时指定 id 和 file (第 %d 项)", i+1)
		}
	}
	return nil
}

// ValidateDatasetSource 验证单个数据集来源
func ValidateDatasetSource(src *DatasetSource) error {
	if src.ID == "" {
		return errs.NewConfigurationError("数据集来源缺少 id")
	}
	switch src.Kind {
	case "", "file":
		src.Kind = "file"
		if src.Path == "" {
			return errs.NewConfigurationError("文件数据集来源 %s 缺少 path", src.ID)
		}
	case "http":
		if src.URL == "" {
			return errs.NewConfigurationError("HTTP数据集来源 %s 缺少 url", src.ID)
		}
	default:
		return errs.NewConfigurationError("数据集来源 %s 的 kind 不合法: %s", src.ID, src.Kind)
	}
	switch src.Format {
	case "":
		src.Format = "alpaca"
	case "alpaca", "prompt_completion":
	default:
		return errs.NewConfigurationError("数据集来源 %s 的 format 不合法: %s", src.ID, src.Format)
	}
	if src.MaxExamples < 0 {
		return errs.NewConfigurationError("数据集来源 %s 的 max_examples 不能为负数", src.ID)
	}
	return nil
}
