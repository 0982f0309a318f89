package config

import (
	"os"
	"path/filepath"
	"testing"

	"finetune-go/internal/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const minimalConfig = `
pipeline:
  base_model: "base-7b"
trainer:
  script: "./scripts/train.py"
evaluator:
  script: "./scripts/evaluate.py"
`

func TestLoadConfigAppliesDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfigFile(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, int64(42), cfg.Pipeline.Seed)
	assert.InDelta(t, 0.15, cfg.Pipeline.ReplayRatio, 1e-9)
	assert.Equal(t, [3]float64{0.8, 0.1, 0.1}, cfg.Pipeline.SplitRatios())
	assert.Equal(t, 8192, cfg.Pipeline.MaxSequenceChars)
	assert.InDelta(t, 0.85, cfg.Pipeline.RetentionWarnThreshold, 1e-9)
	assert.InDelta(t, 1e-5, cfg.Stage1.LearningRate, 1e-12)
	assert.InDelta(t, 0.2, cfg.Stage2.LearningRateScale, 1e-9)
	assert.Equal(t, "python3", cfg.Trainer.Python)
	assert.Equal(t, "./database/runs.db", cfg.Database.Path)
	assert.Equal(t, "127.0.0.1:18090", cfg.Server.GetAddress())
	assert.False(t, cfg.Redis.Enabled())
}

func TestLoadConfigOverrides(t *testing.T) {
	cfg, err := LoadConfig(writeConfigFile(t, `
pipeline:
  base_model: "base-13b"
  seed: 7
  replay_ratio: 0.25
  train_ratio: 0.7
  val_ratio: 0.2
  test_ratio: 0.1
stage2:
  learning_rate_scale: 0.1
trainer:
  script: "./scripts/train.py"
evaluator:
  script: "./scripts/evaluate.py"
redis_service:
  host: "127.0.0.1"
datasets:
  - id: "alpaca_cleaned"
    path: "/data/alpaca.jsonl"
    max_examples: 5000
`))
	require.NoError(t, err)

	assert.Equal(t, int64(7), cfg.Pipeline.Seed)
	assert.InDelta(t, 0.25, cfg.Pipeline.ReplayRatio, 1e-9)
	assert.Equal(t, [3]float64{0.7, 0.2, 0.1}, cfg.Pipeline.SplitRatios())
	assert.InDelta(t, 0.1, cfg.Stage2.LearningRateScale, 1e-9)
	assert.True(t, cfg.Redis.Enabled())
	assert.Equal(t, "127.0.0.1:6379", cfg.Redis.GetAddress())

	require.Len(t, cfg.Datasets, 1)
	// 省略的 kind/format 在校验时归一化为默认值
	assert.Equal(t, "file", cfg.Datasets[0].Kind)
	assert.Equal(t, "alpaca", cfg.Datasets[0].Format)
	assert.Equal(t, 5000, cfg.Datasets[0].MaxExamples)
}

func TestLoadConfigRejectsBadRatios(t *testing.T) {
	_, err := LoadConfig(writeConfigFile(t, `
pipeline:
  base_model: "base-7b"
  train_ratio: 0.8
  val_ratio: 0.3
  test_ratio: 0.1
trainer:
  script: "./scripts/train.py"
evaluator:
  script: "./scripts/evaluate.py"
`))
	var cfgErr *errs.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Error(), "划分比例")
}

func TestLoadConfigRequiresScripts(t *testing.T) {
	_, err := LoadConfig(writeConfigFile(t, `
pipeline:
  base_model: "base-7b"
evaluator:
  script: "./scripts/evaluate.py"
`))
	var cfgErr *errs.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Error(), "trainer.script")
}

func TestLoadConfigRequiresBaseModel(t *testing.T) {
	_, err := LoadConfig(writeConfigFile(t, `
trainer:
  script: "./scripts/train.py"
evaluator:
  script: "./scripts/evaluate.py"
`))
	var cfgErr *errs.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Error(), "base_model")
}

func TestValidateDatasetSource(t *testing.T) {
	err := ValidateDatasetSource(&DatasetSource{ID: "s1", Kind: "http"})
	var cfgErr *errs.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)

	err = ValidateDatasetSource(&DatasetSource{ID: "s1", Path: "/data/x.jsonl", Format: "csv"})
	require.ErrorAs(t, err, &cfgErr)

	src := &DatasetSource{ID: "s1", Path: "/data/x.jsonl"}
	require.NoError(t, ValidateDatasetSource(src))
	assert.Equal(t, "file", src.Kind)
	assert.Equal(t, "alpaca", src.Format)
}

func TestValidateConfigRejectsDuplicateDatasetIDs(t *testing.T) {
	_, err := LoadConfig(writeConfigFile(t, `
pipeline:
  base_model: "base-7b"
trainer:
  script: "./scripts/train.py"
evaluator:
  script: "./scripts/evaluate.py"
datasets:
  - id: "dup"
    path: "/data/a.jsonl"
  - id: "dup"
    path: "/data/b.jsonl"
`))
	var cfgErr *errs.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Error(), "重复")
}
