package models

import "time"

// TrainingRunRecord 训练运行登记记录
// 清单文件是路径契约的权威来源, 这里只登记运行的索引信息供查询
type TrainingRunRecord struct {
	ID           uint       `gorm:"primarykey" json:"id"`
	RunID        string     `gorm:"uniqueIndex;size:100;not null" json:"run_id"`
	BaseModel    string     `gorm:"size:200" json:"base_model"`
	Status       string     `gorm:"size:20;default:'running'" json:"status"` // running, finished, failed
	CurrentStage string     `gorm:"size:40" json:"current_stage"`
	RunDir       string     `gorm:"size:500" json:"run_dir"`
	ErrorMessage string     `gorm:"type:text" json:"error_message"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at"`
}

// TableName 指定表名
func (TrainingRunRecord) TableName() string {
	return "training_runs"
}

// EvaluationRecord 评估结果登记记录, 以 (run_id, stage, test_set_id) 为键
type EvaluationRecord struct {
	ID              uint      `gorm:"primarykey" json:"id"`
	RunID           string    `gorm:"size:100;not null;uniqueIndex:idx_run_stage_test" json:"run_id"`
	Stage           string    `gorm:"size:40;not null;uniqueIndex:idx_run_stage_test" json:"stage"`
	TestSetID       string    `gorm:"size:100;not null;uniqueIndex:idx_run_stage_test" json:"test_set_id"`
	ExactMatchRate  float64   `json:"exact_match_rate"`
	SimilarityScore float64   `json:"similarity_score"`
	RetentionRate   *float64  `json:"retention_rate,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// TableName 指定表名
func (EvaluationRecord) TableName() string {
	return "evaluations"
}
