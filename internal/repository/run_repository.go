package repository

import (
	"time"

	"finetune-go/internal/models"

	"gorm.io/gorm"
)

// RunRepository 训练运行数据访问层
type RunRepository struct {
	db *gorm.DB
}

// NewRunRepository 创建运行Repository
func NewRunRepository(db *gorm.DB) *RunRepository {
	return &RunRepository{db: db}
}

// Create 登记一次运行
func (r *RunRepository) Create(record *models.TrainingRunRecord) error {
	return r.db.Create(record).Error
}

// GetByRunID 根据运行ID获取记录
func (r *RunRepository) GetByRunID(runID string) (*models.TrainingRunRecord, error) {
	var record models.TrainingRunRecord
	err := r.db.Where("run_id = ?", runID).First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// List 按开始时间倒序列出全部运行
func (r *RunRepository) List() ([]models.TrainingRunRecord, error) {
	var records []models.TrainingRunRecord
	err := r.db.Order("started_at DESC").Find(&records).Error
	return records, err
}

// UpdateStage 更新运行当前所处阶段
func (r *RunRepository) UpdateStage(runID string, stage string) error {
	return r.db.Model(&models.TrainingRunRecord{}).
		Where("run_id = ?", runID).
		Update("current_stage", stage).Error
}

// MarkFinished 标记运行成功结束
func (r *RunRepository) MarkFinished(runID string) error {
	now := time.Now()
	return r.db.Model(&models.TrainingRunRecord{}).
		Where("run_id = ?", runID).
		Updates(map[string]interface{}{
			"status":        "finished",
			"current_stage": "DONE",
			"finished_at":   &now,
		}).Error
}

// MarkFailed 标记运行失败, 记录触发失败的阶段和错误信息
func (r *RunRepository) MarkFailed(runID string, stage string, errMsg string) error {
	now := time.Now()
	return r.db.Model(&models.TrainingRunRecord{}).
		Where("run_id = ?", runID).
		Updates(map[string]interface{}{
			"status":        "failed",
			"current_stage": stage,
			"error_message": errMsg,
			"finished_at":   &now,
		}).Error
}

// EvaluationRepository 评估结果数据访问层
type EvaluationRepository struct {
	db *gorm.DB
}

// NewEvaluationRepository 创建评估Repository
func NewEvaluationRepository(db *gorm.DB) *EvaluationRepository {
	return &EvaluationRepository{db: db}
}

// Create 登记一次评估结果
func (r *EvaluationRepository) Create(record *models.EvaluationRecord) error {
	return r.db.Create(record).Error
}

// GetByKey 按 (run_id, stage, test_set_id) 获取评估结果
func (r *EvaluationRepository) GetByKey(runID, stage, testSetID string) (*models.EvaluationRecord, error) {
	var record models.EvaluationRecord
	err := r.db.Where("run_id = ? AND stage = ? AND test_set_id = ?", runID, stage, testSetID).
		First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// ListByRunID 列出一次运行的全部评估结果
func (r *EvaluationRepository) ListByRunID(runID string) ([]models.EvaluationRecord, error) {
	var records []models.EvaluationRecord
	err := r.db.Where("run_id = ?", runID).Order("created_at ASC").Find(&records).Error
	return records, err
}
