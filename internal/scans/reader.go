package scans

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"finetune-go/internal/config"
	"finetune-go/internal/errs"
	"finetune-go/internal/utils"

	"github.com/sirupsen/logrus"
)

// VulnerabilityRecord 一条结构化漏洞记录(由外部扫描解析器产出, 这里只消费)
type VulnerabilityRecord struct {
	ID          string `json:"id" validate:"required"`
	Tool        string `json:"tool" validate:"required"`
	Severity    string `json:"severity" validate:"required,severity"`
	Category    string `json:"category"`
	Description string `json:"description" validate:"required"`
	Remediation string `json:"remediation"`
	FilePath    string `json:"file_path"`
}

// Reader 扫描产物读取器
// 严格执行两分法: 可选扫描没跑过 => 空结果+日志;
// 文件存在但解析/校验失败, 或必需文件缺失 => 立即失败
type Reader struct {
	artifactsDir string
	logger       *logrus.Logger
}

// NewReader 创建扫描产物读取器
func NewReader(artifactsDir string, logger *logrus.Logger) *Reader {
	return &Reader{artifactsDir: artifactsDir, logger: logger}
}

// ReadScan 读取单个扫描产物文件
func (r *Reader) ReadScan(src config.ScanSource) ([]VulnerabilityRecord, error) {
	path := filepath.Join(r.artifactsDir, src.File)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if !src.Required {
				r.logger.Infof("[ScanReader] 可选扫描 %s 未产出(%s), 按空集处理", src.ID, path)
				return []VulnerabilityRecord{}, nil
			}
			return nil, &errs.MissingArtifactError{Stage: "stage2_prep", Path: path}
		}
		return nil, fmt.Errorf("读取扫描产物 %s 失败: %w", src.ID, err)
	}

	var records []VulnerabilityRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, &errs.CorruptedArtifactError{Stage: "stage2_prep", Path: path, Err: err}
	}

	for i := range records {
		if err := utils.ValidateStruct(&records[i]); err != nil {
			return nil, &errs.CorruptedArtifactError{
				Stage: "stage2_prep",
				Path:  path,
				Err:   fmt.Errorf("第 %d 条记录: %w", i+1, err),
			}
		}
	}

	r.logger.Infof("[ScanReader] 扫描 %s 读取完成, 共 %d 条记录", src.ID, len(records))
	return records, nil
}

// ReadAll 读取全部扫描产物
func (r *Reader) ReadAll(sources []config.ScanSource) ([]VulnerabilityRecord, error) {
	var all []VulnerabilityRecord
	for _, src := range sources {
		records, err := r.ReadScan(src)
		if err != nil {
			return nil, err
		}
		all = append(all, records...)
	}
	return all, nil
}
