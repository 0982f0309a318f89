package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"finetune-go/internal/config"
	"finetune-go/internal/manifest"

	"github.com/sirupsen/logrus"
)

// PublishService 模型发布客户端
// 真正的上传由托管平台侧完成, 这里只提交运行元数据登记发布请求
type PublishService struct {
	client *http.Client
	cfg    config.PublishConfig
	logger *logrus.Logger
}

// NewPublishService 创建发布客户端
func NewPublishService(cfg config.PublishConfig, logger *logrus.Logger) *PublishService {
	return &PublishService{
		client: &http.Client{
			Timeout: 5 * time.Minute,
		},
		cfg:    cfg,
		logger: logger,
	}
}

// Publish 发布一次运行的产物元数据
func (s *PublishService) Publish(ctx context.Context, run *manifest.TrainingRun) error {
	if s.cfg.BaseURL == "" {
		// 未配置发布地址属于可选能力缺席, 记录日志后继续
		s.logger.Infof("[Publish] 未配置发布地址, 跳过发布")
		return nil
	}

	reqBody := map[string]interface{}{
		"run_id":           run.RunID,
		"base_model":       run.BaseModel,
		"pipeline_type":    run.PipelineType,
		"adapter_path":     run.Stage2.AdapterPath,
		"final_model_path": run.FinalModelPath,
		"created_at":       run.CreatedAt,
	}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("序列化发布请求失败: %w", err)
	}

	url := fmt.Sprintf("%s/repos/%s/runs", s.cfg.BaseURL, s.cfg.Repo)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonBody))
	if err != nil {
		return fmt.Errorf("创建发布请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("发布请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("发布失败: HTTP %d: %s", resp.StatusCode, string(body))
	}

	s.logger.Infof("[Publish] 运行 %s 发布成功", run.RunID)
	return nil
}
