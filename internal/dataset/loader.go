package dataset

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"finetune-go/internal/config"
	"finetune-go/internal/errs"

	"github.com/sirupsen/logrus"
)

// Loader 公共数据集加载器
// 支持大文件的流式读取, 重复调用会重新从来源读取而不是读缓存
type Loader struct {
	client *http.Client
	logger *logrus.Logger
}

// NewLoader 创建数据集加载器
func NewLoader(logger *logrus.Logger) *Loader {
	return &Loader{
		client: &http.Client{
			Timeout: 10 * time.Minute,
		},
		logger: logger,
	}
}

// LoadSource 加载单个数据集来源
// 来源不可用时: 可选来源返回空集并记录日志, 必需来源立即失败
func (l *Loader) LoadSource(ctx context.Context, src config.DatasetSource) ([]TrainingPair, error) {
	reader, closer, err := l.openSource(ctx, src)
	if err != nil {
		if !src.Required {
			l.logger.Infof("[DatasetLoader] 可选来源 %s 不可用, 按空集处理: %v", src.ID, err)
			return []TrainingPair{}, nil
		}
		return nil, err
	}
	defer closer.Close()

	pairs, err := l.scanRecords(reader, src)
	if err != nil {
		// 来源存在但内容损坏, 无论是否可选都是致命错误
		return nil, err
	}

	l.logger.Infof("[DatasetLoader] 来源 %s 加载完成, 共 %d 条样本", src.ID, len(pairs))
	return pairs, nil
}

// openSource 打开来源的读取流
func (l *Loader) openSource(ctx context.Context, src config.DatasetSource) (io.Reader, io.Closer, error) {
	switch src.Kind {
	case "http":
		req, err := http.NewRequestWithContext(ctx, "GET", src.URL, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("创建请求失败: %w", err)
		}
		resp, err := l.client.Do(req)
		if err != nil {
			return nil, nil, fmt.Errorf("拉取数据集 %s 失败: %w", src.ID, err)
		}
		if resp.StatusCode == http.StatusNotFound {
			resp.Body.Close()
			return nil, nil, &errs.MissingArtifactError{Stage: "dataset_load", Path: src.URL}
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, nil, fmt.Errorf("拉取数据集 %s 失败: HTTP %d", src.ID, resp.StatusCode)
		}
		return resp.Body, resp.Body, nil
	default:
		f, err := os.Open(src.Path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, nil, &errs.MissingArtifactError{Stage: "dataset_load", Path: src.Path}
			}
			return nil, nil, fmt.Errorf("打开数据集 %s 失败: %w", src.ID, err)
		}
		return f, f, nil
	}
}

// scanRecords 逐行流式解析, 截断时按来源顺序取前N条并记录日志
func (l *Loader) scanRecords(r io.Reader, src config.DatasetSource) ([]TrainingPair, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var pairs []TrainingPair
	lineNo := 0
	truncated := false
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		pair, err := parseRecord(line, src.Format)
		if err != nil {
			return nil, &errs.CorruptedArtifactError{
				Stage: "dataset_load",
				Path:  sourceLocation(src),
				Err:   fmt.Errorf("第 %d 行: %w", lineNo, err),
			}
		}
		pair.Metadata.Source = src.ID
		pairs = append(pairs, pair)

		if src.MaxExamples > 0 && len(pairs) >= src.MaxExamples {
			truncated = true
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &errs.CorruptedArtifactError{
			Stage: "dataset_load",
			Path:  sourceLocation(src),
			Err:   err,
		}
	}
	if truncated {
		l.logger.Infof("[DatasetLoader] 来源 %s 超过上限, 已按来源顺序截断为前 %d 条", src.ID, src.MaxExamples)
	}
	return pairs, nil
}

// parseRecord 按来源格式解析一条记录
func parseRecord(line []byte, format string) (TrainingPair, error) {
	switch format {
	case "prompt_completion":
		var rec struct {
			Prompt     string `json:"prompt"`
			Completion string `json:"completion"`
		}
		if err := json.Unmarshal(line, &rec); err != nil {
			return TrainingPair{}, fmt.Errorf("解析失败: %w", err)
		}
		if rec.Prompt == "" || rec.Completion == "" {
			return TrainingPair{}, fmt.Errorf("prompt/completion 字段不能为空")
		}
		return TrainingPair{
			Instruction: rec.Prompt,
			Output:      rec.Completion,
		}, nil
	default: // alpaca
		var rec struct {
			Instruction string `json:"instruction"`
			Input       string `json:"input"`
			Output      string `json:"output"`
		}
		if err := json.Unmarshal(line, &rec); err != nil {
			return TrainingPair{}, fmt.Errorf("解析失败: %w", err)
		}
		if rec.Instruction == "" || rec.Output == "" {
			return TrainingPair{}, fmt.Errorf("instruction/output 字段不能为空")
		}
		return TrainingPair{
			Instruction: rec.Instruction,
			Input:       rec.Input,
			Output:      rec.Output,
		}, nil
	}
}

func sourceLocation(src config.DatasetSource) string {
	if src.Kind == "http" {
		return src.URL
	}
	return src.Path
}

// LoadAll 并发加载多个来源
// 各来源之间没有共享可变状态, 结果按来源ID确定性归并, 保证固定种子下可复现
func (l *Loader) LoadAll(ctx context.Context, sources []config.DatasetSource) (map[string][]TrainingPair, error) {
	groups := make(map[string][]TrainingPair, len(sources))
	var mu sync.Mutex
	var wg sync.WaitGroup
	var firstErr error

	for i := range sources {
		src := sources[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			pairs, err := l.LoadSource(ctx, src)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			groups[src.ID] = pairs
		}()
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return groups, nil
}

// Combine 归并多个来源并整体打乱
// 先按来源ID排序再拼接, 然后完整洗牌, 避免模型过拟合来源顺序
func Combine(rng *rand.Rand, groups map[string][]TrainingPair) []TrainingPair {
	ids := make([]string, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var combined []TrainingPair
	for _, id := range ids {
		combined = append(combined, groups[id]...)
	}

	rng.Shuffle(len(combined), func(i, j int) {
		combined[i], combined[j] = combined[j], combined[i]
	})
	return combined
}

// FilterByLength 长度预算过滤, 在归并之后执行
// 返回保留的样本和被过滤的数量
func FilterByLength(pairs []TrainingPair, maxChars int) ([]TrainingPair, int) {
	if maxChars <= 0 {
		return pairs, 0
	}
	kept := make([]TrainingPair, 0, len(pairs))
	for i := range pairs {
		if pairs[i].SerializedLen() <= maxChars {
			kept = append(kept, pairs[i])
		}
	}
	return kept, len(pairs) - len(kept)
}
