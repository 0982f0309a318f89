package dataset

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// WriteJSONL 把样本集写成JSONL文件
// 目录按需创建: 清单契约只固定路径, 目录由第一个写入该路径的阶段负责创建
func WriteJSONL(path string, pairs []TrainingPair) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("创建数据目录失败: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("创建数据文件失败: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for i := range pairs {
		data, err := json.Marshal(&pairs[i])
		if err != nil {
			return fmt.Errorf("序列化样本失败: %w", err)
		}
		if _, err := w.Write(data); err != nil {
			return fmt.Errorf("写入数据文件失败: %w", err)
		}
		if err := w.WriteByte('\n'); err != nil {
			return fmt.Errorf("写入数据文件失败: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("写入数据文件失败: %w", err)
	}
	return nil
}

// ReadJSONL 读取JSONL样本文件
func ReadJSONL(path string) ([]TrainingPair, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var pairs []TrainingPair
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var p TrainingPair
		if err := json.Unmarshal(line, &p); err != nil {
			return nil, fmt.Errorf("解析第 %d 行失败: %w", lineNo, err)
		}
		pairs = append(pairs, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("读取文件失败: %w", err)
	}
	return pairs, nil
}
