package scans

import (
	"fmt"
	"strings"

	"finetune-go/internal/dataset"
)

const analysisInstruction = "You are a security engineer reviewing findings from an automated vulnerability scan. Analyze the finding and provide a concrete remediation plan."

// severityTier 严重级别到质量档位的映射
func severityTier(severity string) string {
	switch strings.ToLower(severity) {
	case "critical", "high":
		return "high"
	case "medium":
		return "standard"
	default:
		return "basic"
	}
}

// BuildPairs 把漏洞记录转换成指令/响应训练样本
// 记录本身不可变, 这里只产出新集合
func BuildPairs(records []VulnerabilityRecord) []dataset.TrainingPair {
	pairs := make([]dataset.TrainingPair, 0, len(records))
	for i := range records {
		rec := &records[i]

		var input strings.Builder
		fmt.Fprintf(&input, "Finding ID: %s\n", rec.ID)
		fmt.Fprintf(&input, "Tool: %s\n", rec.Tool)
		fmt.Fprintf(&input, "Severity: %s\n", rec.Severity)
		if rec.FilePath != "" {
			fmt.Fprintf(&input, "Location: %s\n", rec.FilePath)
		}
		fmt.Fprintf(&input, "Description: %s", rec.Description)

		output := rec.Remediation
		if output == "" {
			// 解析器没有给出修复建议时, 退回到基于描述的分析式回答
			output = fmt.Sprintf("Assessment: this is a %s severity finding reported by %s. %s",
				strings.ToLower(rec.Severity), rec.Tool, rec.Description)
		}

		category := rec.Category
		if category == "" {
			category = rec.Tool
		}

		pairs = append(pairs, dataset.TrainingPair{
			Instruction: analysisInstruction,
			Input:       input.String(),
			Output:      output,
			Metadata: dataset.PairMetadata{
				Source:      "scan:" + rec.Tool,
				QualityTier: severityTier(rec.Severity),
				Category:    category,
			},
		})
	}
	return pairs
}
