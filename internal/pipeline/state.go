package pipeline

import "fmt"

// Stage 流水线阶段
// 严格顺序执行, 不允许回跳; 任何一步都可以转入 FAILED, 失败即终止本次运行,
// 没有"降级继续"的路径, 也不自动重试
type Stage string

const (
	StageInit           Stage = "INIT"
	StageStage1Prep     Stage = "STAGE1_PREP"
	StageStage1Train    Stage = "STAGE1_TRAIN"
	StageStage1Eval     Stage = "STAGE1_EVAL"
	StageStage2Prep     Stage = "STAGE2_PREP"
	StageStage2Train    Stage = "STAGE2_TRAIN"
	StageStage2Eval     Stage = "STAGE2_EVAL"
	StageRetentionCheck Stage = "RETENTION_CHECK"
	StageDone           Stage = "DONE"
	StageFailed         Stage = "FAILED"
)

// stageOrder 正常的阶段推进顺序
var stageOrder = []Stage{
	StageInit,
	StageStage1Prep,
	StageStage1Train,
	StageStage1Eval,
	StageStage2Prep,
	StageStage2Train,
	StageStage2Eval,
	StageRetentionCheck,
	StageDone,
}

// Next 返回阶段的正常后继
func Next(s Stage) (Stage, bool) {
	for i, stage := range stageOrder {
		if stage == s && i+1 < len(stageOrder) {
			return stageOrder[i+1], true
		}
	}
	return "", false
}

// IsTerminal 判断阶段是否为终态
func IsTerminal(s Stage) bool {
	return s == StageDone || s == StageFailed
}

// ValidTransition 判断状态迁移是否合法: 只能走向正常后继或 FAILED
func ValidTransition(from, to Stage) bool {
	if IsTerminal(from) {
		return false
	}
	if to == StageFailed {
		return true
	}
	next, ok := Next(from)
	return ok && next == to
}

// Transition 校验并执行一次状态迁移
func Transition(from, to Stage) (Stage, error) {
	if !ValidTransition(from, to) {
		return from, fmt.Errorf("非法的阶段迁移: %s -> %s", from, to)
	}
	return to, nil
}
