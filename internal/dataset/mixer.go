package dataset

import (
	"math"
	"math/rand"

	"finetune-go/internal/errs"
)

// Mix 把基础阶段样本按比例混入专精阶段数据集
//
// 只在窄领域数据上继续训练会显著削弱模型在基础分布上的表现(灾难性遗忘),
// 混入一定比例的基础阶段样本可以维持目标保持率。
// 回放数量 = floor(len(domainPairs) * ratio), 以专精集大小为基数而不是基础集大小;
// 从 foundationPairs 中不放回抽样, 数量不足时立即失败而不是悄悄封顶。
func Mix(rng *rand.Rand, domainPairs, foundationPairs []TrainingPair, ratio float64) ([]TrainingPair, error) {
	if ratio < 0 || ratio > 1 {
		return nil, errs.NewConfigurationError("回放比例必须在 [0,1] 之间, 实际为 %.4f", ratio)
	}

	replayCount := int(math.Floor(float64(len(domainPairs)) * ratio))
	if replayCount > len(foundationPairs) {
		return nil, errs.NewConfigurationError(
			"基础阶段样本不足以抽取回放样本: 需要 %d 条, 只有 %d 条", replayCount, len(foundationPairs))
	}

	// 不放回抽样: 洗牌索引后取前 replayCount 个
	indexes := rng.Perm(len(foundationPairs))[:replayCount]

	mixed := make([]TrainingPair, 0, len(domainPairs)+replayCount)
	mixed = append(mixed, domainPairs...)
	for _, idx := range indexes {
		mixed = append(mixed, foundationPairs[idx].WithReplay())
	}

	rng.Shuffle(len(mixed), func(i, j int) {
		mixed[i], mixed[j] = mixed[j], mixed[i]
	})
	return mixed, nil
}
