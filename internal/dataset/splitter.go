package dataset

import (
	"math"
	"math/rand"
	"sort"

	"finetune-go/internal/errs"
)

// Split 分层划分样本集
// 按 metadata.source 分组, 每组独立洗牌后按比例向下取整切片,
// 取整产生的余数全部归入训练集; 样本数不足3条的来源允许出现空的val/test切片。
// 返回前三个分区再各自独立洗牌, 下游永远看不到按来源分组的顺序。
func Split(rng *rand.Rand, pairs []TrainingPair, ratios [3]float64) (train, val, test []TrainingPair, err error) {
	sum := ratios[0] + ratios[1] + ratios[2]
	if math.Abs(sum-1.0) > 1e-9 {
		return nil, nil, nil, errs.NewConfigurationError("划分比例之和必须等于1.0, 实际为 %.4f", sum)
	}

	// 按来源分组
	groups := make(map[string][]TrainingPair)
	for i := range pairs {
		src := pairs[i].Metadata.Source
		groups[src] = append(groups[src], pairs[i])
	}

	// 按来源ID排序遍历, 保证固定种子下划分结果可复现
	ids := make([]string, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		group := groups[id]
		rng.Shuffle(len(group), func(i, j int) {
			group[i], group[j] = group[j], group[i]
		})

		n := len(group)
		valCount := int(math.Floor(float64(n) * ratios[1]))
		testCount := int(math.Floor(float64(n) * ratios[2]))
		trainCount := n - valCount - testCount // 余数归入训练集

		train = append(train, group[:trainCount]...)
		val = append(val, group[trainCount:trainCount+valCount]...)
		test = append(test, group[trainCount+valCount:]...)
	}

	for _, part := range [][]TrainingPair{train, val, test} {
		p := part
		rng.Shuffle(len(p), func(i, j int) {
			p[i], p[j] = p[j], p[i]
		})
	}
	return train, val, test, nil
}
