package dataset

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makePairs(source string, n int) []TrainingPair {
	pairs := make([]TrainingPair, 0, n)
	for i := 0; i < n; i++ {
		pairs = append(pairs, TrainingPair{
			Instruction: "instruction",
			Output:      "output",
			Metadata:    PairMetadata{Source: source},
		})
	}
	return pairs
}

func TestSplitSingleSourceRemainderGoesToTrain(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	pairs := makePairs("src_a", 10)

	train, val, test, err := Split(rng, pairs, [3]float64{0.8, 0.1, 0.1})
	require.NoError(t, err)

	assert.Len(t, train, 8)
	assert.Len(t, val, 1)
	assert.Len(t, test, 1)
}

func TestSplitPreservesSourceProportions(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	var pairs []TrainingPair
	pairs = append(pairs, makePairs("src_a", 100)...)
	pairs = append(pairs, makePairs("src_b", 50)...)
	pairs = append(pairs, makePairs("src_c", 30)...)

	ratios := [3]float64{0.7, 0.15, 0.15}
	train, val, test, err := Split(rng, pairs, ratios)
	require.NoError(t, err)

	assert.Equal(t, 180, len(train)+len(val)+len(test))

	countBySource := func(part []TrainingPair) map[string]int {
		counts := make(map[string]int)
		for i := range part {
			counts[part[i].Metadata.Source]++
		}
		return counts
	}

	// 每个来源在各分区中的占比与整体比例的偏差在取整容差之内
	for src, total := range map[string]int{"src_a": 100, "src_b": 50, "src_c": 30} {
		valCount := countBySource(val)[src]
		testCount := countBySource(test)[src]
		assert.Equal(t, int(math.Floor(float64(total)*ratios[1])), valCount, "val slice for %s", src)
		assert.Equal(t, int(math.Floor(float64(total)*ratios[2])), testCount, "test slice for %s", src)
		trainCount := countBySource(train)[src]
		assert.Equal(t, total-valCount-testCount, trainCount, "train slice for %s", src)
	}
}

func TestSplitTinySourceMayYieldEmptySlices(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	pairs := makePairs("tiny", 2)

	train, val, test, err := Split(rng, pairs, [3]float64{0.8, 0.1, 0.1})
	require.NoError(t, err)

	// 样本不足3条的来源允许出现空的val/test切片, 这不是错误
	assert.Len(t, train, 2)
	assert.Empty(t, val)
	assert.Empty(t, test)
}

func TestSplitRejectsRatiosNotSummingToOne(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	pairs := makePairs("src_a", 10)

	_, _, _, err := Split(rng, pairs, [3]float64{0.8, 0.1, 0.2})
	assert.Error(t, err)
}

func TestSplitDeterministicWithFixedSeed(t *testing.T) {
	var pairs []TrainingPair
	pairs = append(pairs, makePairs("src_a", 40)...)
	pairs = append(pairs, makePairs("src_b", 20)...)
	for i := range pairs {
		pairs[i].Input = string(rune('a' + i%26))
	}

	train1, val1, test1, err := Split(rand.New(rand.NewSource(7)), pairs, [3]float64{0.8, 0.1, 0.1})
	require.NoError(t, err)
	train2, val2, test2, err := Split(rand.New(rand.NewSource(7)), pairs, [3]float64{0.8, 0.1, 0.1})
	require.NoError(t, err)

	assert.Equal(t, train1, train2)
	assert.Equal(t, val1, val2)
	assert.Equal(t, test1, test2)
}
