package dataset

// TrainingPair 一条监督训练样本
// 构造之后不再修改, 只允许过滤或拷贝进新集合
type TrainingPair struct {
	Instruction string       `json:"instruction"`
	Input       string       `json:"input"`
	Output      string       `json:"output"`
	Metadata    PairMetadata `json:"metadata"`
}

// PairMetadata 样本元数据
type PairMetadata struct {
	Source      string `json:"source"`
	QualityTier string `json:"quality_tier,omitempty"`
	Category    string `json:"category,omitempty"`
	IsReplay    bool   `json:"is_replay,omitempty"`
}

// SerializedLen 样本序列化后的近似长度(rune数), 用于长度预算过滤
func (p *TrainingPair) SerializedLen() int {
	return len([]rune(p.Instruction)) + len([]rune(p.Input)) + len([]rune(p.Output))
}

// WithReplay 返回打上回放标记的副本, 原样本保持不变
func (p TrainingPair) WithReplay() TrainingPair {
	p.Metadata.IsReplay = true
	return p
}
