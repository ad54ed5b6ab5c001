package experiment

import (
	"math"
	"math/rand/v2"

	"github.com/BaSui01/expflow/store"
	"github.com/BaSui01/expflow/types"
)

// banditMinSamples 低于该样本量时不确定项取满值 1.0,强制探索
const banditMinSamples = 10

// Bandit 伪 Thompson 采样选择器
// 以点估计线性叠加缩放随机量近似 Beta 采样,并非真实的 Beta 分布抽样;
// 行为保持与既有产品一致,真正的 Beta 采样是已知的后续改进方向.
type Bandit struct {
	rng func() float64
}

// NewBandit 创建选择器,rng 为 nil 时使用默认随机源
func NewBandit(rng func() float64) *Bandit {
	if rng == nil {
		rng = rand.Float64
	}
	return &Bandit{rng: rng}
}

// Select 为每个变体计算伪 Beta 得分并取最大者
// 得分 = alpha/(alpha+beta) + random()*u,其中
// alpha = r*100+1, beta = (1-r)*100+1,
// u = 1.0 (样本 < 10) 或 1/sqrt(assignments).
func (b *Bandit) Select(exp *types.Experiment, counts store.Counts) *types.Variant {
	if len(exp.Variants) == 0 {
		return nil
	}

	var best *types.Variant
	bestScore := math.Inf(-1)
	for i := range exp.Variants {
		v := &exp.Variants[i]
		vc := counts[v.Name]

		r := vc.Rate()
		u := 1.0
		if vc.Assignments >= banditMinSamples {
			u = 1.0 / math.Sqrt(float64(vc.Assignments))
		}

		alpha := r*100 + 1
		beta := (1-r)*100 + 1
		score := alpha/(alpha+beta) + b.rng()*u

		if score > bestScore {
			bestScore = score
			best = v
		}
	}
	return best
}
