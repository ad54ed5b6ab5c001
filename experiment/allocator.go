package experiment

import (
	"math/rand/v2"

	"github.com/BaSui01/expflow/store"
	"github.com/BaSui01/expflow/types"
)

// Allocator 自适应流量分配器
// 按历史转化表现调节配置权重后做加权随机抽取,是 bandit 关闭或
// 选不出结果时的回退路径.
type Allocator struct {
	rng func() float64
}

// NewAllocator 创建分配器,rng 为 nil 时使用默认随机源
func NewAllocator(rng func() float64) *Allocator {
	if rng == nil {
		rng = rand.Float64
	}
	return &Allocator{rng: rng}
}

// Select 以有效权重做加权随机抽取
// 有效权重 = 配置权重 * 表现乘数;乘数 = 0.5 + 0.5*(rate/avgRate),
// 无历史数据的变体与 avgRate == 0 的实验一律取乘数 1.0,规避除零.
// 总权重不为正时返回 nil,由调用方走确定性兜底.
func (a *Allocator) Select(exp *types.Experiment, counts store.Counts) *types.Variant {
	if len(exp.Variants) == 0 {
		return nil
	}

	avgRate := averageRate(exp, counts)

	weights := make([]float64, len(exp.Variants))
	var totalWeight float64
	for i := range exp.Variants {
		v := &exp.Variants[i]
		multiplier := 1.0
		vc := counts[v.Name]
		if vc.Assignments > 0 && avgRate > 0 {
			multiplier = 0.5 + 0.5*(vc.Rate()/avgRate)
		}
		weights[i] = v.EffectiveWeight() * multiplier
		totalWeight += weights[i]
	}
	if totalWeight <= 0 {
		return nil
	}

	threshold := a.rng() * totalWeight
	var cumulative float64
	for i := range exp.Variants {
		cumulative += weights[i]
		if threshold < cumulative {
			return &exp.Variants[i]
		}
	}
	return &exp.Variants[len(exp.Variants)-1]
}

// averageRate 有历史数据变体的平均转化率
func averageRate(exp *types.Experiment, counts store.Counts) float64 {
	var sum float64
	var n int
	for i := range exp.Variants {
		vc := counts[exp.Variants[i].Name]
		if vc.Assignments > 0 {
			sum += vc.Rate()
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
