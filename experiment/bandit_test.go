package experiment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/expflow/store"
	"github.com/BaSui01/expflow/types"
)

func twoVariantExperiment() *types.Experiment {
	return &types.Experiment{
		Name:           "bandit_test",
		Status:         types.StatusRunning,
		TrafficPercent: 100,
		Goals:          []string{"purchase"},
		Variants: []types.Variant{
			{Name: "control", Weight: 1, IsControl: true},
			{Name: "treatment", Weight: 1},
		},
	}
}

func TestBanditPrefersHigherConversionRate(t *testing.T) {
	// 固定随机源归零后得分退化为纯点估计,高转化率必胜
	b := NewBandit(func() float64 { return 0 })
	exp := twoVariantExperiment()

	counts := store.Counts{
		"control":   {Assignments: 1000, Conversions: map[string]int64{"purchase": 100}},
		"treatment": {Assignments: 1000, Conversions: map[string]int64{"purchase": 300}},
	}

	v := b.Select(exp, counts)
	require.NotNil(t, v)
	assert.Equal(t, "treatment", v.Name)
}

func TestBanditExploresUndersampledVariants(t *testing.T) {
	// 样本不足 10 时不确定项取满值:随机量足以翻盘
	b := NewBandit(func() float64 { return 1 })
	exp := twoVariantExperiment()

	counts := store.Counts{
		"control":   {Assignments: 10000, Conversions: map[string]int64{"purchase": 9000}},
		"treatment": {Assignments: 2},
	}

	v := b.Select(exp, counts)
	require.NotNil(t, v)
	assert.Equal(t, "treatment", v.Name,
		"full uncertainty on an undersampled variant outweighs a settled winner")
}

func TestBanditUncertaintyShrinksWithSamples(t *testing.T) {
	exp := twoVariantExperiment()
	// 两个变体转化率相同,随机源恒为 1:样本多的一侧不确定项更小,
	// 样本少的一侧必然胜出.
	b := NewBandit(func() float64 { return 1 })

	counts := store.Counts{
		"control":   {Assignments: 10000, Conversions: map[string]int64{"purchase": 1000}},
		"treatment": {Assignments: 100, Conversions: map[string]int64{"purchase": 10}},
	}

	v := b.Select(exp, counts)
	require.NotNil(t, v)
	assert.Equal(t, "treatment", v.Name)
}

func TestBanditEmptyExperiment(t *testing.T) {
	b := NewBandit(nil)
	assert.Nil(t, b.Select(&types.Experiment{Name: "empty"}, store.Counts{}))
}

func TestBanditNoHistoryStillSelects(t *testing.T) {
	b := NewBandit(nil)
	v := b.Select(twoVariantExperiment(), store.Counts{})
	require.NotNil(t, v)
}
