package experiment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/expflow/store"
	"github.com/BaSui01/expflow/types"
)

func TestAllocatorNoHistoryFollowsConfiguredWeights(t *testing.T) {
	exp := &types.Experiment{
		Name: "alloc_test",
		Variants: []types.Variant{
			{Name: "control", Weight: 3, IsControl: true},
			{Name: "treatment", Weight: 1},
		},
	}

	// 无历史数据时乘数全为 1:阈值落在 [0, 3) 选 control,[3, 4) 选 treatment
	a := NewAllocator(func() float64 { return 0.5 }) // threshold = 2.0
	v := a.Select(exp, store.Counts{})
	require.NotNil(t, v)
	assert.Equal(t, "control", v.Name)

	a = NewAllocator(func() float64 { return 0.9 }) // threshold = 3.6
	v = a.Select(exp, store.Counts{})
	require.NotNil(t, v)
	assert.Equal(t, "treatment", v.Name)
}

func TestAllocatorBoostsOutperformingVariant(t *testing.T) {
	exp := &types.Experiment{
		Name: "alloc_test",
		Variants: []types.Variant{
			{Name: "control", Weight: 1, IsControl: true},
			{Name: "treatment", Weight: 1},
		},
	}
	counts := store.Counts{
		"control":   {Assignments: 1000, Conversions: map[string]int64{"purchase": 100}}, // rate 0.1
		"treatment": {Assignments: 1000, Conversions: map[string]int64{"purchase": 300}}, // rate 0.3
	}

	// avgRate = 0.2;乘数 control = 0.75, treatment = 1.25;总权重 2.0
	// threshold = 0.8 落在 control 区间 [0, 0.75) 之外 → treatment
	a := NewAllocator(func() float64 { return 0.4 })
	v := a.Select(exp, counts)
	require.NotNil(t, v)
	assert.Equal(t, "treatment", v.Name)

	a = NewAllocator(func() float64 { return 0.3 }) // threshold = 0.6 → control
	v = a.Select(exp, counts)
	require.NotNil(t, v)
	assert.Equal(t, "control", v.Name)
}

func TestAllocatorZeroAverageRateNeutralMultipliers(t *testing.T) {
	exp := &types.Experiment{
		Name: "alloc_test",
		Variants: []types.Variant{
			{Name: "control", Weight: 1, IsControl: true},
			{Name: "treatment", Weight: 1},
		},
	}
	// 有分配但零转化:avgRate == 0,乘数一律 1.0,不得除零
	counts := store.Counts{
		"control":   {Assignments: 500},
		"treatment": {Assignments: 500},
	}

	a := NewAllocator(func() float64 { return 0.25 }) // threshold = 0.5 → control
	v := a.Select(exp, counts)
	require.NotNil(t, v)
	assert.Equal(t, "control", v.Name)
}

func TestAllocatorEmptyExperiment(t *testing.T) {
	a := NewAllocator(nil)
	assert.Nil(t, a.Select(&types.Experiment{Name: "empty"}, store.Counts{}))
}

func TestAverageRateSkipsVariantsWithoutData(t *testing.T) {
	exp := &types.Experiment{
		Name: "alloc_test",
		Variants: []types.Variant{
			{Name: "control", Weight: 1, IsControl: true},
			{Name: "treatment", Weight: 1},
			{Name: "fresh", Weight: 1},
		},
	}
	counts := store.Counts{
		"control":   {Assignments: 100, Conversions: map[string]int64{"purchase": 20}}, // 0.2
		"treatment": {Assignments: 100, Conversions: map[string]int64{"purchase": 40}}, // 0.4
	}

	assert.InDelta(t, 0.3, averageRate(exp, counts), 1e-9)
	assert.Zero(t, averageRate(exp, store.Counts{}))
}
