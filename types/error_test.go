package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	err := NewError(ErrCodeExperimentNotFound, "experiment checkout-button not found")
	assert.Equal(t, "[EXPERIMENT_NOT_FOUND] experiment checkout-button not found", err.Error())

	cause := errors.New("connection refused")
	wrapped := NewStorageError("record assignment", cause)
	assert.Contains(t, wrapped.Error(), "STORAGE_ERROR")
	assert.Contains(t, wrapped.Error(), "connection refused")
	assert.ErrorIs(t, wrapped, cause)
}

func TestSentinelsCarryCodes(t *testing.T) {
	tests := []struct {
		sentinel error
		code     ErrorCode
	}{
		{ErrExperimentNotFound, ErrCodeExperimentNotFound},
		{ErrNoVariants, ErrCodeInvalidExperiment},
		{ErrInvalidWeights, ErrCodeInvalidWeights},
		{ErrNoAssignment, ErrCodeNoAssignment},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, GetErrorCode(tt.sentinel))
		// 身份匹配与包装后的代码提取都不能丢
		assert.ErrorIs(t, tt.sentinel, tt.sentinel)
		wrapped := fmt.Errorf("save: %w", tt.sentinel)
		assert.Equal(t, tt.code, GetErrorCode(wrapped))
	}
	assert.False(t, IsRetryable(ErrExperimentNotFound))
}

func TestRetryableClassification(t *testing.T) {
	storage := NewStorageError("insert failed", errors.New("deadlock"))
	assert.True(t, IsRetryable(storage))

	config := NewError(ErrCodeInvalidTrafficPercent, "traffic percent 120.00 outside [0, 100]")
	assert.False(t, IsRetryable(config))

	// Retryable survives wrapping.
	wrapped := fmt.Errorf("assign: %w", storage)
	assert.True(t, IsRetryable(wrapped))
	assert.Equal(t, ErrCodeStorage, GetErrorCode(wrapped))

	assert.False(t, IsRetryable(errors.New("plain")))
	assert.Equal(t, ErrorCode(""), GetErrorCode(errors.New("plain")))
}

func TestExperimentValidate(t *testing.T) {
	valid := &Experiment{
		Name:           "checkout-button",
		TrafficPercent: 100,
		Variants: []Variant{
			{Name: "control", IsControl: true},
			{Name: "treatment", Weight: 2},
		},
		Goals: []string{"purchase"},
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name string
		exp  Experiment
		code ErrorCode
		is   error
	}{
		{
			name: "missing name",
			exp:  Experiment{TrafficPercent: 50, Variants: []Variant{{Name: "a"}}},
			code: ErrCodeInvalidExperiment,
		},
		{
			name: "no variants",
			exp:  Experiment{Name: "x", TrafficPercent: 50},
			is:   ErrNoVariants,
		},
		{
			name: "traffic percent out of range",
			exp:  Experiment{Name: "x", TrafficPercent: 101, Variants: []Variant{{Name: "a"}}},
			code: ErrCodeInvalidTrafficPercent,
		},
		{
			name: "duplicate variant names",
			exp: Experiment{Name: "x", TrafficPercent: 10,
				Variants: []Variant{{Name: "a"}, {Name: "a"}}},
			code: ErrCodeInvalidExperiment,
		},
		{
			name: "negative weight",
			exp: Experiment{Name: "x", TrafficPercent: 10,
				Variants: []Variant{{Name: "a", Weight: -1}}},
			is: ErrInvalidWeights,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.exp.Validate()
			require.Error(t, err)
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}
			if tt.code != "" {
				assert.Equal(t, tt.code, GetErrorCode(err))
			}
		})
	}
}

func TestControlSelection(t *testing.T) {
	exp := &Experiment{Variants: []Variant{
		{Name: "a"},
		{Name: "b", IsControl: true},
	}}
	require.NotNil(t, exp.Control())
	assert.Equal(t, "b", exp.Control().Name)

	// Without an explicit control the first variant wins.
	exp = &Experiment{Variants: []Variant{{Name: "a"}, {Name: "b"}}}
	assert.Equal(t, "a", exp.Control().Name)

	empty := &Experiment{}
	assert.Nil(t, empty.Control())
}

func TestCloneIsDeep(t *testing.T) {
	exp := &Experiment{
		Name:  "clone-test",
		Goals: []string{"signup"},
		Variants: []Variant{
			{Name: "a", Metadata: map[string]any{"color": "red"}},
		},
	}

	cp := exp.Clone()
	cp.Variants[0].Name = "mutated"
	cp.Variants[0].Metadata["color"] = "blue"
	cp.Goals[0] = "mutated"

	assert.Equal(t, "a", exp.Variants[0].Name)
	assert.Equal(t, "red", exp.Variants[0].Metadata["color"])
	assert.Equal(t, "signup", exp.Goals[0])
}

func TestEffectiveWeightDefaultsToOne(t *testing.T) {
	assert.Equal(t, 1.0, Variant{}.EffectiveWeight())
	assert.Equal(t, 2.5, Variant{Weight: 2.5}.EffectiveWeight())
}
