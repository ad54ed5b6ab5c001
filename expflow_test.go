package expflow_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/expflow"
	"github.com/BaSui01/expflow/testutil"
)

func newRunningExperiment() *expflow.Experiment {
	return &expflow.Experiment{
		Name: "onboarding-copy",
		Variants: []expflow.Variant{
			{Name: "control", Weight: 1, IsControl: true},
			{Name: "friendly", Weight: 1},
		},
		TrafficPercent: 100,
		Goals:          []string{"activation"},
		Status:         expflow.StatusRunning,
	}
}

func TestNewInMemoryService(t *testing.T) {
	svc, err := expflow.New()
	require.NoError(t, err)
	ctx := testutil.TestContext(t)

	require.NoError(t, svc.CreateExperiment(ctx, newRunningExperiment()))

	variant, err := svc.AssignVariant(ctx, "onboarding-copy", "user-1", nil)
	require.NoError(t, err)
	assert.Contains(t, []string{"control", "friendly"}, variant)

	// 同一参与者分配保持稳定
	again, err := svc.AssignVariant(ctx, "onboarding-copy", "user-1", nil)
	require.NoError(t, err)
	assert.Equal(t, variant, again)

	require.NoError(t, svc.RecordConversion(ctx, "onboarding-copy", "user-1", "activation"))

	report, err := svc.ExperimentResults(ctx, "onboarding-copy")
	require.NoError(t, err)
	assert.Equal(t, "onboarding-copy", report.Experiment)
	assert.Equal(t, int64(1), report.TotalAssignments)
}

func TestNewWithDB(t *testing.T) {
	db := testutil.NewTestDB(t)
	svc, err := expflow.New(expflow.WithDB(db))
	require.NoError(t, err)
	ctx := testutil.TestContext(t)

	require.NoError(t, svc.CreateExperiment(ctx, newRunningExperiment()))

	variant, err := svc.AssignVariant(ctx, "onboarding-copy", "user-9", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, variant)

	got, err := svc.GetExperiment(ctx, "onboarding-copy")
	require.NoError(t, err)
	assert.Equal(t, expflow.StatusRunning, got.Status)
}
