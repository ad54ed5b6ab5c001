package experiment

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/expflow/types"
)

func newTestGormCatalog(t *testing.T) *GormCatalog {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, InitCatalogTables(db))
	return NewGormCatalog(db)
}

func catalogImplementations(t *testing.T) map[string]Catalog {
	return map[string]Catalog{
		"memory": NewMemoryCatalog(),
		"gorm":   newTestGormCatalog(t),
	}
}

func TestCatalogSaveAndFind(t *testing.T) {
	for name, c := range catalogImplementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := c.FindExperiment(ctx, "missing")
			assert.ErrorIs(t, err, types.ErrExperimentNotFound)

			exp := twoVariantExperiment()
			exp.Status = "" // 默认进入 draft
			require.NoError(t, c.SaveExperiment(ctx, exp))
			assert.Equal(t, int64(1), exp.Version)

			got, err := c.FindExperiment(ctx, exp.Name)
			require.NoError(t, err)
			assert.Equal(t, types.StatusDraft, got.Status)
			assert.Len(t, got.Variants, 2)
			assert.Equal(t, []string{"purchase"}, got.Goals)
			assert.Equal(t, int64(1), got.Version)
		})
	}
}

func TestCatalogVersionBumpOnUpdate(t *testing.T) {
	for name, c := range catalogImplementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			exp := twoVariantExperiment()
			require.NoError(t, c.SaveExperiment(ctx, exp))
			created := exp.CreatedAt

			exp.Description = "updated"
			require.NoError(t, c.SaveExperiment(ctx, exp))
			assert.Equal(t, int64(2), exp.Version)

			got, err := c.FindExperiment(ctx, exp.Name)
			require.NoError(t, err)
			assert.Equal(t, int64(2), got.Version)
			assert.Equal(t, "updated", got.Description)
			if !created.IsZero() {
				assert.Equal(t, created.UTC(), got.CreatedAt.UTC(), "creation time survives updates")
			}
		})
	}
}

func TestCatalogRejectsInvalidExperiments(t *testing.T) {
	for name, c := range catalogImplementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			assert.Error(t, c.SaveExperiment(ctx, nil))
			assert.ErrorIs(t, c.SaveExperiment(ctx, &types.Experiment{Name: "no_variants"}), types.ErrNoVariants)

			bad := twoVariantExperiment()
			bad.TrafficPercent = 150
			err := c.SaveExperiment(ctx, bad)
			require.Error(t, err)
			assert.Equal(t, types.ErrCodeInvalidTrafficPercent, types.GetErrorCode(err))
		})
	}
}

func TestCatalogDelete(t *testing.T) {
	for name, c := range catalogImplementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			assert.ErrorIs(t, c.DeleteExperiment(ctx, "missing"), types.ErrExperimentNotFound)

			exp := twoVariantExperiment()
			require.NoError(t, c.SaveExperiment(ctx, exp))
			require.NoError(t, c.DeleteExperiment(ctx, exp.Name))

			_, err := c.FindExperiment(ctx, exp.Name)
			assert.ErrorIs(t, err, types.ErrExperimentNotFound)
		})
	}
}

func TestCatalogList(t *testing.T) {
	for name, c := range catalogImplementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			for _, n := range []string{"exp_a", "exp_b"} {
				exp := twoVariantExperiment()
				exp.Name = n
				require.NoError(t, c.SaveExperiment(ctx, exp))
			}

			all, err := c.ListExperiments(ctx)
			require.NoError(t, err)
			assert.Len(t, all, 2)
		})
	}
}

func TestMemoryCatalogReturnsClones(t *testing.T) {
	c := NewMemoryCatalog()
	ctx := context.Background()

	exp := twoVariantExperiment()
	require.NoError(t, c.SaveExperiment(ctx, exp))

	got, err := c.FindExperiment(ctx, exp.Name)
	require.NoError(t, err)
	got.Variants[0].Name = "mutated"
	got.Status = types.StatusCompleted

	again, err := c.FindExperiment(ctx, exp.Name)
	require.NoError(t, err)
	assert.Equal(t, "control", again.Variants[0].Name, "callers must never mutate shared configuration")
	assert.Equal(t, types.StatusRunning, again.Status)
}
