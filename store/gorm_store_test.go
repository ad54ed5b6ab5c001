package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/expflow/types"
)

func newTestGormStore(t *testing.T) *GormStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared&_pragma=busy_timeout(5000)"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, InitTables(db))
	t.Cleanup(func() {
		db.Exec("DELETE FROM ef_assignments")
		db.Exec("DELETE FROM ef_conversions")
		db.Exec("DELETE FROM ef_variant_counters")
		db.Exec("DELETE FROM ef_goal_counters")
	})
	return NewGormStore(db, nil)
}

func TestGormStoreAssignmentRoundTrip(t *testing.T) {
	s := newTestGormStore(t)
	ctx := context.Background()

	a, created, err := s.RecordAssignment(ctx, "checkout_test", "treatment", "user-1", map[string]string{"region": "eu"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, a.ID)

	got, err := s.GetAssignment(ctx, "checkout_test", "user-1")
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, "treatment", got.Variant)
	assert.Equal(t, "eu", got.Context["region"])

	_, err = s.GetAssignment(ctx, "checkout_test", "ghost")
	assert.ErrorIs(t, err, types.ErrNoAssignment)
}

func TestGormStoreAssignmentIdempotency(t *testing.T) {
	s := newTestGormStore(t)
	ctx := context.Background()

	first, created, err := s.RecordAssignment(ctx, "checkout_test", "treatment", "user-1", nil)
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := s.RecordAssignment(ctx, "checkout_test", "control", "user-1", nil)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "treatment", second.Variant)

	counts, err := s.ReadCounts(ctx, "checkout_test")
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.TotalAssignments())
}

func TestGormStoreCounterIncrements(t *testing.T) {
	s := newTestGormStore(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		variant := "control"
		if i%2 == 1 {
			variant = "treatment"
		}
		_, _, err := s.RecordAssignment(ctx, "split_test", variant, fmt.Sprintf("user-%d", i), nil)
		require.NoError(t, err)
	}
	for i := 0; i < 10; i += 2 {
		_, err := s.RecordConversion(ctx, "split_test", fmt.Sprintf("user-%d", i), "purchase")
		require.NoError(t, err)
	}

	counts, err := s.ReadCounts(ctx, "split_test")
	require.NoError(t, err)
	assert.Equal(t, int64(5), counts["control"].Assignments)
	assert.Equal(t, int64(5), counts["treatment"].Assignments)
	assert.Equal(t, int64(5), counts["control"].Conversions["purchase"])
	assert.Zero(t, counts["treatment"].TotalConversions())
}

func TestGormStoreConversionWithoutAssignment(t *testing.T) {
	s := newTestGormStore(t)

	_, err := s.RecordConversion(context.Background(), "checkout_test", "ghost", "purchase")
	assert.ErrorIs(t, err, types.ErrNoAssignment)
}

func TestGormStoreReadCountsEmptyExperiment(t *testing.T) {
	s := newTestGormStore(t)

	counts, err := s.ReadCounts(context.Background(), "never_started")
	require.NoError(t, err)
	assert.Empty(t, counts)
}

func TestGormStoreRebuildCounters(t *testing.T) {
	s := newTestGormStore(t)
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		id := fmt.Sprintf("user-%d", i)
		_, _, err := s.RecordAssignment(ctx, "replay_test", "treatment", id, nil)
		require.NoError(t, err)
		if i < 3 {
			_, err := s.RecordConversion(ctx, "replay_test", id, "signup")
			require.NoError(t, err)
		}
	}

	// Corrupt the derived counters, then replay the fact tables.
	require.NoError(t, s.db.Exec("UPDATE ef_variant_counters SET assignments = 0").Error)
	require.NoError(t, s.db.Exec("DELETE FROM ef_goal_counters").Error)

	require.NoError(t, s.RebuildCounters(ctx, "replay_test"))

	counts, err := s.ReadCounts(ctx, "replay_test")
	require.NoError(t, err)
	assert.Equal(t, int64(12), counts["treatment"].Assignments)
	assert.Equal(t, int64(3), counts["treatment"].Conversions["signup"])
}

func TestRebuildAllCoversEveryExperiment(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	names := []string{"exp_a", "exp_b", "exp_c"}
	for _, name := range names {
		for i := 0; i < 5; i++ {
			_, _, err := s.RecordAssignment(ctx, name, "control", fmt.Sprintf("user-%d", i), nil)
			require.NoError(t, err)
		}
		s.counter(name, "control").assignments.Store(-1)
	}

	require.NoError(t, RebuildAll(ctx, s, names))

	for _, name := range names {
		counts, err := s.ReadCounts(ctx, name)
		require.NoError(t, err)
		assert.Equal(t, int64(5), counts["control"].Assignments, name)
	}
}
