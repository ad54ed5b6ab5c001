package store

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/BaSui01/expflow/types"
)

// variantTally and goalTally receive GROUP BY recounts during replay.
type variantTally struct {
	Variant string
	N       int64
}

type goalTally struct {
	Variant string
	Goal    string
	N       int64
}

// RebuildCounters implements Replayer: inside one transaction the counter
// rows for the experiment are dropped and recomputed from the fact tables,
// so readers never observe a half-rebuilt state.
func (s *GormStore) RebuildCounters(ctx context.Context, experiment string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("experiment = ?", experiment).
			Delete(&VariantCounterRecord{}).Error; err != nil {
			return err
		}
		if err := tx.Where("experiment = ?", experiment).
			Delete(&GoalCounterRecord{}).Error; err != nil {
			return err
		}

		var variants []variantTally
		if err := tx.Model(&AssignmentRecord{}).
			Select("variant, COUNT(*) AS n").
			Where("experiment = ?", experiment).
			Group("variant").
			Scan(&variants).Error; err != nil {
			return err
		}
		for _, row := range variants {
			if err := tx.Create(&VariantCounterRecord{
				Experiment:  experiment,
				Variant:     row.Variant,
				Assignments: row.N,
			}).Error; err != nil {
				return err
			}
		}

		var goals []goalTally
		if err := tx.Model(&ConversionRecord{}).
			Select("variant, goal, COUNT(*) AS n").
			Where("experiment = ?", experiment).
			Group("variant").Group("goal").
			Scan(&goals).Error; err != nil {
			return err
		}
		for _, row := range goals {
			if err := tx.Create(&GoalCounterRecord{
				Experiment:  experiment,
				Variant:     row.Variant,
				Goal:        row.Goal,
				Conversions: row.N,
			}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return types.NewStorageError("rebuild counters", err)
	}

	s.logger.Info("counters rebuilt from event log",
		zap.String("experiment", experiment))
	return nil
}

// RebuildAll rebuilds counters for every named experiment, bounded to a few
// concurrent rebuilds so a large backfill does not saturate the pool.
func RebuildAll(ctx context.Context, r Replayer, experiments []string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, name := range experiments {
		g.Go(func() error {
			return r.RebuildCounters(ctx, name)
		})
	}
	return g.Wait()
}

var _ Replayer = (*GormStore)(nil)
