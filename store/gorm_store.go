package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/expflow/types"
)

// GormStore is the SQL-backed AggregateStore. Facts and counter increments
// for one write are committed in a single transaction, so the assignment
// write is the durability boundary: either the fact and its counter land
// together, or neither is observed.
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormStore creates a SQL-backed aggregate store.
func NewGormStore(db *gorm.DB, logger *zap.Logger) *GormStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GormStore{
		db:     db,
		logger: logger.With(zap.String("component", "aggregate_store")),
	}
}

// conflictColumns for the assignment identity upsert.
var assignmentConflict = clause.OnConflict{
	Columns:   []clause.Column{{Name: "experiment"}, {Name: "participant_id"}},
	DoNothing: true,
}

// RecordAssignment implements AggregateStore. The insert uses
// ON CONFLICT DO NOTHING on (experiment, participant_id): when a concurrent
// or earlier call already stored an assignment, RowsAffected is zero and the
// existing row is returned instead of double-counting.
func (s *GormStore) RecordAssignment(ctx context.Context, experiment, variant, participantID string, attrs map[string]string) (*types.Assignment, bool, error) {
	rec := AssignmentRecord{
		ID:            uuid.New().String(),
		Experiment:    experiment,
		ParticipantID: participantID,
		Variant:       variant,
		CreatedAt:     time.Now().UTC(),
	}
	if len(attrs) > 0 {
		encoded, err := json.Marshal(attrs)
		if err != nil {
			return nil, false, types.NewError(types.ErrCodeInvalidExperiment, "unencodable assignment context").WithCause(err)
		}
		rec.Context = string(encoded)
	}

	created := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(assignmentConflict).Create(&rec)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Lost the race or repeat call: surface the stored assignment.
			// Read into a zero-value record — gorm folds a populated primary
			// key into the WHERE clause, and rec still carries the unused
			// new UUID.
			rec = AssignmentRecord{}
			return tx.Where("experiment = ? AND participant_id = ?", experiment, participantID).
				First(&rec).Error
		}
		created = true
		return s.incrementAssignments(tx, experiment, variant)
	})
	if err != nil {
		s.logger.Error("record assignment failed",
			zap.String("experiment", experiment),
			zap.String("participant", participantID),
			zap.Error(err))
		return nil, false, types.NewStorageError("record assignment", err)
	}

	return recordToAssignment(&rec), created, nil
}

// incrementAssignments bumps the variant counter with a single atomic
// UPDATE; the row is seeded on first touch via an upsert. Never reads the
// old value client-side.
func (s *GormStore) incrementAssignments(tx *gorm.DB, experiment, variant string) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "experiment"}, {Name: "variant"}},
		DoUpdates: clause.Assignments(map[string]any{"assignments": gorm.Expr("ef_variant_counters.assignments + 1")}),
	}).Create(&VariantCounterRecord{
		Experiment:  experiment,
		Variant:     variant,
		Assignments: 1,
	}).Error
}

// GetAssignment implements AggregateStore.
func (s *GormStore) GetAssignment(ctx context.Context, experiment, participantID string) (*types.Assignment, error) {
	var rec AssignmentRecord
	err := s.db.WithContext(ctx).
		Where("experiment = ? AND participant_id = ?", experiment, participantID).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.ErrNoAssignment
	}
	if err != nil {
		return nil, types.NewStorageError("get assignment", err)
	}
	return recordToAssignment(&rec), nil
}

// RecordConversion implements AggregateStore.
func (s *GormStore) RecordConversion(ctx context.Context, experiment, participantID, goal string) (*types.Conversion, error) {
	var conv *types.Conversion
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var assignment AssignmentRecord
		err := tx.Where("experiment = ? AND participant_id = ?", experiment, participantID).
			First(&assignment).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return types.ErrNoAssignment
		}
		if err != nil {
			return err
		}

		rec := ConversionRecord{
			ID:            uuid.New().String(),
			Experiment:    experiment,
			ParticipantID: participantID,
			Goal:          goal,
			Variant:       assignment.Variant,
			CreatedAt:     time.Now().UTC(),
		}
		if err := tx.Create(&rec).Error; err != nil {
			return err
		}

		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "experiment"}, {Name: "variant"}, {Name: "goal"}},
			DoUpdates: clause.Assignments(map[string]any{"conversions": gorm.Expr("ef_goal_counters.conversions + 1")}),
		}).Create(&GoalCounterRecord{
			Experiment:  experiment,
			Variant:     assignment.Variant,
			Goal:        goal,
			Conversions: 1,
		}).Error; err != nil {
			return err
		}

		conv = &types.Conversion{
			ID:            rec.ID,
			Experiment:    rec.Experiment,
			ParticipantID: rec.ParticipantID,
			Goal:          rec.Goal,
			Variant:       rec.Variant,
			CreatedAt:     rec.CreatedAt,
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, types.ErrNoAssignment) {
			return nil, types.ErrNoAssignment
		}
		s.logger.Error("record conversion failed",
			zap.String("experiment", experiment),
			zap.String("participant", participantID),
			zap.String("goal", goal),
			zap.Error(err))
		return nil, types.NewStorageError("record conversion", err)
	}
	return conv, nil
}

// ReadCounts implements AggregateStore.
func (s *GormStore) ReadCounts(ctx context.Context, experiment string) (Counts, error) {
	var variantRows []VariantCounterRecord
	if err := s.db.WithContext(ctx).
		Where("experiment = ?", experiment).
		Find(&variantRows).Error; err != nil {
		return nil, types.NewStorageError("read variant counters", err)
	}

	var goalRows []GoalCounterRecord
	if err := s.db.WithContext(ctx).
		Where("experiment = ?", experiment).
		Find(&goalRows).Error; err != nil {
		return nil, types.NewStorageError("read goal counters", err)
	}

	counts := make(Counts, len(variantRows))
	for _, row := range variantRows {
		counts[row.Variant] = VariantCounts{
			Assignments: row.Assignments,
			Conversions: make(map[string]int64),
		}
	}
	for _, row := range goalRows {
		vc, ok := counts[row.Variant]
		if !ok {
			// Conversion counter without an assignment counter: tolerated,
			// surfaced as a variant with zero assignments.
			vc = VariantCounts{Conversions: make(map[string]int64)}
		}
		vc.Conversions[row.Goal] = row.Conversions
		counts[row.Variant] = vc
	}
	return counts, nil
}

func recordToAssignment(rec *AssignmentRecord) *types.Assignment {
	a := &types.Assignment{
		ID:            rec.ID,
		Experiment:    rec.Experiment,
		ParticipantID: rec.ParticipantID,
		Variant:       rec.Variant,
		CreatedAt:     rec.CreatedAt,
	}
	if rec.Context != "" {
		// Best effort: an undecodable context never fails a read.
		_ = json.Unmarshal([]byte(rec.Context), &a.Context)
	}
	return a
}

var _ AggregateStore = (*GormStore)(nil)
