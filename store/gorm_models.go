package store

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// AssignmentRecord is the persisted form of a types.Assignment. The unique
// index on (experiment, participant_id) is what makes first-assignment
// races resolve to a single row.
type AssignmentRecord struct {
	ID            string    `gorm:"primaryKey;size:36"`
	Experiment    string    `gorm:"size:255;not null;uniqueIndex:idx_assignment_identity,priority:1;index:idx_assignment_experiment"`
	ParticipantID string    `gorm:"size:255;not null;uniqueIndex:idx_assignment_identity,priority:2"`
	Variant       string    `gorm:"size:255;not null"`
	Context       string    `gorm:"type:text"` // JSON-encoded assignment context
	CreatedAt     time.Time `gorm:"not null"`
}

// TableName maps the record to its table.
func (AssignmentRecord) TableName() string { return "ef_assignments" }

// ConversionRecord is the persisted form of a types.Conversion.
type ConversionRecord struct {
	ID            string    `gorm:"primaryKey;size:36"`
	Experiment    string    `gorm:"size:255;not null;index:idx_conversion_experiment"`
	ParticipantID string    `gorm:"size:255;not null"`
	Goal          string    `gorm:"size:255;not null"`
	Variant       string    `gorm:"size:255;not null"`
	CreatedAt     time.Time `gorm:"not null"`
}

// TableName maps the record to its table.
func (ConversionRecord) TableName() string { return "ef_conversions" }

// VariantCounterRecord holds the derived assignment counter for one
// (experiment, variant). Only ever mutated via "assignments + 1" updates.
type VariantCounterRecord struct {
	Experiment  string `gorm:"primaryKey;size:255"`
	Variant     string `gorm:"primaryKey;size:255"`
	Assignments int64  `gorm:"not null;default:0"`
}

// TableName maps the record to its table.
func (VariantCounterRecord) TableName() string { return "ef_variant_counters" }

// GoalCounterRecord holds the derived conversion counter for one
// (experiment, variant, goal).
type GoalCounterRecord struct {
	Experiment  string `gorm:"primaryKey;size:255"`
	Variant     string `gorm:"primaryKey;size:255"`
	Goal        string `gorm:"primaryKey;size:255"`
	Conversions int64  `gorm:"not null;default:0"`
}

// TableName maps the record to its table.
func (GoalCounterRecord) TableName() string { return "ef_goal_counters" }

// InitTables auto-migrates the aggregate store schema. Production
// deployments use the versioned SQL migrations instead (internal/migration);
// this path serves tests and embedded setups.
func InitTables(db *gorm.DB) error {
	err := db.AutoMigrate(
		&AssignmentRecord{},
		&ConversionRecord{},
		&VariantCounterRecord{},
		&GoalCounterRecord{},
	)
	if err != nil {
		return fmt.Errorf("failed to auto migrate: %w", err)
	}
	return nil
}
