package experiment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/expflow/types"
)

// ExperimentRecord 实验定义的持久化形态
// 完整定义以 JSON 存储,状态与版本单列冗余便于查询.
type ExperimentRecord struct {
	Name       string    `gorm:"primaryKey;size:255"`
	Status     string    `gorm:"size:32;not null;index"`
	Definition string    `gorm:"type:text;not null"`
	Version    int64     `gorm:"not null;default:1"`
	CreatedAt  time.Time `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null"`
}

// TableName maps the record to its table.
func (ExperimentRecord) TableName() string { return "ef_experiments" }

// InitCatalogTables 自动迁移目录表结构
func InitCatalogTables(db *gorm.DB) error {
	if err := db.AutoMigrate(&ExperimentRecord{}); err != nil {
		return fmt.Errorf("failed to auto migrate: %w", err)
	}
	return nil
}

// GormCatalog SQL 实验目录
type GormCatalog struct {
	db *gorm.DB
}

// NewGormCatalog 创建 SQL 实验目录
func NewGormCatalog(db *gorm.DB) *GormCatalog {
	return &GormCatalog{db: db}
}

// FindExperiment 实现 Catalog
func (c *GormCatalog) FindExperiment(ctx context.Context, name string) (*types.Experiment, error) {
	var rec ExperimentRecord
	err := c.db.WithContext(ctx).Where("name = ?", name).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.ErrExperimentNotFound
	}
	if err != nil {
		return nil, types.NewStorageError("find experiment", err)
	}
	return recordToExperiment(&rec)
}

// SaveExperiment 实现 Catalog
// 同一事务内读取旧版本并递增,覆盖写入定义.
func (c *GormCatalog) SaveExperiment(ctx context.Context, exp *types.Experiment) error {
	if exp == nil {
		return types.NewError(types.ErrCodeInvalidExperiment, "experiment cannot be nil")
	}
	if err := exp.Validate(); err != nil {
		return err
	}

	stored := exp.Clone()
	if stored.Status == "" {
		stored.Status = types.StatusDraft
	}

	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var prev ExperimentRecord
		err := tx.Where("name = ?", stored.Name).First(&prev).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			stored.Version = 1
			if stored.CreatedAt.IsZero() {
				stored.CreatedAt = time.Now().UTC()
			}
		case err != nil:
			return err
		default:
			stored.Version = prev.Version + 1
			stored.CreatedAt = prev.CreatedAt
		}

		encoded, err := json.Marshal(stored)
		if err != nil {
			return err
		}
		rec := ExperimentRecord{
			Name:       stored.Name,
			Status:     string(stored.Status),
			Definition: string(encoded),
			Version:    stored.Version,
			CreatedAt:  stored.CreatedAt,
			UpdatedAt:  time.Now().UTC(),
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			UpdateAll: true,
		}).Create(&rec).Error
	})
	if err != nil {
		return types.NewStorageError("save experiment", err)
	}
	exp.Version = stored.Version
	return nil
}

// ListExperiments 实现 Catalog
func (c *GormCatalog) ListExperiments(ctx context.Context) ([]*types.Experiment, error) {
	var recs []ExperimentRecord
	if err := c.db.WithContext(ctx).Order("name").Find(&recs).Error; err != nil {
		return nil, types.NewStorageError("list experiments", err)
	}
	out := make([]*types.Experiment, 0, len(recs))
	for i := range recs {
		exp, err := recordToExperiment(&recs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, exp)
	}
	return out, nil
}

// DeleteExperiment 实现 Catalog
func (c *GormCatalog) DeleteExperiment(ctx context.Context, name string) error {
	res := c.db.WithContext(ctx).Where("name = ?", name).Delete(&ExperimentRecord{})
	if res.Error != nil {
		return types.NewStorageError("delete experiment", res.Error)
	}
	if res.RowsAffected == 0 {
		return types.ErrExperimentNotFound
	}
	return nil
}

func recordToExperiment(rec *ExperimentRecord) (*types.Experiment, error) {
	var exp types.Experiment
	if err := json.Unmarshal([]byte(rec.Definition), &exp); err != nil {
		return nil, types.NewStorageError("decode experiment definition", err)
	}
	// 单列冗余为准,避免定义 JSON 与状态列漂移
	exp.Status = types.Status(rec.Status)
	exp.Version = rec.Version
	return &exp, nil
}

var _ Catalog = (*GormCatalog)(nil)
