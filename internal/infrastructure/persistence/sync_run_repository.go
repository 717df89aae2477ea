package persistence

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	syncdomain "github.com/salesledger/backend/internal/domain/sync"
	"github.com/salesledger/backend/internal/infrastructure/persistence/models"
)

// GormSyncRunRepository implements sync.SyncRunRepository using GORM
type GormSyncRunRepository struct {
	db *gorm.DB
}

// NewGormSyncRunRepository creates a new sync run repository
func NewGormSyncRunRepository(db *gorm.DB) *GormSyncRunRepository {
	return &GormSyncRunRepository{db: db}
}

// Record upserts the run outcome for a source
func (r *GormSyncRunRepository) Record(ctx context.Context, run *syncdomain.SyncRun) error {
	var model models.SyncRunModel
	model.FromDomain(run)

	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "source"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"last_run_at", "status", "message", "rows", "updated_at",
		}),
	}).Create(&model).Error
}

// Last returns the most recent run for a source, or nil when the source has
// never run
func (r *GormSyncRunRepository) Last(ctx context.Context, source syncdomain.SourceKind) (*syncdomain.SyncRun, error) {
	var model models.SyncRunModel
	err := r.db.WithContext(ctx).
		Where("source = ?", source.String()).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return model.ToDomain(), nil
}

// Ensure GormSyncRunRepository implements SyncRunRepository
var _ syncdomain.SyncRunRepository = (*GormSyncRunRepository)(nil)
