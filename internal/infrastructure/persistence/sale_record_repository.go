package persistence

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/salesledger/backend/internal/domain/ledger"
	"github.com/salesledger/backend/internal/infrastructure/persistence/models"
)

// upsertBatchSize caps one upsert statement. Each row binds ~20 parameters
// and the driver has a hard parameter ceiling, so sub-batches stay well
// under it.
const upsertBatchSize = 500

// GormSaleRecordRepository implements ledger.SaleRecordRepository using GORM
type GormSaleRecordRepository struct {
	db *gorm.DB
}

// NewGormSaleRecordRepository creates a new sale record repository
func NewGormSaleRecordRepository(db *gorm.DB) *GormSaleRecordRepository {
	return &GormSaleRecordRepository{db: db}
}

// UpsertBatch applies normalized records to the ledger. Within the incoming
// batch the last occurrence of a key wins. Each sub-batch is one transaction:
// a failure rolls the sub-batch back and propagates, leaving prior committed
// sub-batches in place. Calling twice with identical input reports every row
// as updated the second time and leaves the ledger unchanged.
func (r *GormSaleRecordRepository) UpsertBatch(ctx context.Context, records []*ledger.SaleRecord, channel ledger.SaleChannel) (ledger.UpsertResult, error) {
	var result ledger.UpsertResult

	deduped := dedupeLastWins(records)
	if len(deduped) == 0 {
		return result, nil
	}

	for start := 0; start < len(deduped); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(deduped) {
			end = len(deduped)
		}

		subResult, err := r.upsertSubBatch(ctx, deduped[start:end], channel)
		if err != nil {
			return result, fmt.Errorf("upserting rows %d..%d: %w", start, end-1, err)
		}
		result.Add(subResult)
	}

	return result, nil
}

// upsertSubBatch applies one sub-batch atomically and splits the outcome
// into inserted and updated counts.
func (r *GormSaleRecordRepository) upsertSubBatch(ctx context.Context, records []*ledger.SaleRecord, channel ledger.SaleChannel) (ledger.UpsertResult, error) {
	var result ledger.UpsertResult

	batch := make([]*models.SaleRecordModel, len(records))
	keys := make([][]any, len(records))
	for i, record := range records {
		model := &models.SaleRecordModel{ID: uuid.New()}
		model.FromDomain(record, channel)
		batch[i] = model
		keys[i] = []any{model.OrderID, model.Product, model.Variation}
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Which keys already exist decides inserted vs updated. Reading
		// inside the same transaction keeps the count honest against the
		// rows this statement is about to touch.
		var existing int64
		if err := tx.Model(&models.SaleRecordModel{}).
			Where("(order_id, product, variation) IN ?", keys).
			Count(&existing).Error; err != nil {
			return err
		}

		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "order_id"}, {Name: "product"}, {Name: "variation"},
			},
			DoUpdates: clause.AssignmentColumns(models.SaleRecordMutableColumns()),
		}).Create(batch).Error; err != nil {
			return err
		}

		result.Updated = int(existing)
		result.Inserted = len(batch) - int(existing)
		return nil
	})
	if err != nil {
		return ledger.UpsertResult{}, err
	}
	return result, nil
}

// CountByChannel reports ledger size per channel, for diagnostics
func (r *GormSaleRecordRepository) CountByChannel(ctx context.Context, channel ledger.SaleChannel) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.SaleRecordModel{}).
		Where("channel = ?", channel.String()).
		Count(&count).Error
	return count, err
}

// dedupeLastWins collapses the batch by ledger key, keeping the last
// occurrence's content at the first occurrence's position.
func dedupeLastWins(records []*ledger.SaleRecord) []*ledger.SaleRecord {
	if len(records) == 0 {
		return nil
	}

	position := make(map[ledger.RecordKey]int, len(records))
	deduped := make([]*ledger.SaleRecord, 0, len(records))

	for _, record := range records {
		key := record.Key()
		if idx, seen := position[key]; seen {
			deduped[idx] = record
			continue
		}
		position[key] = len(deduped)
		deduped = append(deduped, record)
	}
	return deduped
}

// Ensure GormSaleRecordRepository implements SaleRecordRepository
var _ ledger.SaleRecordRepository = (*GormSaleRecordRepository)(nil)
