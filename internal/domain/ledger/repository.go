package ledger

import "context"

// SaleRecordRepository is the port the upsert engine implements. The storage
// layer owns the key uniqueness invariant: calling UpsertBatch twice with the
// same input leaves the ledger unchanged and reports every row as updated.
type SaleRecordRepository interface {
	// UpsertBatch deduplicates the batch by ledger key (last occurrence wins),
	// then applies it in bounded sub-batches, each one an atomic
	// insert-or-update transaction.
	UpsertBatch(ctx context.Context, records []*SaleRecord, channel SaleChannel) (UpsertResult, error)
}
