package ingest

import (
	"fmt"

	"github.com/salesledger/backend/internal/domain/ledger"
)

// RejectedRow identifies one source row the normalizer refused, by its index
// in the incoming batch.
type RejectedRow struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// Result carries the accepted records and the per-row rejections of one
// normalization pass. A rejection never fails the batch.
type Result struct {
	Records  []*ledger.SaleRecord `json:"-"`
	Rejected []RejectedRow        `json:"rejected,omitempty"`
}

// reject records one refused row
func (r *Result) reject(index int, format string, args ...any) {
	r.Rejected = append(r.Rejected, RejectedRow{
		Index:  index,
		Reason: fmt.Sprintf(format, args...),
	})
}

// accept appends one normalized record, rejecting it instead when it fails
// the ledger invariants
func (r *Result) accept(index int, record *ledger.SaleRecord) {
	if err := record.Validate(); err != nil {
		r.reject(index, "%v", err)
		return
	}
	r.Records = append(r.Records, record)
}
