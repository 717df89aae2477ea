package ingest

import (
	"github.com/salesledger/backend/internal/domain/ledger"
	"github.com/salesledger/backend/internal/infrastructure/aggregator"
)

// NormalizeReportRows converts aggregator report rows, one consolidated sale
// row per record. Rows with an unparsable date or total are rejected
// individually.
func NormalizeReportRows(rows []aggregator.ReportRow) Result {
	var result Result

	for i, row := range rows {
		date, err := parseDateString(row.PayTime)
		if err != nil {
			result.reject(i, "pay time: %v", err)
			continue
		}
		total, err := parseAmount(row.Amount)
		if err != nil {
			result.reject(i, "amount: %v", err)
			continue
		}

		// Unit price is optional; the record derives it from the total
		unitPrice, _ := parseAmount(row.UnitPrice)

		record := &ledger.SaleRecord{
			OrderID:      row.OrderID,
			Date:         date,
			Store:        row.ShopName,
			Product:      row.ProductName,
			AdName:       row.AdName,
			Variation:    deriveVariation(row.Variation, row.SKU, row.ProductName),
			SKU:          row.SKU,
			Quantity:     parseQuantity(row.Quantity),
			Total:        total,
			UnitPrice:    unitPrice,
			State:        row.State,
			Platform:     row.Platform,
			Status:       row.Status,
			CancelBy:     row.CancelBy,
			CancelReason: row.CancelReason,
			Image:        row.ImageURL,
			Channel:      ledger.SaleChannelOnline,
		}
		if record.OrderID == "" {
			result.reject(i, "missing order id")
			continue
		}

		result.accept(i, record)
	}

	return result
}
