package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salesledger/backend/internal/domain/ledger"
	"github.com/salesledger/backend/internal/infrastructure/aggregator"
)

func TestNormalizeReportRows(t *testing.T) {
	rows := []aggregator.ReportRow{
		{
			OrderID:     "ord-1",
			PayTime:     "2026-02-15 09:12:00",
			ShopName:    "Loja Centro",
			Platform:    "shopee",
			ProductName: "Camiseta Basica",
			AdName:      "Camiseta Basica Promo",
			Variation:   "Cor: Azul, Tamanho: M",
			SKU:         "CAM-AZ-M",
			Quantity:    "2",
			Amount:      "99,80",
			UnitPrice:   "49,90",
			Status:      "pago",
		},
		{
			OrderID:     "ord-2",
			PayTime:     "2026-02-16",
			ProductName: "Bermuda",
			Quantity:    "1",
			Amount:      "0,00",
			UnitPrice:   "89,90",
			Status:      "reembolsado",
		},
	}

	result := NormalizeReportRows(rows)

	require.Empty(t, result.Rejected)
	require.Len(t, result.Records, 2)

	first := result.Records[0]
	assert.Equal(t, "ord-1", first.OrderID)
	assert.Equal(t, "M", first.Variation)
	assert.Equal(t, "99.8", first.Total.String())
	assert.Equal(t, "2", first.Quantity.String())
	assert.Equal(t, ledger.SaleChannelOnline, first.Channel)

	// Refunded: zero total with surviving unit price stays a valid sale
	second := result.Records[1]
	assert.True(t, second.IsRefunded())
	assert.False(t, second.IsCanceled())
}

func TestNormalizeReportRows_RowRejection(t *testing.T) {
	rows := []aggregator.ReportRow{
		{OrderID: "ord-1", PayTime: "amanha", Amount: "10,00"},
		{OrderID: "ord-2", PayTime: "2026-02-15", Amount: ""},
		{OrderID: "", PayTime: "2026-02-15", Amount: "10,00"},
		{OrderID: "ord-4", PayTime: "2026-02-15", Amount: "10,00", ProductName: "OK"},
	}

	result := NormalizeReportRows(rows)

	require.Len(t, result.Records, 1)
	assert.Equal(t, "ord-4", result.Records[0].OrderID)

	require.Len(t, result.Rejected, 3)
	assert.Contains(t, result.Rejected[0].Reason, "pay time")
	assert.Contains(t, result.Rejected[1].Reason, "amount")
	assert.Contains(t, result.Rejected[2].Reason, "order id")
}

func TestNormalizeReportRows_CanceledStatusVariants(t *testing.T) {
	statuses := []string{"Cancelado", "CANCELADA", "canceled by buyer", "Cancelled"}

	for _, status := range statuses {
		rows := []aggregator.ReportRow{{
			OrderID: "ord-1", PayTime: "2026-02-15", Amount: "10,00", Status: status,
		}}
		result := NormalizeReportRows(rows)
		require.Len(t, result.Records, 1, "status %q", status)
		assert.True(t, result.Records[0].IsCanceled(), "status %q", status)
	}
}
