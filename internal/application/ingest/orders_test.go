package ingest

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salesledger/backend/internal/domain/ledger"
	"github.com/salesledger/backend/internal/infrastructure/aggregator"
)

func TestNormalizeOrders_ProportionalAllocation(t *testing.T) {
	// Items worth 30 and 10 split an order total of 36 (discounted) 3:1
	orders := []aggregator.Order{{
		OrderID:     "ord-1",
		PayTime:     "2026-02-15 10:00:00",
		ShopName:    "Loja Centro",
		Platform:    "shopee",
		OrderAmount: "36.00",
		Items: []aggregator.OrderItem{
			{ProductName: "Camiseta", SKU: "CAM-M", Price: "30.00", Quantity: "1"},
			{ProductName: "Meia", SKU: "MEIA-U", Price: "10.00", Quantity: "1"},
		},
	}}

	result := NormalizeOrders(orders)

	require.Empty(t, result.Rejected)
	require.Len(t, result.Records, 2)

	assert.Equal(t, "27", result.Records[0].Total.String())
	assert.Equal(t, "9", result.Records[1].Total.String())

	sum := result.Records[0].Total.Add(result.Records[1].Total)
	assert.True(t, sum.Equal(decimal.NewFromInt(36)), "line totals must sum to the order amount")
}

func TestNormalizeOrders_RoundingDriftLandsOnLastItem(t *testing.T) {
	// 100 split across three equal items cannot round evenly
	orders := []aggregator.Order{{
		OrderID:     "ord-1",
		PayTime:     "2026-02-15",
		OrderAmount: "100.00",
		Items: []aggregator.OrderItem{
			{ProductName: "A", Price: "10", Quantity: "1"},
			{ProductName: "B", Price: "10", Quantity: "1"},
			{ProductName: "C", Price: "10", Quantity: "1"},
		},
	}}

	result := NormalizeOrders(orders)

	require.Len(t, result.Records, 3)
	sum := decimal.Zero
	for _, record := range result.Records {
		sum = sum.Add(record.Total)
	}
	assert.True(t, sum.Equal(decimal.NewFromInt(100)), "got %s", sum)
}

func TestNormalizeOrders_ZeroItemSumFallsBackToSyntheticLine(t *testing.T) {
	orders := []aggregator.Order{{
		OrderID:     "ord-1",
		PayTime:     "2026-02-15",
		OrderAmount: "59.90",
		Items: []aggregator.OrderItem{
			{ProductName: "Brinde", Price: "0", Quantity: "2"},
			{ProductName: "Outro Brinde", Price: "0", Quantity: "1"},
		},
	}}

	result := NormalizeOrders(orders)

	require.Len(t, result.Records, 1, "zero item sum collapses to one line")
	record := result.Records[0]
	assert.Equal(t, "Brinde", record.Product)
	assert.Equal(t, "59.9", record.Total.String())
}

func TestNormalizeOrders_NoItemsSynthesizesLine(t *testing.T) {
	orders := []aggregator.Order{{
		OrderID:     "ord-7",
		PayTime:     "2026-02-15",
		OrderAmount: "120.00",
	}}

	result := NormalizeOrders(orders)

	require.Len(t, result.Records, 1)
	assert.Equal(t, "Pedido ord-7", result.Records[0].Product)
	assert.Equal(t, "1", result.Records[0].Quantity.String())
}

func TestNormalizeOrders_RejectionsAreIsolated(t *testing.T) {
	orders := []aggregator.Order{
		{OrderID: "ord-1", PayTime: "invalid", OrderAmount: "10"},
		{OrderID: "", PayTime: "2026-02-15", OrderAmount: "10"},
		{OrderID: "ord-3", PayTime: "2026-02-15", OrderAmount: "not-a-number"},
		{
			OrderID: "ord-4", PayTime: "2026-02-15", OrderAmount: "50",
			Items: []aggregator.OrderItem{{ProductName: "OK", Price: "50", Quantity: "1"}},
		},
	}

	result := NormalizeOrders(orders)

	require.Len(t, result.Records, 1)
	assert.Equal(t, "ord-4", result.Records[0].OrderID)

	require.Len(t, result.Rejected, 3)
	assert.Equal(t, 0, result.Rejected[0].Index)
	assert.Contains(t, result.Rejected[0].Reason, "pay time")
	assert.Equal(t, 1, result.Rejected[1].Index)
	assert.Contains(t, result.Rejected[1].Reason, "order id")
	assert.Equal(t, 2, result.Rejected[2].Index)
	assert.Contains(t, result.Rejected[2].Reason, "order amount")
}

func TestNormalizeOrders_ChannelAndKeyFields(t *testing.T) {
	orders := []aggregator.Order{{
		OrderID:     "ord-1",
		PayTime:     "2026-02-15",
		OrderAmount: "49.90",
		Status:      "pago",
		Items: []aggregator.OrderItem{
			{ProductName: "Camiseta", Variation: "Cor: Azul, Tamanho: M", SKU: "CAM-AZ-M", Price: "49.90", Quantity: "1"},
		},
	}}

	result := NormalizeOrders(orders)

	require.Len(t, result.Records, 1)
	record := result.Records[0]
	assert.Equal(t, ledger.SaleChannelOnline, record.Channel)
	assert.Equal(t, ledger.RecordKey{OrderID: "ord-1", Product: "Camiseta", Variation: "M"}, record.Key())
	assert.False(t, record.IsCanceled())
}
