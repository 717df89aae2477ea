package ingest

import (
	"github.com/shopspring/decimal"

	"github.com/salesledger/backend/internal/domain/ledger"
	"github.com/salesledger/backend/internal/infrastructure/aggregator"
)

// NormalizeOrders converts full orders from the order-index endpoint into one
// record per line item. The order-level amount is distributed across items
// proportionally to each item's own price x quantity share; when the
// item-level sum is zero the whole amount lands on a single synthetic line.
// A rejection refers to the order's index in the incoming batch.
func NormalizeOrders(orders []aggregator.Order) Result {
	var result Result

	for i, order := range orders {
		if order.OrderID == "" {
			result.reject(i, "missing order id")
			continue
		}
		date, err := parseDateString(order.PayTime)
		if err != nil {
			result.reject(i, "pay time: %v", err)
			continue
		}
		orderTotal, err := parseAmount(order.OrderAmount)
		if err != nil {
			result.reject(i, "order amount: %v", err)
			continue
		}

		base := ledger.SaleRecord{
			OrderID:      order.OrderID,
			Date:         date,
			Store:        order.ShopName,
			State:        order.State,
			Platform:     order.Platform,
			Status:       order.Status,
			CancelBy:     order.CancelBy,
			CancelReason: order.CancelReason,
			Channel:      ledger.SaleChannelOnline,
		}

		items, itemSum := itemShares(order.Items)
		if len(items) == 0 || itemSum.IsZero() {
			result.accept(i, syntheticLine(base, order, orderTotal))
			continue
		}

		allocated := decimal.Zero
		for j, item := range items {
			record := base
			record.Product = item.source.ProductName
			record.AdName = item.source.AdName
			record.SKU = item.source.SKU
			record.Variation = deriveVariation(item.source.Variation, item.source.SKU, item.source.ProductName)
			record.Quantity = item.quantity
			record.UnitPrice = item.price
			record.Image = item.source.ImageURL

			if j == len(items)-1 {
				// The last item absorbs rounding drift so the line totals
				// sum exactly to the order amount
				record.Total = orderTotal.Sub(allocated)
			} else {
				share := item.value.Div(itemSum)
				record.Total = orderTotal.Mul(share).Round(2)
				allocated = allocated.Add(record.Total)
			}

			copied := record
			result.accept(i, &copied)
		}
	}

	return result
}

// orderItemShare pairs an item with its value share inputs
type orderItemShare struct {
	source   aggregator.OrderItem
	price    decimal.Decimal
	quantity decimal.Decimal
	value    decimal.Decimal
}

// itemShares computes each item's price x quantity value and their sum
func itemShares(items []aggregator.OrderItem) ([]orderItemShare, decimal.Decimal) {
	shares := make([]orderItemShare, 0, len(items))
	sum := decimal.Zero

	for _, item := range items {
		price, _ := parseAmount(item.Price)
		quantity := parseQuantity(item.Quantity)
		value := price.Mul(quantity)

		shares = append(shares, orderItemShare{
			source:   item,
			price:    price,
			quantity: quantity,
			value:    value,
		})
		sum = sum.Add(value)
	}
	return shares, sum
}

// syntheticLine builds the single fallback line carrying the whole order
// total when items are absent or carry no prices.
func syntheticLine(base ledger.SaleRecord, order aggregator.Order, orderTotal decimal.Decimal) *ledger.SaleRecord {
	record := base
	record.Quantity = decimal.NewFromInt(1)
	record.Total = orderTotal

	if len(order.Items) > 0 {
		first := order.Items[0]
		record.Product = first.ProductName
		record.AdName = first.AdName
		record.SKU = first.SKU
		record.Variation = deriveVariation(first.Variation, first.SKU, first.ProductName)
		record.Image = first.ImageURL
		record.Quantity = parseQuantity(first.Quantity)
	} else {
		record.Product = "Pedido " + order.OrderID
	}
	return &record
}
