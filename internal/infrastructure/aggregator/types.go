package aggregator

import "encoding/json"

// The aggregator wraps every response in a JSON envelope with a numeric
// status code. Zero is success; specific non-zero codes carry meaning.
const (
	codeOK = 0
	// codeNoPermission means the account has no data or no permission for
	// the requested platform category. Not an error: the platform is
	// skipped.
	codeNoPermission = 20010
)

// envelope is the aggregator's standard response wrapper
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// ok reports whether the envelope carries a success code
func (e *envelope) ok() bool {
	return e.Code == codeOK
}

// noPermission reports whether the envelope carries the skip-this-platform code
func (e *envelope) noPermission() bool {
	return e.Code == codeNoPermission
}

// ---------------------------------------------------------------------------
// Report-pagination mode payloads
// ---------------------------------------------------------------------------

// reportPage is the data payload of one report-listing page
type reportPage struct {
	Total int         `json:"total"`
	Rows  []ReportRow `json:"rows"`
}

// ReportRow is one consolidated sale row from the per-platform report
// endpoint. Amounts arrive as strings in the aggregator's locale.
type ReportRow struct {
	OrderID      string `json:"orderId"`
	PayTime      string `json:"payTime"`
	ShopName     string `json:"shopName"`
	Platform     string `json:"platform"`
	ProductName  string `json:"productName"`
	AdName       string `json:"adName"`
	Variation    string `json:"variation"`
	SKU          string `json:"sku"`
	Quantity     string `json:"quantity"`
	Amount       string `json:"amount"`
	UnitPrice    string `json:"unitPrice"`
	State        string `json:"state"`
	Status       string `json:"status"`
	CancelBy     string `json:"cancelBy"`
	CancelReason string `json:"cancelReason"`
	ImageURL     string `json:"imageUrl"`
}

// ---------------------------------------------------------------------------
// Order-index pagination mode payloads
// ---------------------------------------------------------------------------

// orderPage is the data payload of one order-listing page
type orderPage struct {
	Rows []Order `json:"rows"`
}

// Order is one order from the order-index endpoint, carrying its line items.
// The order-level amount must be distributed across items downstream.
type Order struct {
	OrderID      string      `json:"orderId"`
	PayTime      string      `json:"payTime"`
	ShopName     string      `json:"shopName"`
	Platform     string      `json:"platform"`
	State        string      `json:"state"`
	Status       string      `json:"status"`
	OrderAmount  string      `json:"orderAmount"`
	CancelBy     string      `json:"cancelBy"`
	CancelReason string      `json:"cancelReason"`
	Items        []OrderItem `json:"items"`
}

// OrderItem is one line item inside an Order
type OrderItem struct {
	ProductName string `json:"productName"`
	AdName      string `json:"adName"`
	Variation   string `json:"variation"`
	SKU         string `json:"sku"`
	Price       string `json:"price"`
	Quantity    string `json:"quantity"`
	ImageURL    string `json:"imageUrl"`
}
