package ledger

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidQuantity = errors.New("ledger: quantity must be positive")
	ErrMissingDate     = errors.New("ledger: sale date is required")
	ErrMissingTotal    = errors.New("ledger: sale total is required")
)

// ---------------------------------------------------------------------------
// SaleChannel
// ---------------------------------------------------------------------------

// SaleChannel identifies the ingestion lane a record arrived through.
type SaleChannel string

const (
	// SaleChannelOnline marks records pulled from the marketplace aggregator
	SaleChannelOnline SaleChannel = "online"
	// SaleChannelAtacado marks wholesale records from the legacy ERP database
	SaleChannelAtacado SaleChannel = "atacado"
	// SaleChannelOther marks records from manual spreadsheet imports
	SaleChannelOther SaleChannel = "other"
)

// IsValid returns true if the channel is a known ingestion lane
func (c SaleChannel) IsValid() bool {
	switch c {
	case SaleChannelOnline, SaleChannelAtacado, SaleChannelOther:
		return true
	default:
		return false
	}
}

// String returns the string representation of SaleChannel
func (c SaleChannel) String() string {
	return string(c)
}

// ---------------------------------------------------------------------------
// RecordKey
// ---------------------------------------------------------------------------

// RecordKey is the identity of a row in the ledger. At most one stored row may
// exist per key; a newer record with the same key replaces the stored one.
type RecordKey struct {
	OrderID   string
	Product   string
	Variation string
}

// ---------------------------------------------------------------------------
// SaleRecord
// ---------------------------------------------------------------------------

// SaleRecord is the canonical shape every source is normalized into before it
// reaches the ledger.
type SaleRecord struct {
	// OrderID is the source-assigned order identifier. Legacy rows that lack
	// one receive a synthetic date+store identifier during normalization.
	OrderID      string
	Date         time.Time
	Store        string
	Product      string
	AdName       string
	Variation    string
	SKU          string
	Quantity     decimal.Decimal
	Total        decimal.Decimal
	UnitPrice    decimal.Decimal
	State        string
	Platform     string
	Status       string
	CancelBy     string
	CancelReason string
	Image        string
	ClientName   string
	CodCli       string
	NomeFantasia string
	CnpjCpf      string
	Channel      SaleChannel
}

// Key returns the ledger key for this record. A nil/absent variation
// normalizes to the empty string so it compares equal across sources.
func (r *SaleRecord) Key() RecordKey {
	return RecordKey{
		OrderID:   r.OrderID,
		Product:   r.Product,
		Variation: r.Variation,
	}
}

// EffectiveUnitPrice returns the unit price, deriving total/quantity when the
// source did not carry one.
func (r *SaleRecord) EffectiveUnitPrice() decimal.Decimal {
	if !r.UnitPrice.IsZero() {
		return r.UnitPrice
	}
	if r.Quantity.IsZero() {
		return decimal.Zero
	}
	return r.Total.DivRound(r.Quantity, 4)
}

// canceledMarkers are the canonicalized status substrings that flag a dead
// order across the source platforms.
var canceledMarkers = []string{"cancelado", "cancelada", "canceled", "cancelled"}

// IsCanceled reports whether the record represents a canceled (excluded) sale.
//
// A refunded order still counts as a valid sale: the platforms report those
// with a zero order total while the item-level price stays non-zero, so a
// zero total alone does not mark the record canceled. The status string is
// the authoritative signal.
func (r *SaleRecord) IsCanceled() bool {
	status := strings.ToLower(strings.TrimSpace(r.Status))
	if status == "" {
		return false
	}
	for _, marker := range canceledMarkers {
		if strings.Contains(status, marker) {
			return true
		}
	}
	return false
}

// IsRefunded reports whether the record looks like a refunded-but-valid sale:
// the order total collapsed to zero while the unit price survived.
func (r *SaleRecord) IsRefunded() bool {
	return !r.IsCanceled() && r.Total.IsZero() && !r.UnitPrice.IsZero()
}

// Validate checks the invariants the ledger depends on
func (r *SaleRecord) Validate() error {
	if r.Date.IsZero() {
		return ErrMissingDate
	}
	if r.Quantity.Sign() <= 0 {
		return ErrInvalidQuantity
	}
	// canceled orders arrive with their amounts zeroed; anything else must
	// carry a total or a unit price
	if r.Total.IsZero() && r.UnitPrice.IsZero() && !r.IsCanceled() {
		return ErrMissingTotal
	}
	return nil
}

// ---------------------------------------------------------------------------
// UpsertResult
// ---------------------------------------------------------------------------

// UpsertResult reports how a batch landed in the ledger
type UpsertResult struct {
	// Inserted is the number of rows that did not previously exist
	Inserted int
	// Updated is the number of rows whose key already existed
	Updated int
}

// Total returns the number of rows applied
func (r UpsertResult) Total() int {
	return r.Inserted + r.Updated
}

// Add merges another result into this one
func (r *UpsertResult) Add(other UpsertResult) {
	r.Inserted += other.Inserted
	r.Updated += other.Updated
}
