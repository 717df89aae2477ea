package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/salesledger/backend/internal/domain/ledger"
)

// SaleRecordModel is the persistence model for the canonical sale record.
// The (order_id, product, variation) tuple is the ledger key: the unique
// index backs the insert-or-update upsert.
type SaleRecordModel struct {
	ID           uuid.UUID       `gorm:"type:uuid;primary_key"`
	OrderID      string          `gorm:"type:varchar(120);not null;uniqueIndex:idx_sale_records_key,priority:1"`
	Product      string          `gorm:"type:varchar(255);not null;uniqueIndex:idx_sale_records_key,priority:2"`
	Variation    string          `gorm:"type:varchar(255);not null;default:'';uniqueIndex:idx_sale_records_key,priority:3"`
	Date         time.Time       `gorm:"not null;index:idx_sale_records_date"`
	Store        string          `gorm:"type:varchar(255)"`
	AdName       string          `gorm:"type:varchar(255)"`
	SKU          string          `gorm:"type:varchar(120)"`
	Quantity     decimal.Decimal `gorm:"type:numeric(14,4);not null"`
	Total        decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	UnitPrice    decimal.Decimal `gorm:"type:numeric(14,4);not null"`
	State        string          `gorm:"type:varchar(60)"`
	Platform     string          `gorm:"type:varchar(60);index:idx_sale_records_platform"`
	Status       string          `gorm:"type:varchar(120)"`
	CancelBy     string          `gorm:"type:varchar(120)"`
	CancelReason string          `gorm:"type:text"`
	Image        string          `gorm:"type:text"`
	ClientName   string          `gorm:"type:varchar(255)"`
	CodCli       string          `gorm:"type:varchar(60)"`
	NomeFantasia string          `gorm:"type:varchar(255)"`
	CnpjCpf      string          `gorm:"type:varchar(30)"`
	Channel      string          `gorm:"type:varchar(20);not null;index:idx_sale_records_channel"`
	CreatedAt    time.Time       `gorm:"not null"`
	UpdatedAt    time.Time       `gorm:"not null"`
}

// TableName returns the table name for GORM
func (SaleRecordModel) TableName() string {
	return "sale_records"
}

// saleRecordMutableColumns are the columns overwritten on key collision.
// Identity and created_at survive; everything the source can legitimately
// re-state is replaced.
var saleRecordMutableColumns = []string{
	"date", "store", "ad_name", "sku", "quantity", "total", "unit_price",
	"state", "platform", "status", "cancel_by", "cancel_reason", "image",
	"client_name", "cod_cli", "nome_fantasia", "cnpj_cpf", "channel",
	"updated_at",
}

// SaleRecordMutableColumns returns the overwrite set for upserts
func SaleRecordMutableColumns() []string {
	return saleRecordMutableColumns
}

// ToDomain converts the persistence model to a domain SaleRecord
func (m *SaleRecordModel) ToDomain() *ledger.SaleRecord {
	return &ledger.SaleRecord{
		OrderID:      m.OrderID,
		Date:         m.Date,
		Store:        m.Store,
		Product:      m.Product,
		AdName:       m.AdName,
		Variation:    m.Variation,
		SKU:          m.SKU,
		Quantity:     m.Quantity,
		Total:        m.Total,
		UnitPrice:    m.UnitPrice,
		State:        m.State,
		Platform:     m.Platform,
		Status:       m.Status,
		CancelBy:     m.CancelBy,
		CancelReason: m.CancelReason,
		Image:        m.Image,
		ClientName:   m.ClientName,
		CodCli:       m.CodCli,
		NomeFantasia: m.NomeFantasia,
		CnpjCpf:      m.CnpjCpf,
		Channel:      ledger.SaleChannel(m.Channel),
	}
}

// FromDomain populates the persistence model from a domain SaleRecord
func (m *SaleRecordModel) FromDomain(r *ledger.SaleRecord, channel ledger.SaleChannel) {
	m.OrderID = r.OrderID
	m.Date = r.Date
	m.Store = r.Store
	m.Product = r.Product
	m.AdName = r.AdName
	m.Variation = r.Variation
	m.SKU = r.SKU
	m.Quantity = r.Quantity
	m.Total = r.Total
	m.UnitPrice = r.EffectiveUnitPrice()
	m.State = r.State
	m.Platform = r.Platform
	m.Status = r.Status
	m.CancelBy = r.CancelBy
	m.CancelReason = r.CancelReason
	m.Image = r.Image
	m.ClientName = r.ClientName
	m.CodCli = r.CodCli
	m.NomeFantasia = r.NomeFantasia
	m.CnpjCpf = r.CnpjCpf
	m.Channel = channel.String()
}
