package models

import (
	"time"

	syncdomain "github.com/salesledger/backend/internal/domain/sync"
)

// SyncRunModel holds the last pipeline execution per source. One row per
// source, overwritten at the end of every run.
type SyncRunModel struct {
	Source    string    `gorm:"type:varchar(20);primaryKey"`
	LastRunAt time.Time `gorm:"not null"`
	Status    string    `gorm:"type:varchar(20);not null"`
	Message   string    `gorm:"type:text"`
	Rows      int       `gorm:"not null;default:0"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (SyncRunModel) TableName() string {
	return "sync_runs"
}

// ToDomain converts the persistence model to a domain SyncRun
func (m *SyncRunModel) ToDomain() *syncdomain.SyncRun {
	return &syncdomain.SyncRun{
		Source:    syncdomain.SourceKind(m.Source),
		LastRunAt: m.LastRunAt,
		Status:    syncdomain.RunStatus(m.Status),
		Message:   m.Message,
		Rows:      m.Rows,
	}
}

// FromDomain populates the persistence model from a domain SyncRun
func (m *SyncRunModel) FromDomain(run *syncdomain.SyncRun) {
	m.Source = run.Source.String()
	m.LastRunAt = run.LastRunAt
	m.Status = string(run.Status)
	m.Message = run.Message
	m.Rows = run.Rows
}

// IntegrationSettingModel holds per-source connection parameters. Secret
// columns carry vault tokens, never plaintext.
type IntegrationSettingModel struct {
	Source      string `gorm:"type:varchar(20);primaryKey"`
	Active      bool   `gorm:"not null;default:false"`
	DefaultDays int    `gorm:"not null;default:30"`

	BaseURL     string `gorm:"type:varchar(255)"`
	Email       string `gorm:"type:varchar(255)"`
	PasswordEnc string `gorm:"type:text;column:password_enc"`

	DBHost        string `gorm:"type:varchar(255)"`
	DBPort        int    `gorm:"default:0"`
	DBPath        string `gorm:"type:varchar(512)"`
	DBUser        string `gorm:"type:varchar(120)"`
	DBPasswordEnc string `gorm:"type:text;column:db_password_enc"`
	Query         string `gorm:"type:text"`

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (IntegrationSettingModel) TableName() string {
	return "integration_settings"
}
