package sync

import (
	"context"
	"time"
)

// ---------------------------------------------------------------------------
// SourceKind
// ---------------------------------------------------------------------------

// SourceKind identifies an independent source integration feeding the ledger.
type SourceKind string

const (
	// SourceAggregator is the marketplace-aggregator web application
	SourceAggregator SourceKind = "aggregator"
	// SourceLegacyDB is the on-premise Firebird ERP database
	SourceLegacyDB SourceKind = "legacydb"
	// SourceSpreadsheet is the manual spreadsheet import lane
	SourceSpreadsheet SourceKind = "spreadsheet"
)

// IsValid returns true if the source kind is known
func (k SourceKind) IsValid() bool {
	switch k {
	case SourceAggregator, SourceLegacyDB, SourceSpreadsheet:
		return true
	default:
		return false
	}
}

// String returns the string representation of SourceKind
func (k SourceKind) String() string {
	return string(k)
}

// ---------------------------------------------------------------------------
// RunStatus
// ---------------------------------------------------------------------------

// RunStatus is the persisted outcome of a pipeline execution.
type RunStatus string

const (
	RunStatusSuccess RunStatus = "success"
	RunStatusError   RunStatus = "error"
)

// ---------------------------------------------------------------------------
// SyncRun
// ---------------------------------------------------------------------------

// SyncRun records the last pipeline execution for one source integration.
// It is mutated atomically at the end of every run, whatever the outcome.
type SyncRun struct {
	Source    SourceKind
	LastRunAt time.Time
	Status    RunStatus
	Message   string
	Rows      int
}

// RunResult is what a single invocation of the pipeline reports back to the
// scheduler and to manual-trigger callers.
type RunResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Rows    int    `json:"rows"`
}

// SyncRunRepository persists run outcomes and answers status queries.
type SyncRunRepository interface {
	// Record upserts the run outcome for a source
	Record(ctx context.Context, run *SyncRun) error
	// Last returns the most recent run for a source, or nil when the source
	// has never run
	Last(ctx context.Context, source SourceKind) (*SyncRun, error)
}

// ---------------------------------------------------------------------------
// IntegrationSettings
// ---------------------------------------------------------------------------

// IntegrationSettings holds per-source connection parameters. Secret fields
// are stored encrypted and decrypted only in memory; readers outside the
// pipeline receive them masked.
type IntegrationSettings struct {
	Source SourceKind
	// Active gates whether scheduler ticks execute at all
	Active bool
	// DefaultDays is the size of the fetch window counted back from today
	DefaultDays int

	// Aggregator parameters
	BaseURL  string
	Email    string
	Password string

	// Legacy database parameters
	DBHost     string
	DBPort     int
	DBPath     string
	DBUser     string
	DBPassword string
	// Query is the operator-authored SQL executed verbatim against the
	// legacy database
	Query string
}

// Complete reports whether every field the source's pipeline requires is set.
func (s *IntegrationSettings) Complete() bool {
	switch s.Source {
	case SourceAggregator:
		return s.BaseURL != "" && s.Email != "" && s.Password != ""
	case SourceLegacyDB:
		return s.DBHost != "" && s.DBPath != "" && s.DBUser != "" && s.DBPassword != "" && s.Query != ""
	case SourceSpreadsheet:
		// Spreadsheet imports are pushed, not pulled; nothing to configure
		return true
	default:
		return false
	}
}

// SettingsRepository persists integration settings with secrets encrypted at
// rest.
type SettingsRepository interface {
	// Get returns the settings for a source with secrets decrypted, or nil
	// when the source has never been configured
	Get(ctx context.Context, source SourceKind) (*IntegrationSettings, error)
	// Save encrypts secret fields and stores the settings
	Save(ctx context.Context, settings *IntegrationSettings) error
}
