package sync

import (
	"context"
	"fmt"
	"time"

	syncdomain "github.com/salesledger/backend/internal/domain/sync"
)

// ---------------------------------------------------------------------------
// Status DTOs
// ---------------------------------------------------------------------------

// IntegrationStatus is the per-source state the operator UI polls
type IntegrationStatus struct {
	Source          string     `json:"source"`
	Active          bool       `json:"active"`
	Configured      bool       `json:"configured"`
	Running         bool       `json:"running"`
	LastSyncAt      *time.Time `json:"last_sync_at,omitempty"`
	LastSyncStatus  string     `json:"last_sync_status,omitempty"`
	LastSyncMessage string     `json:"last_sync_message,omitempty"`
	LastSyncRows    int        `json:"last_sync_rows"`
}

func newIntegrationStatus(source syncdomain.SourceKind, settings *syncdomain.IntegrationSettings, run *syncdomain.SyncRun, running bool) IntegrationStatus {
	status := IntegrationStatus{
		Source:  source.String(),
		Running: running,
	}
	if settings != nil {
		status.Active = settings.Active
		status.Configured = settings.Complete()
	}
	if run != nil {
		at := run.LastRunAt
		status.LastSyncAt = &at
		status.LastSyncStatus = string(run.Status)
		status.LastSyncMessage = run.Message
		status.LastSyncRows = run.Rows
	}
	return status
}

// ---------------------------------------------------------------------------
// Settings DTOs
// ---------------------------------------------------------------------------

// SettingsResponse is the stored configuration with secrets masked. Secret
// values never leave the service; readers only learn whether one is set.
type SettingsResponse struct {
	Source      string `json:"source"`
	Active      bool   `json:"active"`
	DefaultDays int    `json:"default_days"`

	BaseURL     string `json:"base_url,omitempty"`
	Email       string `json:"email,omitempty"`
	PasswordSet bool   `json:"password_set"`

	DBHost        string `json:"db_host,omitempty"`
	DBPort        int    `json:"db_port,omitempty"`
	DBPath        string `json:"db_path,omitempty"`
	DBUser        string `json:"db_user,omitempty"`
	DBPasswordSet bool   `json:"db_password_set"`
	Query         string `json:"query,omitempty"`
}

// UpdateSettingsRequest replaces a source's configuration. Blank secret
// fields keep the stored secret, so operators can edit connection details
// without re-entering passwords.
type UpdateSettingsRequest struct {
	Active      bool `json:"active"`
	DefaultDays int  `json:"default_days" validate:"omitempty,min=1,max=365"`

	BaseURL  string `json:"base_url" validate:"omitempty,url"`
	Email    string `json:"email" validate:"omitempty,email"`
	Password string `json:"password"`

	DBHost     string `json:"db_host"`
	DBPort     int    `json:"db_port" validate:"omitempty,min=1,max=65535"`
	DBPath     string `json:"db_path"`
	DBUser     string `json:"db_user"`
	DBPassword string `json:"db_password"`
	Query      string `json:"query"`
}

func maskedSettings(settings *syncdomain.IntegrationSettings) *SettingsResponse {
	return &SettingsResponse{
		Source:        settings.Source.String(),
		Active:        settings.Active,
		DefaultDays:   settings.DefaultDays,
		BaseURL:       settings.BaseURL,
		Email:         settings.Email,
		PasswordSet:   settings.Password != "",
		DBHost:        settings.DBHost,
		DBPort:        settings.DBPort,
		DBPath:        settings.DBPath,
		DBUser:        settings.DBUser,
		DBPasswordSet: settings.DBPassword != "",
		Query:         settings.Query,
	}
}

// Settings returns the stored configuration for a source with secrets
// masked, or nil when the source has never been configured.
func (s *Service) Settings(ctx context.Context, source syncdomain.SourceKind) (*SettingsResponse, error) {
	if !source.IsValid() {
		return nil, fmt.Errorf("sync: unknown source %q", source)
	}
	settings, err := s.settings.Get(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("sync: loading settings: %w", err)
	}
	if settings == nil {
		return nil, nil
	}
	return maskedSettings(settings), nil
}

// SaveSettings stores a source's configuration and returns the masked result.
// The repository layer keeps previously stored secrets when the request
// leaves them blank.
func (s *Service) SaveSettings(ctx context.Context, source syncdomain.SourceKind, req *UpdateSettingsRequest) (*SettingsResponse, error) {
	if !source.IsValid() {
		return nil, fmt.Errorf("sync: unknown source %q", source)
	}

	settings := &syncdomain.IntegrationSettings{
		Source:      source,
		Active:      req.Active,
		DefaultDays: req.DefaultDays,
		BaseURL:     req.BaseURL,
		Email:       req.Email,
		Password:    req.Password,
		DBHost:      req.DBHost,
		DBPort:      req.DBPort,
		DBPath:      req.DBPath,
		DBUser:      req.DBUser,
		DBPassword:  req.DBPassword,
		Query:       req.Query,
	}
	if err := s.settings.Save(ctx, settings); err != nil {
		return nil, fmt.Errorf("sync: saving settings: %w", err)
	}

	stored, err := s.settings.Get(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("sync: reloading settings: %w", err)
	}
	return maskedSettings(stored), nil
}
