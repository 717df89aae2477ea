package persistence

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	syncdomain "github.com/salesledger/backend/internal/domain/sync"
	"github.com/salesledger/backend/internal/infrastructure/persistence/models"
	"github.com/salesledger/backend/internal/infrastructure/vault"
)

// GormSettingsRepository implements sync.SettingsRepository. Secret fields
// cross this boundary as vault tokens: plaintext exists only in memory on
// either side of it.
type GormSettingsRepository struct {
	db    *gorm.DB
	vault *vault.Vault
}

// NewGormSettingsRepository creates a new settings repository
func NewGormSettingsRepository(db *gorm.DB, v *vault.Vault) *GormSettingsRepository {
	return &GormSettingsRepository{db: db, vault: v}
}

// Get returns the settings for a source with secrets decrypted, or nil when
// the source has never been configured
func (r *GormSettingsRepository) Get(ctx context.Context, source syncdomain.SourceKind) (*syncdomain.IntegrationSettings, error) {
	var model models.IntegrationSettingModel
	err := r.db.WithContext(ctx).
		Where("source = ?", source.String()).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	settings := &syncdomain.IntegrationSettings{
		Source:      syncdomain.SourceKind(model.Source),
		Active:      model.Active,
		DefaultDays: model.DefaultDays,
		BaseURL:     model.BaseURL,
		Email:       model.Email,
		DBHost:      model.DBHost,
		DBPort:      model.DBPort,
		DBPath:      model.DBPath,
		DBUser:      model.DBUser,
		Query:       model.Query,
	}

	if model.PasswordEnc != "" {
		plain, err := r.vault.Decrypt(model.PasswordEnc)
		if err != nil {
			return nil, fmt.Errorf("decrypting password for %s: %w", source, err)
		}
		settings.Password = plain
	}
	if model.DBPasswordEnc != "" {
		plain, err := r.vault.Decrypt(model.DBPasswordEnc)
		if err != nil {
			return nil, fmt.Errorf("decrypting db password for %s: %w", source, err)
		}
		settings.DBPassword = plain
	}

	return settings, nil
}

// Save encrypts secret fields and stores the settings. An empty secret keeps
// the previously stored one, so operators can update connection parameters
// without re-entering passwords.
func (r *GormSettingsRepository) Save(ctx context.Context, settings *syncdomain.IntegrationSettings) error {
	model := models.IntegrationSettingModel{
		Source:      settings.Source.String(),
		Active:      settings.Active,
		DefaultDays: settings.DefaultDays,
		BaseURL:     settings.BaseURL,
		Email:       settings.Email,
		DBHost:      settings.DBHost,
		DBPort:      settings.DBPort,
		DBPath:      settings.DBPath,
		DBUser:      settings.DBUser,
		Query:       settings.Query,
	}

	assignments := []string{
		"active", "default_days", "base_url", "email",
		"db_host", "db_port", "db_path", "db_user", "query", "updated_at",
	}

	if settings.Password != "" {
		token, err := r.vault.Encrypt(settings.Password)
		if err != nil {
			return fmt.Errorf("encrypting password for %s: %w", settings.Source, err)
		}
		model.PasswordEnc = token
		assignments = append(assignments, "password_enc")
	}
	if settings.DBPassword != "" {
		token, err := r.vault.Encrypt(settings.DBPassword)
		if err != nil {
			return fmt.Errorf("encrypting db password for %s: %w", settings.Source, err)
		}
		model.DBPasswordEnc = token
		assignments = append(assignments, "db_password_enc")
	}

	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "source"}},
		DoUpdates: clause.AssignmentColumns(assignments),
	}).Create(&model).Error
}

// Ensure GormSettingsRepository implements SettingsRepository
var _ syncdomain.SettingsRepository = (*GormSettingsRepository)(nil)
