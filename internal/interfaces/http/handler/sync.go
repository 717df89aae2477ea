package handler

import (
	"context"
	"errors"
	"io"

	"github.com/gin-gonic/gin"

	syncapp "github.com/salesledger/backend/internal/application/sync"
	syncdomain "github.com/salesledger/backend/internal/domain/sync"
	"github.com/salesledger/backend/internal/interfaces/http/dto"
	"github.com/salesledger/backend/internal/interfaces/http/middleware"
)

// maxSpreadsheetSize bounds uploaded workbook size
const maxSpreadsheetSize = 20 << 20

// SyncService is the application surface the sync endpoints expose
type SyncService interface {
	RunSync(ctx context.Context, source syncdomain.SourceKind) (syncdomain.RunResult, error)
	ImportSpreadsheet(ctx context.Context, r io.Reader, filename string) (syncdomain.RunResult, error)
	Status(ctx context.Context) ([]syncapp.IntegrationStatus, error)
	Settings(ctx context.Context, source syncdomain.SourceKind) (*syncapp.SettingsResponse, error)
	SaveSettings(ctx context.Context, source syncdomain.SourceKind, req *syncapp.UpdateSettingsRequest) (*syncapp.SettingsResponse, error)
}

// SyncHandler handles sync pipeline HTTP requests
type SyncHandler struct {
	BaseHandler
	service SyncService
}

// NewSyncHandler creates a new SyncHandler
func NewSyncHandler(service SyncService) *SyncHandler {
	return &SyncHandler{service: service}
}

// RegisterRoutes registers sync routes
func (h *SyncHandler) RegisterRoutes(rg *gin.RouterGroup) {
	integrations := rg.Group("/integrations")
	{
		integrations.GET("/status", h.Status)
		integrations.GET("/:source/status", h.SourceStatus)
		integrations.POST("/:source/sync", h.Run)
		integrations.GET("/:source/settings", h.GetSettings)
		integrations.PUT("/:source/settings", h.PutSettings)
	}
	rg.POST("/imports/spreadsheet", h.ImportSpreadsheet)
}

// UpdateSettingsHTTPRequest is the request body for replacing a source's
// configuration. Blank secret fields keep the stored secret.
type UpdateSettingsHTTPRequest struct {
	Active      bool `json:"active"`
	DefaultDays int  `json:"default_days" binding:"omitempty,min=1,max=365"`

	BaseURL  string `json:"base_url" binding:"omitempty,url"`
	Email    string `json:"email" binding:"omitempty,email"`
	Password string `json:"password"`

	DBHost     string `json:"db_host"`
	DBPort     int    `json:"db_port" binding:"omitempty,min=1,max=65535"`
	DBPath     string `json:"db_path"`
	DBUser     string `json:"db_user"`
	DBPassword string `json:"db_password"`
	Query      string `json:"query"`
}

// Status returns the per-integration sync state
func (h *SyncHandler) Status(c *gin.Context) {
	statuses, err := h.service.Status(c.Request.Context())
	if err != nil {
		h.InternalError(c, err.Error())
		return
	}
	h.Success(c, statuses)
}

// SourceStatus returns the sync state of one integration
func (h *SyncHandler) SourceStatus(c *gin.Context) {
	source, ok := h.sourceParam(c)
	if !ok {
		return
	}

	statuses, err := h.service.Status(c.Request.Context())
	if err != nil {
		h.InternalError(c, err.Error())
		return
	}
	for _, status := range statuses {
		if status.Source == source.String() {
			h.Success(c, status)
			return
		}
	}
	h.NotFound(c, "no status for source \""+source.String()+"\"")
}

// Run triggers a sync run for one source. A run already in flight for the
// same source rejects the trigger with a conflict, it is never queued.
func (h *SyncHandler) Run(c *gin.Context) {
	source, ok := h.sourceParam(c)
	if !ok {
		return
	}

	result, err := h.service.RunSync(c.Request.Context(), source)
	if err != nil {
		if errors.Is(err, syncdomain.ErrAlreadyRunning) {
			h.Conflict(c, dto.ErrCodeSyncRunning, err.Error())
			return
		}
		h.BadRequest(c, err.Error())
		return
	}
	h.Success(c, result)
}

// GetSettings returns stored integration settings with secrets masked
func (h *SyncHandler) GetSettings(c *gin.Context) {
	source, ok := h.sourceParam(c)
	if !ok {
		return
	}

	settings, err := h.service.Settings(c.Request.Context(), source)
	if err != nil {
		h.InternalError(c, err.Error())
		return
	}
	if settings == nil {
		h.ErrorWithCode(c, dto.ErrCodeNotConfigured, "integration has not been configured")
		return
	}
	h.Success(c, settings)
}

// PutSettings replaces a source's configuration
func (h *SyncHandler) PutSettings(c *gin.Context) {
	source, ok := h.sourceParam(c)
	if !ok {
		return
	}

	var req UpdateSettingsHTTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	settings, err := h.service.SaveSettings(c.Request.Context(), source, &syncapp.UpdateSettingsRequest{
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
	})
	if err != nil {
		h.InternalError(c, err.Error())
		return
	}
	h.Success(c, settings)
}

// ImportSpreadsheet ingests an uploaded workbook into the ledger
func (h *SyncHandler) ImportSpreadsheet(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		h.BadRequest(c, "multipart field \"file\" is required")
		return
	}
	if file.Size > maxSpreadsheetSize {
		h.BadRequest(c, "spreadsheet exceeds the size limit")
		return
	}

	reader, err := file.Open()
	if err != nil {
		h.InternalError(c, err.Error())
		return
	}
	defer reader.Close()

	result, err := h.service.ImportSpreadsheet(c.Request.Context(), reader, file.Filename)
	if err != nil {
		if errors.Is(err, syncdomain.ErrAlreadyRunning) {
			h.Conflict(c, dto.ErrCodeSyncRunning, err.Error())
			return
		}
		h.InternalError(c, err.Error())
		return
	}
	h.Success(c, result)
}

// sourceParam parses and validates the :source path parameter
func (h *SyncHandler) sourceParam(c *gin.Context) (syncdomain.SourceKind, bool) {
	source := syncdomain.SourceKind(c.Param("source"))
	if !source.IsValid() {
		h.BadRequest(c, "unknown source \""+c.Param("source")+"\"")
		return "", false
	}
	return source, true
}
