package sync

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	stdsync "sync"
	"time"

	"go.uber.org/zap"

	"github.com/salesledger/backend/internal/application/ingest"
	"github.com/salesledger/backend/internal/domain/ledger"
	syncdomain "github.com/salesledger/backend/internal/domain/sync"
	"github.com/salesledger/backend/internal/infrastructure/aggregator"
	"github.com/salesledger/backend/internal/infrastructure/legacydb"
)

const defaultWindowDays = 30

// ---------------------------------------------------------------------------
// Ports
// ---------------------------------------------------------------------------

// AggregatorGateway is the per-integration handle over the aggregator: one
// session lifecycle plus the two fetch modes.
type AggregatorGateway interface {
	Ensure(ctx context.Context) (*syncdomain.SessionCredential, error)
	Invalidate(ctx context.Context) error
	FetchReport(ctx context.Context, cred *syncdomain.SessionCredential, start, end time.Time) ([]aggregator.ReportRow, error)
	FetchOrders(ctx context.Context, cred *syncdomain.SessionCredential, start, end time.Time) ([]aggregator.Order, error)
}

// AggregatorGatewayFactory builds a gateway from the stored integration
// settings. Connection parameters live in the database, so the gateway is
// constructed per run rather than at process start.
type AggregatorGatewayFactory func(settings *syncdomain.IntegrationSettings) (AggregatorGateway, error)

// LegacyQuerier executes operator-authored SQL against the legacy database
type LegacyQuerier interface {
	Query(ctx context.Context, params *legacydb.ConnectionParams, query string) ([]legacydb.RawRow, error)
}

// SpreadsheetReader parses an uploaded workbook into raw string rows
type SpreadsheetReader func(r io.Reader) ([][]string, error)

// ---------------------------------------------------------------------------
// Service
// ---------------------------------------------------------------------------

// Service runs the source pipelines and owns run history. One run per source
// may be in flight at a time; concurrent triggers for the same source are
// rejected, never queued. Different sources run independently.
type Service struct {
	aggregator AggregatorGatewayFactory
	legacy     LegacyQuerier
	sheets     SpreadsheetReader
	csvRows    SpreadsheetReader
	records    ledger.SaleRecordRepository
	runs       syncdomain.SyncRunRepository
	settings   syncdomain.SettingsRepository
	logger     *zap.Logger

	now func() time.Time

	mu      stdsync.Mutex
	running map[syncdomain.SourceKind]bool

	// legacyCharset overrides the code page used to decode legacy text
	// columns; empty keeps the connector's default
	legacyCharset string
}

// ServiceOption customizes an optional service dependency
type ServiceOption func(*Service)

// WithLegacyCharset sets the code page legacy text columns are decoded from
func WithLegacyCharset(charset string) ServiceOption {
	return func(s *Service) {
		s.legacyCharset = charset
	}
}

// NewService creates the sync service
func NewService(
	aggregatorFactory AggregatorGatewayFactory,
	legacy LegacyQuerier,
	records ledger.SaleRecordRepository,
	runs syncdomain.SyncRunRepository,
	settings syncdomain.SettingsRepository,
	logger *zap.Logger,
	opts ...ServiceOption,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		aggregator: aggregatorFactory,
		legacy:     legacy,
		sheets:     ingest.ReadSpreadsheet,
		csvRows:    ingest.ReadCSV,
		records:    records,
		runs:       runs,
		settings:   settings,
		logger:     logger,
		now:        time.Now,
		running:    make(map[syncdomain.SourceKind]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunSync executes the pipeline for one source and records the outcome.
// Trigger-level rejections (unknown source, a run already in flight) return
// an error and leave run history untouched; everything past that point is an
// executed run whose outcome, success or error, is persisted before return.
func (s *Service) RunSync(ctx context.Context, source syncdomain.SourceKind) (syncdomain.RunResult, error) {
	if !source.IsValid() {
		return syncdomain.RunResult{}, fmt.Errorf("sync: unknown source %q", source)
	}
	if source == syncdomain.SourceSpreadsheet {
		return syncdomain.RunResult{}, fmt.Errorf("sync: source %q is import-only, upload a spreadsheet instead", source)
	}
	if !s.acquire(source) {
		return syncdomain.RunResult{}, syncdomain.ErrAlreadyRunning
	}
	defer s.release(source)

	result := s.execute(ctx, source)
	s.recordRun(ctx, source, result)
	return result, nil
}

// ImportSpreadsheet ingests an uploaded workbook into the ledger. It shares
// the single-flight guard and run history with scheduled sources under the
// spreadsheet source. The filename picks the reader: .csv goes through the
// CSV path, everything else is treated as xlsx.
func (s *Service) ImportSpreadsheet(ctx context.Context, r io.Reader, filename string) (syncdomain.RunResult, error) {
	source := syncdomain.SourceSpreadsheet
	if !s.acquire(source) {
		return syncdomain.RunResult{}, syncdomain.ErrAlreadyRunning
	}
	defer s.release(source)

	read := s.sheets
	if strings.EqualFold(filepath.Ext(filename), ".csv") {
		read = s.csvRows
	}

	result := s.guarded(func() syncdomain.RunResult {
		rows, err := read(r)
		if err != nil {
			return failure("reading spreadsheet: %v", err)
		}
		return s.commit(ctx, ingest.NormalizeSheet(rows), ledger.SaleChannelOther)
	})
	s.recordRun(ctx, source, result)
	return result, nil
}

// Status reports the per-integration state the operator UI polls
func (s *Service) Status(ctx context.Context) ([]IntegrationStatus, error) {
	sources := []syncdomain.SourceKind{
		syncdomain.SourceAggregator,
		syncdomain.SourceLegacyDB,
		syncdomain.SourceSpreadsheet,
	}

	statuses := make([]IntegrationStatus, 0, len(sources))
	for _, source := range sources {
		settings, err := s.settings.Get(ctx, source)
		if err != nil {
			return nil, fmt.Errorf("sync: loading settings for %s: %w", source, err)
		}
		run, err := s.runs.Last(ctx, source)
		if err != nil {
			return nil, fmt.Errorf("sync: loading last run for %s: %w", source, err)
		}
		statuses = append(statuses, newIntegrationStatus(source, settings, run, s.isRunning(source)))
	}
	return statuses, nil
}

// ---------------------------------------------------------------------------
// Pipeline execution
// ---------------------------------------------------------------------------

// execute runs the gated pipeline for one source. Gate failures (inactive,
// incomplete configuration) are executed runs with an error outcome, per the
// operator-facing contract: the status row must explain why nothing synced.
func (s *Service) execute(ctx context.Context, source syncdomain.SourceKind) syncdomain.RunResult {
	return s.guarded(func() syncdomain.RunResult {
		settings, err := s.settings.Get(ctx, source)
		if err != nil {
			return failure("loading settings: %v", err)
		}
		if settings == nil {
			return failure("%v", syncdomain.ErrIntegrationNotConfigured)
		}
		if !settings.Active {
			return failure("%v", syncdomain.ErrIntegrationInactive)
		}
		if !settings.Complete() {
			return failure("%v", syncdomain.ErrIntegrationNotConfigured)
		}

		start, end := s.window(settings.DefaultDays)
		switch source {
		case syncdomain.SourceAggregator:
			return s.runAggregator(ctx, settings, start, end)
		case syncdomain.SourceLegacyDB:
			return s.runLegacy(ctx, settings)
		default:
			return failure("source %q has no pull pipeline", source)
		}
	})
}

// guarded converts a panic from any inner step into an error outcome, so a
// run never escapes without a recordable result.
func (s *Service) guarded(fn func() syncdomain.RunResult) (result syncdomain.RunResult) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("sync run panicked", zap.Any("panic", r))
			result = failure("panic: %v", r)
		}
	}()
	return fn()
}

func (s *Service) runAggregator(ctx context.Context, settings *syncdomain.IntegrationSettings, start, end time.Time) syncdomain.RunResult {
	gateway, err := s.aggregator(settings)
	if err != nil {
		return failure("building aggregator gateway: %v", err)
	}

	cred, err := gateway.Ensure(ctx)
	if err != nil {
		return failure("establishing session: %v", err)
	}

	rows, err := gateway.FetchReport(ctx, cred, start, end)
	if err != nil {
		return s.aggregatorFailure(ctx, gateway, "fetching report", err)
	}
	result := ingest.NormalizeReportRows(rows)

	// The report listing is the richer, line-level mode. When it comes back
	// empty the order index still covers the window, so fall back to it.
	if len(result.Records) == 0 {
		orders, err := gateway.FetchOrders(ctx, cred, start, end)
		if err != nil {
			return s.aggregatorFailure(ctx, gateway, "fetching orders", err)
		}
		result = ingest.NormalizeOrders(orders)
	}

	return s.commit(ctx, result, ledger.SaleChannelOnline)
}

// aggregatorFailure invalidates the cached session when the fetch error looks
// like a dead session, so the next run performs a full login instead of
// re-failing on the same cookie.
func (s *Service) aggregatorFailure(ctx context.Context, gateway AggregatorGateway, step string, err error) syncdomain.RunResult {
	if syncdomain.IsLoginError(err) {
		if invErr := gateway.Invalidate(ctx); invErr != nil {
			s.logger.Warn("failed to invalidate stale session", zap.Error(invErr))
		}
	}
	return failure("%s: %v", step, err)
}

func (s *Service) runLegacy(ctx context.Context, settings *syncdomain.IntegrationSettings) syncdomain.RunResult {
	params := &legacydb.ConnectionParams{
		Host:     settings.DBHost,
		Port:     settings.DBPort,
		Path:     settings.DBPath,
		User:     settings.DBUser,
		Password: settings.DBPassword,
		Charset:  s.legacyCharset,
	}

	rows, err := s.legacy.Query(ctx, params, settings.Query)
	if err != nil {
		return failure("querying legacy database: %v", err)
	}
	return s.commit(ctx, ingest.NormalizeLegacyRows(rows), ledger.SaleChannelAtacado)
}

// commit upserts normalized records and shapes the run outcome. Rejected rows
// do not fail the run; they are counted in the message so the operator can
// see data-quality drift without losing the good rows.
func (s *Service) commit(ctx context.Context, normalized ingest.Result, channel ledger.SaleChannel) syncdomain.RunResult {
	upserted, err := s.records.UpsertBatch(ctx, normalized.Records, channel)
	if err != nil {
		return failure("writing ledger: %v", err)
	}

	for _, rejected := range normalized.Rejected {
		s.logger.Warn("row rejected during normalization",
			zap.String("channel", channel.String()),
			zap.Int("row", rejected.Index),
			zap.String("reason", rejected.Reason))
	}

	message := fmt.Sprintf("%d inserted, %d updated", upserted.Inserted, upserted.Updated)
	if len(normalized.Rejected) > 0 {
		message = fmt.Sprintf("%s, %d rejected", message, len(normalized.Rejected))
	}
	return syncdomain.RunResult{Success: true, Message: message, Rows: upserted.Total()}
}

// window computes the fetch window counted back from today
func (s *Service) window(days int) (time.Time, time.Time) {
	if days <= 0 {
		days = defaultWindowDays
	}
	end := s.now()
	return end.AddDate(0, 0, -days), end
}

func (s *Service) recordRun(ctx context.Context, source syncdomain.SourceKind, result syncdomain.RunResult) {
	status := syncdomain.RunStatusSuccess
	if !result.Success {
		status = syncdomain.RunStatusError
	}
	run := &syncdomain.SyncRun{
		Source:    source,
		LastRunAt: s.now(),
		Status:    status,
		Message:   result.Message,
		Rows:      result.Rows,
	}
	if err := s.runs.Record(ctx, run); err != nil {
		// Run history is best effort; the caller still gets the result.
		s.logger.Error("failed to record sync run", zap.String("source", source.String()), zap.Error(err))
	}
}

// ---------------------------------------------------------------------------
// Single-flight guard
// ---------------------------------------------------------------------------

func (s *Service) acquire(source syncdomain.SourceKind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[source] {
		return false
	}
	s.running[source] = true
	return true
}

func (s *Service) release(source syncdomain.SourceKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, source)
}

func (s *Service) isRunning(source syncdomain.SourceKind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running[source]
}

func failure(format string, args ...any) syncdomain.RunResult {
	return syncdomain.RunResult{Success: false, Message: fmt.Sprintf(format, args...)}
}
