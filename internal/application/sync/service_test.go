package sync

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salesledger/backend/internal/domain/ledger"
	syncdomain "github.com/salesledger/backend/internal/domain/sync"
	"github.com/salesledger/backend/internal/infrastructure/aggregator"
	"github.com/salesledger/backend/internal/infrastructure/legacydb"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeGateway struct {
	cred      *syncdomain.SessionCredential
	ensureErr error

	reportRows []aggregator.ReportRow
	reportErr  error
	orders     []aggregator.Order
	ordersErr  error

	start, end  time.Time
	ensures     int
	reportCalls int
	orderCalls  int
	invalidates int

	// when set, Ensure signals entered then blocks until released
	entered  chan struct{}
	released chan struct{}
}

func (g *fakeGateway) Ensure(ctx context.Context) (*syncdomain.SessionCredential, error) {
	g.ensures++
	if g.entered != nil {
		close(g.entered)
		<-g.released
	}
	if g.ensureErr != nil {
		return nil, g.ensureErr
	}
	if g.cred == nil {
		g.cred = &syncdomain.SessionCredential{Cookie: "JSESSIONID=live", SavedAt: time.Now()}
	}
	return g.cred, nil
}

func (g *fakeGateway) Invalidate(ctx context.Context) error {
	g.invalidates++
	return nil
}

func (g *fakeGateway) FetchReport(ctx context.Context, cred *syncdomain.SessionCredential, start, end time.Time) ([]aggregator.ReportRow, error) {
	g.reportCalls++
	g.start, g.end = start, end
	return g.reportRows, g.reportErr
}

func (g *fakeGateway) FetchOrders(ctx context.Context, cred *syncdomain.SessionCredential, start, end time.Time) ([]aggregator.Order, error) {
	g.orderCalls++
	g.start, g.end = start, end
	return g.orders, g.ordersErr
}

type fakeQuerier struct {
	rows   []legacydb.RawRow
	err    error
	params *legacydb.ConnectionParams
	query  string
}

func (q *fakeQuerier) Query(ctx context.Context, params *legacydb.ConnectionParams, query string) ([]legacydb.RawRow, error) {
	q.params = params
	q.query = query
	return q.rows, q.err
}

type fakeRecords struct {
	records []*ledger.SaleRecord
	channel ledger.SaleChannel
	result  ledger.UpsertResult
	err     error
	calls   int
}

func (r *fakeRecords) UpsertBatch(ctx context.Context, records []*ledger.SaleRecord, channel ledger.SaleChannel) (ledger.UpsertResult, error) {
	r.calls++
	r.records = records
	r.channel = channel
	if r.err != nil {
		return ledger.UpsertResult{}, r.err
	}
	if r.result == (ledger.UpsertResult{}) {
		return ledger.UpsertResult{Inserted: len(records)}, nil
	}
	return r.result, nil
}

type fakeRuns struct {
	runs      map[syncdomain.SourceKind]*syncdomain.SyncRun
	recordErr error
}

func newFakeRuns() *fakeRuns {
	return &fakeRuns{runs: make(map[syncdomain.SourceKind]*syncdomain.SyncRun)}
}

func (r *fakeRuns) Record(ctx context.Context, run *syncdomain.SyncRun) error {
	if r.recordErr != nil {
		return r.recordErr
	}
	copied := *run
	r.runs[run.Source] = &copied
	return nil
}

func (r *fakeRuns) Last(ctx context.Context, source syncdomain.SourceKind) (*syncdomain.SyncRun, error) {
	return r.runs[source], nil
}

type fakeSettings struct {
	bySource map[syncdomain.SourceKind]*syncdomain.IntegrationSettings
	getErr   error
}

func newFakeSettings() *fakeSettings {
	return &fakeSettings{bySource: make(map[syncdomain.SourceKind]*syncdomain.IntegrationSettings)}
}

func (s *fakeSettings) Get(ctx context.Context, source syncdomain.SourceKind) (*syncdomain.IntegrationSettings, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.bySource[source], nil
}

func (s *fakeSettings) Save(ctx context.Context, settings *syncdomain.IntegrationSettings) error {
	copied := *settings
	s.bySource[settings.Source] = &copied
	return nil
}

// ---------------------------------------------------------------------------
// Harness
// ---------------------------------------------------------------------------

var testToday = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type serviceHarness struct {
	svc        *Service
	gateway    *fakeGateway
	factoryErr error
	querier    *fakeQuerier
	records    *fakeRecords
	runs       *fakeRuns
	settings   *fakeSettings
}

func newHarness(t *testing.T) *serviceHarness {
	t.Helper()

	h := &serviceHarness{
		gateway:  &fakeGateway{},
		querier:  &fakeQuerier{},
		records:  &fakeRecords{},
		runs:     newFakeRuns(),
		settings: newFakeSettings(),
	}
	factory := func(settings *syncdomain.IntegrationSettings) (AggregatorGateway, error) {
		if h.factoryErr != nil {
			return nil, h.factoryErr
		}
		return h.gateway, nil
	}
	h.svc = NewService(factory, h.querier, h.records, h.runs, h.settings, nil)
	h.svc.now = func() time.Time { return testToday }
	return h
}

func (h *serviceHarness) configureAggregator(active bool) {
	h.settings.bySource[syncdomain.SourceAggregator] = &syncdomain.IntegrationSettings{
		Source:      syncdomain.SourceAggregator,
		Active:      active,
		DefaultDays: 90,
		BaseURL:     "https://aggregator.example",
		Email:       "ops@example.com",
		Password:    "secret",
	}
}

func (h *serviceHarness) configureLegacy() {
	h.settings.bySource[syncdomain.SourceLegacyDB] = &syncdomain.IntegrationSettings{
		Source:      syncdomain.SourceLegacyDB,
		Active:      true,
		DefaultDays: 30,
		DBHost:      "erp-host",
		DBPort:      3050,
		DBPath:      "/dados/vendas.fdb",
		DBUser:      "SYSDBA",
		DBPassword:  "masterkey",
		Query:       "SELECT * FROM VENDAS",
	}
}

func reportRow(orderID string) aggregator.ReportRow {
	return aggregator.ReportRow{
		OrderID:     orderID,
		PayTime:     "2026-02-20 10:30:00",
		ShopName:    "Loja Centro",
		Platform:    "shopee",
		ProductName: "Camiseta Polo",
		Quantity:    "1",
		Amount:      "49,90",
	}
}

// ---------------------------------------------------------------------------
// RunSync
// ---------------------------------------------------------------------------

func TestRunSyncAggregator(t *testing.T) {
	t.Run("successful run upserts and records success", func(t *testing.T) {
		h := newHarness(t)
		h.configureAggregator(true)
		h.gateway.reportRows = []aggregator.ReportRow{reportRow("ord-1"), reportRow("ord-2")}
		h.records.result = ledger.UpsertResult{Inserted: 1, Updated: 1}

		result, err := h.svc.RunSync(context.Background(), syncdomain.SourceAggregator)
		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.Equal(t, 2, result.Rows)
		assert.Equal(t, "1 inserted, 1 updated", result.Message)

		assert.Len(t, h.records.records, 2)
		assert.Equal(t, ledger.SaleChannelOnline, h.records.channel)

		run := h.runs.runs[syncdomain.SourceAggregator]
		require.NotNil(t, run)
		assert.Equal(t, syncdomain.RunStatusSuccess, run.Status)
		assert.Equal(t, 2, run.Rows)
		assert.Equal(t, testToday, run.LastRunAt)
	})

	t.Run("window counts back from today", func(t *testing.T) {
		h := newHarness(t)
		h.configureAggregator(true)
		h.gateway.reportRows = []aggregator.ReportRow{reportRow("ord-1")}

		_, err := h.svc.RunSync(context.Background(), syncdomain.SourceAggregator)
		require.NoError(t, err)

		assert.Equal(t, "2025-12-01", h.gateway.start.Format("2006-01-02"))
		assert.Equal(t, "2026-03-01", h.gateway.end.Format("2006-01-02"))
	})

	t.Run("order mode is the fallback for an empty report", func(t *testing.T) {
		h := newHarness(t)
		h.configureAggregator(true)
		h.gateway.orders = []aggregator.Order{{
			OrderID:     "ord-3",
			PayTime:     "2026-02-21 09:00:00",
			OrderAmount: "30,00",
		}}

		result, err := h.svc.RunSync(context.Background(), syncdomain.SourceAggregator)
		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.Equal(t, 1, h.gateway.reportCalls)
		assert.Equal(t, 1, h.gateway.orderCalls)
		require.Len(t, h.records.records, 1)
		assert.Equal(t, "ord-3", h.records.records[0].OrderID)
	})

	t.Run("order mode is skipped when the report has rows", func(t *testing.T) {
		h := newHarness(t)
		h.configureAggregator(true)
		h.gateway.reportRows = []aggregator.ReportRow{reportRow("ord-1")}

		_, err := h.svc.RunSync(context.Background(), syncdomain.SourceAggregator)
		require.NoError(t, err)
		assert.Zero(t, h.gateway.orderCalls)
	})

	t.Run("rejected rows are counted but do not fail the run", func(t *testing.T) {
		h := newHarness(t)
		h.configureAggregator(true)
		bad := reportRow("ord-bad")
		bad.PayTime = "not a date"
		h.gateway.reportRows = []aggregator.ReportRow{reportRow("ord-1"), bad}

		result, err := h.svc.RunSync(context.Background(), syncdomain.SourceAggregator)
		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.Contains(t, result.Message, "1 rejected")
		assert.Equal(t, 1, result.Rows)
	})

	t.Run("session failure records an error run", func(t *testing.T) {
		h := newHarness(t)
		h.configureAggregator(true)
		h.gateway.ensureErr = syncdomain.ErrLoginFailed

		result, err := h.svc.RunSync(context.Background(), syncdomain.SourceAggregator)
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Contains(t, result.Message, "establishing session")

		run := h.runs.runs[syncdomain.SourceAggregator]
		require.NotNil(t, run)
		assert.Equal(t, syncdomain.RunStatusError, run.Status)
	})

	t.Run("dead session on fetch invalidates the credential", func(t *testing.T) {
		h := newHarness(t)
		h.configureAggregator(true)
		h.gateway.reportErr = syncdomain.ErrSessionExpired

		result, err := h.svc.RunSync(context.Background(), syncdomain.SourceAggregator)
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Equal(t, 1, h.gateway.invalidates)
	})

	t.Run("data errors keep the session", func(t *testing.T) {
		h := newHarness(t)
		h.configureAggregator(true)
		h.gateway.reportErr = errors.New("aggregator: decoding report payload failed")

		result, err := h.svc.RunSync(context.Background(), syncdomain.SourceAggregator)
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Zero(t, h.gateway.invalidates)
	})

	t.Run("ledger write failure records an error run", func(t *testing.T) {
		h := newHarness(t)
		h.configureAggregator(true)
		h.gateway.reportRows = []aggregator.ReportRow{reportRow("ord-1")}
		h.records.err = errors.New("connection refused")

		result, err := h.svc.RunSync(context.Background(), syncdomain.SourceAggregator)
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Contains(t, result.Message, "writing ledger")
	})
}

func TestRunSyncGating(t *testing.T) {
	t.Run("unknown source is rejected without a run record", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.svc.RunSync(context.Background(), syncdomain.SourceKind("ftp"))
		assert.Error(t, err)
		assert.Empty(t, h.runs.runs)
	})

	t.Run("spreadsheet source is import only", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.svc.RunSync(context.Background(), syncdomain.SourceSpreadsheet)
		assert.Error(t, err)
		assert.Empty(t, h.runs.runs)
	})

	t.Run("unconfigured source records an error run without attempting", func(t *testing.T) {
		h := newHarness(t)

		result, err := h.svc.RunSync(context.Background(), syncdomain.SourceAggregator)
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Contains(t, result.Message, "missing required configuration")
		assert.Zero(t, h.gateway.ensures)

		run := h.runs.runs[syncdomain.SourceAggregator]
		require.NotNil(t, run)
		assert.Equal(t, syncdomain.RunStatusError, run.Status)
	})

	t.Run("inactive integration records an error run without attempting", func(t *testing.T) {
		h := newHarness(t)
		h.configureAggregator(false)

		result, err := h.svc.RunSync(context.Background(), syncdomain.SourceAggregator)
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Contains(t, result.Message, "not active")
		assert.Zero(t, h.gateway.ensures)
	})

	t.Run("incomplete configuration records an error run", func(t *testing.T) {
		h := newHarness(t)
		h.configureAggregator(true)
		h.settings.bySource[syncdomain.SourceAggregator].Password = ""

		result, err := h.svc.RunSync(context.Background(), syncdomain.SourceAggregator)
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Contains(t, result.Message, "missing required configuration")
	})

	t.Run("panic inside the pipeline becomes an error run", func(t *testing.T) {
		h := newHarness(t)
		h.configureAggregator(true)
		h.svc.aggregator = func(settings *syncdomain.IntegrationSettings) (AggregatorGateway, error) {
			panic("nil pointer somewhere deep")
		}

		result, err := h.svc.RunSync(context.Background(), syncdomain.SourceAggregator)
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Contains(t, result.Message, "panic: nil pointer somewhere deep")

		run := h.runs.runs[syncdomain.SourceAggregator]
		require.NotNil(t, run)
		assert.Equal(t, syncdomain.RunStatusError, run.Status)
	})

	t.Run("run history failure does not lose the result", func(t *testing.T) {
		h := newHarness(t)
		h.configureAggregator(true)
		h.gateway.reportRows = []aggregator.ReportRow{reportRow("ord-1")}
		h.runs.recordErr = errors.New("database gone")

		result, err := h.svc.RunSync(context.Background(), syncdomain.SourceAggregator)
		require.NoError(t, err)
		assert.True(t, result.Success)
	})
}

func TestRunSyncSingleFlight(t *testing.T) {
	t.Run("concurrent trigger for the same source is rejected", func(t *testing.T) {
		h := newHarness(t)
		h.configureAggregator(true)
		h.gateway.entered = make(chan struct{})
		h.gateway.released = make(chan struct{})
		h.gateway.reportRows = []aggregator.ReportRow{reportRow("ord-1")}

		done := make(chan syncdomain.RunResult, 1)
		go func() {
			result, _ := h.svc.RunSync(context.Background(), syncdomain.SourceAggregator)
			done <- result
		}()

		<-h.gateway.entered
		_, err := h.svc.RunSync(context.Background(), syncdomain.SourceAggregator)
		assert.ErrorIs(t, err, syncdomain.ErrAlreadyRunning)

		close(h.gateway.released)
		first := <-done
		assert.True(t, first.Success)

		// The guard is released once the first run finishes
		h.gateway.entered = nil
		_, err = h.svc.RunSync(context.Background(), syncdomain.SourceAggregator)
		assert.NoError(t, err)
	})

	t.Run("different sources run independently", func(t *testing.T) {
		h := newHarness(t)
		h.configureAggregator(true)
		h.configureLegacy()
		h.gateway.entered = make(chan struct{})
		h.gateway.released = make(chan struct{})
		h.gateway.reportRows = []aggregator.ReportRow{reportRow("ord-1")}

		done := make(chan struct{})
		go func() {
			_, _ = h.svc.RunSync(context.Background(), syncdomain.SourceAggregator)
			close(done)
		}()

		<-h.gateway.entered
		result, err := h.svc.RunSync(context.Background(), syncdomain.SourceLegacyDB)
		require.NoError(t, err)
		assert.True(t, result.Success)

		close(h.gateway.released)
		<-done
	})
}

// ---------------------------------------------------------------------------
// Legacy database runs
// ---------------------------------------------------------------------------

func TestRunSyncLegacy(t *testing.T) {
	t.Run("connection parameters come from the stored settings", func(t *testing.T) {
		h := newHarness(t)
		h.configureLegacy()
		h.querier.rows = []legacydb.RawRow{{
			"PEDIDO":    "L-100",
			"DATA":      "15/02/2026",
			"PRODUTO":   "Bermuda Jeans",
			"VLR_TOTAL": "120,00",
		}}

		result, err := h.svc.RunSync(context.Background(), syncdomain.SourceLegacyDB)
		require.NoError(t, err)
		assert.True(t, result.Success)

		require.NotNil(t, h.querier.params)
		assert.Equal(t, "erp-host", h.querier.params.Host)
		assert.Equal(t, 3050, h.querier.params.Port)
		assert.Equal(t, "/dados/vendas.fdb", h.querier.params.Path)
		assert.Equal(t, "SYSDBA", h.querier.params.User)
		assert.Equal(t, "SELECT * FROM VENDAS", h.querier.query)

		require.Len(t, h.records.records, 1)
		assert.Equal(t, "L-100", h.records.records[0].OrderID)
		assert.Equal(t, ledger.SaleChannelAtacado, h.records.channel)
	})

	t.Run("configured charset reaches the connector", func(t *testing.T) {
		h := newHarness(t)
		h.configureLegacy()
		WithLegacyCharset("cp850")(h.svc)
		h.querier.rows = []legacydb.RawRow{{
			"PEDIDO":    "L-101",
			"DATA":      "16/02/2026",
			"PRODUTO":   "Camiseta",
			"VLR_TOTAL": "35,00",
		}}

		_, err := h.svc.RunSync(context.Background(), syncdomain.SourceLegacyDB)
		require.NoError(t, err)

		require.NotNil(t, h.querier.params)
		assert.Equal(t, "cp850", h.querier.params.Charset)
	})

	t.Run("query failure records an error run", func(t *testing.T) {
		h := newHarness(t)
		h.configureLegacy()
		h.querier.err = errors.New("network unreachable")

		result, err := h.svc.RunSync(context.Background(), syncdomain.SourceLegacyDB)
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Contains(t, result.Message, "querying legacy database")
		assert.Zero(t, h.records.calls)
	})
}

// ---------------------------------------------------------------------------
// Spreadsheet imports
// ---------------------------------------------------------------------------

func TestImportSpreadsheet(t *testing.T) {
	t.Run("parsed rows land in the ledger under the other channel", func(t *testing.T) {
		h := newHarness(t)
		h.svc.sheets = func(r io.Reader) ([][]string, error) {
			return [][]string{
				{"Data", "Produto", "Total"},
				{"15/02/2026", "Camiseta", "10,00"},
			}, nil
		}

		result, err := h.svc.ImportSpreadsheet(context.Background(), strings.NewReader("xlsx bytes"), "vendas.xlsx")
		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.Equal(t, 1, result.Rows)
		assert.Equal(t, ledger.SaleChannelOther, h.records.channel)

		run := h.runs.runs[syncdomain.SourceSpreadsheet]
		require.NotNil(t, run)
		assert.Equal(t, syncdomain.RunStatusSuccess, run.Status)
	})

	t.Run("csv uploads go through the csv reader", func(t *testing.T) {
		h := newHarness(t)
		h.svc.sheets = func(r io.Reader) ([][]string, error) {
			t.Fatal("xlsx reader must not run for a csv upload")
			return nil, nil
		}
		h.svc.csvRows = func(r io.Reader) ([][]string, error) {
			return [][]string{
				{"Data", "Produto", "Total"},
				{"16/02/2026", "Bermuda", "25,00"},
			}, nil
		}

		result, err := h.svc.ImportSpreadsheet(context.Background(), strings.NewReader("csv bytes"), "vendas.CSV")
		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.Equal(t, 1, result.Rows)
	})

	t.Run("unreadable workbook records an error run", func(t *testing.T) {
		h := newHarness(t)
		h.svc.sheets = func(r io.Reader) ([][]string, error) {
			return nil, errors.New("zip: not a valid zip file")
		}

		result, err := h.svc.ImportSpreadsheet(context.Background(), strings.NewReader("not xlsx"), "vendas.xlsx")
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Contains(t, result.Message, "reading spreadsheet")

		run := h.runs.runs[syncdomain.SourceSpreadsheet]
		require.NotNil(t, run)
		assert.Equal(t, syncdomain.RunStatusError, run.Status)
	})
}

// ---------------------------------------------------------------------------
// Status and settings
// ---------------------------------------------------------------------------

func TestStatus(t *testing.T) {
	h := newHarness(t)
	h.configureAggregator(true)
	h.runs.runs[syncdomain.SourceAggregator] = &syncdomain.SyncRun{
		Source:    syncdomain.SourceAggregator,
		LastRunAt: testToday,
		Status:    syncdomain.RunStatusSuccess,
		Message:   "10 inserted, 2 updated",
		Rows:      12,
	}

	statuses, err := h.svc.Status(context.Background())
	require.NoError(t, err)
	require.Len(t, statuses, 3)

	bySource := make(map[string]IntegrationStatus, len(statuses))
	for _, st := range statuses {
		bySource[st.Source] = st
	}

	agg := bySource["aggregator"]
	assert.True(t, agg.Active)
	assert.True(t, agg.Configured)
	assert.False(t, agg.Running)
	require.NotNil(t, agg.LastSyncAt)
	assert.Equal(t, testToday, *agg.LastSyncAt)
	assert.Equal(t, "success", agg.LastSyncStatus)
	assert.Equal(t, 12, agg.LastSyncRows)

	legacy := bySource["legacydb"]
	assert.False(t, legacy.Active)
	assert.False(t, legacy.Configured)
	assert.Nil(t, legacy.LastSyncAt)
}

func TestSettings(t *testing.T) {
	t.Run("unconfigured source returns nil", func(t *testing.T) {
		h := newHarness(t)
		resp, err := h.svc.Settings(context.Background(), syncdomain.SourceAggregator)
		require.NoError(t, err)
		assert.Nil(t, resp)
	})

	t.Run("secrets are masked on read", func(t *testing.T) {
		h := newHarness(t)
		h.configureAggregator(true)

		resp, err := h.svc.Settings(context.Background(), syncdomain.SourceAggregator)
		require.NoError(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, "https://aggregator.example", resp.BaseURL)
		assert.Equal(t, "ops@example.com", resp.Email)
		assert.True(t, resp.PasswordSet)
		assert.False(t, resp.DBPasswordSet)
	})

	t.Run("save round-trips through the repository masked", func(t *testing.T) {
		h := newHarness(t)

		resp, err := h.svc.SaveSettings(context.Background(), syncdomain.SourceLegacyDB, &UpdateSettingsRequest{
			Active:     true,
			DBHost:     "erp-host",
			DBPort:     3050,
			DBPath:     "/dados/vendas.fdb",
			DBUser:     "SYSDBA",
			DBPassword: "masterkey",
			Query:      "SELECT * FROM VENDAS",
		})
		require.NoError(t, err)
		assert.True(t, resp.Active)
		assert.Equal(t, "erp-host", resp.DBHost)
		assert.True(t, resp.DBPasswordSet)

		stored := h.settings.bySource[syncdomain.SourceLegacyDB]
		require.NotNil(t, stored)
		assert.Equal(t, "masterkey", stored.DBPassword)
	})

	t.Run("unknown source is rejected", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.svc.Settings(context.Background(), syncdomain.SourceKind("ftp"))
		assert.Error(t, err)
		_, err = h.svc.SaveSettings(context.Background(), syncdomain.SourceKind("ftp"), &UpdateSettingsRequest{})
		assert.Error(t, err)
	})
}
