package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	syncdomain "github.com/salesledger/backend/internal/domain/sync"
)

// payTimeLayout is the window-filter format the aggregator expects
const payTimeLayout = "2006-01-02"

// Client talks to the aggregator's session-cookie authenticated JSON API.
// Every response is an envelope with a numeric code; authentication is a
// cookie-header string produced by the session manager.
type Client struct {
	config *ClientConfig
	http   *resty.Client
	logger *zap.Logger
}

// NewClient creates an aggregator client with the given configuration
func NewClient(config *ClientConfig, logger *zap.Logger) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient := resty.New().
		SetBaseURL(config.BaseURL).
		SetTimeout(time.Duration(config.TimeoutSeconds)*time.Second).
		SetHeader("Accept", "application/json")
	// The aggregator answers unauthenticated requests with a redirect to
	// the login page. Following it would turn a clean 302 into a parse
	// failure on HTML, so redirects are reported instead.
	httpClient.SetRedirectPolicy(resty.NoRedirectPolicy())

	return &Client{
		config: config,
		http:   httpClient,
		logger: logger,
	}, nil
}

// IsAuthenticated probes the aggregator's own user-info endpoint with the
// candidate cookie. Anything short of an affirmative envelope, including a
// network failure, reports false.
func (c *Client) IsAuthenticated(ctx context.Context, cred *syncdomain.SessionCredential) bool {
	if cred == nil || cred.Cookie == "" {
		return false
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Cookie", cred.Cookie).
		Get(pathUserInfo)
	if err != nil {
		c.logger.Debug("liveness probe failed", zap.Error(err))
		return false
	}
	if resp.StatusCode() != http.StatusOK {
		return false
	}

	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return false
	}
	return env.ok()
}

// ---------------------------------------------------------------------------
// Report-pagination mode
// ---------------------------------------------------------------------------

// FetchReport pulls consolidated sale rows per platform category over the
// pay-time window. Pagination per platform stops when the accumulated row
// count reaches the server-reported total. A no-permission code skips the
// platform; any other failure is fatal for that platform only. The fetch as
// a whole fails only when every platform failed.
func (c *Client) FetchReport(ctx context.Context, cred *syncdomain.SessionCredential, start, end time.Time) ([]ReportRow, error) {
	var (
		rows      []ReportRow
		failed    int
		lastErr   error
		platforms = c.config.Platforms
	)

	for _, platform := range platforms {
		platformRows, err := c.fetchPlatformReport(ctx, cred, platform, start, end)
		if err != nil {
			// A dead session poisons every remaining platform too
			if syncdomain.IsLoginError(err) {
				return nil, err
			}
			failed++
			lastErr = err
			c.logger.Warn("platform report fetch failed",
				zap.String("platform", platform),
				zap.Error(err))
			continue
		}
		rows = append(rows, platformRows...)
	}

	if failed == len(platforms) && lastErr != nil {
		return nil, fmt.Errorf("aggregator: all %d platforms failed, last: %w", failed, lastErr)
	}
	return rows, nil
}

// fetchPlatformReport paginates one platform's report listing
func (c *Client) fetchPlatformReport(ctx context.Context, cred *syncdomain.SessionCredential, platform string, start, end time.Time) ([]ReportRow, error) {
	var rows []ReportRow

	for page := 1; ; page++ {
		env, err := c.get(ctx, cred, pathReportList, map[string]string{
			"platform":  platform,
			"startDate": start.Format(payTimeLayout),
			"endDate":   end.Format(payTimeLayout),
			"page":      strconv.Itoa(page),
			"pageSize":  strconv.Itoa(c.config.PageSize),
		})
		if err != nil {
			return nil, err
		}
		if env.noPermission() {
			c.logger.Debug("platform not permitted, skipping",
				zap.String("platform", platform))
			return nil, nil
		}
		if !env.ok() {
			return nil, fmt.Errorf("%w: code %d: %s",
				syncdomain.ErrSourceRequestFailed, env.Code, env.Message)
		}

		var pageData reportPage
		if err := json.Unmarshal(env.Data, &pageData); err != nil {
			return nil, fmt.Errorf("%w: report page: %v",
				syncdomain.ErrSourceInvalidResponse, err)
		}

		rows = append(rows, pageData.Rows...)

		// Server-reported total is the termination contract. An empty
		// page is also terminal: a lying total must not loop forever.
		if len(rows) >= pageData.Total || len(pageData.Rows) == 0 {
			return rows, nil
		}
	}
}

// ---------------------------------------------------------------------------
// Order-index pagination mode
// ---------------------------------------------------------------------------

// FetchOrders pulls full orders with line items over the pay-time window.
// Pagination stops on the first page shorter than the page size, or at the
// configured page ceiling.
func (c *Client) FetchOrders(ctx context.Context, cred *syncdomain.SessionCredential, start, end time.Time) ([]Order, error) {
	var orders []Order

	for page := 1; page <= c.config.MaxPages; page++ {
		env, err := c.get(ctx, cred, pathOrderList, map[string]string{
			"payStart": start.Format(payTimeLayout),
			"payEnd":   end.Format(payTimeLayout),
			"page":     strconv.Itoa(page),
			"pageSize": strconv.Itoa(c.config.PageSize),
		})
		if err != nil {
			return nil, err
		}
		if !env.ok() {
			return nil, fmt.Errorf("%w: code %d: %s",
				syncdomain.ErrSourceRequestFailed, env.Code, env.Message)
		}

		var pageData orderPage
		if err := json.Unmarshal(env.Data, &pageData); err != nil {
			return nil, fmt.Errorf("%w: order page: %v",
				syncdomain.ErrSourceInvalidResponse, err)
		}

		orders = append(orders, pageData.Rows...)

		if len(pageData.Rows) < c.config.PageSize {
			return orders, nil
		}
	}

	c.logger.Warn("order pagination hit page ceiling",
		zap.Int("max_pages", c.config.MaxPages),
		zap.Int("orders", len(orders)))
	return orders, nil
}

// get performs one authenticated GET and decodes the envelope. Status codes
// that mean "not logged in" map to ErrSessionExpired so the sync driver can
// clear the cached credential.
func (c *Client) get(ctx context.Context, cred *syncdomain.SessionCredential, path string, params map[string]string) (*envelope, error) {
	if cred == nil || cred.Cookie == "" {
		return nil, syncdomain.ErrSessionExpired
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Cookie", cred.Cookie).
		SetQueryParams(params).
		Get(path)
	// With redirects disabled a 302 to the login page surfaces as a
	// transport error, so inspect the status before the error.
	if resp != nil && resp.StatusCode() >= http.StatusMultipleChoices && resp.StatusCode() < http.StatusBadRequest {
		return nil, syncdomain.ErrSessionExpired
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", syncdomain.ErrSourceRequestFailed, path, err)
	}

	switch code := resp.StatusCode(); {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return nil, syncdomain.ErrSessionExpired
	case code >= http.StatusBadRequest:
		return nil, fmt.Errorf("%w: %s: HTTP %d", syncdomain.ErrSourceRequestFailed, path, code)
	}

	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", syncdomain.ErrSourceInvalidResponse, path, err)
	}
	return &env, nil
}
