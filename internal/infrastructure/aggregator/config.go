package aggregator

import "errors"

// API paths, relative to the configured base URL
const (
	pathUserInfo   = "/api/v1/user/info"
	pathReportList = "/api/v1/report/sales"
	pathOrderList  = "/api/v1/order/index"
)

// defaultPlatforms are the marketplace categories queried when the operator
// configures none explicitly.
var defaultPlatforms = []string{"mercadolivre", "shopee", "amazon", "magalu"}

var (
	ErrConfigMissingBaseURL = errors.New("aggregator: base URL is required")
)

// ClientConfig holds configuration for the aggregator HTTP client
type ClientConfig struct {
	// BaseURL is the aggregator origin, e.g. https://painel.example.com
	BaseURL string
	// Platforms are the marketplace categories to iterate in report mode
	Platforms []string
	// PageSize is the fixed page size for both pagination modes
	PageSize int
	// MaxPages caps order-index pagination against server-side bugs
	MaxPages int
	// TimeoutSeconds is the per-request HTTP timeout
	TimeoutSeconds int
}

// Validate validates the configuration and applies defaults
func (c *ClientConfig) Validate() error {
	if c.BaseURL == "" {
		return ErrConfigMissingBaseURL
	}
	if len(c.Platforms) == 0 {
		c.Platforms = defaultPlatforms
	}
	if c.PageSize <= 0 {
		c.PageSize = 100
	}
	if c.MaxPages <= 0 {
		c.MaxPages = 200
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 30
	}
	return nil
}
