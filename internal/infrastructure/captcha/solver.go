// Package captcha wraps a third-party image-recognition service behind the
// sync.CaptchaSolver port.
package captcha

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	syncdomain "github.com/salesledger/backend/internal/domain/sync"
)

var (
	ErrConfigMissingAPIKey = errors.New("captcha: api key is required")
	ErrUnsolvable          = errors.New("captcha: service could not solve the image")
	ErrServiceFailed       = errors.New("captcha: service request failed")
)

const (
	// noCapacityBackoff is the fixed wait between retries when the service
	// reports no available workers
	noCapacityBackoff = 10 * time.Second
	// pollInterval is how often a submitted task is polled for its answer
	pollInterval = 3 * time.Second
	// defaultMaxAttempts bounds the no-capacity retry loop
	defaultMaxAttempts = 5
)

// Config holds the recognition-service connection settings
type Config struct {
	APIKey         string
	BaseURL        string
	TimeoutSeconds int
}

// Validate checks required fields and applies defaults
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return ErrConfigMissingAPIKey
	}
	if c.BaseURL == "" {
		c.BaseURL = "https://2captcha.com"
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 120
	}
	return nil
}

// Solver submits captcha images to the recognition service and polls for the
// recognized text.
type Solver struct {
	config *Config
	client *resty.Client
	logger *zap.Logger

	// sleep is swappable in tests so the fixed backoff does not slow them
	sleep func(ctx context.Context, d time.Duration) error
}

// NewSolver creates a solver with the given configuration
func NewSolver(config *Config, logger *zap.Logger) (*Solver, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := resty.New().
		SetBaseURL(config.BaseURL).
		SetTimeout(time.Duration(config.TimeoutSeconds) * time.Second)

	return &Solver{
		config: config,
		client: client,
		logger: logger,
		sleep:  sleepCtx,
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Solve submits the image and returns the recognized text. A data-URI prefix
// on the image is stripped before submission. The "no capacity" failure class
// is retried with a fixed backoff up to maxAttempts; any other failure is
// fatal and propagates immediately.
func (s *Solver) Solve(ctx context.Context, imageBase64 string, maxAttempts int) (string, error) {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	// The browser hands us the intercepted image as a data URI
	if idx := strings.Index(imageBase64, ","); idx != -1 && strings.HasPrefix(imageBase64, "data:") {
		imageBase64 = imageBase64[idx+1:]
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		taskID, err := s.submit(ctx, imageBase64)
		if err != nil {
			if errors.Is(err, syncdomain.ErrCaptchaNoBalance) {
				lastErr = err
				s.logger.Warn("captcha service has no capacity, backing off",
					zap.Int("attempt", attempt),
					zap.Int("max_attempts", maxAttempts),
					zap.Duration("backoff", noCapacityBackoff),
				)
				if err := s.sleep(ctx, noCapacityBackoff); err != nil {
					return "", err
				}
				continue
			}
			return "", err
		}
		return s.awaitAnswer(ctx, taskID)
	}

	return "", fmt.Errorf("%w after %d attempts", lastErr, maxAttempts)
}

// submit uploads the image and returns the service task ID
func (s *Solver) submit(ctx context.Context, imageBase64 string) (string, error) {
	resp, err := s.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"key":    s.config.APIKey,
			"method": "base64",
			"body":   imageBase64,
		}).
		Post("/in.php")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrServiceFailed, err)
	}

	body := strings.TrimSpace(resp.String())
	switch {
	case strings.HasPrefix(body, "OK|"):
		return strings.TrimPrefix(body, "OK|"), nil
	case body == "ERROR_NO_SLOT_AVAILABLE":
		return "", syncdomain.ErrCaptchaNoBalance
	case body == "ERROR_ZERO_BALANCE":
		return "", syncdomain.ErrCaptchaNoBalance
	default:
		return "", fmt.Errorf("%w: %s", ErrServiceFailed, body)
	}
}

// awaitAnswer polls the result endpoint until the answer is ready
func (s *Solver) awaitAnswer(ctx context.Context, taskID string) (string, error) {
	for {
		if err := s.sleep(ctx, pollInterval); err != nil {
			return "", err
		}

		resp, err := s.client.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"key":    s.config.APIKey,
				"action": "get",
				"id":     taskID,
			}).
			Get("/res.php")
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrServiceFailed, err)
		}

		body := strings.TrimSpace(resp.String())
		switch {
		case strings.HasPrefix(body, "OK|"):
			return strings.TrimPrefix(body, "OK|"), nil
		case body == "CAPCHA_NOT_READY":
			continue
		case body == "ERROR_CAPTCHA_UNSOLVABLE":
			return "", ErrUnsolvable
		default:
			return "", fmt.Errorf("%w: %s", ErrServiceFailed, body)
		}
	}
}

// Balance queries the remaining service credit. Non-critical: used only for
// operational diagnostics.
func (s *Solver) Balance(ctx context.Context) (float64, error) {
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"key":    s.config.APIKey,
			"action": "getbalance",
		}).
		Get("/res.php")
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrServiceFailed, err)
	}

	body := strings.TrimSpace(resp.String())
	balance, err := strconv.ParseFloat(body, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrServiceFailed, body)
	}
	return balance, nil
}

// Ensure Solver implements the CaptchaSolver port
var _ syncdomain.CaptchaSolver = (*Solver)(nil)
