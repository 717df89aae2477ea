// Package browser drives a real Chrome instance through the login flow of
// the marketplace aggregator. The aggregator has no stable endpoint for its
// captcha image: the image is pushed over a network response triggered by
// focusing the captcha input, so the driver intercepts network events and
// hands captured images to the session manager as they arrive.
package browser

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	syncdomain "github.com/salesledger/backend/internal/domain/sync"
)

var ErrConfigMissingLoginURL = errors.New("browser: login URL is required")

const (
	defaultNavigateTimeout = 30 * time.Second
	// settleDelay lets the page react to a submit before error elements
	// are probed
	settleDelay = 500 * time.Millisecond
	probeEvery  = 250 * time.Millisecond
	rejectProbe = 2 * time.Second
)

// Config holds the Chrome and page-locator settings for the aggregator login
// page. Selector defaults track the aggregator's current markup; they are
// configurable because that markup is not a contract.
type Config struct {
	LoginURL string
	// RemoteURL attaches to a running Chrome instance instead of launching one
	RemoteURL string
	Headless  bool
	NoSandbox bool
	// NavigateTimeout bounds the login page load
	NavigateTimeout time.Duration

	// CaptchaURLPattern is the substring identifying the intercepted
	// captcha-image response
	CaptchaURLPattern string
	// ErrorSelector matches the captcha-rejected form-validation element
	ErrorSelector string
	// SendCodeSelector matches the email-verification "send code" control
	SendCodeSelector string
	// CodeInputSelector matches the verification-code input
	CodeInputSelector string
	// ConfirmSelector matches the verification-code confirm control
	ConfirmSelector string
	// SubmitSelector matches the login form submit button
	SubmitSelector string

	Logger *zap.Logger
}

func (c *Config) applyDefaults() error {
	if c.LoginURL == "" {
		return ErrConfigMissingLoginURL
	}
	if c.NavigateTimeout <= 0 {
		c.NavigateTimeout = defaultNavigateTimeout
	}
	if c.CaptchaURLPattern == "" {
		c.CaptchaURLPattern = "captcha"
	}
	if c.ErrorSelector == "" {
		c.ErrorSelector = ".login-error, .captcha-error"
	}
	if c.SendCodeSelector == "" {
		c.SendCodeSelector = "button.send-code"
	}
	if c.CodeInputSelector == "" {
		c.CodeInputSelector = "input.verify-code"
	}
	if c.ConfirmSelector == "" {
		c.ConfirmSelector = "button.verify-confirm"
	}
	if c.SubmitSelector == "" {
		c.SubmitSelector = `button[type="submit"]`
	}
	return nil
}

// ChromeDriver implements sync.LoginDriver over the Chrome DevTools Protocol.
// One driver is one browser tab; every full login gets a fresh driver so no
// state leaks between attempts.
type ChromeDriver struct {
	config *Config
	logger *zap.Logger

	allocCtx    context.Context
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc

	// captchaImages receives base64 images captured from intercepted
	// network responses. Buffered: a fresh image pushed after a rejection
	// must not be dropped while nobody is waiting yet.
	captchaImages chan string

	// located page elements, resolved once by Open
	emailXPath    string
	passwordXPath string
	captchaXPath  string
}

// NewChromeDriver launches (or attaches to) a Chrome instance
func NewChromeDriver(config *Config) (*ChromeDriver, error) {
	if err := config.applyDefaults(); err != nil {
		return nil, err
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &ChromeDriver{
		config:        config,
		logger:        logger,
		captchaImages: make(chan string, 4),
	}

	if config.RemoteURL != "" {
		d.allocCtx, d.allocCancel = chromedp.NewRemoteAllocator(context.Background(), config.RemoteURL)
		return d, nil
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", config.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("disable-default-apps", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-sync", true),
	)
	if config.NoSandbox {
		opts = append(opts, chromedp.Flag("no-sandbox", true))
	}
	d.allocCtx, d.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	return d, nil
}

// Open navigates to the login page, wires the captcha-image interceptor and
// resolves the page locators. The first two text inputs are email and
// password; fewer than two means the target changed its layout.
func (d *ChromeDriver) Open(ctx context.Context) error {
	d.tabCtx, d.tabCancel = chromedp.NewContext(d.allocCtx,
		chromedp.WithLogf(func(format string, args ...interface{}) {
			d.logger.Debug(fmt.Sprintf(format, args...))
		}),
	)

	d.interceptCaptchaImages()

	// derive the run context from the tab so the deadline actually bounds
	// the page load
	navCtx, cancel := context.WithTimeout(d.tabCtx, d.config.NavigateTimeout)
	defer cancel()

	var inputs []*cdp.Node
	err := chromedp.Run(navCtx,
		network.Enable(),
		chromedp.Navigate(d.config.LoginURL),
		chromedp.WaitVisible("body", chromedp.ByQuery),
		chromedp.Nodes(`input[type="text"], input[type="email"], input[type="password"]`,
			&inputs, chromedp.ByQueryAll, chromedp.AtLeast(0)),
	)
	if err != nil {
		if navCtx.Err() != nil {
			return fmt.Errorf("browser: login page load timed out after %s: %w", d.config.NavigateTimeout, err)
		}
		return fmt.Errorf("browser: failed to open login page: %w", err)
	}

	if len(inputs) < 2 {
		return &syncdomain.PageShapeChangedError{Locator: "identity inputs (expected email then password)"}
	}
	d.emailXPath = inputs[0].FullXPath()
	d.passwordXPath = inputs[1].FullXPath()

	var captchaInputs []*cdp.Node
	err = chromedp.Run(d.tabCtx,
		chromedp.Nodes(`//label[contains(., "CAPTCHA")]/preceding-sibling::*[1]`,
			&captchaInputs, chromedp.BySearch, chromedp.AtLeast(0)),
	)
	if err != nil {
		return fmt.Errorf("browser: captcha locator failed: %w", err)
	}
	if len(captchaInputs) == 0 {
		return &syncdomain.PageShapeChangedError{Locator: "captcha input (preceding sibling of CAPTCHA label)"}
	}
	d.captchaXPath = captchaInputs[0].FullXPath()

	return nil
}

// interceptCaptchaImages captures captcha image bodies as they are pushed by
// the server. Images arrive asynchronously after the captcha input gains
// focus, not via a documented endpoint.
func (d *ChromeDriver) interceptCaptchaImages() {
	tabCtx := d.tabCtx
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		resp, ok := ev.(*network.EventResponseReceived)
		if !ok {
			return
		}
		if !strings.Contains(resp.Response.URL, d.config.CaptchaURLPattern) {
			return
		}
		if !strings.HasPrefix(resp.Response.MimeType, "image/") {
			return
		}
		requestID := resp.RequestID
		go func() {
			c := chromedp.FromContext(tabCtx)
			body, err := network.GetResponseBody(requestID).Do(cdp.WithExecutor(tabCtx, c.Target))
			if err != nil {
				d.logger.Warn("failed to read intercepted captcha image", zap.Error(err))
				return
			}
			select {
			case d.captchaImages <- base64.StdEncoding.EncodeToString(body):
			default:
				// An unconsumed older image is stale anyway
			}
		}()
	})
}

// FillCredentials types the identity into the positional inputs
func (d *ChromeDriver) FillCredentials(ctx context.Context, email, password string) error {
	err := chromedp.Run(d.tabCtx,
		chromedp.SendKeys(d.emailXPath, email, chromedp.BySearch),
		chromedp.SendKeys(d.passwordXPath, password, chromedp.BySearch),
	)
	if err != nil {
		return fmt.Errorf("browser: failed to fill credentials: %w", err)
	}
	return nil
}

// FocusCaptchaInput focuses the captcha field, which triggers the
// server-side image push
func (d *ChromeDriver) FocusCaptchaInput(ctx context.Context) error {
	if err := chromedp.Run(d.tabCtx, chromedp.Focus(d.captchaXPath, chromedp.BySearch)); err != nil {
		return fmt.Errorf("browser: failed to focus captcha input: %w", err)
	}
	return nil
}

// AwaitCaptchaImage blocks until an intercepted captcha image arrives
func (d *ChromeDriver) AwaitCaptchaImage(ctx context.Context, timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case img := <-d.captchaImages:
		return img, nil
	case <-ctx.Done():
		return "", ctx.Err()
	case <-timer.C:
		return "", &syncdomain.CaptchaLoadTimeoutError{Waited: timeout}
	}
}

// FillCaptcha clears the captcha field and types the solved text
func (d *ChromeDriver) FillCaptcha(ctx context.Context, text string) error {
	err := chromedp.Run(d.tabCtx,
		chromedp.SetValue(d.captchaXPath, "", chromedp.BySearch),
		chromedp.SendKeys(d.captchaXPath, text, chromedp.BySearch),
	)
	if err != nil {
		return fmt.Errorf("browser: failed to fill captcha: %w", err)
	}
	return nil
}

// Submit submits the login form
func (d *ChromeDriver) Submit(ctx context.Context) error {
	if err := chromedp.Run(d.tabCtx, chromedp.Click(d.config.SubmitSelector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("browser: failed to submit login form: %w", err)
	}
	return nil
}

// CaptchaRejected probes for the captcha-rejected validation element after a
// submit, giving the page a short window to settle.
func (d *ChromeDriver) CaptchaRejected(ctx context.Context) (bool, error) {
	deadline := time.Now().Add(rejectProbe)
	if err := sleep(ctx, settleDelay); err != nil {
		return false, err
	}
	for {
		found, err := d.selectorPresent(d.config.ErrorSelector)
		if err != nil {
			return false, err
		}
		if found {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		if err := sleep(ctx, probeEvery); err != nil {
			return false, err
		}
	}
}

// HasVerificationPrompt waits up to timeout for the "send code" control.
// Absent is not an error: the account did not require verification this time.
func (d *ChromeDriver) HasVerificationPrompt(ctx context.Context, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		found, err := d.selectorPresent(d.config.SendCodeSelector)
		if err != nil {
			return false, err
		}
		if found {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		if err := sleep(ctx, probeEvery); err != nil {
			return false, err
		}
	}
}

// RequestVerificationCode clicks the send-code control
func (d *ChromeDriver) RequestVerificationCode(ctx context.Context) error {
	if err := chromedp.Run(d.tabCtx, chromedp.Click(d.config.SendCodeSelector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("browser: failed to request verification code: %w", err)
	}
	return nil
}

// SubmitVerificationCode types and confirms the mailed code
func (d *ChromeDriver) SubmitVerificationCode(ctx context.Context, code string) error {
	err := chromedp.Run(d.tabCtx,
		chromedp.SendKeys(d.config.CodeInputSelector, code, chromedp.ByQuery),
		chromedp.Click(d.config.ConfirmSelector, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("browser: failed to submit verification code: %w", err)
	}
	return nil
}

// CookieHeader extracts every cookie in the browser context as one
// cookie-header string
func (d *ChromeDriver) CookieHeader(ctx context.Context) (string, error) {
	var header string
	err := chromedp.Run(d.tabCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		cookies, err := storage.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		parts := make([]string, 0, len(cookies))
		for _, c := range cookies {
			parts = append(parts, c.Name+"="+c.Value)
		}
		header = strings.Join(parts, "; ")
		return nil
	}))
	if err != nil {
		return "", fmt.Errorf("browser: failed to extract cookies: %w", err)
	}
	return header, nil
}

// Close releases the tab and the browser
func (d *ChromeDriver) Close() error {
	if d.tabCancel != nil {
		d.tabCancel()
	}
	if d.allocCancel != nil {
		d.allocCancel()
	}
	return nil
}

// selectorPresent reports whether the selector matches anything right now
func (d *ChromeDriver) selectorPresent(selector string) (bool, error) {
	var found bool
	expr := fmt.Sprintf("document.querySelector(%q) !== null", selector)
	if err := chromedp.Run(d.tabCtx, chromedp.Evaluate(expr, &found)); err != nil {
		return false, fmt.Errorf("browser: selector probe failed: %w", err)
	}
	return found, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Ensure ChromeDriver implements the LoginDriver port
var _ syncdomain.LoginDriver = (*ChromeDriver)(nil)
