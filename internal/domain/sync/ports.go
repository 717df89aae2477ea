package sync

import (
	"context"
	"time"
)

// ---------------------------------------------------------------------------
// CaptchaSolver port
// ---------------------------------------------------------------------------

// CaptchaSolver wraps a third-party image-recognition service.
type CaptchaSolver interface {
	// Solve submits a base64 captcha image (with or without a data-URI
	// prefix) and returns the recognized text. A "no capacity" failure is
	// retried internally with a fixed backoff up to maxAttempts; any other
	// failure propagates immediately.
	Solve(ctx context.Context, imageBase64 string, maxAttempts int) (string, error)
	// Balance reports the remaining service credit, for diagnostics only
	Balance(ctx context.Context) (float64, error)
}

// ---------------------------------------------------------------------------
// CodeMailbox port
// ---------------------------------------------------------------------------

// CodeMailbox retrieves the one-time numeric verification code the aggregator
// mails during login.
type CodeMailbox interface {
	// FetchCode establishes one exclusive mailbox session, purges stale
	// matching messages, then polls until a matching message newer than
	// sentAfter arrives or timeout elapses. Returns a CodeTimeoutError on
	// deadline.
	FetchCode(ctx context.Context, sentAfter time.Time, timeout, pollInterval time.Duration) (string, error)
}

// ---------------------------------------------------------------------------
// LoginDriver port
// ---------------------------------------------------------------------------

// LoginDriver is the browser capability the session manager drives. It can
// submit the login form, observe the captcha image pushed over a side-channel
// network event tied to focusing the captcha input, and read back
// form-validation error state. A failed element locate surfaces as a
// PageShapeChangedError so operators can tell "target changed its UI" apart
// from "credentials wrong".
type LoginDriver interface {
	// Open navigates to the login page and verifies its expected shape:
	// the first two text inputs are email and password.
	Open(ctx context.Context) error
	// FillCredentials types the identity into the positional inputs
	FillCredentials(ctx context.Context, email, password string) error
	// FocusCaptchaInput focuses the captcha field located as the preceding
	// sibling of the CAPTCHA label. Focusing triggers the server-side image
	// push; the returned channel-free image is awaited separately.
	FocusCaptchaInput(ctx context.Context) error
	// AwaitCaptchaImage blocks until the intercepted captcha image response
	// arrives, returning it base64 encoded. Times out with a
	// CaptchaLoadTimeoutError.
	AwaitCaptchaImage(ctx context.Context, timeout time.Duration) (string, error)
	// FillCaptcha types the solved captcha text
	FillCaptcha(ctx context.Context, text string) error
	// Submit submits the login form
	Submit(ctx context.Context) error
	// CaptchaRejected reports whether the page shows the captcha-rejected
	// error element after a submit
	CaptchaRejected(ctx context.Context) (bool, error)
	// HasVerificationPrompt waits up to the bounded timeout for the
	// "send code" control. Absence is not an error: the session simply did
	// not require email verification this time.
	HasVerificationPrompt(ctx context.Context, timeout time.Duration) (bool, error)
	// RequestVerificationCode clicks the send-code control
	RequestVerificationCode(ctx context.Context) error
	// SubmitVerificationCode types and confirms the mailed code
	SubmitVerificationCode(ctx context.Context, code string) error
	// CookieHeader extracts all cookies from the browser context as a
	// single cookie-header string
	CookieHeader(ctx context.Context) (string, error)
	// Close releases the browser resources
	Close() error
}

// LoginDriverFactory creates one driver per login attempt so every full login
// starts from a clean browser context.
type LoginDriverFactory func(ctx context.Context) (LoginDriver, error)
