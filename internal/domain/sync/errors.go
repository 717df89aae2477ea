package sync

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// Run lifecycle errors
	ErrAlreadyRunning           = errors.New("sync: a run is already in progress for this source")
	ErrIntegrationInactive      = errors.New("sync: integration is not active")
	ErrIntegrationNotConfigured = errors.New("sync: integration is missing required configuration")

	// Session errors
	ErrSessionExpired   = errors.New("sync: session credential expired or missing")
	ErrLoginFailed      = errors.New("sync: login failed")
	ErrCaptchaRejected  = errors.New("sync: captcha rejected by target")
	ErrCaptchaNoBalance = errors.New("sync: captcha service out of capacity")

	// Fetch errors
	ErrSourceRequestFailed   = errors.New("sync: source request failed")
	ErrSourceInvalidResponse = errors.New("sync: invalid source response")
)

// loginPatterns are the substrings a caught fetch error is probed for to
// decide whether the cached session has gone stale and must be cleared.
var loginPatterns = []string{"login", "not authenticated", "session", "unauthorized"}

// IsLoginError reports whether an error message looks like a dead-session
// failure rather than a data problem.
func IsLoginError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, p := range loginPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Typed errors
// ---------------------------------------------------------------------------

// PageShapeChangedError means a named page locator found nothing: the target
// changed its UI, as opposed to the credentials being wrong.
type PageShapeChangedError struct {
	Locator string
}

func (e *PageShapeChangedError) Error() string {
	return fmt.Sprintf("sync: page shape changed, locator %q matched nothing", e.Locator)
}

// CaptchaLoadTimeoutError means the asynchronously pushed captcha image never
// arrived within the bounded wait after focusing the captcha input.
type CaptchaLoadTimeoutError struct {
	Waited time.Duration
}

func (e *CaptchaLoadTimeoutError) Error() string {
	return fmt.Sprintf("sync: captcha image did not arrive within %s", e.Waited)
}

// CodeTimeoutError means no verification code arrived in the mailbox before
// the configured deadline.
type CodeTimeoutError struct {
	Waited time.Duration
}

func (e *CodeTimeoutError) Error() string {
	return fmt.Sprintf("sync: no verification code arrived within %s", e.Waited)
}
