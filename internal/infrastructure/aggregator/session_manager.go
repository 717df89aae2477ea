package aggregator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	syncdomain "github.com/salesledger/backend/internal/domain/sync"
)

// ErrMissingCredentials indicates the login identity was not configured
var ErrMissingCredentials = errors.New("aggregator: login email and password are required")

// LivenessProber checks whether a candidate credential is still accepted by
// the aggregator. Satisfied by *Client.
type LivenessProber interface {
	IsAuthenticated(ctx context.Context, cred *syncdomain.SessionCredential) bool
}

// SessionManagerConfig holds the login identity and the bounded waits of the
// login state machine.
type SessionManagerConfig struct {
	// Email and Password are the aggregator login identity
	Email    string
	Password string
	// CaptchaAttempts is the total number of captcha submissions before the
	// login fails
	CaptchaAttempts int
	// FirstImageWait bounds the wait for the captcha image triggered by
	// focusing the captcha input
	FirstImageWait time.Duration
	// FreshImageWait bounds the wait for a replacement image after a
	// rejected submission
	FreshImageWait time.Duration
	// PromptWait bounds the check for the optional "send code" control
	PromptWait time.Duration
	// CodeTimeout and CodePollInterval bound the mailbox poll for the
	// emailed verification code
	CodeTimeout      time.Duration
	CodePollInterval time.Duration
	// SolveAttempts is passed through to the captcha solver
	SolveAttempts int
}

// Validate validates the configuration and applies defaults
func (c *SessionManagerConfig) Validate() error {
	if c.Email == "" || c.Password == "" {
		return ErrMissingCredentials
	}
	if c.CaptchaAttempts <= 0 {
		c.CaptchaAttempts = 3
	}
	if c.FirstImageWait <= 0 {
		c.FirstImageWait = 2 * time.Second
	}
	if c.FreshImageWait <= 0 {
		c.FreshImageWait = 10 * time.Second
	}
	if c.PromptWait <= 0 {
		c.PromptWait = 5 * time.Second
	}
	if c.CodeTimeout <= 0 {
		c.CodeTimeout = 90 * time.Second
	}
	if c.CodePollInterval <= 0 {
		c.CodePollInterval = 5 * time.Second
	}
	if c.SolveAttempts <= 0 {
		c.SolveAttempts = 5
	}
	return nil
}

// SessionManager owns the SessionCredential lifecycle: reuse a saved cookie
// while it is fresh and the aggregator still honors it, otherwise drive a
// full browser login with captcha solving and optional email verification.
type SessionManager struct {
	config    *SessionManagerConfig
	store     syncdomain.SessionStore
	solver    syncdomain.CaptchaSolver
	mailbox   syncdomain.CodeMailbox
	newDriver syncdomain.LoginDriverFactory
	prober    LivenessProber
	logger    *zap.Logger

	now func() time.Time
}

// NewSessionManager creates a session manager over the given collaborators
func NewSessionManager(
	config *SessionManagerConfig,
	store syncdomain.SessionStore,
	solver syncdomain.CaptchaSolver,
	mailbox syncdomain.CodeMailbox,
	newDriver syncdomain.LoginDriverFactory,
	prober LivenessProber,
	logger *zap.Logger,
) (*SessionManager, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SessionManager{
		config:    config,
		store:     store,
		solver:    solver,
		mailbox:   mailbox,
		newDriver: newDriver,
		prober:    prober,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Ensure returns a credential the aggregator currently accepts. A saved
// credential is reused only when it is younger than the trust window and the
// liveness probe affirms it; anything else triggers a full login whose result
// replaces whatever was stored.
func (m *SessionManager) Ensure(ctx context.Context) (*syncdomain.SessionCredential, error) {
	saved, err := m.store.Load(ctx)
	if err != nil {
		m.logger.Warn("loading saved session failed", zap.Error(err))
	}

	if saved.IsFresh(m.now()) {
		if m.prober.IsAuthenticated(ctx, saved) {
			m.logger.Debug("reusing saved session",
				zap.Time("saved_at", saved.SavedAt))
			return saved, nil
		}
		m.logger.Info("saved session rejected by liveness probe")
	}

	if saved != nil {
		if err := m.store.Delete(ctx); err != nil {
			m.logger.Warn("deleting stale session failed", zap.Error(err))
		}
	}

	cred, err := m.login(ctx)
	if err != nil {
		return nil, err
	}

	if err := m.store.Save(ctx, cred); err != nil {
		// The login itself succeeded. A broken store only costs the next
		// run a fresh login.
		m.logger.Warn("saving session failed", zap.Error(err))
	}
	return cred, nil
}

// Invalidate discards the stored credential so the next Ensure starts clean.
// The sync driver calls this after a login-pattern fetch failure.
func (m *SessionManager) Invalidate(ctx context.Context) error {
	return m.store.Delete(ctx)
}

// login drives a full browser login end to end
func (m *SessionManager) login(ctx context.Context) (*syncdomain.SessionCredential, error) {
	driver, err := m.newDriver(ctx)
	if err != nil {
		return nil, fmt.Errorf("aggregator: starting login driver: %w", err)
	}
	defer driver.Close()

	if err := driver.Open(ctx); err != nil {
		return nil, err
	}
	if err := driver.FillCredentials(ctx, m.config.Email, m.config.Password); err != nil {
		return nil, err
	}
	// Focusing the captcha input triggers the server-side image push
	if err := driver.FocusCaptchaInput(ctx); err != nil {
		return nil, err
	}

	if err := m.solveCaptchaLoop(ctx, driver); err != nil {
		return nil, err
	}

	if err := m.maybeVerifyByEmail(ctx, driver); err != nil {
		return nil, err
	}

	cookie, err := driver.CookieHeader(ctx)
	if err != nil {
		return nil, err
	}
	if cookie == "" {
		return nil, fmt.Errorf("%w: no cookies after login", syncdomain.ErrLoginFailed)
	}

	m.logger.Info("aggregator login succeeded")
	return &syncdomain.SessionCredential{
		Cookie:  cookie,
		SavedAt: m.now(),
	}, nil
}

// solveCaptchaLoop runs the bounded solve-submit-inspect loop. The first
// image wait is short because focus already triggered the push; after a
// rejection the replacement image takes longer to arrive.
func (m *SessionManager) solveCaptchaLoop(ctx context.Context, driver syncdomain.LoginDriver) error {
	for attempt := 1; attempt <= m.config.CaptchaAttempts; attempt++ {
		wait := m.config.FirstImageWait
		if attempt > 1 {
			wait = m.config.FreshImageWait
		}

		image, err := driver.AwaitCaptchaImage(ctx, wait)
		if err != nil {
			return err
		}

		text, err := m.solver.Solve(ctx, image, m.config.SolveAttempts)
		if err != nil {
			return err
		}

		if err := driver.FillCaptcha(ctx, text); err != nil {
			return err
		}
		if err := driver.Submit(ctx); err != nil {
			return err
		}

		rejected, err := driver.CaptchaRejected(ctx)
		if err != nil {
			return err
		}
		if !rejected {
			return nil
		}

		m.logger.Info("captcha rejected",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", m.config.CaptchaAttempts))
	}

	return fmt.Errorf("%w: captcha rejected %d times",
		syncdomain.ErrLoginFailed, m.config.CaptchaAttempts)
}

// maybeVerifyByEmail handles the conditional verification step. Absence of
// the send-code control within the bounded wait means this session did not
// require verification, which is not an error.
func (m *SessionManager) maybeVerifyByEmail(ctx context.Context, driver syncdomain.LoginDriver) error {
	present, err := driver.HasVerificationPrompt(ctx, m.config.PromptWait)
	if err != nil {
		return err
	}
	if !present {
		m.logger.Debug("no verification prompt, skipping email step")
		return nil
	}

	sentAt := m.now()
	if err := driver.RequestVerificationCode(ctx); err != nil {
		return err
	}

	code, err := m.mailbox.FetchCode(ctx, sentAt, m.config.CodeTimeout, m.config.CodePollInterval)
	if err != nil {
		return err
	}

	m.logger.Info("verification code received")
	return driver.SubmitVerificationCode(ctx, code)
}
