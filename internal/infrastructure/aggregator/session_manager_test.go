package aggregator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncdomain "github.com/salesledger/backend/internal/domain/sync"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeStore struct {
	saved   *syncdomain.SessionCredential
	deletes int
	saves   int
}

func (s *fakeStore) Load(ctx context.Context) (*syncdomain.SessionCredential, error) {
	return s.saved, nil
}

func (s *fakeStore) Save(ctx context.Context, cred *syncdomain.SessionCredential) error {
	s.saves++
	s.saved = cred
	return nil
}

func (s *fakeStore) Delete(ctx context.Context) error {
	s.deletes++
	s.saved = nil
	return nil
}

type fakeSolver struct {
	calls   int
	answers []string
	err     error
}

func (s *fakeSolver) Solve(ctx context.Context, imageBase64 string, maxAttempts int) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	if s.calls <= len(s.answers) {
		return s.answers[s.calls-1], nil
	}
	return "XYZ123", nil
}

func (s *fakeSolver) Balance(ctx context.Context) (float64, error) {
	return 42.0, nil
}

type fakeMailbox struct {
	calls     int
	code      string
	err       error
	sentAfter time.Time
}

func (m *fakeMailbox) FetchCode(ctx context.Context, sentAfter time.Time, timeout, pollInterval time.Duration) (string, error) {
	m.calls++
	m.sentAfter = sentAfter
	if m.err != nil {
		return "", m.err
	}
	return m.code, nil
}

// fakeDriver records the call sequence and scripts rejection outcomes
type fakeDriver struct {
	rejections  int // submissions reported as captcha-rejected before success
	submits     int
	imageWaits  []time.Duration
	hasPrompt   bool
	cookie      string
	submitted   []string // captcha texts filled
	codeEntered string
	closed      bool

	openErr  error
	imageErr error
}

func (d *fakeDriver) Open(ctx context.Context) error { return d.openErr }

func (d *fakeDriver) FillCredentials(ctx context.Context, email, password string) error {
	return nil
}

func (d *fakeDriver) FocusCaptchaInput(ctx context.Context) error { return nil }

func (d *fakeDriver) AwaitCaptchaImage(ctx context.Context, timeout time.Duration) (string, error) {
	d.imageWaits = append(d.imageWaits, timeout)
	if d.imageErr != nil {
		return "", d.imageErr
	}
	return "iVBORw0KGgo=", nil
}

func (d *fakeDriver) FillCaptcha(ctx context.Context, text string) error {
	d.submitted = append(d.submitted, text)
	return nil
}

func (d *fakeDriver) Submit(ctx context.Context) error {
	d.submits++
	return nil
}

func (d *fakeDriver) CaptchaRejected(ctx context.Context) (bool, error) {
	return d.submits <= d.rejections, nil
}

func (d *fakeDriver) HasVerificationPrompt(ctx context.Context, timeout time.Duration) (bool, error) {
	return d.hasPrompt, nil
}

func (d *fakeDriver) RequestVerificationCode(ctx context.Context) error { return nil }

func (d *fakeDriver) SubmitVerificationCode(ctx context.Context, code string) error {
	d.codeEntered = code
	return nil
}

func (d *fakeDriver) CookieHeader(ctx context.Context) (string, error) {
	if d.cookie == "" {
		return "JSESSIONID=fresh", nil
	}
	return d.cookie, nil
}

func (d *fakeDriver) Close() error {
	d.closed = true
	return nil
}

type fakeProber struct {
	alive  bool
	probes int
}

func (p *fakeProber) IsAuthenticated(ctx context.Context, cred *syncdomain.SessionCredential) bool {
	p.probes++
	return p.alive
}

// ---------------------------------------------------------------------------
// Harness
// ---------------------------------------------------------------------------

type managerHarness struct {
	manager *SessionManager
	store   *fakeStore
	solver  *fakeSolver
	mailbox *fakeMailbox
	driver  *fakeDriver
	prober  *fakeProber
	logins  int
}

func newManagerHarness(t *testing.T, driver *fakeDriver) *managerHarness {
	t.Helper()

	h := &managerHarness{
		store:   &fakeStore{},
		solver:  &fakeSolver{},
		mailbox: &fakeMailbox{code: "482913"},
		driver:  driver,
		prober:  &fakeProber{},
	}

	factory := func(ctx context.Context) (syncdomain.LoginDriver, error) {
		h.logins++
		return h.driver, nil
	}

	manager, err := NewSessionManager(&SessionManagerConfig{
		Email:    "operator@example.com",
		Password: "secret",
	}, h.store, h.solver, h.mailbox, factory, h.prober, nil)
	require.NoError(t, err)

	h.manager = manager
	return h
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestSessionManagerConfig_Validate(t *testing.T) {
	t.Run("missing identity", func(t *testing.T) {
		err := (&SessionManagerConfig{Email: "a@b.c"}).Validate()
		assert.ErrorIs(t, err, ErrMissingCredentials)
	})

	t.Run("defaults applied", func(t *testing.T) {
		config := &SessionManagerConfig{Email: "a@b.c", Password: "p"}
		require.NoError(t, config.Validate())
		assert.Equal(t, 3, config.CaptchaAttempts)
		assert.Equal(t, 2*time.Second, config.FirstImageWait)
		assert.Equal(t, 10*time.Second, config.FreshImageWait)
		assert.Equal(t, 5*time.Second, config.PromptWait)
	})
}

func TestSessionManager_ReusesFreshProbedSession(t *testing.T) {
	h := newManagerHarness(t, &fakeDriver{})
	h.prober.alive = true
	h.store.saved = &syncdomain.SessionCredential{
		Cookie:  "JSESSIONID=saved",
		SavedAt: time.Now().Add(-23*time.Hour - 59*time.Minute),
	}

	cred, err := h.manager.Ensure(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "JSESSIONID=saved", cred.Cookie)
	assert.Equal(t, 1, h.prober.probes)
	assert.Zero(t, h.logins, "a valid saved session must not trigger a login")
}

func TestSessionManager_ExpiredSessionIsNeverProbed(t *testing.T) {
	h := newManagerHarness(t, &fakeDriver{})
	h.prober.alive = true // would pass, but age disqualifies first
	h.store.saved = &syncdomain.SessionCredential{
		Cookie:  "JSESSIONID=old",
		SavedAt: time.Now().Add(-24*time.Hour - time.Minute),
	}

	cred, err := h.manager.Ensure(context.Background())

	require.NoError(t, err)
	assert.Zero(t, h.prober.probes, "age expiry must bypass the probe entirely")
	assert.Equal(t, 1, h.logins)
	assert.Equal(t, 1, h.store.deletes)
	assert.Equal(t, "JSESSIONID=fresh", cred.Cookie)
}

func TestSessionManager_ProbeFailureForcesLogin(t *testing.T) {
	h := newManagerHarness(t, &fakeDriver{})
	h.prober.alive = false
	h.store.saved = &syncdomain.SessionCredential{
		Cookie:  "JSESSIONID=dead",
		SavedAt: time.Now().Add(-time.Hour),
	}

	cred, err := h.manager.Ensure(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, h.prober.probes)
	assert.Equal(t, 1, h.logins)
	assert.Equal(t, 1, h.store.deletes, "the dead credential must be cleared")
	assert.Equal(t, "JSESSIONID=fresh", cred.Cookie)
}

func TestSessionManager_LoginSavesCredential(t *testing.T) {
	h := newManagerHarness(t, &fakeDriver{})

	before := time.Now()
	cred, err := h.manager.Ensure(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, h.store.saves)
	assert.Equal(t, cred, h.store.saved)
	assert.False(t, cred.SavedAt.Before(before))
	assert.True(t, h.driver.closed)
}

func TestSessionManager_CaptchaRetryLoop(t *testing.T) {
	t.Run("recovers when a later captcha attempt succeeds", func(t *testing.T) {
		h := newManagerHarness(t, &fakeDriver{rejections: 2})

		_, err := h.manager.Ensure(context.Background())

		require.NoError(t, err)
		assert.Equal(t, 3, h.driver.submits)
		assert.Equal(t, 3, h.solver.calls, "each retry must solve a fresh image")
		// First image arrives on focus, replacements take longer
		require.Len(t, h.driver.imageWaits, 3)
		assert.Equal(t, 2*time.Second, h.driver.imageWaits[0])
		assert.Equal(t, 10*time.Second, h.driver.imageWaits[1])
		assert.Equal(t, 10*time.Second, h.driver.imageWaits[2])
	})

	t.Run("three rejections fail the login", func(t *testing.T) {
		h := newManagerHarness(t, &fakeDriver{rejections: 3})

		_, err := h.manager.Ensure(context.Background())

		require.Error(t, err)
		assert.ErrorIs(t, err, syncdomain.ErrLoginFailed)
		assert.Equal(t, 3, h.driver.submits, "no fourth attempt")
		assert.Zero(t, h.store.saves)
	})
}

func TestSessionManager_CaptchaLoadTimeoutIsFatal(t *testing.T) {
	driver := &fakeDriver{imageErr: &syncdomain.CaptchaLoadTimeoutError{Waited: 2 * time.Second}}
	h := newManagerHarness(t, driver)

	_, err := h.manager.Ensure(context.Background())

	var timeoutErr *syncdomain.CaptchaLoadTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Zero(t, h.driver.submits)
	assert.True(t, h.driver.closed)
}

func TestSessionManager_SolverFailureIsFatal(t *testing.T) {
	h := newManagerHarness(t, &fakeDriver{})
	h.solver.err = errors.New("captcha: ERROR_ZERO_BALANCE")

	_, err := h.manager.Ensure(context.Background())

	require.Error(t, err)
	assert.Zero(t, h.driver.submits)
	assert.Zero(t, h.store.saves)
}

func TestSessionManager_PageShapeChangedIsFatal(t *testing.T) {
	driver := &fakeDriver{openErr: &syncdomain.PageShapeChangedError{Locator: "identity inputs"}}
	h := newManagerHarness(t, driver)

	_, err := h.manager.Ensure(context.Background())

	var shapeErr *syncdomain.PageShapeChangedError
	require.ErrorAs(t, err, &shapeErr)
	assert.True(t, h.driver.closed)
}

func TestSessionManager_EmailVerification(t *testing.T) {
	t.Run("prompt present runs the mailbox step", func(t *testing.T) {
		h := newManagerHarness(t, &fakeDriver{hasPrompt: true})

		before := time.Now()
		_, err := h.manager.Ensure(context.Background())

		require.NoError(t, err)
		assert.Equal(t, 1, h.mailbox.calls)
		assert.Equal(t, "482913", h.driver.codeEntered)
		assert.False(t, h.mailbox.sentAfter.Before(before),
			"stale mail from earlier runs must not satisfy the fetch")
	})

	t.Run("prompt absent skips the mailbox step", func(t *testing.T) {
		h := newManagerHarness(t, &fakeDriver{hasPrompt: false})

		_, err := h.manager.Ensure(context.Background())

		require.NoError(t, err)
		assert.Zero(t, h.mailbox.calls)
		assert.Empty(t, h.driver.codeEntered)
	})

	t.Run("code timeout fails the login", func(t *testing.T) {
		h := newManagerHarness(t, &fakeDriver{hasPrompt: true})
		h.mailbox.err = &syncdomain.CodeTimeoutError{Waited: 90 * time.Second}

		_, err := h.manager.Ensure(context.Background())

		var timeoutErr *syncdomain.CodeTimeoutError
		require.ErrorAs(t, err, &timeoutErr)
		assert.Zero(t, h.store.saves)
	})
}

func TestSessionManager_Invalidate(t *testing.T) {
	h := newManagerHarness(t, &fakeDriver{})
	h.store.saved = &syncdomain.SessionCredential{Cookie: "x", SavedAt: time.Now()}

	require.NoError(t, h.manager.Invalidate(context.Background()))
	assert.Nil(t, h.store.saved)
}
