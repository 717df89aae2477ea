package sync

import (
	"context"
	"time"
)

// SessionMaxAge is the trust window for a saved session credential. A cookie
// older than this is treated as absent regardless of probe outcome.
const SessionMaxAge = 24 * time.Hour

// ---------------------------------------------------------------------------
// SessionCredential
// ---------------------------------------------------------------------------

// SessionCredential is the cookie-based bearer token proving authentication
// to the aggregator. It is ephemeral: created by a successful login,
// invalidated on probe failure, login-pattern fetch errors, or age expiry.
type SessionCredential struct {
	// Cookie is the combined cookie-header string for the aggregator origin
	Cookie string `json:"cookie"`
	// SessionID is the aggregator's own session identifier, when exposed
	SessionID string `json:"session_id,omitempty"`
	// SavedAt is when the credential was created by a login
	SavedAt time.Time `json:"saved_at"`
}

// IsFresh reports whether the credential is still inside its trust window
func (c *SessionCredential) IsFresh(now time.Time) bool {
	if c == nil || c.Cookie == "" || c.SavedAt.IsZero() {
		return false
	}
	return now.Sub(c.SavedAt) < SessionMaxAge
}

// ---------------------------------------------------------------------------
// SessionStore port
// ---------------------------------------------------------------------------

// SessionStore persists the session credential between runs. Implementations
// must never keep a credential past SessionMaxAge.
type SessionStore interface {
	// Load returns the saved credential, or nil when none is stored
	Load(ctx context.Context) (*SessionCredential, error)
	// Save stores the credential, replacing any previous one
	Save(ctx context.Context, cred *SessionCredential) error
	// Delete removes the stored credential, if any
	Delete(ctx context.Context) error
}
