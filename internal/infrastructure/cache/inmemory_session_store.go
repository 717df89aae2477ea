package cache

import (
	"context"
	"sync"
	"time"

	syncdomain "github.com/salesledger/backend/internal/domain/sync"
)

// InMemorySessionStore implements sync.SessionStore using a guarded field.
// This is suitable for single-instance deployments and testing; the
// credential does not survive a restart, which only costs one extra login.
type InMemorySessionStore struct {
	mu   sync.RWMutex
	cred *syncdomain.SessionCredential
}

// NewInMemorySessionStore creates a new in-memory session store
func NewInMemorySessionStore() *InMemorySessionStore {
	return &InMemorySessionStore{}
}

// Load returns the saved credential, or nil when none is stored or the
// stored one has aged past the trust window.
func (s *InMemorySessionStore) Load(ctx context.Context) (*syncdomain.SessionCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.cred == nil {
		return nil, nil
	}
	if time.Since(s.cred.SavedAt) >= syncdomain.SessionMaxAge {
		return nil, nil
	}

	cred := *s.cred
	return &cred, nil
}

// Save stores the credential, replacing any previous one
func (s *InMemorySessionStore) Save(ctx context.Context, cred *syncdomain.SessionCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *cred
	s.cred = &copied
	return nil
}

// Delete removes the stored credential, if any
func (s *InMemorySessionStore) Delete(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cred = nil
	return nil
}

// Ensure InMemorySessionStore implements SessionStore
var _ syncdomain.SessionStore = (*InMemorySessionStore)(nil)
