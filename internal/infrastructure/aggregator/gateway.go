package aggregator

import (
	"context"
	"time"

	syncdomain "github.com/salesledger/backend/internal/domain/sync"
)

// Gateway bundles the session manager and the HTTP client behind one surface,
// so callers hold a single handle per configured integration.
type Gateway struct {
	sessions *SessionManager
	client   *Client
}

// NewGateway creates a gateway over an already-constructed session manager
// and client pair.
func NewGateway(sessions *SessionManager, client *Client) *Gateway {
	return &Gateway{sessions: sessions, client: client}
}

// Ensure returns a usable session credential, logging in when needed
func (g *Gateway) Ensure(ctx context.Context) (*syncdomain.SessionCredential, error) {
	return g.sessions.Ensure(ctx)
}

// Invalidate discards the cached session credential
func (g *Gateway) Invalidate(ctx context.Context) error {
	return g.sessions.Invalidate(ctx)
}

// FetchReport retrieves report rows for the date window
func (g *Gateway) FetchReport(ctx context.Context, cred *syncdomain.SessionCredential, start, end time.Time) ([]ReportRow, error) {
	return g.client.FetchReport(ctx, cred, start, end)
}

// FetchOrders retrieves orders for the payment-time window
func (g *Gateway) FetchOrders(ctx context.Context, cred *syncdomain.SessionCredential, start, end time.Time) ([]Order, error) {
	return g.client.FetchOrders(ctx, cred, start, end)
}
