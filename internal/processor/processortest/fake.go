// Package processortest provides an in-memory processor.Gateway for tests.
package processortest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/launchkit-dev/launchkit/internal/processor"
)

// Gateway is a scriptable processor.Gateway. Customer and session ids are
// sequential (cus_1, cs_1, ...). Set the *Err fields to inject failures.
// Webhooks are verified with the real signature scheme against WebhookSecret.
type Gateway struct {
	WebhookSecret string

	mu sync.Mutex

	// SessionURL builds the checkout URL for the n-th session (1-based).
	// Default: https://checkout.test/s<n>.
	SessionURL func(n int) string
	// PortalURL is returned by CreatePortalSession. Default: https://portal.test/session.
	PortalURL string

	CreateCustomerErr  error
	CheckoutErr        error
	PortalErr          error
	RetrieveErr        error
	Subscriptions      map[string]*processor.Subscription
	Customers          []processor.CustomerParams
	CheckoutSessions   []processor.CheckoutParams
	PortalSessions     []processor.PortalParams
	RetrievedIDs       []string
	customerSeq        int
	checkoutSessionSeq int
}

var _ processor.Gateway = (*Gateway)(nil)

// New returns a fake gateway verifying webhooks with secret.
func New(secret string) *Gateway {
	return &Gateway{
		WebhookSecret: secret,
		Subscriptions: map[string]*processor.Subscription{},
	}
}

// PutSubscription registers the state RetrieveSubscription returns for sub.ID.
func (g *Gateway) PutSubscription(sub processor.Subscription) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Subscriptions[sub.ID] = &sub
}

// CustomerCount returns how many customers were created.
func (g *Gateway) CustomerCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Customers)
}

func (g *Gateway) CreateCustomer(ctx context.Context, p processor.CustomerParams) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", processor.ErrUnavailable, err)
	}
	if g.CreateCustomerErr != nil {
		return "", g.CreateCustomerErr
	}
	g.customerSeq++
	g.Customers = append(g.Customers, p)
	return fmt.Sprintf("cus_%d", g.customerSeq), nil
}

func (g *Gateway) CreateCheckoutSession(ctx context.Context, p processor.CheckoutParams) (*processor.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", processor.ErrUnavailable, err)
	}
	if g.CheckoutErr != nil {
		return nil, g.CheckoutErr
	}
	g.checkoutSessionSeq++
	g.CheckoutSessions = append(g.CheckoutSessions, p)
	n := g.checkoutSessionSeq
	url := fmt.Sprintf("https://checkout.test/s%d", n)
	if g.SessionURL != nil {
		url = g.SessionURL(n)
	}
	return &processor.Session{ID: fmt.Sprintf("cs_%d", n), URL: url}, nil
}

func (g *Gateway) CreatePortalSession(ctx context.Context, p processor.PortalParams) (*processor.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", processor.ErrUnavailable, err)
	}
	if g.PortalErr != nil {
		return nil, g.PortalErr
	}
	g.PortalSessions = append(g.PortalSessions, p)
	url := g.PortalURL
	if url == "" {
		url = "https://portal.test/session"
	}
	return &processor.Session{ID: fmt.Sprintf("bps_%d", len(g.PortalSessions)), URL: url}, nil
}

func (g *Gateway) RetrieveSubscription(ctx context.Context, id string) (*processor.Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", processor.ErrUnavailable, err)
	}
	g.RetrievedIDs = append(g.RetrievedIDs, id)
	if g.RetrieveErr != nil {
		return nil, g.RetrieveErr
	}
	sub, ok := g.Subscriptions[id]
	if !ok {
		return nil, fmt.Errorf("%w: no such subscription: %s", processor.ErrRejected, id)
	}
	cp := *sub
	return &cp, nil
}

func (g *Gateway) VerifyWebhook(payload []byte, header string) (*processor.Event, error) {
	return processor.VerifyEvent(payload, header, g.WebhookSecret, 5*time.Minute)
}
