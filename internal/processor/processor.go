// Package processor is the outbound adapter to the payment processor.
//
// Callers depend on the Gateway interface. StripeGateway is the production
// implementation; processortest.Gateway is an in-memory fake for tests.
// Gateways never retry: a failed call surfaces ErrUnavailable or ErrRejected
// and recovery is left to the caller (or to the processor's webhook retries).
package processor

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnavailable covers transport failures, timeouts, 5xx responses and
	// an open circuit breaker.
	ErrUnavailable = errors.New("processor: unavailable")
	// ErrRejected is a 4xx response from the processor.
	ErrRejected = errors.New("processor: request rejected")
	// ErrSignature is returned for webhook payloads that fail verification.
	ErrSignature = errors.New("processor: invalid webhook signature")
)

// Gateway is the set of processor operations billing relies on.
type Gateway interface {
	// CreateCustomer creates a billable party and returns its id. The user id
	// is attached as processor-side metadata.
	CreateCustomer(ctx context.Context, p CustomerParams) (string, error)
	// CreateCheckoutSession starts a hosted checkout for a recurring
	// subscription with quantity 1.
	CreateCheckoutSession(ctx context.Context, p CheckoutParams) (*Session, error)
	// CreatePortalSession starts a hosted self-service portal session.
	CreatePortalSession(ctx context.Context, p PortalParams) (*Session, error)
	// RetrieveSubscription fetches the authoritative subscription state.
	RetrieveSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)
	// VerifyWebhook authenticates a webhook payload against the configured
	// signing secret and returns the decoded event envelope.
	VerifyWebhook(payload []byte, signatureHeader string) (*Event, error)
}

// CustomerParams describes a customer to create.
type CustomerParams struct {
	Email  string
	UserID string
}

// CheckoutParams describes a hosted checkout session.
type CheckoutParams struct {
	CustomerID string
	PriceID    string
	SuccessURL string
	CancelURL  string
	UserID     string
}

// PortalParams describes a hosted portal session.
type PortalParams struct {
	CustomerID string
	ReturnURL  string
}

// Session is a hosted processor page the user is redirected to.
type Session struct {
	ID  string
	URL string
}

// Subscription is the processor's view of a subscription, reduced to the
// fields reconciliation needs. Price and periods come from the primary line item.
// Status is the processor's raw status string.
type Subscription struct {
	ID                string
	CustomerID        string
	Status            string
	PriceID           string
	PeriodStart       time.Time
	PeriodEnd         time.Time
	CancelAtPeriodEnd bool
}

// CheckoutSession is the payload of a completed checkout.
type CheckoutSession struct {
	ID             string
	CustomerID     string
	SubscriptionID string
	UserID         string // from metadata.userId
}

// MetadataUserID is the metadata key carrying the local user id on
// customers, checkout sessions and subscriptions.
const MetadataUserID = "userId"
