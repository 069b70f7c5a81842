package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stripe/stripe-go/v82"
	bpsession "github.com/stripe/stripe-go/v82/billingportal/session"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/subscription"

	"github.com/launchkit-dev/launchkit/internal/breaker"
	"github.com/launchkit-dev/launchkit/internal/metrics"
)

// StripeConfig configures a StripeGateway.
type StripeConfig struct {
	SecretKey        string
	WebhookSecret    string
	WebhookTolerance time.Duration // default DefaultWebhookTolerance
	APIURL           string        // override the API base URL (tests, stripe-mock)
	HTTPClient       *http.Client  // default: 30s timeout
	Breaker          breaker.Settings
}

// StripeGateway implements Gateway on top of stripe-go.
type StripeGateway struct {
	customers     customer.Client
	checkout      session.Client
	portal        bpsession.Client
	subscriptions subscription.Client

	webhookSecret string
	tolerance     time.Duration
	cb            *gobreaker.CircuitBreaker[any]
	logger        *slog.Logger
}

// NewStripeGateway creates a gateway with its own API backend. The backend
// performs no network retries.
func NewStripeGateway(cfg StripeConfig, logger *slog.Logger) *StripeGateway {
	logger = logger.With("component", "processor")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	backendCfg := &stripe.BackendConfig{
		HTTPClient:        httpClient,
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     slogLeveled{logger: logger},
	}
	if cfg.APIURL != "" {
		backendCfg.URL = stripe.String(cfg.APIURL)
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg)

	tolerance := cfg.WebhookTolerance
	if tolerance <= 0 {
		tolerance = DefaultWebhookTolerance
	}

	bs := cfg.Breaker
	if bs.Name == "" {
		bs.Name = "stripe"
	}
	bs.IsSuccessful = func(err error) bool {
		return err == nil || isRejection(err)
	}

	return &StripeGateway{
		customers:     customer.Client{B: backend, Key: cfg.SecretKey},
		checkout:      session.Client{B: backend, Key: cfg.SecretKey},
		portal:        bpsession.Client{B: backend, Key: cfg.SecretKey},
		subscriptions: subscription.Client{B: backend, Key: cfg.SecretKey},
		webhookSecret: cfg.WebhookSecret,
		tolerance:     tolerance,
		cb:            breaker.New(bs, logger),
		logger:        logger,
	}
}

func (g *StripeGateway) CreateCustomer(ctx context.Context, p CustomerParams) (string, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	if p.Email != "" {
		params.Email = stripe.String(p.Email)
	}
	params.AddMetadata(MetadataUserID, p.UserID)

	c, err := call(g, "create_customer", func() (*stripe.Customer, error) {
		return g.customers.New(params)
	})
	if err != nil {
		return "", fmt.Errorf("create customer: %w", err)
	}
	return c.ID, nil
}

func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (*Session, error) {
	params := &stripe.CheckoutSessionParams{
		Customer: stripe.String(p.CustomerID),
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(p.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(p.SuccessURL),
		CancelURL:  stripe.String(p.CancelURL),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{MetadataUserID: p.UserID},
		},
	}
	params.Context = ctx
	params.AddMetadata(MetadataUserID, p.UserID)

	s, err := call(g, "create_checkout_session", func() (*stripe.CheckoutSession, error) {
		return g.checkout.New(params)
	})
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return &Session{ID: s.ID, URL: s.URL}, nil
}

func (g *StripeGateway) CreatePortalSession(ctx context.Context, p PortalParams) (*Session, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(p.CustomerID),
		ReturnURL: stripe.String(p.ReturnURL),
	}
	params.Context = ctx

	s, err := call(g, "create_portal_session", func() (*stripe.BillingPortalSession, error) {
		return g.portal.New(params)
	})
	if err != nil {
		return nil, fmt.Errorf("create portal session: %w", err)
	}
	return &Session{ID: s.ID, URL: s.URL}, nil
}

func (g *StripeGateway) RetrieveSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	s, err := call(g, "retrieve_subscription", func() (*stripe.Subscription, error) {
		return g.subscriptions.Get(subscriptionID, params)
	})
	if err != nil {
		return nil, fmt.Errorf("retrieve subscription %s: %w", subscriptionID, err)
	}
	return subscriptionFromStripe(s), nil
}

func (g *StripeGateway) VerifyWebhook(payload []byte, signatureHeader string) (*Event, error) {
	return VerifyEvent(payload, signatureHeader, g.webhookSecret, g.tolerance)
}

// call runs fn through the breaker, records metrics and maps the error.
func call[T any](g *StripeGateway, op string, fn func() (T, error)) (T, error) {
	start := time.Now()
	res, err := g.cb.Execute(func() (any, error) {
		return fn()
	})
	metrics.ProcessorCallDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())

	var zero T
	if err != nil {
		err = classify(err)
		outcome := "unavailable"
		if errors.Is(err, ErrRejected) {
			outcome = "rejected"
		}
		metrics.ProcessorCallsTotal.WithLabelValues(op, outcome).Inc()
		g.logger.Warn("processor call failed", "operation", op, "error", err)
		return zero, err
	}
	metrics.ProcessorCallsTotal.WithLabelValues(op, "ok").Inc()
	return res.(T), nil
}

func isRejection(err error) bool {
	var se *stripe.Error
	return errors.As(err, &se) && se.HTTPStatusCode >= 400 && se.HTTPStatusCode < 500
}

// classify maps stripe-go and breaker errors onto ErrRejected/ErrUnavailable.
func classify(err error) error {
	if isRejection(err) {
		return fmt.Errorf("%w: %w", ErrRejected, err)
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}
