// Package billing keeps each user's local Subscription row consistent with
// the payment processor.
//
// Writes flow in two directions. Service starts hosted checkout and portal
// sessions on behalf of a user and is the only writer of the customer id.
// WebhookHandler applies the processor's signed lifecycle events and is the
// only writer of every other subscription field. The read path (View) never
// calls the processor.
package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/launchkit-dev/launchkit/internal/metrics"
	"github.com/launchkit-dev/launchkit/internal/processor"
	"github.com/launchkit-dev/launchkit/internal/store"
)

// SubscriptionStore is the slice of store.Store billing needs.
type SubscriptionStore interface {
	GetSubscriptionByUser(ctx context.Context, userID string) (*store.Subscription, error)
	UpsertCustomer(ctx context.Context, userID, customerID string) error
	ApplyProcessorUpdate(ctx context.Context, customerID string, update store.SubscriptionUpdate) error
}

// Service implements the user-initiated billing actions and the read path.
type Service struct {
	store   SubscriptionStore
	gateway processor.Gateway
	catalog *Catalog
	appURL  string
	logger  *slog.Logger
}

// NewService creates a billing service. appURL is the public base URL used
// to build return links, without a trailing slash.
func NewService(st SubscriptionStore, gw processor.Gateway, catalog *Catalog, appURL string, logger *slog.Logger) *Service {
	return &Service{
		store:   st,
		gateway: gw,
		catalog: catalog,
		appURL:  appURL,
		logger:  logger.With("component", "billing"),
	}
}

// Catalog returns the plan catalog.
func (s *Service) Catalog() *Catalog {
	return s.catalog
}

func (s *Service) billingURL(query string) string {
	if query == "" {
		return s.appURL + "/billing"
	}
	return s.appURL + "/billing?" + query
}

// StartCheckout ensures the user has a processor customer and returns the
// URL of a hosted checkout page for planID.
//
// The customer is created before the local row is written, so the store
// never references a customer that does not exist. Repeated calls reuse the
// stored customer id.
func (s *Service) StartCheckout(ctx context.Context, userID, email, planID string) (string, error) {
	priceID, err := s.catalog.ResolvePriceID(planID)
	if err != nil {
		return "", err
	}

	customerID, err := s.ensureCustomer(ctx, userID, email)
	if err != nil {
		return "", err
	}

	sess, err := s.gateway.CreateCheckoutSession(ctx, processor.CheckoutParams{
		CustomerID: customerID,
		PriceID:    priceID,
		SuccessURL: s.billingURL("success=true"),
		CancelURL:  s.billingURL("canceled=true"),
		UserID:     userID,
	})
	if err != nil {
		return "", err
	}

	metrics.SessionsStarted.WithLabelValues("checkout").Inc()
	s.logger.Info("checkout session created", "user_id", userID, "plan", planID, "customer_id", customerID)
	return sess.URL, nil
}

func (s *Service) ensureCustomer(ctx context.Context, userID, email string) (string, error) {
	row, err := s.store.GetSubscriptionByUser(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("load subscription: %w", err)
	}
	if row != nil && row.StripeCustomerID != "" {
		return row.StripeCustomerID, nil
	}

	customerID, err := s.gateway.CreateCustomer(ctx, processor.CustomerParams{Email: email, UserID: userID})
	if err != nil {
		return "", err
	}

	err = s.store.UpsertCustomer(ctx, userID, customerID)
	if errors.Is(err, store.ErrConflict) {
		// A concurrent checkout for the same user stored its customer first.
		row, rerr := s.store.GetSubscriptionByUser(ctx, userID)
		if rerr == nil && row != nil && row.StripeCustomerID != "" {
			s.logger.Warn("discarding duplicate processor customer",
				"user_id", userID, "kept", row.StripeCustomerID, "orphaned", customerID)
			return row.StripeCustomerID, nil
		}
	}
	if err != nil {
		return "", fmt.Errorf("store customer: %w", err)
	}
	return customerID, nil
}

// StartPortal returns the URL of a hosted portal session. It never creates
// a customer.
func (s *Service) StartPortal(ctx context.Context, userID string) (string, error) {
	row, err := s.store.GetSubscriptionByUser(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("load subscription: %w", err)
	}
	if row == nil || row.StripeCustomerID == "" {
		return "", ErrNoCustomer
	}

	sess, err := s.gateway.CreatePortalSession(ctx, processor.PortalParams{
		CustomerID: row.StripeCustomerID,
		ReturnURL:  s.billingURL(""),
	})
	if err != nil {
		return "", err
	}

	metrics.SessionsStarted.WithLabelValues("portal").Inc()
	return sess.URL, nil
}

// View is the billing state shown to a user.
type View struct {
	Plan               Plan                     `json:"plan"`
	Status             store.SubscriptionStatus `json:"status"`
	Entitled           bool                     `json:"entitled"`
	CurrentPeriodStart *time.Time               `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time               `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd  bool                     `json:"cancel_at_period_end"`
	CanManage          bool                     `json:"can_manage"` // portal available
}

// View reads the user's billing state from the store. Users without a row
// get a synthesized free view. Plan is the effective plan: the subscribed
// plan while entitled, otherwise free.
func (s *Service) View(ctx context.Context, userID string) (*View, error) {
	row, err := s.store.GetSubscriptionByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load subscription: %w", err)
	}
	if row == nil {
		return &View{Plan: s.catalog.Free(), Status: store.StatusNone}, nil
	}

	v := &View{
		Plan:               s.catalog.Free(),
		Status:             row.Status,
		Entitled:           row.Status.Entitled(),
		CurrentPeriodStart: row.CurrentPeriodStart,
		CurrentPeriodEnd:   row.CurrentPeriodEnd,
		CancelAtPeriodEnd:  row.CancelAtPeriodEnd,
		CanManage:          row.StripeCustomerID != "",
	}
	if v.Entitled {
		v.Plan = s.catalog.PlanForPrice(row.PriceID)
	}
	return v, nil
}
