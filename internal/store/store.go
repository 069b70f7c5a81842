// Package store defines the persistence interface for launchkit and provides
// SQLite and PostgreSQL implementations.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned by ApplyProcessorUpdate when no row carries the customer id.
	ErrNotFound = errors.New("store: subscription not found")
	// ErrConflict is returned when a write would change a write-once customer id
	// or reuse a customer id owned by another user.
	ErrConflict = errors.New("store: conflicting customer id")
	// ErrStaleUpdate is returned when out-of-order suppression rejected an update.
	ErrStaleUpdate = errors.New("store: stale subscription update")
	// ErrInvalidUpdate is returned for updates that would break row invariants.
	ErrInvalidUpdate = errors.New("store: invalid subscription update")
	// ErrUserExists is returned by CreateUser for a duplicate id or email,
	// and by EnsureUser when the email belongs to a different id.
	ErrUserExists = errors.New("store: user already exists")
)

// Store is the persistence interface for launchkit.
type Store interface {
	// Users
	CreateUser(ctx context.Context, user *User) error
	EnsureUser(ctx context.Context, user *User) error
	GetUserByID(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)

	// Subscriptions
	GetSubscriptionByUser(ctx context.Context, userID string) (*Subscription, error)
	GetSubscriptionByCustomer(ctx context.Context, customerID string) (*Subscription, error)
	UpsertCustomer(ctx context.Context, userID, customerID string) error
	ApplyProcessorUpdate(ctx context.Context, customerID string, update SubscriptionUpdate) error

	// Assistant requests
	CreateAIRequest(ctx context.Context, req *AIRequest) error
	ListAIRequests(ctx context.Context, userID string, limit int) ([]AIRequest, error)
	CountAIRequests(ctx context.Context, userID string) (int, error)

	// Health
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// User represents an application user.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name,omitempty"`
	PasswordHash string    `json:"-"` // empty for externally managed users
	CreatedAt    time.Time `json:"created_at"`
}

// SubscriptionStatus mirrors the payment processor's subscription lifecycle.
type SubscriptionStatus string

const (
	StatusNone       SubscriptionStatus = "none"
	StatusIncomplete SubscriptionStatus = "incomplete"
	StatusActive     SubscriptionStatus = "active"
	StatusPastDue    SubscriptionStatus = "past_due"
	StatusCanceled   SubscriptionStatus = "canceled"
	StatusUnpaid     SubscriptionStatus = "unpaid"
	StatusTrialing   SubscriptionStatus = "trialing"
	StatusPaused     SubscriptionStatus = "paused"
)

// ParseSubscriptionStatus decodes a processor status string. It is the only
// place where free-form status strings enter the system.
// "incomplete_expired" is terminal at the processor and is stored as canceled.
func ParseSubscriptionStatus(s string) (SubscriptionStatus, error) {
	switch s {
	case "incomplete":
		return StatusIncomplete, nil
	case "incomplete_expired":
		return StatusCanceled, nil
	case "active":
		return StatusActive, nil
	case "past_due":
		return StatusPastDue, nil
	case "canceled":
		return StatusCanceled, nil
	case "unpaid":
		return StatusUnpaid, nil
	case "trialing":
		return StatusTrialing, nil
	case "paused":
		return StatusPaused, nil
	}
	return "", fmt.Errorf("unknown subscription status %q", s)
}

// Entitled reports whether the status grants paid features.
func (s SubscriptionStatus) Entitled() bool {
	return s == StatusActive
}

// Subscription is the local mirror of a user's processor subscription.
// At most one row exists per user.
type Subscription struct {
	UserID               string             `json:"user_id"`
	StripeCustomerID     string             `json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID string             `json:"stripe_subscription_id,omitempty"`
	PriceID              string             `json:"price_id,omitempty"`
	Status               SubscriptionStatus `json:"status"`
	CurrentPeriodStart   *time.Time         `json:"current_period_start,omitempty"`
	CurrentPeriodEnd     *time.Time         `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd    bool               `json:"cancel_at_period_end"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

// SubscriptionUpdate is a full restatement of processor-owned fields.
// Empty SubscriptionID or PriceID leave the stored value untouched.
type SubscriptionUpdate struct {
	SubscriptionID    string
	PriceID           string
	Status            SubscriptionStatus
	PeriodStart       time.Time
	PeriodEnd         time.Time
	CancelAtPeriodEnd bool

	// RejectStale drops the update when PeriodStart is strictly older than
	// the stored period start.
	RejectStale bool
}

// Validate checks the update against the row invariants.
func (u SubscriptionUpdate) Validate() error {
	switch u.Status {
	case StatusIncomplete, StatusActive, StatusPastDue, StatusCanceled,
		StatusUnpaid, StatusTrialing, StatusPaused:
	default:
		return fmt.Errorf("%w: status %q", ErrInvalidUpdate, u.Status)
	}
	if u.PeriodStart.IsZero() || u.PeriodEnd.IsZero() {
		return fmt.Errorf("%w: missing billing period", ErrInvalidUpdate)
	}
	if !u.PeriodStart.Before(u.PeriodEnd) {
		return fmt.Errorf("%w: period start %s not before end %s", ErrInvalidUpdate,
			u.PeriodStart.Format(time.RFC3339), u.PeriodEnd.Format(time.RFC3339))
	}
	return nil
}

// AIRequest is a logged assistant completion.
type AIRequest struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Prompt    string    `json:"prompt"`
	Response  string    `json:"response"`
	Model     string    `json:"model"`
	Tokens    int       `json:"tokens"`
	Cost      float64   `json:"cost"`
	CreatedAt time.Time `json:"created_at"`
}
