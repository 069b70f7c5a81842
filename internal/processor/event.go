package processor

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// Event types the billing pipeline reacts to.
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
)

// DefaultWebhookTolerance bounds the age of a signed webhook timestamp.
const DefaultWebhookTolerance = 5 * time.Minute

// Event is a verified webhook envelope. Object holds the raw data.object.
type Event struct {
	ID     string
	Type   string
	Object json.RawMessage
}

// VerifyEvent checks the signature header against secret with constant-time
// HMAC comparison and rejects timestamps outside tolerance.
func VerifyEvent(payload []byte, header, secret string, tolerance time.Duration) (*Event, error) {
	if tolerance <= 0 {
		tolerance = DefaultWebhookTolerance
	}
	ev, err := webhook.ConstructEventWithOptions(payload, header, secret, webhook.ConstructEventOptions{
		Tolerance:                tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignature, err)
	}
	out := &Event{ID: ev.ID, Type: string(ev.Type)}
	if ev.Data != nil {
		out.Object = ev.Data.Raw
	}
	return out, nil
}

// CheckoutSession decodes a checkout.session.* event object.
func (e *Event) CheckoutSession() (*CheckoutSession, error) {
	var cs stripe.CheckoutSession
	if err := json.Unmarshal(e.Object, &cs); err != nil {
		return nil, fmt.Errorf("decode checkout session: %w", err)
	}
	out := &CheckoutSession{ID: cs.ID, UserID: cs.Metadata[MetadataUserID]}
	if cs.Customer != nil {
		out.CustomerID = cs.Customer.ID
	}
	if cs.Subscription != nil {
		out.SubscriptionID = cs.Subscription.ID
	}
	return out, nil
}

// Subscription decodes a customer.subscription.* event object.
func (e *Event) Subscription() (*Subscription, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(e.Object, &sub); err != nil {
		return nil, fmt.Errorf("decode subscription: %w", err)
	}
	return subscriptionFromStripe(&sub), nil
}

// subscriptionFromStripe is the single place that knows where price and
// billing periods live on the processor object.
func subscriptionFromStripe(s *stripe.Subscription) *Subscription {
	out := &Subscription{
		ID:                s.ID,
		Status:            string(s.Status),
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
	}
	if s.Customer != nil {
		out.CustomerID = s.Customer.ID
	}
	if s.Items != nil && len(s.Items.Data) > 0 {
		item := s.Items.Data[0]
		if item.Price != nil {
			out.PriceID = item.Price.ID
		}
		out.PeriodStart = unixTime(item.CurrentPeriodStart)
		out.PeriodEnd = unixTime(item.CurrentPeriodEnd)
	}
	return out
}

func unixTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
