package processortest

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v82/webhook"
)

// Sign returns payload and a Stripe-Signature header valid for secret now.
func Sign(secret string, payload []byte) ([]byte, string) {
	return SignAt(secret, payload, time.Now())
}

// SignAt signs payload with an explicit timestamp.
func SignAt(secret string, payload []byte, ts time.Time) ([]byte, string) {
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: ts,
		Scheme:    "v1",
	})
	return signed.Payload, signed.Header
}

// EventJSON builds a processor event envelope around object.
func EventJSON(id, eventType string, object any) []byte {
	raw, err := json.Marshal(object)
	if err != nil {
		panic(fmt.Sprintf("processortest: marshal event object: %v", err))
	}
	env := map[string]any{
		"id":     id,
		"object": "event",
		"type":   eventType,
		"data":   map[string]json.RawMessage{"object": raw},
	}
	out, err := json.Marshal(env)
	if err != nil {
		panic(fmt.Sprintf("processortest: marshal event: %v", err))
	}
	return out
}

// CheckoutCompleted is a checkout.session.completed object.
func CheckoutCompleted(customerID, subscriptionID, userID string) map[string]any {
	obj := map[string]any{
		"id":       "cs_test",
		"object":   "checkout.session",
		"mode":     "subscription",
		"customer": customerID,
		"metadata": map[string]string{},
	}
	if subscriptionID != "" {
		obj["subscription"] = subscriptionID
	}
	if userID != "" {
		obj["metadata"] = map[string]string{"userId": userID}
	}
	return obj
}

// SubscriptionObject is a customer.subscription.* object with one line item.
func SubscriptionObject(id, customerID, status, priceID string, start, end int64, cancelAtPeriodEnd bool) map[string]any {
	return map[string]any{
		"id":                   id,
		"object":               "subscription",
		"customer":             customerID,
		"status":               status,
		"cancel_at_period_end": cancelAtPeriodEnd,
		"items": map[string]any{
			"object": "list",
			"data": []map[string]any{
				{
					"id":                   "si_" + id,
					"object":               "subscription_item",
					"price":                map[string]any{"id": priceID, "object": "price"},
					"current_period_start": start,
					"current_period_end":   end,
				},
			},
		},
	}
}
