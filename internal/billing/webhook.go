package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/launchkit-dev/launchkit/internal/metrics"
	"github.com/launchkit-dev/launchkit/internal/processor"
	"github.com/launchkit-dev/launchkit/internal/store"
)

const webhookBodyLimit = 1024 * 1024 // 1 MiB

// Webhook outcomes, used as metric labels.
const (
	outcomeApplied          = "applied"
	outcomeIgnored          = "ignored"
	outcomeNotFound         = "not_found"
	outcomeStale            = "stale"
	outcomeInvalidSignature = "invalid_signature"
	outcomeFailed           = "failed"
)

// WebhookHandler authenticates processor callbacks and applies them to the
// local subscription rows. Every event is treated as a full restatement of
// the subscription, so replays converge on the same row.
type WebhookHandler struct {
	store       SubscriptionStore
	gateway     processor.Gateway
	rejectStale bool
	logger      *slog.Logger
}

// NewWebhookHandler creates a webhook handler. With rejectStale set,
// updates whose period start is older than the stored one are dropped.
func NewWebhookHandler(st SubscriptionStore, gw processor.Gateway, rejectStale bool, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		store:       st,
		gateway:     gw,
		rejectStale: rejectStale,
		logger:      logger.With("component", "webhook"),
	}
}

type webhookErrorResponse struct {
	Error string `json:"error"`
}

type webhookReceivedResponse struct {
	Received bool `json:"received"`
}

// ServeHTTP answers 200 {received:true} when the event was applied or
// deliberately ignored, 400 for bad signatures and 500 for anything the
// processor should retry.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	eventType := "unknown"
	outcome := outcomeFailed
	defer func() {
		metrics.WebhookEventsTotal.WithLabelValues(eventType, outcome).Inc()
		metrics.WebhookDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	}()

	r.Body = http.MaxBytesReader(w, r.Body, webhookBodyLimit)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, webhookErrorResponse{Error: "failed to read request body"})
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		outcome = outcomeInvalidSignature
		writeJSON(w, http.StatusBadRequest, webhookErrorResponse{Error: "missing signature"})
		return
	}

	ev, outcome, err := h.ingest(r.Context(), payload, sigHeader)
	if ev != nil {
		eventType = ev.Type
	}
	switch {
	case errors.Is(err, processor.ErrSignature):
		h.logger.Warn("webhook signature rejected", "remote_addr", r.RemoteAddr)
		writeJSON(w, http.StatusBadRequest, webhookErrorResponse{Error: "invalid signature"})
	case err != nil:
		var eventID string
		if ev != nil {
			eventID = ev.ID
		}
		h.logger.Error("webhook processing failed",
			"event_id", eventID,
			"type", eventType,
			"error", err,
		)
		writeJSON(w, http.StatusInternalServerError, webhookErrorResponse{Error: "processing failed"})
	default:
		writeJSON(w, http.StatusOK, webhookReceivedResponse{Received: true})
	}
}

// Ingest verifies and applies one webhook delivery. A nil error means the
// delivery should be acknowledged. Errors wrapping processor.ErrSignature
// mean the payload was not authentic; any other error asks for a retry.
func (h *WebhookHandler) Ingest(ctx context.Context, payload []byte, signatureHeader string) error {
	_, _, err := h.ingest(ctx, payload, signatureHeader)
	return err
}

func (h *WebhookHandler) ingest(ctx context.Context, payload []byte, sigHeader string) (*processor.Event, string, error) {
	ev, err := h.gateway.VerifyWebhook(payload, sigHeader)
	if err != nil {
		return nil, outcomeInvalidSignature, err
	}

	var outcome string
	switch ev.Type {
	case processor.EventCheckoutCompleted:
		outcome, err = h.checkoutCompleted(ctx, ev)
	case processor.EventSubscriptionUpdated:
		outcome, err = h.subscriptionChanged(ctx, ev, false)
	case processor.EventSubscriptionDeleted:
		outcome, err = h.subscriptionChanged(ctx, ev, true)
	default:
		h.logger.Debug("webhook ignored (unhandled type)", "event_id", ev.ID, "type", ev.Type)
		return ev, outcomeIgnored, nil
	}
	if err != nil {
		return ev, outcomeFailed, err
	}
	return ev, outcome, nil
}

func (h *WebhookHandler) checkoutCompleted(ctx context.Context, ev *processor.Event) (string, error) {
	cs, err := ev.CheckoutSession()
	if err != nil {
		return "", err
	}
	if cs.UserID == "" || cs.SubscriptionID == "" {
		h.logger.Warn("checkout completed without user or subscription, ignoring",
			"event_id", ev.ID, "session_id", cs.ID,
			"has_user", cs.UserID != "", "has_subscription", cs.SubscriptionID != "")
		return outcomeIgnored, nil
	}

	sub, err := h.gateway.RetrieveSubscription(ctx, cs.SubscriptionID)
	if err != nil {
		return "", err
	}

	customerID := cs.CustomerID
	if customerID == "" {
		customerID = sub.CustomerID
	}
	update, err := h.updateFrom(sub, "", false)
	if err != nil {
		return "", err
	}
	return h.apply(ctx, ev, customerID, update)
}

func (h *WebhookHandler) subscriptionChanged(ctx context.Context, ev *processor.Event, deleted bool) (string, error) {
	sub, err := ev.Subscription()
	if err != nil {
		return "", err
	}
	var status store.SubscriptionStatus
	if deleted {
		status = store.StatusCanceled
	}
	update, err := h.updateFrom(sub, status, sub.CancelAtPeriodEnd)
	if err != nil {
		return "", err
	}
	return h.apply(ctx, ev, sub.CustomerID, update)
}

// updateFrom builds the restatement for sub. A non-empty status overrides
// the processor's status string.
func (h *WebhookHandler) updateFrom(sub *processor.Subscription, status store.SubscriptionStatus, cancelAtPeriodEnd bool) (store.SubscriptionUpdate, error) {
	if status == "" {
		var err error
		status, err = store.ParseSubscriptionStatus(sub.Status)
		if err != nil {
			return store.SubscriptionUpdate{}, fmt.Errorf("subscription %s: %w", sub.ID, err)
		}
	}
	u := store.SubscriptionUpdate{
		SubscriptionID:    sub.ID,
		PriceID:           sub.PriceID,
		Status:            status,
		PeriodStart:       sub.PeriodStart,
		PeriodEnd:         sub.PeriodEnd,
		CancelAtPeriodEnd: cancelAtPeriodEnd,
		RejectStale:       h.rejectStale,
	}
	if err := u.Validate(); err != nil {
		return store.SubscriptionUpdate{}, fmt.Errorf("subscription %s: %w", sub.ID, err)
	}
	return u, nil
}

func (h *WebhookHandler) apply(ctx context.Context, ev *processor.Event, customerID string, u store.SubscriptionUpdate) (string, error) {
	if customerID == "" {
		h.logger.Warn("webhook event without customer, ignoring", "event_id", ev.ID, "type", ev.Type)
		return outcomeIgnored, nil
	}
	err := h.store.ApplyProcessorUpdate(ctx, customerID, u)
	switch {
	case errors.Is(err, store.ErrNotFound):
		h.logger.Warn("no subscription row for customer, acknowledging",
			"event_id", ev.ID, "type", ev.Type, "customer_id", customerID)
		return outcomeNotFound, nil
	case errors.Is(err, store.ErrStaleUpdate):
		h.logger.Info("stale subscription update dropped",
			"event_id", ev.ID, "type", ev.Type, "customer_id", customerID)
		return outcomeStale, nil
	case err != nil:
		return "", fmt.Errorf("apply update for %s: %w", customerID, err)
	}
	h.logger.Info("subscription updated",
		"event_id", ev.ID, "type", ev.Type, "customer_id", customerID, "status", u.Status)
	return outcomeApplied, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
