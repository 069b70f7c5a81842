package billing

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/launchkit-dev/launchkit/internal/processor/processortest"
	"github.com/launchkit-dev/launchkit/internal/store"
)

const (
	testSecret = "whsec_test_secret"
	testAppURL = "https://app.test"
)

type fixture struct {
	store   *store.SQLiteStore
	gateway *processortest.Gateway
	service *Service
	webhook *WebhookHandler
}

func newFixture(t *testing.T, rejectStale bool) *fixture {
	t.Helper()
	st, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	catalog, err := NewCatalog(testPrices)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gw := processortest.New(testSecret)
	return &fixture{
		store:   st,
		gateway: gw,
		service: NewService(st, gw, catalog, testAppURL, logger),
		webhook: NewWebhookHandler(st, gw, rejectStale, logger),
	}
}

func (f *fixture) createUser(t *testing.T, id, email string) {
	t.Helper()
	require.NoError(t, f.store.CreateUser(context.Background(), &store.User{
		ID: id, Email: email, CreatedAt: time.Now(),
	}))
}

func (f *fixture) row(t *testing.T, userID string) *store.Subscription {
	t.Helper()
	sub, err := f.store.GetSubscriptionByUser(context.Background(), userID)
	require.NoError(t, err)
	return sub
}

// deliver signs payload and sends it through the HTTP handler.
func (f *fixture) deliver(t *testing.T, payload []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, header := processortest.Sign(testSecret, payload)
	return f.send(body, header)
}

func (f *fixture) send(body []byte, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/processor", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if header != "" {
		req.Header.Set("Stripe-Signature", header)
	}
	rec := httptest.NewRecorder()
	f.webhook.ServeHTTP(rec, req)
	return rec
}
