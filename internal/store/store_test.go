package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreSuite exercises the Store contract against one backend.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("users", func(t *testing.T) { testUsers(t, newStore(t)) })
	t.Run("missing subscription reads nil", func(t *testing.T) { testMissingSubscription(t, newStore(t)) })
	t.Run("upsert customer", func(t *testing.T) { testUpsertCustomer(t, newStore(t)) })
	t.Run("upsert customer conflict", func(t *testing.T) { testUpsertCustomerConflict(t, newStore(t)) })
	t.Run("upsert customer concurrent", func(t *testing.T) { testUpsertCustomerConcurrent(t, newStore(t)) })
	t.Run("apply update", func(t *testing.T) { testApplyUpdate(t, newStore(t)) })
	t.Run("apply update not found", func(t *testing.T) { testApplyUpdateNotFound(t, newStore(t)) })
	t.Run("apply update keeps optional fields", func(t *testing.T) { testApplyUpdateKeepsOptional(t, newStore(t)) })
	t.Run("apply update rejects invalid", func(t *testing.T) { testApplyUpdateInvalid(t, newStore(t)) })
	t.Run("stale updates", func(t *testing.T) { testStaleUpdates(t, newStore(t)) })
	t.Run("ai requests", func(t *testing.T) { testAIRequests(t, newStore(t)) })
}

func createTestUser(t *testing.T, s Store) *User {
	t.Helper()
	id := uuid.NewString()
	u := &User{
		ID:           id,
		Email:        id[:8] + "@example.com",
		Name:         "Test " + id[:4],
		PasswordHash: "hash",
		CreatedAt:    time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, s.CreateUser(context.Background(), u))
	return u
}

// cus returns a customer id unique to this test run, so suites can share a
// Postgres database.
func cus(name string) string {
	return "cus_" + name + "_" + runSuffix
}

var runSuffix = uuid.NewString()[:8]

func period(startUnix, endUnix int64) (time.Time, time.Time) {
	return time.Unix(startUnix, 0).UTC(), time.Unix(endUnix, 0).UTC()
}

func testUsers(t *testing.T, s Store) {
	ctx := context.Background()
	u := createTestUser(t, s)

	got, err := s.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, u.Email, got.Email)
	assert.Equal(t, u.Name, got.Name)
	assert.Equal(t, "hash", got.PasswordHash)
	assert.True(t, u.CreatedAt.Equal(got.CreatedAt))

	byEmail, err := s.GetUserByEmail(ctx, u.Email)
	require.NoError(t, err)
	require.NotNil(t, byEmail)
	assert.Equal(t, u.ID, byEmail.ID)

	missing, err := s.GetUserByID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	dup := *u
	dup.ID = uuid.NewString()
	assert.ErrorIs(t, s.CreateUser(ctx, &dup), ErrUserExists)

	// EnsureUser is a no-op for existing rows and allows users without email.
	require.NoError(t, s.EnsureUser(ctx, u))
	ext := &User{ID: "ext_" + uuid.NewString(), CreatedAt: time.Now()}
	require.NoError(t, s.EnsureUser(ctx, ext))
	require.NoError(t, s.EnsureUser(ctx, &User{ID: "ext_" + uuid.NewString(), CreatedAt: time.Now()}))
	got, err = s.GetUserByID(ctx, ext.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Empty(t, got.Email)

	// A new id claiming an existing email is refused, not silently skipped.
	other := &User{ID: "ext_" + uuid.NewString(), Email: u.Email, CreatedAt: time.Now()}
	assert.ErrorIs(t, s.EnsureUser(ctx, other), ErrUserExists)
	got, err = s.GetUserByID(ctx, other.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func testMissingSubscription(t *testing.T, s Store) {
	ctx := context.Background()
	sub, err := s.GetSubscriptionByUser(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, sub)

	sub, err = s.GetSubscriptionByCustomer(ctx, cus("missing"))
	require.NoError(t, err)
	assert.Nil(t, sub)
}

func testUpsertCustomer(t *testing.T, s Store) {
	ctx := context.Background()
	u := createTestUser(t, s)

	require.NoError(t, s.UpsertCustomer(ctx, u.ID, cus("1")))
	sub, err := s.GetSubscriptionByUser(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, cus("1"), sub.StripeCustomerID)
	assert.Equal(t, StatusIncomplete, sub.Status)
	assert.Empty(t, sub.StripeSubscriptionID)
	assert.Nil(t, sub.CurrentPeriodStart)
	assert.False(t, sub.CancelAtPeriodEnd)

	// Same customer again is a no-op.
	require.NoError(t, s.UpsertCustomer(ctx, u.ID, cus("1")))

	byCustomer, err := s.GetSubscriptionByCustomer(ctx, cus("1"))
	require.NoError(t, err)
	require.NotNil(t, byCustomer)
	assert.Equal(t, u.ID, byCustomer.UserID)
}

func testUpsertCustomerConflict(t *testing.T, s Store) {
	ctx := context.Background()
	u1 := createTestUser(t, s)
	u2 := createTestUser(t, s)

	require.NoError(t, s.UpsertCustomer(ctx, u1.ID, cus("a")))

	// A different customer for the same user never replaces the first.
	err := s.UpsertCustomer(ctx, u1.ID, cus("b"))
	assert.ErrorIs(t, err, ErrConflict)

	// Another user cannot claim an owned customer id.
	err = s.UpsertCustomer(ctx, u2.ID, cus("a"))
	assert.ErrorIs(t, err, ErrConflict)

	sub, err := s.GetSubscriptionByUser(ctx, u1.ID)
	require.NoError(t, err)
	assert.Equal(t, cus("a"), sub.StripeCustomerID)

	sub, err = s.GetSubscriptionByUser(ctx, u2.ID)
	require.NoError(t, err)
	assert.Nil(t, sub)
}

func testUpsertCustomerConcurrent(t *testing.T, s Store) {
	ctx := context.Background()
	u := createTestUser(t, s)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.UpsertCustomer(ctx, u.ID, cus("same"))
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		assert.NoError(t, err)
	}

	sub, err := s.GetSubscriptionByUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, cus("same"), sub.StripeCustomerID)
}

func testApplyUpdate(t *testing.T, s Store) {
	ctx := context.Background()
	u := createTestUser(t, s)
	require.NoError(t, s.UpsertCustomer(ctx, u.ID, cus("apply")))

	start, end := period(1_700_000_000, 1_702_678_400)
	update := SubscriptionUpdate{
		SubscriptionID: "sub_1",
		PriceID:        "price_pro",
		Status:         StatusActive,
		PeriodStart:    start,
		PeriodEnd:      end,
	}
	require.NoError(t, s.ApplyProcessorUpdate(ctx, cus("apply"), update))

	sub, err := s.GetSubscriptionByUser(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, cus("apply"), sub.StripeCustomerID)
	assert.Equal(t, "sub_1", sub.StripeSubscriptionID)
	assert.Equal(t, "price_pro", sub.PriceID)
	assert.Equal(t, StatusActive, sub.Status)
	require.NotNil(t, sub.CurrentPeriodStart)
	require.NotNil(t, sub.CurrentPeriodEnd)
	assert.Equal(t, "2023-11-14T22:13:20Z", sub.CurrentPeriodStart.Format(time.RFC3339))
	assert.Equal(t, "2023-12-15T22:13:20Z", sub.CurrentPeriodEnd.Format(time.RFC3339))
	assert.False(t, sub.CancelAtPeriodEnd)

	// Applying the same restatement twice yields the same row.
	require.NoError(t, s.ApplyProcessorUpdate(ctx, cus("apply"), update))
	again, err := s.GetSubscriptionByUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, sub.StripeSubscriptionID, again.StripeSubscriptionID)
	assert.Equal(t, sub.Status, again.Status)
	assert.True(t, sub.CurrentPeriodEnd.Equal(*again.CurrentPeriodEnd))

	update.CancelAtPeriodEnd = true
	update.Status = StatusCanceled
	require.NoError(t, s.ApplyProcessorUpdate(ctx, cus("apply"), update))
	sub, err = s.GetSubscriptionByUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, sub.Status)
	assert.True(t, sub.CancelAtPeriodEnd)
}

func testApplyUpdateNotFound(t *testing.T, s Store) {
	start, end := period(1_700_000_000, 1_702_678_400)
	err := s.ApplyProcessorUpdate(context.Background(), cus("unknown"), SubscriptionUpdate{
		SubscriptionID: "sub_x", Status: StatusActive, PeriodStart: start, PeriodEnd: end,
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func testApplyUpdateKeepsOptional(t *testing.T, s Store) {
	ctx := context.Background()
	u := createTestUser(t, s)
	require.NoError(t, s.UpsertCustomer(ctx, u.ID, cus("opt")))

	start, end := period(1_700_000_000, 1_702_678_400)
	require.NoError(t, s.ApplyProcessorUpdate(ctx, cus("opt"), SubscriptionUpdate{
		SubscriptionID: "sub_opt", PriceID: "price_basic", Status: StatusActive, PeriodStart: start, PeriodEnd: end,
	}))
	require.NoError(t, s.ApplyProcessorUpdate(ctx, cus("opt"), SubscriptionUpdate{
		Status: StatusPastDue, PeriodStart: start, PeriodEnd: end,
	}))

	sub, err := s.GetSubscriptionByUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "sub_opt", sub.StripeSubscriptionID)
	assert.Equal(t, "price_basic", sub.PriceID)
	assert.Equal(t, StatusPastDue, sub.Status)
}

func testApplyUpdateInvalid(t *testing.T, s Store) {
	ctx := context.Background()
	u := createTestUser(t, s)
	require.NoError(t, s.UpsertCustomer(ctx, u.ID, cus("inv")))

	start, end := period(1_700_000_000, 1_702_678_400)
	tests := []struct {
		name   string
		update SubscriptionUpdate
	}{
		{"status none", SubscriptionUpdate{Status: StatusNone, PeriodStart: start, PeriodEnd: end}},
		{"unknown status", SubscriptionUpdate{Status: "bogus", PeriodStart: start, PeriodEnd: end}},
		{"missing periods", SubscriptionUpdate{SubscriptionID: "sub", Status: StatusActive}},
		{"reversed periods", SubscriptionUpdate{Status: StatusActive, PeriodStart: end, PeriodEnd: start}},
		{"empty period", SubscriptionUpdate{Status: StatusActive, PeriodStart: start, PeriodEnd: start}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.ApplyProcessorUpdate(ctx, cus("inv"), tt.update)
			assert.ErrorIs(t, err, ErrInvalidUpdate)
		})
	}

	sub, err := s.GetSubscriptionByUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusIncomplete, sub.Status)
	assert.Nil(t, sub.CurrentPeriodStart)
}

func testStaleUpdates(t *testing.T, s Store) {
	ctx := context.Background()
	u := createTestUser(t, s)
	require.NoError(t, s.UpsertCustomer(ctx, u.ID, cus("stale")))

	newStart, newEnd := period(1_702_678_400, 1_705_356_800)
	oldStart, oldEnd := period(1_700_000_000, 1_702_678_400)

	require.NoError(t, s.ApplyProcessorUpdate(ctx, cus("stale"), SubscriptionUpdate{
		SubscriptionID: "sub_s", Status: StatusActive, PeriodStart: newStart, PeriodEnd: newEnd, RejectStale: true,
	}))

	err := s.ApplyProcessorUpdate(ctx, cus("stale"), SubscriptionUpdate{
		SubscriptionID: "sub_s", Status: StatusPastDue, PeriodStart: oldStart, PeriodEnd: oldEnd, RejectStale: true,
	})
	assert.ErrorIs(t, err, ErrStaleUpdate)

	sub, err := s.GetSubscriptionByUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, sub.Status)
	assert.True(t, newStart.Equal(*sub.CurrentPeriodStart))

	// Equal period start is not stale.
	require.NoError(t, s.ApplyProcessorUpdate(ctx, cus("stale"), SubscriptionUpdate{
		Status: StatusCanceled, PeriodStart: newStart, PeriodEnd: newEnd, RejectStale: true,
	}))

	// Without the guard the older restatement wins.
	require.NoError(t, s.ApplyProcessorUpdate(ctx, cus("stale"), SubscriptionUpdate{
		Status: StatusPastDue, PeriodStart: oldStart, PeriodEnd: oldEnd,
	}))
	sub, err = s.GetSubscriptionByUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPastDue, sub.Status)

	err = s.ApplyProcessorUpdate(ctx, cus("nobody"), SubscriptionUpdate{
		Status: StatusActive, PeriodStart: newStart, PeriodEnd: newEnd, RejectStale: true,
	})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func testAIRequests(t *testing.T, s Store) {
	ctx := context.Background()
	u := createTestUser(t, s)
	base := time.Now().UTC().Truncate(time.Millisecond)

	for i := 0; i < 12; i++ {
		require.NoError(t, s.CreateAIRequest(ctx, &AIRequest{
			ID:        uuid.NewString(),
			UserID:    u.ID,
			Prompt:    "prompt",
			Response:  "response",
			Model:     "gpt-3.5-turbo",
			Tokens:    100 + i,
			Cost:      float64(100+i) / 1000 * 0.002,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	got, err := s.ListAIRequests(ctx, u.ID, 10)
	require.NoError(t, err)
	require.Len(t, got, 10)
	assert.Equal(t, 111, got[0].Tokens, "newest first")
	assert.Equal(t, 102, got[9].Tokens)
	assert.InDelta(t, 0.000222, got[0].Cost, 1e-9)

	none, err := s.ListAIRequests(ctx, "someone-else", 10)
	require.NoError(t, err)
	assert.Empty(t, none)

	n, err := s.CountAIRequests(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 12, n, "count is not capped by the list limit")

	n, err = s.CountAIRequests(ctx, "someone-else")
	require.NoError(t, err)
	assert.Zero(t, n)
}
