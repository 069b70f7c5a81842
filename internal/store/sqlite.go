package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLiteStore implements Store using SQLite. Timestamps are stored as unix
// milliseconds so that range comparisons are numeric.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite store and runs migrations.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	memory := dsn == ":memory:"
	if memory {
		// Each in-memory store gets its own named database; shared cache lets
		// every pooled connection see it.
		dsn = "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	}
	dsn = withPragmas(dsn, memory)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite serializes writers anyway; a single connection avoids
	// SQLITE_BUSY and table locks on shared-cache databases.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := runMigrations("sqlite", dsn, "sqlite"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func withPragmas(dsn string, memory bool) string {
	pragmas := []string{"_pragma=foreign_keys(1)", "_pragma=busy_timeout(5000)"}
	if !memory {
		pragmas = append(pragmas, "_pragma=journal_mode(WAL)")
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(pragmas, "&")
}

func isSQLiteUnique(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Users ---

func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO users (id, email, name, password_hash, created_at) VALUES (?, ?, ?, ?, ?)",
		user.ID, nullString(user.Email), user.Name, user.PasswordHash, toMillis(user.CreatedAt),
	)
	if isSQLiteUnique(err) {
		return ErrUserExists
	}
	return err
}

func (s *SQLiteStore) EnsureUser(ctx context.Context, user *User) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO users (id, email, name, password_hash, created_at) VALUES (?, ?, ?, ?, ?) ON CONFLICT (id) DO NOTHING",
		user.ID, nullString(user.Email), user.Name, user.PasswordHash, toMillis(user.CreatedAt),
	)
	if isSQLiteUnique(err) {
		return fmt.Errorf("%w: email %s belongs to another user", ErrUserExists, user.Email)
	}
	return err
}

func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	return s.getUser(ctx, "SELECT id, email, name, password_hash, created_at FROM users WHERE id = ?", id)
}

func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.getUser(ctx, "SELECT id, email, name, password_hash, created_at FROM users WHERE email = ?", email)
}

func (s *SQLiteStore) getUser(ctx context.Context, query string, arg string) (*User, error) {
	var (
		u         User
		email     sql.NullString
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&u.ID, &email, &u.Name, &u.PasswordHash, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u.Email = email.String
	u.CreatedAt = fromMillis(createdAt)
	return &u, nil
}

// --- Subscriptions ---

const sqliteSubscriptionColumns = `user_id, stripe_customer_id, stripe_subscription_id, price_id, status,
	current_period_start, current_period_end, cancel_at_period_end, created_at, updated_at`

func (s *SQLiteStore) GetSubscriptionByUser(ctx context.Context, userID string) (*Subscription, error) {
	return s.getSubscription(ctx,
		"SELECT "+sqliteSubscriptionColumns+" FROM subscriptions WHERE user_id = ?", userID)
}

func (s *SQLiteStore) GetSubscriptionByCustomer(ctx context.Context, customerID string) (*Subscription, error) {
	return s.getSubscription(ctx,
		"SELECT "+sqliteSubscriptionColumns+" FROM subscriptions WHERE stripe_customer_id = ?", customerID)
}

func (s *SQLiteStore) getSubscription(ctx context.Context, query, arg string) (*Subscription, error) {
	var (
		sub                    Subscription
		customerID, subID      sql.NullString
		priceID                sql.NullString
		periodStart, periodEnd sql.NullInt64
		createdAt, updatedAt   int64
	)
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&sub.UserID, &customerID, &subID, &priceID, &sub.Status,
		&periodStart, &periodEnd, &sub.CancelAtPeriodEnd, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sub.StripeCustomerID = customerID.String
	sub.StripeSubscriptionID = subID.String
	sub.PriceID = priceID.String
	sub.CurrentPeriodStart = nullMillis(periodStart)
	sub.CurrentPeriodEnd = nullMillis(periodEnd)
	sub.CreatedAt = fromMillis(createdAt)
	sub.UpdatedAt = fromMillis(updatedAt)
	return &sub, nil
}

func (s *SQLiteStore) UpsertCustomer(ctx context.Context, userID, customerID string) error {
	if customerID == "" {
		return fmt.Errorf("upsert customer: empty customer id")
	}
	now := toMillis(time.Now())
	var stored string
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO subscriptions (user_id, stripe_customer_id, status, created_at, updated_at)
		 VALUES (?, ?, 'incomplete', ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   stripe_customer_id = COALESCE(subscriptions.stripe_customer_id, excluded.stripe_customer_id),
		   updated_at = CASE WHEN subscriptions.stripe_customer_id IS NULL
		     THEN excluded.updated_at ELSE subscriptions.updated_at END
		 RETURNING stripe_customer_id`,
		userID, customerID, now, now,
	).Scan(&stored)
	if isSQLiteUnique(err) {
		return fmt.Errorf("%w: %s is owned by another user", ErrConflict, customerID)
	}
	if err != nil {
		return err
	}
	if stored != customerID {
		return fmt.Errorf("%w: user %s already has customer %s", ErrConflict, userID, stored)
	}
	return nil
}

func (s *SQLiteStore) ApplyProcessorUpdate(ctx context.Context, customerID string, u SubscriptionUpdate) error {
	if err := u.Validate(); err != nil {
		return err
	}
	start := toMillis(u.PeriodStart)
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET
		   stripe_subscription_id = COALESCE(?, stripe_subscription_id),
		   price_id = COALESCE(?, price_id),
		   status = ?,
		   current_period_start = ?,
		   current_period_end = ?,
		   cancel_at_period_end = ?,
		   updated_at = ?
		 WHERE stripe_customer_id = ?
		   AND (? = 0 OR current_period_start IS NULL OR current_period_start <= ?)`,
		nullString(u.SubscriptionID), nullString(u.PriceID), string(u.Status),
		start, toMillis(u.PeriodEnd), boolToInt(u.CancelAtPeriodEnd), toMillis(time.Now()),
		customerID, boolToInt(u.RejectStale), start,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if u.RejectStale {
		var exists int
		err := s.db.QueryRowContext(ctx,
			"SELECT 1 FROM subscriptions WHERE stripe_customer_id = ?", customerID).Scan(&exists)
		if err == nil {
			return ErrStaleUpdate
		}
		if err != sql.ErrNoRows {
			return err
		}
	}
	return ErrNotFound
}

// --- Assistant requests ---

func (s *SQLiteStore) CreateAIRequest(ctx context.Context, req *AIRequest) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ai_requests (id, user_id, prompt, response, model, tokens, cost, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.UserID, req.Prompt, req.Response, req.Model, req.Tokens, req.Cost, toMillis(req.CreatedAt),
	)
	return err
}

func (s *SQLiteStore) CountAIRequests(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM ai_requests WHERE user_id = ?", userID).Scan(&n)
	return n, err
}

func (s *SQLiteStore) ListAIRequests(ctx context.Context, userID string, limit int) ([]AIRequest, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, prompt, response, model, tokens, cost, created_at
		 FROM ai_requests WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []AIRequest
	for rows.Next() {
		var (
			r         AIRequest
			createdAt int64
		)
		if err := rows.Scan(&r.ID, &r.UserID, &r.Prompt, &r.Response, &r.Model, &r.Tokens, &r.Cost, &createdAt); err != nil {
			return nil, err
		}
		r.CreatedAt = fromMillis(createdAt)
		out = append(out, r)
	}
	return out, rows.Err()
}
