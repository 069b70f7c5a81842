package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres creates a new PostgreSQL store and runs migrations.
func NewPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &PostgresStore{db: db}
	if err := runMigrations("pgx", dsn, "postgres"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func isPgUnique(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// --- Users ---

func (s *PostgresStore) CreateUser(ctx context.Context, user *User) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO users (id, email, name, password_hash, created_at) VALUES ($1, $2, $3, $4, $5)",
		user.ID, nullString(user.Email), user.Name, user.PasswordHash, user.CreatedAt,
	)
	if isPgUnique(err) {
		return ErrUserExists
	}
	return err
}

func (s *PostgresStore) EnsureUser(ctx context.Context, user *User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, name, password_hash, created_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO NOTHING`,
		user.ID, nullString(user.Email), user.Name, user.PasswordHash, user.CreatedAt,
	)
	if isPgUnique(err) {
		return fmt.Errorf("%w: email %s belongs to another user", ErrUserExists, user.Email)
	}
	return err
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	return s.getUser(ctx, "SELECT id, email, name, password_hash, created_at FROM users WHERE id = $1", id)
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.getUser(ctx, "SELECT id, email, name, password_hash, created_at FROM users WHERE email = $1", email)
}

func (s *PostgresStore) getUser(ctx context.Context, query, arg string) (*User, error) {
	var (
		u     User
		email sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&u.ID, &email, &u.Name, &u.PasswordHash, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u.Email = email.String
	return &u, nil
}

// --- Subscriptions ---

const pgSubscriptionColumns = `user_id, stripe_customer_id, stripe_subscription_id, price_id, status,
	current_period_start, current_period_end, cancel_at_period_end, created_at, updated_at`

func (s *PostgresStore) GetSubscriptionByUser(ctx context.Context, userID string) (*Subscription, error) {
	return s.getSubscription(ctx,
		"SELECT "+pgSubscriptionColumns+" FROM subscriptions WHERE user_id = $1", userID)
}

func (s *PostgresStore) GetSubscriptionByCustomer(ctx context.Context, customerID string) (*Subscription, error) {
	return s.getSubscription(ctx,
		"SELECT "+pgSubscriptionColumns+" FROM subscriptions WHERE stripe_customer_id = $1", customerID)
}

func (s *PostgresStore) getSubscription(ctx context.Context, query, arg string) (*Subscription, error) {
	var (
		sub                    Subscription
		customerID, subID      sql.NullString
		priceID                sql.NullString
		periodStart, periodEnd sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&sub.UserID, &customerID, &subID, &priceID, &sub.Status,
		&periodStart, &periodEnd, &sub.CancelAtPeriodEnd, &sub.CreatedAt, &sub.UpdatedAt,
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
	sub.CurrentPeriodStart = nullTime(periodStart)
	sub.CurrentPeriodEnd = nullTime(periodEnd)
	return &sub, nil
}

func (s *PostgresStore) UpsertCustomer(ctx context.Context, userID, customerID string) error {
	if customerID == "" {
		return fmt.Errorf("upsert customer: empty customer id")
	}
	var stored string
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO subscriptions (user_id, stripe_customer_id, status, created_at, updated_at)
		 VALUES ($1, $2, 'incomplete', NOW(), NOW())
		 ON CONFLICT (user_id) DO UPDATE SET
		   stripe_customer_id = COALESCE(subscriptions.stripe_customer_id, EXCLUDED.stripe_customer_id),
		   updated_at = CASE WHEN subscriptions.stripe_customer_id IS NULL
		     THEN EXCLUDED.updated_at ELSE subscriptions.updated_at END
		 RETURNING stripe_customer_id`,
		userID, customerID,
	).Scan(&stored)
	if isPgUnique(err) {
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

func (s *PostgresStore) ApplyProcessorUpdate(ctx context.Context, customerID string, u SubscriptionUpdate) error {
	if err := u.Validate(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET
		   stripe_subscription_id = COALESCE($1, stripe_subscription_id),
		   price_id = COALESCE($2, price_id),
		   status = $3,
		   current_period_start = $4,
		   current_period_end = $5,
		   cancel_at_period_end = $6,
		   updated_at = NOW()
		 WHERE stripe_customer_id = $7
		   AND (NOT $8 OR current_period_start IS NULL OR current_period_start <= $4)`,
		nullString(u.SubscriptionID), nullString(u.PriceID), string(u.Status),
		u.PeriodStart.UTC(), u.PeriodEnd.UTC(), u.CancelAtPeriodEnd,
		customerID, u.RejectStale,
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
		var exists bool
		err := s.db.QueryRowContext(ctx,
			"SELECT EXISTS(SELECT 1 FROM subscriptions WHERE stripe_customer_id = $1)", customerID).Scan(&exists)
		if err != nil {
			return err
		}
		if exists {
			return ErrStaleUpdate
		}
	}
	return ErrNotFound
}

// --- Assistant requests ---

func (s *PostgresStore) CreateAIRequest(ctx context.Context, req *AIRequest) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ai_requests (id, user_id, prompt, response, model, tokens, cost, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		req.ID, req.UserID, req.Prompt, req.Response, req.Model, req.Tokens, req.Cost, req.CreatedAt,
	)
	return err
}

func (s *PostgresStore) CountAIRequests(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM ai_requests WHERE user_id = $1", userID).Scan(&n)
	return n, err
}

func (s *PostgresStore) ListAIRequests(ctx context.Context, userID string, limit int) ([]AIRequest, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, prompt, response, model, tokens, cost, created_at
		 FROM ai_requests WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []AIRequest
	for rows.Next() {
		var r AIRequest
		if err := rows.Scan(&r.ID, &r.UserID, &r.Prompt, &r.Response, &r.Model, &r.Tokens, &r.Cost, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
